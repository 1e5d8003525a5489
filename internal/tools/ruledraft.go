/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tools

import (
	"context"
	"fmt"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
)

// RuleDraftTool assembles a normalized rule draft from an accepted
// rule_candidate recommendation + evidence (spec §4.9). It performs no
// external export.
type RuleDraftTool struct{}

func NewRuleDraftTool() *RuleDraftTool { return &RuleDraftTool{} }

func (t *RuleDraftTool) Name() string { return NameRuleDraft }
func (t *RuleDraftTool) Description() string {
	return "Assembles a normalized rule draft from an accepted rule_candidate recommendation + evidence."
}

func (t *RuleDraftTool) PrerequisitesMet(state *domain.State) bool {
	for _, c := range state.RecommendationCandidates {
		if c.Type == domain.RecommendationRuleCandidate {
			return true
		}
	}
	return false
}

func (t *RuleDraftTool) Run(ctx context.Context, state *domain.State) Result {
	var ruleCandidate *domain.RecommendationCandidate
	for i := range state.RecommendationCandidates {
		if state.RecommendationCandidates[i].Type == domain.RecommendationRuleCandidate {
			ruleCandidate = &state.RecommendationCandidates[i]
			break
		}
	}
	if ruleCandidate == nil {
		return Result{Status: domain.ExecutionFailed, Err: fmt.Errorf("rule_draft tool invoked without a rule_candidate recommendation")}
	}

	category, _ := ruleCandidate.Payload["category"].(string)
	strength, _ := ruleCandidate.Payload["strength"].(float64)

	draft := buildRuleDraft(category, strength, state.Features)

	return Result{
		Status:  domain.ExecutionOK,
		Summary: fmt.Sprintf("rule_draft tool assembled draft %q with %d conditions", draft.RuleName, len(draft.Conditions)),
		Apply: func(s *domain.State) {
			s.RuleDraftCandidate = draft
		},
	}
}

// buildRuleDraft builds conditions from the triggering evidence category
// (spec §4.9) and widens the triggering threshold by a 10% safety margin.
func buildRuleDraft(category string, strength float64, f *domain.Features) *domain.RuleDraftCandidate {
	const safetyMargin = 0.9 // widen threshold by reducing it 10%, erring toward fewer missed cases

	var conditions []domain.RuleCondition
	thresholds := map[string]float64{}

	switch category {
	case domain.CategoryVelocityBurst:
		threshold := float64(f.CardTxnCount(domain.Window1h)) * safetyMargin
		conditions = append(conditions, domain.RuleCondition{Field: "txn_count_1h", Operator: ">", Value: threshold, Scope: "card"})
		thresholds["txn_count_1h"] = threshold
	case domain.CategoryCrossMerchantSpread:
		threshold := float64(f.CardWindows[domain.Window24h].DistinctMerchants) * safetyMargin
		conditions = append(conditions, domain.RuleCondition{Field: "distinct_merchants_24h", Operator: ">", Value: threshold, Scope: "card"})
		thresholds["distinct_merchants_24h"] = threshold
	case domain.CategoryHighDeclineRatio:
		threshold := f.CardWindows[domain.Window1h].DeclineRate * safetyMargin
		conditions = append(conditions, domain.RuleCondition{Field: "decline_rate_1h", Operator: ">", Value: threshold, Scope: "card"})
		thresholds["decline_rate_1h"] = threshold
	case domain.CategoryCardTestingLadder:
		conditions = append(conditions, domain.RuleCondition{Field: "declined_ladder_count_1h", Operator: ">=", Value: 3, Scope: "card"})
		thresholds["declined_ladder_count_1h"] = 3
	default:
		conditions = append(conditions, domain.RuleCondition{Field: "pattern_strength", Operator: ">=", Value: strength * safetyMargin, Scope: "card"})
		thresholds["pattern_strength"] = strength * safetyMargin
	}

	return &domain.RuleDraftCandidate{
		RuleName:        fmt.Sprintf("auto_draft_%s", category),
		RuleDescription: fmt.Sprintf("Draft rule derived from %s pattern evidence (strength=%.2f).", category, strength),
		Conditions:      conditions,
		Thresholds:      thresholds,
		Metadata: map[string]any{
			"source_category": category,
			"triggering_strength": strength,
		},
	}
}
