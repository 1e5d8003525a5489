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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
)

// ruleEligibleCategories are the pattern categories that, at strength
// >= 0.7, additionally emit a rule_candidate recommendation (spec §4.8).
var ruleEligibleCategories = map[string]bool{
	domain.CategoryVelocityBurst:       true,
	domain.CategoryCrossMerchantSpread: true,
	domain.CategoryHighDeclineRatio:    true,
	domain.CategoryCardTestingLadder:   true,
}

// RecommendationTool synthesizes recommended actions from reasoning +
// evidence, gated by the policy of spec §4.8.
type RecommendationTool struct{}

func NewRecommendationTool() *RecommendationTool { return &RecommendationTool{} }

func (t *RecommendationTool) Name() string { return NameRecommendation }
func (t *RecommendationTool) Description() string {
	return "Synthesizes recommended action (type, priority, title, impact) from reasoning + evidence, gated by policy."
}

func (t *RecommendationTool) PrerequisitesMet(state *domain.State) bool {
	return state.ReasoningResult != nil
}

func (t *RecommendationTool) Run(ctx context.Context, state *domain.State) Result {
	reasoning := state.ReasoningResult
	candidates := buildRecommendationCandidates(state.Evidence, reasoning)

	return Result{
		Status:  domain.ExecutionOK,
		Summary: fmt.Sprintf("recommendation tool emitted %d candidates", len(candidates)),
		Apply: func(s *domain.State) {
			s.RecommendationCandidates = append(s.RecommendationCandidates, candidates...)
		},
	}
}

func buildRecommendationCandidates(evidence []domain.EvidenceItem, reasoning *domain.ReasoningResult) []domain.RecommendationCandidate {
	var supportSum, counterSum float64
	var maxPatternStrength float64
	var topPatternCategory string
	var maxEvidenceStrength float64

	sorted := append([]domain.EvidenceItem(nil), evidence...)
	domain.SortEvidence(sorted)

	for _, e := range sorted {
		if e.Kind == domain.EvidenceKindCounterEvidence {
			counterSum += -e.Strength
			continue
		}
		supportSum += e.Strength
		if e.Strength > maxEvidenceStrength {
			maxEvidenceStrength = e.Strength
		}
		if e.Kind == domain.EvidenceKindPattern && e.Strength > maxPatternStrength {
			maxPatternStrength = e.Strength
			topPatternCategory = e.Category
		}
	}

	counterDominates := counterSum > supportSum

	// Policy rule 1: low severity with no evidence >= 0.5 and bidirectional
	// trust of reasoning severity → no recommendation at all.
	if reasoning.Severity == domain.SeverityLow && maxEvidenceStrength < 0.5 {
		return nil
	}

	var candidates []domain.RecommendationCandidate

	if reasoning.Severity.AtLeast(domain.SeverityMedium) {
		priority := priorityFromSeverity(reasoning.Severity)
		cand := domain.RecommendationCandidate{
			Type:     domain.RecommendationReviewPriority,
			Priority: priority,
			Title:    fmt.Sprintf("Review recommended: %s severity fraud indicators", reasoning.Severity),
			Impact:   reasoning.Narrative,
			Payload: map[string]any{
				"severity":   string(reasoning.Severity),
				"confidence": reasoning.Confidence,
			},
		}
		if counterDominates {
			// Counter-evidence dominates: suppress case_action, cap at
			// review_priority LOW (spec §4.8 rule 4).
			cand.Priority = 5
			cand.Payload["severity"] = string(domain.SeverityLow)
		}
		finalizeSignature(&cand)
		candidates = append(candidates, cand)

		if !counterDominates {
			candidates = append(candidates, caseActionCandidate(reasoning, sorted))
		}
	}

	// Policy rule 3: top pattern category eligible at strength >= 0.7 also
	// emits a rule_candidate recommendation.
	if !counterDominates && topPatternCategory != "" && maxPatternStrength >= 0.7 && ruleEligibleCategories[topPatternCategory] {
		cand := ruleCandidateFor(topPatternCategory, maxPatternStrength, sorted)
		finalizeSignature(&cand)
		candidates = append(candidates, cand)
	}

	return candidates
}

func caseActionCandidate(reasoning *domain.ReasoningResult, sorted []domain.EvidenceItem) domain.RecommendationCandidate {
	cand := domain.RecommendationCandidate{
		Type:     domain.RecommendationCaseAction,
		Priority: priorityFromSeverity(reasoning.Severity),
		Title:    "Open case for analyst review",
		Impact:   "Accumulated evidence warrants case-level analyst review.",
		Payload: map[string]any{
			"severity": string(reasoning.Severity),
		},
	}
	finalizeSignature(&cand)
	return cand
}

func ruleCandidateFor(category string, strength float64, evidence []domain.EvidenceItem) domain.RecommendationCandidate {
	var triggering *domain.EvidenceItem
	for i := range evidence {
		if evidence[i].Category == category {
			triggering = &evidence[i]
			break
		}
	}
	payload := map[string]any{
		"category": category,
		"strength": strength,
	}
	if triggering != nil {
		payload["triggering_description"] = triggering.Description
	}
	return domain.RecommendationCandidate{
		Type:     domain.RecommendationRuleCandidate,
		Priority: priorityFromStrength(strength),
		Title:    fmt.Sprintf("Candidate rule: %s", category),
		Impact:   "Pattern evidence strength exceeds rule-candidate threshold.",
		Payload:  payload,
	}
}

func priorityFromSeverity(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 1
	case domain.SeverityHigh:
		return 2
	case domain.SeverityMedium:
		return 3
	default:
		return 5
	}
}

func priorityFromStrength(strength float64) int {
	if strength >= 0.9 {
		return 1
	}
	if strength >= 0.8 {
		return 2
	}
	return 3
}

// finalizeSignature computes signature_hash over (type, title, normalized
// impact, policy-relevant payload fields) and the idempotency key derived
// from it (spec §4.8, §3 invariant d). The insight_id component of
// content_idempotency_key is filled in later by the completion node, once
// the Insight id is known; here the key is a stable prefix over candidate
// content alone so completion only needs to append the insight id.
func finalizeSignature(c *domain.RecommendationCandidate) {
	keys := make([]string, 0, len(c.Payload))
	for k := range c.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", c.Type, c.Title, normalizeImpact(c.Impact))
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%v", k, c.Payload[k])
	}
	c.SignatureHash = hex.EncodeToString(h.Sum(nil))
	c.ContentIdempotencyKey = c.SignatureHash
}

func normalizeImpact(impact string) string {
	if len(impact) > 200 {
		return impact[:200]
	}
	return impact
}
