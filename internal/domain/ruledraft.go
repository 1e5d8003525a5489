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

package domain

// RuleCondition is one normalized clause of a Rule Draft (spec §4.9).
type RuleCondition struct {
	Field    string  `json:"field"`
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
	Scope    string  `json:"scope"` // e.g. "card", "merchant"
}

// RuleDraftCandidate is assembled by the rule-draft tool from an accepted
// rule_candidate Recommendation (spec §3, §4.9). It performs no export;
// export is a separate operation at the API boundary.
type RuleDraftCandidate struct {
	RuleName        string            `json:"rule_name"`
	RuleDescription string            `json:"rule_description"`
	Conditions      []RuleCondition   `json:"conditions"`
	Thresholds      map[string]float64 `json:"thresholds"`
	Metadata        map[string]any    `json:"metadata"`
}

// RuleDraftStatus tracks export state of a persisted rule draft.
type RuleDraftStatus string

const (
	RuleDraftNotExported RuleDraftStatus = "NOT_EXPORTED"
	RuleDraftExported    RuleDraftStatus = "EXPORTED"
)

// RuleDraft is the persisted form, one-to-zero-or-one with a Recommendation.
type RuleDraft struct {
	ID               string
	RecommendationID string
	Candidate        RuleDraftCandidate
	Status           RuleDraftStatus
	ExportRef        string
}
