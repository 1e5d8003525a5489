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

// RecommendationType (spec §3).
type RecommendationType string

const (
	RecommendationReviewPriority RecommendationType = "review_priority"
	RecommendationCaseAction     RecommendationType = "case_action"
	RecommendationRuleCandidate  RecommendationType = "rule_candidate"
)

// RecommendationStatus and its legal transitions (spec §3, §8 item 4).
type RecommendationStatus string

const (
	RecommendationOpen         RecommendationStatus = "OPEN"
	RecommendationAcknowledged RecommendationStatus = "ACKNOWLEDGED"
	RecommendationRejected     RecommendationStatus = "REJECTED"
	RecommendationExported     RecommendationStatus = "EXPORTED"
)

var legalRecommendationTransitions = map[RecommendationStatus]map[RecommendationStatus]bool{
	RecommendationOpen: {
		RecommendationAcknowledged: true,
		RecommendationRejected:     true,
	},
	RecommendationAcknowledged: {
		RecommendationExported: true,
	},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// status transition (spec §3: "only legal transitions OPEN→ACKNOWLEDGED,
// OPEN→REJECTED, ACKNOWLEDGED→EXPORTED").
func CanTransition(from, to RecommendationStatus) bool {
	return legalRecommendationTransitions[from][to]
}

// RecommendationCandidate is the in-flight, not-yet-persisted output of the
// recommendation tool (spec §4.8).
type RecommendationCandidate struct {
	Type                  RecommendationType `json:"type"`
	Priority               int               `json:"priority" validate:"gte=1,lte=5"`
	Title                  string             `json:"title"`
	Impact                 string             `json:"impact"`
	Payload                map[string]any     `json:"payload"`
	SignatureHash          string             `json:"signature_hash"`
	ContentIdempotencyKey  string             `json:"content_idempotency_key"`
}

// Recommendation is the persisted form (spec §3).
type Recommendation struct {
	ID              string
	InsightID       string
	Candidate       RecommendationCandidate
	Status          RecommendationStatus
	AcknowledgedBy  string
	AcknowledgedAt  *int64
	IdempotencyKey  string
}
