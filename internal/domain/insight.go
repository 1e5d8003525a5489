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

import "time"

// Insight is the immutable persisted summary produced once at completion
// (spec §3, §4.10). Its idempotency key is a pure function of
// (transaction_id, evaluation_type, transaction_timestamp, insight_type,
// model_mode) so a replay upserts instead of duplicating.
type Insight struct {
	ID                string
	InvestigationID   string
	TransactionID     string
	EvaluationType    string
	InsightType        string
	ModelMode         string
	TransactionTimestamp time.Time
	Severity          Severity
	Summary           string
	ConfidenceScore   float64
	GeneratedAt       time.Time
	IdempotencyKey    string

	Evidence        []EvidenceItem
	Recommendations []Recommendation
	RuleDraft       *RuleDraft
}

// EvaluationType / InsightType constants — the runtime only ever produces
// one pair today, but both are first-class so a future evaluation mode can
// coexist under the same idempotency-key formula.
const (
	EvaluationTypeFraudInvestigation = "fraud_investigation"
	InsightTypeTransactionRisk       = "transaction_risk"
)
