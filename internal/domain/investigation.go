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

// Package domain holds the structured record types shared by every
// component of the investigation runtime: the Investigation row, its
// working-memory State, and the artifacts (Evidence, Insight,
// Recommendation, Rule Draft) produced along the way.
package domain

import "time"

// Mode selects how deep an investigation runs.
type Mode string

const (
	ModeQuick Mode = "QUICK"
	ModeDeep  Mode = "DEEP"
	ModeFull  Mode = "FULL"
)

// Status is the Investigation lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Severity is shared by Insight, Reasoning and Recommendation priority
// derivation.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Max returns the higher-ranked of the two severities.
func (s Severity) Max(other Severity) Severity {
	if severityRank[other] > severityRank[s] {
		return other
	}
	return s
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

const DefaultMaxSteps = 20

// FeatureFlags is the snapshot captured once per run and never re-read
// mid-run (spec §9, "Global settings singleton").
type FeatureFlags struct {
	ReasoningLLMEnabled   bool   `json:"reasoning_llm_enabled"`
	VectorEnabled         bool   `json:"vector_enabled"`
	EnforceHumanApproval  bool   `json:"enforce_human_approval"`
	NarrativeVersion      string `json:"narrative_version"`
	ConflictMatrixEnabled bool   `json:"conflict_matrix_enabled"`
	FreshnessEnabled      bool   `json:"freshness_enabled"`
}

// RuntimeSafeguards is captured alongside FeatureFlags at investigation
// start (SPEC_FULL.md "Supplemented features"): the concrete bounds this
// run operates under, frozen for audit replay even if global config drifts
// later.
type RuntimeSafeguards struct {
	MaxSteps          int   `json:"max_steps"`
	MaxToolTimeoutMs  int64 `json:"max_tool_timeout_ms"`
	RunDeadlineMs     int64 `json:"run_deadline_ms"`
	CircuitBreakerOpen bool `json:"circuit_breaker_open"`
	LLMRetryBudget    int   `json:"llm_retry_budget"`
}

// Investigation is the persisted row tracking one end-to-end run over a
// single transaction.
type Investigation struct {
	ID            string
	TransactionID string
	Mode          Mode
	Status        Status
	Priority      int
	FinalSeverity Severity
	FinalConfidence float64
	StepCount     int
	MaxSteps      int
	PlannerModel  string
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMs    int64
	ErrorSummary  string
	Partial       bool

	TriggerRef string

	RuntimeFeatureFlags FeatureFlags
	RuntimeSafeguards   RuntimeSafeguards

	ModelMode string // "agentic" once reasoning LLM was enabled, regardless of fallback
	LLMStatus string // disabled | skipped | success | fallback | failed
	LLMError  string
	LLMModel  string

	StageDurationsMs map[string]int64
}

// NewInvestigation constructs a PENDING investigation row with a captured
// feature-flag and safeguard snapshot.
func NewInvestigation(id, transactionID string, mode Mode, flags FeatureFlags, safeguards RuntimeSafeguards, triggerRef string) *Investigation {
	maxSteps := safeguards.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Investigation{
		ID:                  id,
		TransactionID:       transactionID,
		Mode:                mode,
		Status:              StatusPending,
		MaxSteps:            maxSteps,
		StartedAt:           time.Now().UTC(),
		TriggerRef:          triggerRef,
		RuntimeFeatureFlags: flags,
		RuntimeSafeguards:   safeguards,
		StageDurationsMs:    map[string]int64{},
	}
}
