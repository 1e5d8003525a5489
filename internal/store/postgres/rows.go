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

package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
)

// investigationRow mirrors the investigations table shape for sqlx's
// struct-scan path (spec §3 Investigation fields).
type investigationRow struct {
	ID                  string         `db:"id"`
	TransactionID       string         `db:"transaction_id"`
	Mode                string         `db:"mode"`
	Status              string         `db:"status"`
	Priority            int            `db:"priority"`
	FinalSeverity       *string        `db:"final_severity"`
	FinalConfidence     *float64       `db:"final_confidence"`
	StepCount           int            `db:"step_count"`
	MaxSteps            int            `db:"max_steps"`
	PlannerModel        *string        `db:"planner_model"`
	StartedAt           time.Time      `db:"started_at"`
	CompletedAt         *time.Time     `db:"completed_at"`
	DurationMs          *int64         `db:"duration_ms"`
	ErrorSummary        *string        `db:"error_summary"`
	Partial             bool           `db:"partial"`
	TriggerRef          *string        `db:"trigger_ref"`
	RuntimeFeatureFlags []byte         `db:"runtime_feature_flags"`
	RuntimeSafeguards   []byte         `db:"runtime_safeguards"`
	ModelMode           *string        `db:"model_mode"`
	LLMStatus           *string        `db:"llm_status"`
	LLMError            *string        `db:"llm_error"`
	LLMModel            *string        `db:"llm_model"`
	StageDurationsMs    []byte         `db:"stage_durations_ms"`
}

func (r investigationRow) toDomain() (*domain.Investigation, error) {
	inv := &domain.Investigation{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		Mode:          domain.Mode(r.Mode),
		Status:        domain.Status(r.Status),
		Priority:      r.Priority,
		StepCount:     r.StepCount,
		MaxSteps:      r.MaxSteps,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		Partial:       r.Partial,
	}
	if r.FinalSeverity != nil {
		inv.FinalSeverity = domain.Severity(*r.FinalSeverity)
	}
	if r.FinalConfidence != nil {
		inv.FinalConfidence = *r.FinalConfidence
	}
	if r.PlannerModel != nil {
		inv.PlannerModel = *r.PlannerModel
	}
	if r.DurationMs != nil {
		inv.DurationMs = *r.DurationMs
	}
	if r.ErrorSummary != nil {
		inv.ErrorSummary = *r.ErrorSummary
	}
	if r.TriggerRef != nil {
		inv.TriggerRef = *r.TriggerRef
	}
	if r.ModelMode != nil {
		inv.ModelMode = *r.ModelMode
	}
	if r.LLMStatus != nil {
		inv.LLMStatus = *r.LLMStatus
	}
	if r.LLMError != nil {
		inv.LLMError = *r.LLMError
	}
	if r.LLMModel != nil {
		inv.LLMModel = *r.LLMModel
	}
	if len(r.RuntimeFeatureFlags) > 0 {
		if err := json.Unmarshal(r.RuntimeFeatureFlags, &inv.RuntimeFeatureFlags); err != nil {
			return nil, fmt.Errorf("postgres: decode runtime_feature_flags: %w", err)
		}
	}
	if len(r.RuntimeSafeguards) > 0 {
		if err := json.Unmarshal(r.RuntimeSafeguards, &inv.RuntimeSafeguards); err != nil {
			return nil, fmt.Errorf("postgres: decode runtime_safeguards: %w", err)
		}
	}
	if len(r.StageDurationsMs) > 0 {
		if err := json.Unmarshal(r.StageDurationsMs, &inv.StageDurationsMs); err != nil {
			return nil, fmt.Errorf("postgres: decode stage_durations_ms: %w", err)
		}
	}
	return inv, nil
}

// recommendationRow mirrors the recommendations table shape for sqlx's
// struct-scan path (spec §3 Recommendation fields).
type recommendationRow struct {
	ID             string     `db:"id"`
	InsightID      string     `db:"insight_id"`
	Type           string     `db:"type"`
	Priority       int        `db:"priority"`
	Title          string     `db:"title"`
	Impact         *string    `db:"impact"`
	Payload        []byte     `db:"payload"`
	SignatureHash  string     `db:"signature_hash"`
	Status         string     `db:"status"`
	AcknowledgedBy *string    `db:"acknowledged_by"`
	AcknowledgedAt *time.Time `db:"acknowledged_at"`
	IdempotencyKey string     `db:"idempotency_key"`
}

func (r recommendationRow) toDomain() (*domain.Recommendation, error) {
	var payload map[string]any
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return nil, fmt.Errorf("postgres: decode recommendation payload: %w", err)
		}
	}
	rec := &domain.Recommendation{
		ID:        r.ID,
		InsightID: r.InsightID,
		Candidate: domain.RecommendationCandidate{
			Type:          domain.RecommendationType(r.Type),
			Priority:      r.Priority,
			Title:         r.Title,
			Payload:       payload,
			SignatureHash: r.SignatureHash,
		},
		Status:         domain.RecommendationStatus(r.Status),
		IdempotencyKey: r.IdempotencyKey,
	}
	if r.Impact != nil {
		rec.Candidate.Impact = *r.Impact
	}
	if r.AcknowledgedBy != nil {
		rec.AcknowledgedBy = *r.AcknowledgedBy
	}
	if r.AcknowledgedAt != nil {
		ms := r.AcknowledgedAt.UnixMilli()
		rec.AcknowledgedAt = &ms
	}
	return rec, nil
}

// ruleDraftRow mirrors the rule_drafts table shape for sqlx's struct-scan
// path (spec §3 Rule Draft fields).
type ruleDraftRow struct {
	ID               string  `db:"id"`
	RecommendationID string  `db:"recommendation_id"`
	RuleName         string  `db:"rule_name"`
	RuleDescription  *string `db:"rule_description"`
	Conditions       []byte  `db:"conditions"`
	Thresholds       []byte  `db:"thresholds"`
	Metadata         []byte  `db:"metadata"`
	Status           string  `db:"status"`
	ExportRef        *string `db:"export_ref"`
}

func (r ruleDraftRow) toDomain() (*domain.RuleDraft, error) {
	draft := &domain.RuleDraft{
		ID:               r.ID,
		RecommendationID: r.RecommendationID,
		Status:           domain.RuleDraftStatus(r.Status),
		Candidate: domain.RuleDraftCandidate{
			RuleName: r.RuleName,
		},
	}
	if r.RuleDescription != nil {
		draft.Candidate.RuleDescription = *r.RuleDescription
	}
	if len(r.Conditions) > 0 {
		if err := json.Unmarshal(r.Conditions, &draft.Candidate.Conditions); err != nil {
			return nil, fmt.Errorf("postgres: decode rule draft conditions: %w", err)
		}
	}
	if len(r.Thresholds) > 0 {
		if err := json.Unmarshal(r.Thresholds, &draft.Candidate.Thresholds); err != nil {
			return nil, fmt.Errorf("postgres: decode rule draft thresholds: %w", err)
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &draft.Candidate.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: decode rule draft metadata: %w", err)
		}
	}
	if r.ExportRef != nil {
		draft.ExportRef = *r.ExportRef
	}
	return draft, nil
}

func mustConfig(dsn string) *pgx.ConnConfig {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		panic(fmt.Sprintf("postgres: invalid dsn: %v", err))
	}
	return cfg
}
