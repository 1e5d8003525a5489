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

// Package store persists Investigation, State, and the completion
// artifacts (Insight, Recommendation, Rule Draft, Tool Execution Log,
// Audit Log) with optimistic concurrency on State.version (spec §3, §9).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
)

// ErrVersionConflict is returned by SaveState when the persisted version
// no longer matches the version the caller last read (spec §3: "State
// writes are optimistic-concurrency-controlled on version").
var ErrVersionConflict = errors.New("store: state version conflict")

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("store: not found")

// StateStore is the persistence boundary the lifecycle manager and
// completion node depend on. Implementations: Memory (tests) and
// postgres.Store (production, pgx + sqlx).
type StateStore interface {
	// CreateInvestigation persists a new PENDING Investigation row.
	CreateInvestigation(ctx context.Context, inv *domain.Investigation) error

	// LoadInvestigation fetches an Investigation by id.
	LoadInvestigation(ctx context.Context, id string) (*domain.Investigation, error)

	// LoadState fetches the latest persisted State for an investigation,
	// used on resume (spec §4.1, §5 resume()).
	LoadState(ctx context.Context, investigationID string) (*domain.State, error)

	// SaveState persists state at state.Version, failing with
	// ErrVersionConflict if the stored version has since advanced past
	// the version the caller started from. On success the in-memory
	// state.Version is not mutated by the store; callers increment it
	// themselves before the next SaveState call.
	SaveState(ctx context.Context, state *domain.State) error

	// MarkInProgress transitions an Investigation from PENDING to
	// IN_PROGRESS. Only the status changes; StartedAt is set when the
	// Investigation is created.
	MarkInProgress(ctx context.Context, investigationID string) error

	// MarkFailed transitions an Investigation to FAILED with an error
	// summary (spec §5 fail()).
	MarkFailed(ctx context.Context, investigationID, errorSummary string) error

	// PersistCompletion writes the Investigation's terminal row together
	// with the Insight, its Recommendations, and optional Rule Draft, in
	// one transaction, upserting on insight.IdempotencyKey /
	// recommendation.IdempotencyKey (spec §4.10, §3 invariant d — "never
	// DO NOTHING on conflict": an upsert always refreshes generated_at,
	// severity, and confidence_score even when the idempotency key
	// matches, so a replay reflects the latest computation).
	PersistCompletion(ctx context.Context, inv *domain.Investigation, state *domain.State, insight *domain.Insight) error

	// AppendAudit writes one audit log entry (fire-and-forget from the
	// caller's perspective; failures are logged, never fatal).
	AppendAudit(ctx context.Context, event domain.AuditEvent) error

	// FindActiveInvestigationByTransaction supports the duplicate-run
	// guard alongside the distributed lock (spec §8 "duplicate concurrent
	// run" scenario): returns the non-terminal investigation for a
	// transaction id, if any.
	FindActiveInvestigationByTransaction(ctx context.Context, transactionID string) (*domain.Investigation, error)

	// LoadRecommendation fetches a Recommendation by id, the lookup the
	// acknowledge_recommendation/reject_recommendation/export_rule_draft
	// operations start from (spec §6 Exposed).
	LoadRecommendation(ctx context.Context, id string) (*domain.Recommendation, error)

	// UpdateRecommendationStatus persists a guarded status transition
	// together with the acting analyst and the time it happened (spec
	// §3.4: status mutated only through the lifecycle manager with
	// row-level guards on the legal transitions).
	UpdateRecommendationStatus(ctx context.Context, id string, newStatus domain.RecommendationStatus, actor string, at time.Time) error

	// LoadRuleDraft fetches a Rule Draft by id, used by export_rule_draft.
	LoadRuleDraft(ctx context.Context, id string) (*domain.RuleDraft, error)

	// MarkRuleDraftExported transitions a Rule Draft to EXPORTED and
	// records the export_ref returned by the rule export client (spec §6
	// "Rule export client: export(draft) → {export_ref}").
	MarkRuleDraftExported(ctx context.Context, id, exportRef string) error

	// LoadInvestigationView assembles the full read-back bundle for
	// get_investigation (spec §6 Exposed #2).
	LoadInvestigationView(ctx context.Context, investigationID string) (*domain.InvestigationView, error)
}
