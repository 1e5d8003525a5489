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

// Package postgres is the production StateStore implementation: sqlx over
// a pgx stdlib connection, migrated with goose.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/store"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/store/postgres/migrations"
)

// Store is a store.StateStore backed by Postgres.
type Store struct {
	db *sqlx.DB
}

// Open connects, pings, and runs pending goose migrations from the
// embedded migration set before returning.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqlDB := stdlib.OpenDB(*mustConfig(dsn))
	db := sqlx.NewDb(sqlDB, "pgx")
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("postgres: set dialect: %w", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open sqlx.DB, used by tests with go-sqlmock.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateInvestigation(ctx context.Context, inv *domain.Investigation) error {
	flags, err := json.Marshal(inv.RuntimeFeatureFlags)
	if err != nil {
		return err
	}
	safeguards, err := json.Marshal(inv.RuntimeSafeguards)
	if err != nil {
		return err
	}
	stageDurations, err := json.Marshal(inv.StageDurationsMs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO investigations
			(id, transaction_id, mode, status, max_steps, started_at, trigger_ref,
			 runtime_feature_flags, runtime_safeguards, stage_durations_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.TransactionID, inv.Mode, inv.Status, inv.MaxSteps, inv.StartedAt,
		nullString(inv.TriggerRef), flags, safeguards, stageDurations,
	)
	return err
}

func (s *Store) LoadInvestigation(ctx context.Context, id string) (*domain.Investigation, error) {
	var row investigationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM investigations WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) LoadState(ctx context.Context, investigationID string) (*domain.State, error) {
	var payload []byte
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT version, payload FROM investigation_state WHERE investigation_id = $1`,
		investigationID,
	).Scan(&version, &payload)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var state domain.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, err
	}
	state.Version = version
	return &state, nil
}

// SaveState upserts the row, but guards against a stale write by requiring
// the existing version to be strictly less than the incoming one whenever
// a row already exists (spec §3: optimistic concurrency on version).
func (s *Store) SaveState(ctx context.Context, state *domain.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO investigation_state (investigation_id, version, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (investigation_id) DO UPDATE
		SET version = EXCLUDED.version, payload = EXCLUDED.payload, updated_at = now()
		WHERE investigation_state.version < EXCLUDED.version`,
		state.InvestigationID, state.Version, payload,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) MarkInProgress(ctx context.Context, investigationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE investigations SET status = $1 WHERE id = $2`,
		domain.StatusInProgress, investigationID,
	)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, investigationID, errorSummary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE investigations SET status = $1, error_summary = $2, completed_at = now() WHERE id = $3`,
		domain.StatusFailed, errorSummary, investigationID,
	)
	return err
}

// PersistCompletion writes the terminal investigation row, the Insight,
// its Recommendations, and optional Rule Draft in a single transaction,
// upserting by idempotency key so a replay refreshes content instead of
// either duplicating or silently no-opping (spec §3 invariant d).
func (s *Store) PersistCompletion(ctx context.Context, inv *domain.Investigation, state *domain.State, insight *domain.Insight) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := persistInvestigationRow(ctx, tx, inv); err != nil {
		return err
	}
	if err := persistInsight(ctx, tx, insight); err != nil {
		return err
	}
	for _, rec := range insight.Recommendations {
		if err := persistRecommendation(ctx, tx, rec); err != nil {
			return err
		}
	}
	if insight.RuleDraft != nil {
		if err := persistRuleDraft(ctx, tx, insight.RuleDraft); err != nil {
			return err
		}
	}
	for _, exec := range state.ToolExecutions {
		if err := persistToolExecution(ctx, tx, exec); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func persistInvestigationRow(ctx context.Context, tx *sqlx.Tx, inv *domain.Investigation) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE investigations SET
			status = $1, final_severity = $2, final_confidence = $3, step_count = $4,
			completed_at = $5, duration_ms = $6, error_summary = $7, partial = $8,
			model_mode = $9, llm_status = $10, llm_error = $11, llm_model = $12
		WHERE id = $13`,
		inv.Status, inv.FinalSeverity, inv.FinalConfidence, inv.StepCount,
		inv.CompletedAt, inv.DurationMs, nullString(inv.ErrorSummary), inv.Partial,
		inv.ModelMode, inv.LLMStatus, nullString(inv.LLMError), nullString(inv.LLMModel),
		inv.ID,
	)
	return err
}

func persistInsight(ctx context.Context, tx *sqlx.Tx, insight *domain.Insight) error {
	evidence, err := json.Marshal(insight.Evidence)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO insights
			(id, transaction_id, investigation_id, evaluation_type, insight_type, model_mode,
			 transaction_timestamp, severity, summary, confidence_score, generated_at,
			 idempotency_key, evidence)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			severity = EXCLUDED.severity,
			summary = EXCLUDED.summary,
			confidence_score = EXCLUDED.confidence_score,
			generated_at = EXCLUDED.generated_at,
			evidence = EXCLUDED.evidence`,
		insight.ID, insight.TransactionID, nullString(insight.InvestigationID), insight.EvaluationType, insight.InsightType,
		insight.ModelMode, insight.TransactionTimestamp, insight.Severity, insight.Summary,
		insight.ConfidenceScore, insight.GeneratedAt, insight.IdempotencyKey, evidence,
	)
	return err
}

func persistRecommendation(ctx context.Context, tx *sqlx.Tx, rec domain.Recommendation) error {
	payload, err := json.Marshal(rec.Candidate.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO recommendations
			(id, insight_id, type, priority, title, impact, payload, signature_hash,
			 status, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			priority = EXCLUDED.priority,
			title = EXCLUDED.title,
			impact = EXCLUDED.impact,
			payload = EXCLUDED.payload`,
		rec.ID, rec.InsightID, rec.Candidate.Type, rec.Candidate.Priority, rec.Candidate.Title,
		rec.Candidate.Impact, payload, rec.Candidate.SignatureHash, rec.Status, rec.IdempotencyKey,
	)
	return err
}

func persistRuleDraft(ctx context.Context, tx *sqlx.Tx, draft *domain.RuleDraft) error {
	conditions, err := json.Marshal(draft.Candidate.Conditions)
	if err != nil {
		return err
	}
	thresholds, err := json.Marshal(draft.Candidate.Thresholds)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(draft.Candidate.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rule_drafts
			(id, recommendation_id, rule_name, rule_description, conditions, thresholds,
			 metadata, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING`,
		draft.ID, draft.RecommendationID, draft.Candidate.RuleName, draft.Candidate.RuleDescription,
		conditions, thresholds, metadata, draft.Status,
	)
	return err
}

func persistToolExecution(ctx context.Context, tx *sqlx.Tx, exec domain.ToolExecution) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tool_execution_log
			(investigation_id, tool_name, step_number, status, input_summary,
			 output_summary, execution_time_ms, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (investigation_id, step_number) DO NOTHING`,
		exec.InvestigationID, exec.ToolName, exec.StepNumber, exec.Status,
		nullString(exec.InputSummary), nullString(exec.OutputSummary), exec.ExecutionTimeMs,
		nullString(exec.ErrorMessage),
	)
	return err
}

func (s *Store) AppendAudit(ctx context.Context, event domain.AuditEvent) error {
	oldValue, err := json.Marshal(event.OldValue)
	if err != nil {
		return err
	}
	newValue, err := json.Marshal(event.NewValue)
	if err != nil {
		return err
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, action, performed_by, old_value, new_value, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		event.EntityType, event.EntityID, event.Action, event.PerformedBy, oldValue, newValue, ts,
	)
	return err
}

func (s *Store) FindActiveInvestigationByTransaction(ctx context.Context, transactionID string) (*domain.Investigation, error) {
	var row investigationRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM investigations
		WHERE transaction_id = $1 AND status IN ('PENDING', 'IN_PROGRESS')
		ORDER BY started_at DESC LIMIT 1`,
		transactionID,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) LoadRecommendation(ctx context.Context, id string) (*domain.Recommendation, error) {
	var row recommendationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM recommendations WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// UpdateRecommendationStatus persists a guarded status transition; the
// lifecycle manager has already validated the transition is legal via
// domain.CanTransition before calling this.
func (s *Store) UpdateRecommendationStatus(ctx context.Context, id string, newStatus domain.RecommendationStatus, actor string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recommendations SET status = $1, acknowledged_by = $2, acknowledged_at = $3
		WHERE id = $4`,
		newStatus, actor, at, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) LoadRuleDraft(ctx context.Context, id string) (*domain.RuleDraft, error) {
	var row ruleDraftRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM rule_drafts WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) MarkRuleDraftExported(ctx context.Context, id, exportRef string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rule_drafts SET status = $1, export_ref = $2 WHERE id = $3`,
		domain.RuleDraftExported, exportRef, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// LoadInvestigationView assembles the get_investigation bundle (spec §6
// Exposed #2) from the Investigation row, its latest checkpointed State,
// and its persisted Insight joined out to its Recommendations and
// optional Rule Draft.
func (s *Store) LoadInvestigationView(ctx context.Context, investigationID string) (*domain.InvestigationView, error) {
	inv, err := s.LoadInvestigation(ctx, investigationID)
	if err != nil {
		return nil, err
	}

	view := &domain.InvestigationView{
		Investigation:       inv,
		ModelMode:           inv.ModelMode,
		LLMStatus:           inv.LLMStatus,
		StageDurationsMs:    inv.StageDurationsMs,
		RuntimeFeatureFlags: inv.RuntimeFeatureFlags,
		RuntimeSafeguards:   inv.RuntimeSafeguards,
	}

	state, err := s.LoadState(ctx, investigationID)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	if state != nil {
		view.Features = state.Features
		view.PlannerDecisions = state.PlannerDecisions
		view.ToolExecutions = state.ToolExecutions
		view.Reasoning = state.ReasoningResult
		view.Evidence = state.Evidence
	}

	var insightRow struct {
		ID       string `db:"id"`
		Evidence []byte `db:"evidence"`
	}
	err = s.db.GetContext(ctx, &insightRow, `SELECT id, evidence FROM insights WHERE investigation_id = $1`, investigationID)
	if err == sql.ErrNoRows {
		return view, nil
	}
	if err != nil {
		return nil, err
	}

	if len(insightRow.Evidence) > 0 {
		var evidence []domain.EvidenceItem
		if err := json.Unmarshal(insightRow.Evidence, &evidence); err != nil {
			return nil, fmt.Errorf("postgres: decode insight evidence: %w", err)
		}
		view.Evidence = evidence
	}

	var recRows []recommendationRow
	if err := s.db.SelectContext(ctx, &recRows, `SELECT * FROM recommendations WHERE insight_id = $1`, insightRow.ID); err != nil {
		return nil, err
	}
	for _, rr := range recRows {
		rec, err := rr.toDomain()
		if err != nil {
			return nil, err
		}
		view.Recommendations = append(view.Recommendations, *rec)
	}

	var draftRow ruleDraftRow
	err = s.db.GetContext(ctx, &draftRow, `
		SELECT rd.* FROM rule_drafts rd
		JOIN recommendations r ON r.id = rd.recommendation_id
		WHERE r.insight_id = $1`, insightRow.ID,
	)
	if err == sql.ErrNoRows {
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	draft, err := draftRow.toDomain()
	if err != nil {
		return nil, err
	}
	view.RuleDraft = draft

	return view, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
