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

// Package lifecycle owns the Run Lifecycle Manager: start/resume/fail and
// the planner→executor→persist loop that drives one investigation from
// PENDING to a terminal status (spec §5).
package lifecycle

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/apierrors"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/audit"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/completion"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/config"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/executor"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/lock"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/planner"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/ruleexport"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/store"
)

const lockTTL = 10 * time.Minute

// Manager drives investigations end to end (spec §5 "Run Lifecycle
// Manager"). It is the only component that starts, resumes, or fails a
// run — every other package is a pure function of State.
type Manager struct {
	store      store.StateStore
	lock       lock.Lock
	planner    *planner.Planner
	executor   *executor.Executor
	complete   *completion.Node
	audit      *audit.Writer
	config     *config.Config
	logger     *zap.Logger
	ruleExport ruleexport.Client
}

func New(
	st store.StateStore,
	lk lock.Lock,
	pl *planner.Planner,
	ex *executor.Executor,
	comp *completion.Node,
	aw *audit.Writer,
	cfg *config.Config,
	logger *zap.Logger,
	re ruleexport.Client,
) *Manager {
	return &Manager{store: st, lock: lk, planner: pl, executor: ex, complete: comp, audit: aw, config: cfg, logger: logger, ruleExport: re}
}

// Start begins a new investigation for transactionID (spec §5 start()).
// It acquires the per-transaction lock first; if another investigation is
// already active for this transaction, it returns the existing
// investigation id instead of starting a duplicate (spec §8 "duplicate
// concurrent run" scenario).
func (m *Manager) Start(ctx context.Context, transactionID string, mode domain.Mode, triggerRef string) (*domain.Investigation, error) {
	lockKey := lock.TransactionLockKey(transactionID)
	holder := uuid.NewString()

	if err := m.lock.Acquire(ctx, lockKey, holder, lockTTL); err != nil {
		if err == lock.ErrAlreadyLocked {
			if active, findErr := m.store.FindActiveInvestigationByTransaction(ctx, transactionID); findErr == nil {
				m.logger.Info("investigation already active for transaction; returning existing run",
					zap.String("transaction_id", transactionID), zap.String("investigation_id", active.ID))
				return active, nil
			}
		}
		return nil, fmt.Errorf("lifecycle: acquire lock: %w", err)
	}
	defer m.lock.Release(ctx, lockKey, holder)

	circuitOpen := false
	flags, safeguards := m.config.Snapshot(circuitOpen)

	inv := domain.NewInvestigation(uuid.NewString(), transactionID, mode, flags, safeguards, triggerRef)
	if err := m.store.CreateInvestigation(ctx, inv); err != nil {
		return nil, fmt.Errorf("lifecycle: create investigation: %w", err)
	}
	m.audit.Record(ctx, audit.EntityInvestigation, inv.ID, audit.ActionStarted, audit.PerformedBySystem, nil, inv)

	state := domain.NewState(inv.ID, transactionID, flags)
	if err := m.store.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("lifecycle: save initial state: %w", err)
	}
	if err := m.store.MarkInProgress(ctx, inv.ID); err != nil {
		return nil, fmt.Errorf("lifecycle: mark in progress: %w", err)
	}
	inv.Status = domain.StatusInProgress

	return m.run(ctx, inv, state)
}

// Resume continues a previously checkpointed investigation from its last
// persisted State (spec §5 resume()).
func (m *Manager) Resume(ctx context.Context, investigationID string) (*domain.Investigation, error) {
	inv, err := m.store.LoadInvestigation(ctx, investigationID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load investigation: %w", err)
	}
	if inv.Status.Terminal() {
		return inv, nil
	}
	state, err := m.store.LoadState(ctx, investigationID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load state: %w", err)
	}
	m.audit.Record(ctx, audit.EntityInvestigation, inv.ID, audit.ActionResumed, audit.PerformedBySystem, nil, nil)

	return m.run(ctx, inv, state)
}

// Fail marks an investigation FAILED outside the normal loop, used when an
// unrecoverable error occurs before or between steps (spec §5 fail()).
func (m *Manager) Fail(ctx context.Context, investigationID string, cause error) error {
	if err := m.store.MarkFailed(ctx, investigationID, cause.Error()); err != nil {
		return fmt.Errorf("lifecycle: mark failed: %w", err)
	}
	m.audit.Record(ctx, audit.EntityInvestigation, investigationID, audit.ActionFailed, audit.PerformedBySystem, nil, cause.Error())
	return nil
}

// run drives the planner→executor→persist loop described in spec §2 and
// §5 until the planner returns COMPLETE, the run deadline elapses, or the
// caller's context is cancelled. A checkpoint (SaveState) happens after
// every step, before the next external call, so a crash mid-loop always
// resumes from the last completed step (spec §5 "Checkpointing").
func (m *Manager) run(ctx context.Context, inv *domain.Investigation, state *domain.State) (*domain.Investigation, error) {
	deadline := time.Now().Add(m.config.RunDeadline())
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	partial := false

	for {
		if runCtx.Err() != nil {
			partial = true
			m.logger.Warn("investigation run deadline reached; forcing completion",
				zap.String("investigation_id", inv.ID))
			break
		}

		decision := m.planner.NextAction(runCtx, state, inv.MaxSteps)
		state.PlannerDecisions = append(state.PlannerDecisions, domain.PlannerDecision{
			StepNumber:   len(state.PlannerDecisions) + 1,
			SelectedTool: decision.SelectedTool,
			Rationale:    decision.Rationale,
			Fallback:     decision.Fallback,
			Timestamp:    time.Now().UTC(),
		})

		if decision.SelectedTool == planner.Complete {
			break
		}

		state = m.executor.Run(runCtx, decision.SelectedTool, inv.ID, inv.TransactionID, inv.ModelMode, state)
		inv.StepCount = state.StepCount

		state.Version++
		if err := m.store.SaveState(runCtx, state); err != nil {
			m.logger.Error("checkpoint failed", zap.Error(err), zap.String("investigation_id", inv.ID))
			return nil, m.Fail(ctx, inv.ID, err)
		}
	}

	if err := m.complete.Finalize(ctx, inv, state, partial); err != nil {
		return nil, fmt.Errorf("lifecycle: finalize: %w", err)
	}
	m.audit.Record(ctx, audit.EntityInvestigation, inv.ID, audit.ActionCompleted, audit.PerformedBySystem, nil, inv.Status)

	return inv, nil
}

// transitionRecommendation loads rec, checks the move against
// domain.CanTransition, persists it, and writes an audit event (spec §3.4:
// status mutated only through the lifecycle manager with row-level guards
// on the legal transitions).
func (m *Manager) transitionRecommendation(ctx context.Context, id string, to domain.RecommendationStatus, actor string) (*domain.Recommendation, error) {
	rec, err := m.store.LoadRecommendation(ctx, id)
	if err != nil {
		return nil, classifyLoadErr(err, "lifecycle: load recommendation")
	}
	if !domain.CanTransition(rec.Status, to) {
		return nil, apierrors.New(apierrors.KindConflict,
			fmt.Errorf("lifecycle: illegal recommendation transition %s -> %s", rec.Status, to))
	}

	at := time.Now().UTC()
	if err := m.store.UpdateRecommendationStatus(ctx, id, to, actor, at); err != nil {
		return nil, fmt.Errorf("lifecycle: update recommendation status: %w", err)
	}

	from := rec.Status
	rec.Status = to
	rec.AcknowledgedBy = actor
	atMs := at.UnixMilli()
	rec.AcknowledgedAt = &atMs

	m.audit.Record(ctx, audit.EntityRecommendation, id, audit.ActionTransitioned, actor, from, to)
	return rec, nil
}

// AcknowledgeRecommendation moves a Recommendation OPEN -> ACKNOWLEDGED
// (spec §6 Exposed "acknowledge_recommendation(id, actor)"). ExportRuleDraft
// requires this status; only when enforce_human_approval is set does it
// also require the acting analyst to be a named human rather than the
// system.
func (m *Manager) AcknowledgeRecommendation(ctx context.Context, id, actor string) (*domain.Recommendation, error) {
	return m.transitionRecommendation(ctx, id, domain.RecommendationAcknowledged, actor)
}

// RejectRecommendation moves a Recommendation OPEN -> REJECTED (spec §6
// Exposed "reject_recommendation(id, actor)").
func (m *Manager) RejectRecommendation(ctx context.Context, id, actor string) (*domain.Recommendation, error) {
	return m.transitionRecommendation(ctx, id, domain.RecommendationRejected, actor)
}

// ExportRuleDraft drives a Rule Draft's underlying Recommendation
// ACKNOWLEDGED -> EXPORTED, calls the rule export client, and fills in
// export_ref (spec §6 Exposed "export_rule_draft(id)"; Consumed "Rule
// export client: export(draft) -> {export_ref}. Errors: Conflict,
// DependencyFailure. Used only on explicit analyst action."). When
// enforce_human_approval is set, it refuses to export a draft whose
// Recommendation was acknowledged by the system rather than a named
// analyst (spec §6 "blocks any auto-export attempt").
func (m *Manager) ExportRuleDraft(ctx context.Context, ruleDraftID, actor string) (*domain.RuleDraft, error) {
	draft, err := m.store.LoadRuleDraft(ctx, ruleDraftID)
	if err != nil {
		return nil, classifyLoadErr(err, "lifecycle: load rule draft")
	}
	if draft.Status == domain.RuleDraftExported {
		return nil, apierrors.New(apierrors.KindConflict,
			fmt.Errorf("lifecycle: rule draft %s already exported", ruleDraftID))
	}

	rec, err := m.store.LoadRecommendation(ctx, draft.RecommendationID)
	if err != nil {
		return nil, classifyLoadErr(err, "lifecycle: load recommendation")
	}
	if !domain.CanTransition(rec.Status, domain.RecommendationExported) {
		return nil, apierrors.New(apierrors.KindConflict,
			fmt.Errorf("lifecycle: recommendation %s is not ACKNOWLEDGED", rec.ID))
	}
	if m.config.Flags.EnforceHumanApproval && (rec.AcknowledgedBy == "" || rec.AcknowledgedBy == audit.PerformedBySystem) {
		return nil, apierrors.New(apierrors.KindForbidden,
			fmt.Errorf("lifecycle: export blocked, recommendation %s was never acknowledged by a named analyst", rec.ID))
	}

	exportRef, err := m.ruleExport.Export(ctx, ruleexport.RuleDraft{
		ID:              draft.ID,
		RuleName:        draft.Candidate.RuleName,
		RuleDescription: draft.Candidate.RuleDescription,
		Conditions:      toExportConditions(draft.Candidate.Conditions),
		Thresholds:      draft.Candidate.Thresholds,
	})
	if err != nil {
		kind := apierrors.KindDependencyFailure
		var rxErr *ruleexport.Error
		if stderrors.As(err, &rxErr) && rxErr.Kind == ruleexport.ErrConflict {
			kind = apierrors.KindConflict
		}
		return nil, apierrors.Wrapf(kind, err, "lifecycle: export rule draft %s", ruleDraftID)
	}

	if err := m.store.MarkRuleDraftExported(ctx, ruleDraftID, exportRef); err != nil {
		return nil, fmt.Errorf("lifecycle: mark rule draft exported: %w", err)
	}
	at := time.Now().UTC()
	if err := m.store.UpdateRecommendationStatus(ctx, rec.ID, domain.RecommendationExported, actor, at); err != nil {
		return nil, fmt.Errorf("lifecycle: update recommendation status: %w", err)
	}

	draft.Status = domain.RuleDraftExported
	draft.ExportRef = exportRef
	m.audit.Record(ctx, audit.EntityRuleDraft, ruleDraftID, audit.ActionTransitioned, actor,
		domain.RuleDraftNotExported, map[string]string{"status": string(domain.RuleDraftExported), "export_ref": exportRef})

	return draft, nil
}

// GetInvestigation assembles the full read-back bundle for one
// investigation (spec §6 Exposed "get_investigation(investigation_id)").
func (m *Manager) GetInvestigation(ctx context.Context, investigationID string) (*domain.InvestigationView, error) {
	view, err := m.store.LoadInvestigationView(ctx, investigationID)
	if err != nil {
		return nil, classifyLoadErr(err, "lifecycle: load investigation view")
	}
	return view, nil
}

// classifyLoadErr tags a store.ErrNotFound lookup failure with
// apierrors.KindNotFound so HTTP handlers can map it to 404 instead of the
// default 500 (spec §7 error kinds).
func classifyLoadErr(err error, msg string) error {
	if stderrors.Is(err, store.ErrNotFound) {
		return apierrors.New(apierrors.KindNotFound, fmt.Errorf("%s: %w", msg, err))
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func toExportConditions(conds []domain.RuleCondition) []ruleexport.Condition {
	out := make([]ruleexport.Condition, len(conds))
	for i, c := range conds {
		out[i] = ruleexport.Condition{Field: c.Field, Operator: c.Operator, Value: c.Value, Scope: c.Scope}
	}
	return out
}
