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

package store

import (
	"context"
	"sync"
	"time"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
)

// Memory is an in-process StateStore used by tests and by the lifecycle
// manager's unit suite. It enforces the same optimistic-concurrency and
// upsert-on-conflict semantics as the postgres implementation so tests
// written against it exercise the real invariants.
type Memory struct {
	mu                      sync.Mutex
	investigations          map[string]*domain.Investigation
	states                  map[string]*domain.State
	insightsByKey           map[string]*domain.Insight
	insightsByInvestigation map[string]*domain.Insight
	recsByKey               map[string]*domain.Recommendation
	recsByID                map[string]*domain.Recommendation
	ruleDraftsByID          map[string]*domain.RuleDraft
	audit                   []domain.AuditEvent
}

func NewMemory() *Memory {
	return &Memory{
		investigations:          map[string]*domain.Investigation{},
		states:                  map[string]*domain.State{},
		insightsByKey:           map[string]*domain.Insight{},
		insightsByInvestigation: map[string]*domain.Insight{},
		recsByKey:               map[string]*domain.Recommendation{},
		recsByID:                map[string]*domain.Recommendation{},
		ruleDraftsByID:          map[string]*domain.RuleDraft{},
	}
}

func (m *Memory) CreateInvestigation(ctx context.Context, inv *domain.Investigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.investigations[inv.ID] = &cp
	return nil
}

func (m *Memory) LoadInvestigation(ctx context.Context, id string) (*domain.Investigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.investigations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *Memory) LoadState(ctx context.Context, investigationID string) (*domain.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[investigationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) SaveState(ctx context.Context, state *domain.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.states[state.InvestigationID]
	if ok && existing.Version >= state.Version {
		return ErrVersionConflict
	}
	cp := *state
	m.states[state.InvestigationID] = &cp
	return nil
}

func (m *Memory) MarkInProgress(ctx context.Context, investigationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.investigations[investigationID]
	if !ok {
		return ErrNotFound
	}
	inv.Status = domain.StatusInProgress
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, investigationID, errorSummary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.investigations[investigationID]
	if !ok {
		return ErrNotFound
	}
	inv.Status = domain.StatusFailed
	inv.ErrorSummary = errorSummary
	return nil
}

func (m *Memory) PersistCompletion(ctx context.Context, inv *domain.Investigation, state *domain.State, insight *domain.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *inv
	m.investigations[inv.ID] = &cp

	// Upsert on insight.IdempotencyKey — replays refresh content rather
	// than no-op (spec §3 invariant d).
	m.insightsByKey[insight.IdempotencyKey] = insight
	if insight.InvestigationID != "" {
		m.insightsByInvestigation[insight.InvestigationID] = insight
	}

	for i := range insight.Recommendations {
		rec := insight.Recommendations[i]
		m.recsByKey[rec.IdempotencyKey] = &rec
		m.recsByID[rec.ID] = &rec
	}
	if insight.RuleDraft != nil {
		draft := *insight.RuleDraft
		m.ruleDraftsByID[draft.ID] = &draft
	}

	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, event domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, event)
	return nil
}

func (m *Memory) FindActiveInvestigationByTransaction(ctx context.Context, transactionID string) (*domain.Investigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.investigations {
		if inv.TransactionID == transactionID && !inv.Status.Terminal() {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) LoadRecommendation(ctx context.Context, id string) (*domain.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) UpdateRecommendationStatus(ctx context.Context, id string, newStatus domain.RecommendationStatus, actor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recsByID[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = newStatus
	rec.AcknowledgedBy = actor
	atMs := at.UnixMilli()
	rec.AcknowledgedAt = &atMs
	m.recsByKey[rec.IdempotencyKey] = rec
	return nil
}

func (m *Memory) LoadRuleDraft(ctx context.Context, id string) (*domain.RuleDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft, ok := m.ruleDraftsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *draft
	return &cp, nil
}

func (m *Memory) MarkRuleDraftExported(ctx context.Context, id, exportRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft, ok := m.ruleDraftsByID[id]
	if !ok {
		return ErrNotFound
	}
	draft.Status = domain.RuleDraftExported
	draft.ExportRef = exportRef
	return nil
}

// LoadInvestigationView assembles the get_investigation bundle from the
// Investigation row, its latest checkpointed State, and its persisted
// Insight (if the run has reached completion).
func (m *Memory) LoadInvestigationView(ctx context.Context, investigationID string) (*domain.InvestigationView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.investigations[investigationID]
	if !ok {
		return nil, ErrNotFound
	}
	invCp := *inv

	view := &domain.InvestigationView{
		Investigation:       &invCp,
		ModelMode:           inv.ModelMode,
		LLMStatus:           inv.LLMStatus,
		StageDurationsMs:    inv.StageDurationsMs,
		RuntimeFeatureFlags: inv.RuntimeFeatureFlags,
		RuntimeSafeguards:   inv.RuntimeSafeguards,
	}

	if state, ok := m.states[investigationID]; ok {
		view.Features = state.Features
		view.PlannerDecisions = append([]domain.PlannerDecision(nil), state.PlannerDecisions...)
		view.ToolExecutions = append([]domain.ToolExecution(nil), state.ToolExecutions...)
		view.Reasoning = state.ReasoningResult
		view.Evidence = append([]domain.EvidenceItem(nil), state.Evidence...)
	}

	if insight, ok := m.insightsByInvestigation[investigationID]; ok {
		view.Evidence = append([]domain.EvidenceItem(nil), insight.Evidence...)
		view.Recommendations = append([]domain.Recommendation(nil), insight.Recommendations...)
		view.RuleDraft = insight.RuleDraft
	}

	return view, nil
}

// InsightByKey exposes the persisted insight for a given idempotency key,
// used by tests asserting replay-idempotence (spec §8 item 5).
func (m *Memory) InsightByKey(key string) (*domain.Insight, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	insight, ok := m.insightsByKey[key]
	return insight, ok
}

// AuditEvents returns a copy of the recorded audit log, for test assertions.
func (m *Memory) AuditEvents() []domain.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEvent(nil), m.audit...)
}

// InsightCount returns the number of distinct insights persisted, used by
// tests asserting exactly-one-Insight-per-investigation (spec §8 item 3).
func (m *Memory) InsightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.insightsByKey)
}
