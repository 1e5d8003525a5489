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

package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/telemetry"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/tools"
)

// fakeRuleExportClient is an in-memory stand-in for the downstream rule
// engine, used so lifecycle tests never make a network call.
type fakeRuleExportClient struct {
	exportRef string
	err       error
	calls     int
}

func (f *fakeRuleExportClient) Export(context.Context, ruleexport.RuleDraft) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.exportRef, nil
}

type stubTool struct{ name string }

func (s stubTool) Name() string                        { return s.name }
func (s stubTool) Description() string                 { return s.name }
func (s stubTool) PrerequisitesMet(*domain.State) bool  { return true }
func (s stubTool) Run(context.Context, *domain.State) tools.Result {
	return tools.Result{Status: domain.ExecutionOK, Apply: func(*domain.State) {}}
}

func newManager(t *testing.T, cfg *config.Config) (*Manager, *store.Memory) {
	mgr, mem, _ := newManagerWithRuleExport(t, cfg, &fakeRuleExportClient{exportRef: "ref-1"})
	return mgr, mem
}

func newManagerWithRuleExport(t *testing.T, cfg *config.Config, re ruleexport.Client) (*Manager, *store.Memory, *fakeRuleExportClient) {
	t.Helper()
	registry := tools.NewRegistry(stubTool{tools.NameContext})
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	logger := zap.NewNop()

	mem := store.NewMemory()
	lk := lock.NewMemory()
	pl := planner.New(registry, nil, time.Second, logger)
	ex := executor.New(registry, func(string) time.Duration { return time.Second }, metrics, logger)
	comp := completion.New(mem, metrics, logger)
	aw := audit.New(mem, logger)

	fake, _ := re.(*fakeRuleExportClient)
	return New(mem, lk, pl, ex, comp, aw, cfg, logger, re), mem, fake
}

func baseConfig() *config.Config {
	return &config.Config{MaxSteps: domain.DefaultMaxSteps, DefaultToolTimeout: time.Second, LLMRetries: 1}
}

func TestStart_DrivesLoopToCompletionAndCheckpointsEveryStep(t *testing.T) {
	mgr, mem := newManager(t, baseConfig())

	inv, err := mgr.Start(context.Background(), "txn-1", domain.ModeDeep, "")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, inv.Status)
	assert.False(t, inv.Partial)

	state, err := mem.LoadState(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Version, "one tool step must advance the checkpointed version past the initial 1")
	assert.Equal(t, 1, state.StepCount)
}

func TestStart_DuplicateConcurrentRunReturnsExistingInvestigation(t *testing.T) {
	mgr, mem := newManager(t, baseConfig())
	ctx := context.Background()

	// Simulate another in-flight Start() already holding the lock and
	// having created the active investigation row.
	lockKey := lock.TransactionLockKey("txn-1")
	require.NoError(t, mgr.lock.Acquire(ctx, lockKey, "other-holder", time.Minute))

	existing := domain.NewInvestigation("existing-inv", "txn-1", domain.ModeDeep, domain.FeatureFlags{}, domain.RuntimeSafeguards{}, "")
	existing.Status = domain.StatusInProgress
	require.NoError(t, mem.CreateInvestigation(ctx, existing))

	inv, err := mgr.Start(ctx, "txn-1", domain.ModeDeep, "")

	require.NoError(t, err)
	assert.Equal(t, "existing-inv", inv.ID)
}

func TestRun_DeadlineForcesPartialCompletion(t *testing.T) {
	cfg := &config.Config{MaxSteps: 0, DefaultToolTimeout: time.Second, LLMRetries: 1}
	mgr, _ := newManager(t, cfg)

	inv := domain.NewInvestigation("inv-1", "txn-1", domain.ModeDeep, domain.FeatureFlags{}, domain.RuntimeSafeguards{}, "")
	state := domain.NewState(inv.ID, inv.TransactionID, domain.FeatureFlags{})

	result, err := mgr.run(context.Background(), inv, state)

	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 0, result.StepCount, "a deadline reached before the first iteration must run zero tool steps")
}

// seedRuleCandidate persists one Insight carrying a rule_candidate
// Recommendation and its Rule Draft, returning their ids for the
// acknowledge/reject/export tests below.
func seedRuleCandidate(t *testing.T, mem *store.Memory, investigationID string) (recID, draftID string) {
	t.Helper()
	ctx := context.Background()

	inv := domain.NewInvestigation(investigationID, "txn-1", domain.ModeDeep, domain.FeatureFlags{}, domain.RuntimeSafeguards{}, "")
	require.NoError(t, mem.CreateInvestigation(ctx, inv))

	insight := &domain.Insight{
		ID:              "insight-1",
		InvestigationID: investigationID,
		TransactionID:   "txn-1",
		IdempotencyKey:  "key-1",
		Recommendations: []domain.Recommendation{
			{
				ID:             "rec-1",
				InsightID:      "insight-1",
				Candidate:      domain.RecommendationCandidate{Type: domain.RecommendationRuleCandidate, Priority: 1, Title: "block merchant"},
				Status:         domain.RecommendationOpen,
				IdempotencyKey: "rec-key-1",
			},
		},
		RuleDraft: &domain.RuleDraft{
			ID:               "draft-1",
			RecommendationID: "rec-1",
			Candidate:        domain.RuleDraftCandidate{RuleName: "block-merchant-x"},
			Status:           domain.RuleDraftNotExported,
		},
	}
	require.NoError(t, mem.PersistCompletion(ctx, inv, domain.NewState(investigationID, "txn-1", domain.FeatureFlags{}), insight))
	return "rec-1", "draft-1"
}

func TestAcknowledgeRecommendation_MovesOpenToAcknowledged(t *testing.T) {
	mgr, mem := newManager(t, baseConfig())
	recID, _ := seedRuleCandidate(t, mem, "inv-1")

	rec, err := mgr.AcknowledgeRecommendation(context.Background(), recID, "analyst-1")

	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationAcknowledged, rec.Status)
	assert.Equal(t, "analyst-1", rec.AcknowledgedBy)
}

func TestAcknowledgeRecommendation_RejectsIllegalTransition(t *testing.T) {
	mgr, mem := newManager(t, baseConfig())
	recID, _ := seedRuleCandidate(t, mem, "inv-1")
	ctx := context.Background()

	_, err := mgr.RejectRecommendation(ctx, recID, "analyst-1")
	require.NoError(t, err)

	_, err = mgr.AcknowledgeRecommendation(ctx, recID, "analyst-1")

	require.Error(t, err)
	assert.Equal(t, apierrors.KindConflict, apierrors.KindOf(err))
}

func TestRejectRecommendation_MovesOpenToRejected(t *testing.T) {
	mgr, mem := newManager(t, baseConfig())
	recID, _ := seedRuleCandidate(t, mem, "inv-1")

	rec, err := mgr.RejectRecommendation(context.Background(), recID, "analyst-1")

	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationRejected, rec.Status)
}

func TestExportRuleDraft_SucceedsAfterAcknowledgement(t *testing.T) {
	mgr, mem := newManager(t, baseConfig())
	recID, draftID := seedRuleCandidate(t, mem, "inv-1")
	ctx := context.Background()

	_, err := mgr.AcknowledgeRecommendation(ctx, recID, "analyst-1")
	require.NoError(t, err)

	draft, err := mgr.ExportRuleDraft(ctx, draftID, "analyst-1")

	require.NoError(t, err)
	assert.Equal(t, domain.RuleDraftExported, draft.Status)
	assert.Equal(t, "ref-1", draft.ExportRef)

	rec, err := mem.LoadRecommendation(ctx, recID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationExported, rec.Status)
}

func TestExportRuleDraft_BlockedWhenNotAcknowledged(t *testing.T) {
	mgr, mem := newManager(t, baseConfig())
	_, draftID := seedRuleCandidate(t, mem, "inv-1")

	_, err := mgr.ExportRuleDraft(context.Background(), draftID, "analyst-1")

	require.Error(t, err)
	assert.Equal(t, apierrors.KindConflict, apierrors.KindOf(err))
}

func TestExportRuleDraft_BlockedWhenAlreadyExported(t *testing.T) {
	mgr, mem := newManager(t, baseConfig())
	recID, draftID := seedRuleCandidate(t, mem, "inv-1")
	ctx := context.Background()

	_, err := mgr.AcknowledgeRecommendation(ctx, recID, "analyst-1")
	require.NoError(t, err)
	_, err = mgr.ExportRuleDraft(ctx, draftID, "analyst-1")
	require.NoError(t, err)

	_, err = mgr.ExportRuleDraft(ctx, draftID, "analyst-1")

	require.Error(t, err)
	assert.Equal(t, apierrors.KindConflict, apierrors.KindOf(err))
}

func TestExportRuleDraft_BlockedByEnforceHumanApprovalWhenAcknowledgedBySystem(t *testing.T) {
	cfg := baseConfig()
	cfg.Flags.EnforceHumanApproval = true
	mgr, mem := newManager(t, cfg)
	recID, draftID := seedRuleCandidate(t, mem, "inv-1")
	ctx := context.Background()

	_, err := mgr.AcknowledgeRecommendation(ctx, recID, audit.PerformedBySystem)
	require.NoError(t, err)

	_, err = mgr.ExportRuleDraft(ctx, draftID, "analyst-1")

	require.Error(t, err)
	assert.Equal(t, apierrors.KindForbidden, apierrors.KindOf(err))
}

func TestExportRuleDraft_PropagatesRuleExportClientConflict(t *testing.T) {
	mgr, mem, fake := newManagerWithRuleExport(t, baseConfig(), &fakeRuleExportClient{err: &ruleexport.Error{Kind: ruleexport.ErrConflict, Message: "already filed"}})
	recID, draftID := seedRuleCandidate(t, mem, "inv-1")
	ctx := context.Background()

	_, err := mgr.AcknowledgeRecommendation(ctx, recID, "analyst-1")
	require.NoError(t, err)

	_, err = mgr.ExportRuleDraft(ctx, draftID, "analyst-1")

	require.Error(t, err)
	assert.Equal(t, apierrors.KindConflict, apierrors.KindOf(err))
	assert.Equal(t, 1, fake.calls)
}

func TestGetInvestigation_AssemblesFullBundle(t *testing.T) {
	mgr, mem := newManager(t, baseConfig())
	seedRuleCandidate(t, mem, "inv-1")

	view, err := mgr.GetInvestigation(context.Background(), "inv-1")

	require.NoError(t, err)
	require.NotNil(t, view.Investigation)
	assert.Equal(t, "inv-1", view.Investigation.ID)
	require.Len(t, view.Recommendations, 1)
	require.NotNil(t, view.RuleDraft)
	assert.Equal(t, "draft-1", view.RuleDraft.ID)
}
