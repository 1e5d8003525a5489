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

package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/apierrors"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/upstream"
)

// fakeUpstream implements upstream.Client with canned, field-settable
// responses; each method fails when its corresponding err field is set.
type fakeUpstream struct {
	overview    *upstream.TransactionOverview
	overviewErr error

	cardHistory     []upstream.HistoricalTransaction
	merchantHistory []upstream.HistoricalTransaction
	historyErr      error

	ruleMatchesErr error
	reviewsErr     error
	notesErr       error
	caseErr        error
}

func (f *fakeUpstream) GetTransactionOverview(ctx context.Context, transactionID string) (*upstream.TransactionOverview, error) {
	return f.overview, f.overviewErr
}

func (f *fakeUpstream) QueryTransactions(ctx context.Context, cardID, merchantID, ip, deviceID string, window upstream.QueryWindow) ([]upstream.HistoricalTransaction, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if cardID != "" {
		return f.cardHistory, nil
	}
	if merchantID != "" {
		return f.merchantHistory, nil
	}
	return nil, nil
}

func (f *fakeUpstream) GetRuleMatches(ctx context.Context, transactionID string) ([]upstream.RuleMatch, error) {
	return nil, f.ruleMatchesErr
}

func (f *fakeUpstream) GetReviews(ctx context.Context, transactionID string) ([]upstream.Review, error) {
	return nil, f.reviewsErr
}

func (f *fakeUpstream) GetNotes(ctx context.Context, transactionID string) ([]upstream.Note, error) {
	return nil, f.notesErr
}

func (f *fakeUpstream) GetCase(ctx context.Context, transactionID string) (*upstream.Case, error) {
	return nil, f.caseErr
}

func (f *fakeUpstream) GetHealth(ctx context.Context) (*upstream.HealthStatus, error) {
	return &upstream.HealthStatus{Healthy: true}, nil
}

func baseOverview() *upstream.TransactionOverview {
	return &upstream.TransactionOverview{
		TransactionID: "txn-1",
		Amount:        100,
		Currency:      "USD",
		Decision:      "approved",
		Timestamp:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		MCC:           "5411",
		CardID:        "card-1",
		MerchantID:    "merchant-1",
	}
}

func TestContextTool_OverviewFailureFailsTheTool(t *testing.T) {
	up := &fakeUpstream{overviewErr: errors.New("upstream down")}
	tool := NewContextTool(up, zap.NewNop())
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})

	result := tool.Run(context.Background(), state)

	assert.Equal(t, domain.ExecutionFailed, result.Status)
	assert.Equal(t, apierrors.KindDependencyFailure, apierrors.KindOf(result.Err))
}

func TestContextTool_SubFetchFailuresAreCollectedNotPropagated(t *testing.T) {
	up := &fakeUpstream{
		overview:       baseOverview(),
		ruleMatchesErr: errors.New("rule engine unreachable"),
		reviewsErr:     errors.New("reviews unreachable"),
	}
	tool := NewContextTool(up, zap.NewNop())
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})

	result := tool.Run(context.Background(), state)

	require.Equal(t, domain.ExecutionOK, result.Status)
	result.Apply(state)
	require.NotNil(t, state.Features)
	assert.Len(t, state.Features.PartialFailures, 2)
}

func TestContextTool_ComputesWindowsFromCardAndMerchantHistory(t *testing.T) {
	overview := baseOverview()
	up := &fakeUpstream{
		overview: overview,
		cardHistory: []upstream.HistoricalTransaction{
			{TransactionOverview: upstream.TransactionOverview{TransactionID: "h1", Amount: 50, Decision: "declined", CardID: "card-1", MerchantID: "merchant-2", Timestamp: overview.Timestamp.Add(-10 * time.Minute)}},
			{TransactionOverview: upstream.TransactionOverview{TransactionID: "h2", Amount: 60, Decision: "approved", CardID: "card-1", MerchantID: "merchant-3", Timestamp: overview.Timestamp.Add(-20 * time.Minute)}},
		},
	}
	tool := NewContextTool(up, zap.NewNop())
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})

	result := tool.Run(context.Background(), state)
	require.Equal(t, domain.ExecutionOK, result.Status)
	result.Apply(state)

	windows := state.Features.CardWindows[domain.Window1h]
	assert.Equal(t, 2, windows.TxnCount)
	assert.Equal(t, 2, windows.DistinctMerchants)
	assert.InDelta(t, 0.5, windows.DeclineRate, 0.0001)
}

func TestComputeWindows_ExcludesHistoryAfterAnchor(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	history := []upstream.HistoricalTransaction{
		{TransactionOverview: upstream.TransactionOverview{Amount: 10, Timestamp: anchor.Add(time.Minute)}},
		{TransactionOverview: upstream.TransactionOverview{Amount: 20, Timestamp: anchor.Add(-time.Minute)}},
	}

	windows := computeWindows(history, anchor, 15)

	assert.Equal(t, 1, windows[domain.Window1h].TxnCount)
}

func TestZscore_ReturnsZeroBelowMinimumSampleSize(t *testing.T) {
	assert.Equal(t, 0.0, zscore(100, []float64{10, 20}))
}

func TestZscore_ReturnsZeroWhenStddevIsZero(t *testing.T) {
	assert.Equal(t, 0.0, zscore(100, []float64{10, 10, 10}))
}

func TestZscore_ComputesStandardDeviationsFromMean(t *testing.T) {
	z := zscore(130, []float64{100, 110, 120, 100, 110, 120})
	assert.Greater(t, z, 1.0)
}
