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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/upstream"
)

func featuresWithCardWindows(windows map[domain.WindowKey]domain.WindowStats) *domain.Features {
	return &domain.Features{
		TransactionID: "txn-1",
		CardID:        "card-1",
		MerchantID:    "merchant-1",
		Timestamp:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		CardWindows:   windows,
	}
}

func TestPatternTool_VelocityBurstHighThreshold(t *testing.T) {
	f := featuresWithCardWindows(map[domain.WindowKey]domain.WindowStats{
		domain.Window1h: {TxnCount: 11},
	})
	tool := NewPatternTool(&fakeUpstream{})
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
	state.Features = f

	result := tool.Run(context.Background(), state)
	require.Equal(t, domain.ExecutionOK, result.Status)
	result.Apply(state)

	require.Len(t, state.Evidence, 1)
	assert.Equal(t, domain.CategoryVelocityBurst, state.Evidence[0].Category)
	assert.Equal(t, 0.9, state.Evidence[0].Strength)
}

func TestPatternTool_VelocityBurstLowerThreshold(t *testing.T) {
	f := featuresWithCardWindows(map[domain.WindowKey]domain.WindowStats{
		domain.Window1h: {TxnCount: 6},
	})
	tool := NewPatternTool(&fakeUpstream{})
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
	state.Features = f

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	require.Len(t, state.Evidence, 1)
	assert.Equal(t, 0.7, state.Evidence[0].Strength)
}

func TestPatternTool_NoVelocityEvidenceBelowThreshold(t *testing.T) {
	f := featuresWithCardWindows(map[domain.WindowKey]domain.WindowStats{
		domain.Window1h: {TxnCount: 3},
	})
	tool := NewPatternTool(&fakeUpstream{})
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
	state.Features = f

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	assert.Empty(t, state.Evidence)
}

func TestPatternTool_CrossMerchantSpreadAndHighDeclineRatio(t *testing.T) {
	f := featuresWithCardWindows(map[domain.WindowKey]domain.WindowStats{
		domain.Window24h: {DistinctMerchants: 11},
		domain.Window1h:  {DeclineRate: 0.6},
	})
	tool := NewPatternTool(&fakeUpstream{})
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
	state.Features = f

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	categories := map[string]bool{}
	for _, e := range state.Evidence {
		categories[e.Category] = true
	}
	assert.True(t, categories[domain.CategoryCrossMerchantSpread])
	assert.True(t, categories[domain.CategoryHighDeclineRatio])
}

func TestPatternTool_AmountOutlierBeyondThreeSigma(t *testing.T) {
	f := featuresWithCardWindows(map[domain.WindowKey]domain.WindowStats{
		domain.Window30d: {AmountZScore: 3.5},
	})
	tool := NewPatternTool(&fakeUpstream{})
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
	state.Features = f

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	require.Len(t, state.Evidence, 1)
	assert.Equal(t, domain.CategoryAmountOutlier, state.Evidence[0].Category)
}

func declinedTxn(id string, amount float64, ts time.Time) upstream.HistoricalTransaction {
	return upstream.HistoricalTransaction{
		TransactionOverview: upstream.TransactionOverview{
			TransactionID: id,
			Amount:        amount,
			Decision:      "declined",
			CardID:        "card-1",
			Timestamp:     ts,
		},
	}
}

func TestPatternTool_CardTestingLadder_SortsChronologicallyAndChecksMonotonicity(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	// Deliberately handed out of chronological order.
	up := &fakeUpstream{cardHistory: []upstream.HistoricalTransaction{
		declinedTxn("d3", 5, anchor.Add(-10*time.Minute)),
		declinedTxn("d1", 1, anchor.Add(-30*time.Minute)),
		declinedTxn("d2", 3, anchor.Add(-20*time.Minute)),
	}}
	f := featuresWithCardWindows(nil)
	tool := NewPatternTool(up)
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
	state.Features = f

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	var ladder *domain.EvidenceItem
	for i := range state.Evidence {
		if state.Evidence[i].Category == domain.CategoryCardTestingLadder {
			ladder = &state.Evidence[i]
		}
	}
	require.NotNil(t, ladder, "monotonically non-decreasing declined amounts starting at/under 5 must trigger the ladder evidence")
	assert.Equal(t, []string{"d1", "d2", "d3"}, ladder.RelatedTransactionIDs)
}

func TestPatternTool_CardTestingLadder_NotTriggeredWhenAmountsDecrease(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	up := &fakeUpstream{cardHistory: []upstream.HistoricalTransaction{
		declinedTxn("d1", 5, anchor.Add(-30*time.Minute)),
		declinedTxn("d2", 3, anchor.Add(-20*time.Minute)),
		declinedTxn("d3", 1, anchor.Add(-10*time.Minute)),
	}}
	f := featuresWithCardWindows(nil)
	tool := NewPatternTool(up)
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
	state.Features = f

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	for _, e := range state.Evidence {
		assert.NotEqual(t, domain.CategoryCardTestingLadder, e.Category)
	}
}

func TestPatternTool_CardTestingLadder_NotTriggeredWhenFewerThanThreeDeclines(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	up := &fakeUpstream{cardHistory: []upstream.HistoricalTransaction{
		declinedTxn("d1", 1, anchor.Add(-30*time.Minute)),
		declinedTxn("d2", 2, anchor.Add(-20*time.Minute)),
	}}
	f := featuresWithCardWindows(nil)
	tool := NewPatternTool(up)
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
	state.Features = f

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	assert.Empty(t, state.Evidence)
}

func TestPatternTool_EvidenceIsSortedByStrengthDescending(t *testing.T) {
	f := featuresWithCardWindows(map[domain.WindowKey]domain.WindowStats{
		domain.Window1h:  {TxnCount: 6, DeclineRate: 0.9},
		domain.Window24h: {DistinctMerchants: 11},
	})
	tool := NewPatternTool(&fakeUpstream{})
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
	state.Features = f

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	for i := 1; i < len(state.Evidence); i++ {
		assert.GreaterOrEqual(t, state.Evidence[i-1].Strength, state.Evidence[i].Strength)
	}
}

func TestPatternTool_PrerequisitesRequireFeatures(t *testing.T) {
	tool := NewPatternTool(&fakeUpstream{})
	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{})
	assert.False(t, tool.PrerequisitesMet(state))
	state.Features = featuresWithCardWindows(nil)
	assert.True(t, tool.PrerequisitesMet(state))
}
