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

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/embedding"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/upstream"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/vectorstore"
)

type fakeEmbeddingProvider struct {
	result embedding.Result
	err    error
}

func (f *fakeEmbeddingProvider) Embed(ctx context.Context, text string) (embedding.Result, error) {
	return f.result, f.err
}

func similarityFeatures() *domain.Features {
	return &domain.Features{
		TransactionID: "txn-1",
		CardID:        "card-1",
		MerchantID:    "merchant-1",
		Amount:        100,
		Timestamp:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		CardWindows:   map[domain.WindowKey]domain.WindowStats{},
	}
}

func newSimilarityTool(t *testing.T, provider embedding.Provider, store vectorstore.Store, up upstream.Client) *SimilarityTool {
	t.Helper()
	embedder := embedding.NewClient(provider, time.Second, zap.NewNop())
	return NewSimilarityTool(embedder, store, up, 5, 0.5, zap.NewNop())
}

func TestSimilarityTool_VectorDisabledUsesSQLFallback(t *testing.T) {
	up := &fakeUpstream{cardHistory: []upstream.HistoricalTransaction{}}
	store := vectorstore.NewMemoryStore()
	tool := newSimilarityTool(t, &fakeEmbeddingProvider{}, store, up)

	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{VectorEnabled: false})
	state.Features = similarityFeatures()

	result := tool.Run(context.Background(), state)
	require.Equal(t, domain.ExecutionOK, result.Status)
	result.Apply(state)

	assert.Equal(t, true, state.ToolOutputs[NameSimilarity].Data["used_fallback"])
	assert.Equal(t, "vector_disabled", state.ToolOutputs[NameSimilarity].Data["fallback_reason"])
}

func TestSimilarityTool_EmbeddingFailureFallsBackToSQLHeuristic(t *testing.T) {
	up := &fakeUpstream{cardHistory: []upstream.HistoricalTransaction{
		{TransactionOverview: upstream.TransactionOverview{TransactionID: "h1", Amount: 100, CardID: "card-1", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}},
	}}
	store := vectorstore.NewMemoryStore()
	provider := &fakeEmbeddingProvider{err: errors.New("embedding service down")}
	tool := newSimilarityTool(t, provider, store, up)

	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{VectorEnabled: true})
	state.Features = similarityFeatures()

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	assert.Equal(t, true, state.ToolOutputs[NameSimilarity].Data["used_fallback"])
	assert.Equal(t, "embedding_or_similarity_failed", state.ToolOutputs[NameSimilarity].Data["fallback_reason"])
	require.Len(t, state.Evidence, 1)
	assert.Equal(t, "historical_match", state.Evidence[0].Category)
}

func TestSimilarityTool_VectorMatchesProduceEvidenceAndCounterEvidence(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	matchTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	matchVector := make([]float32, embedding.VectorDimension)
	matchVector[0] = 1
	store.UpsertWithOutcome("h1", "card-1", matchVector, upstream.OutcomeSignals{ThreeDSSuccess: true}, matchTime)
	provider := &fakeEmbeddingProvider{result: embedding.Result{Vector: make([]float32, embedding.VectorDimension), ModelName: "test-model"}}
	provider.result.Vector[0] = 1

	up := &fakeUpstream{}
	tool := newSimilarityTool(t, provider, store, up)

	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{VectorEnabled: true})
	state.Features = similarityFeatures()

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	var sawMatch, sawCounter bool
	for _, e := range state.Evidence {
		if e.Kind == domain.EvidenceKindSimilarity {
			sawMatch = true
		}
		if e.Kind == domain.EvidenceKindCounterEvidence && e.Category == "trusted_signal" {
			sawCounter = true
		}
	}
	assert.True(t, sawMatch, "a same-card 3DS-success match must produce a similarity evidence item")
	assert.True(t, sawCounter, "a same-card 3DS-success match must also emit counter-evidence per spec §4.6 step 4")
}

func TestSimilarityTool_VectorEnabledZeroMatchesEmitsEvidenceGapMarker(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	provider := &fakeEmbeddingProvider{result: embedding.Result{Vector: make([]float32, embedding.VectorDimension), ModelName: "test-model"}}
	up := &fakeUpstream{cardHistory: []upstream.HistoricalTransaction{}}
	tool := newSimilarityTool(t, provider, store, up)

	state := domain.NewState("inv-1", "txn-1", domain.FeatureFlags{VectorEnabled: true})
	state.Features = similarityFeatures()

	result := tool.Run(context.Background(), state)
	result.Apply(state)

	var sawGap bool
	for _, e := range state.Evidence {
		if e.Category == domain.CategoryEvidenceGap {
			sawGap = true
		}
	}
	assert.True(t, sawGap, "vector stage executing with zero matches must leave an explicit evidence-gap marker")
}

func TestFreshnessWeight_DecaysWithAgeAndFloorsAtZeroAge(t *testing.T) {
	fresh := freshnessWeight("historical_match", 0)
	assert.Equal(t, 1.0, fresh)

	decayed := freshnessWeight("historical_match", 60*24*time.Hour)
	assert.Less(t, decayed, 1.0)
	assert.Greater(t, decayed, 0.0)

	negativeAgeClamped := freshnessWeight("historical_match", -time.Hour)
	assert.Equal(t, 1.0, negativeAgeClamped)
}

func TestFreshnessWeight_UnknownCategoryUsesDefaultTau(t *testing.T) {
	known := freshnessWeight("historical_match", 30*24*time.Hour)
	unknown := freshnessWeight("some_other_category", 30*24*time.Hour)
	assert.Equal(t, known, unknown)
}
