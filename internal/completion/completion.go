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

// Package completion implements the completion node: finalizes one
// investigation run into a single persisted Insight plus its
// Recommendations and optional Rule Draft (spec §4.10).
package completion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/apierrors"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/store"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/telemetry"
)

// Node finalizes an investigation. It is invoked exactly once per run, by
// the lifecycle manager, whenever the planner returns COMPLETE or the run
// deadline is reached (spec §4.10, §5).
type Node struct {
	store   store.StateStore
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

func New(st store.StateStore, metrics *telemetry.Metrics, logger *zap.Logger) *Node {
	return &Node{store: st, metrics: metrics, logger: logger}
}

// Finalize computes the dominant severity/confidence, persists exactly one
// Insight with its Recommendations and optional Rule Draft, and marks the
// investigation COMPLETED. partial indicates the run was forced to
// completion by the run deadline rather than reaching planner COMPLETE
// (spec §5, §9 "Supplemented features").
func (n *Node) Finalize(ctx context.Context, inv *domain.Investigation, state *domain.State, partial bool) error {
	insight := n.buildInsight(inv, state)
	insight.InvestigationID = inv.ID

	if err := n.validateBeforePersist(state, insight); err != nil {
		inv.Status = domain.StatusFailed
		inv.ErrorSummary = err.Error()
		n.logger.Error("completion validation failed", zap.Error(err), zap.String("investigation_id", inv.ID))
		if n.metrics != nil {
			n.metrics.InvestigationsTotal.WithLabelValues(string(domain.StatusFailed), inv.ModelMode).Inc()
		}
		return err
	}

	inv.FinalSeverity = insight.Severity
	inv.FinalConfidence = insight.ConfidenceScore
	inv.Partial = partial
	inv.Status = domain.StatusCompleted
	now := time.Now().UTC()
	inv.CompletedAt = &now
	inv.DurationMs = now.Sub(inv.StartedAt).Milliseconds()

	if err := n.persistWithRetry(ctx, inv, state, insight); err != nil {
		inv.Status = domain.StatusFailed
		inv.ErrorSummary = err.Error()
		n.logger.Error("completion persist failed after retry", zap.Error(err), zap.String("investigation_id", inv.ID))
		if n.metrics != nil {
			n.metrics.InvestigationsTotal.WithLabelValues(string(domain.StatusFailed), inv.ModelMode).Inc()
		}
		return err
	}

	if n.metrics != nil {
		n.metrics.InvestigationsTotal.WithLabelValues(string(domain.StatusCompleted), inv.ModelMode).Inc()
	}
	n.logger.Info("investigation completed",
		zap.String("investigation_id", inv.ID),
		zap.String("severity", string(insight.Severity)),
		zap.Float64("confidence", insight.ConfidenceScore),
		zap.Bool("partial", partial),
	)
	return nil
}

// validateBeforePersist runs struct-tag validation over every record about
// to be persisted (spec §4.10: "Struct-tag validation of Features/
// Evidence/Reasoning/Recommendation records before persistence").
func (n *Node) validateBeforePersist(state *domain.State, insight *domain.Insight) error {
	if state.Features != nil {
		if err := domain.Validate(state.Features); err != nil {
			return apierrors.Wrapf(apierrors.KindValidation, err, "completion: invalid features")
		}
	}
	for i := range insight.Evidence {
		if err := domain.Validate(insight.Evidence[i]); err != nil {
			return apierrors.Wrapf(apierrors.KindValidation, err, "completion: invalid evidence item %d", i)
		}
	}
	if state.ReasoningResult != nil {
		if err := domain.Validate(*state.ReasoningResult); err != nil {
			return apierrors.Wrapf(apierrors.KindValidation, err, "completion: invalid reasoning result")
		}
	}
	for i := range insight.Recommendations {
		if err := domain.Validate(insight.Recommendations[i].Candidate); err != nil {
			return apierrors.Wrapf(apierrors.KindValidation, err, "completion: invalid recommendation %d", i)
		}
	}
	return nil
}

// persistWithRetry retries the persist step exactly once on failure (spec
// §4.10: "on persistence failure, retries once before marking FAILED").
func (n *Node) persistWithRetry(ctx context.Context, inv *domain.Investigation, state *domain.State, insight *domain.Insight) error {
	err := n.store.PersistCompletion(ctx, inv, state, insight)
	if err == nil {
		return nil
	}
	n.logger.Warn("completion persist failed, retrying once", zap.Error(err))
	return n.store.PersistCompletion(ctx, inv, state, insight)
}

func (n *Node) buildInsight(inv *domain.Investigation, state *domain.State) *domain.Insight {
	severity := domain.SeverityLow
	confidence := 0.0
	narrative := "No reasoning result produced; investigation completed on empty evidence."
	modelMode := "deterministic"
	llmStatus := "skipped"

	if state.ReasoningResult != nil {
		severity = state.ReasoningResult.Severity
		confidence = state.ReasoningResult.Confidence
		narrative = state.ReasoningResult.Narrative
		modelMode = state.ReasoningResult.ModelMode
		llmStatus = string(state.ReasoningResult.LLMStatus)
	}
	inv.ModelMode = modelMode
	inv.LLMStatus = llmStatus
	if state.ReasoningResult != nil {
		inv.LLMModel = state.ReasoningResult.LLMModel
		inv.LLMError = state.ReasoningResult.LLMError
	}

	var txnTimestamp time.Time
	if state.Features != nil {
		txnTimestamp = state.Features.Timestamp
	}

	insightID := uuid.NewString()

	insight := &domain.Insight{
		ID:                   insightID,
		TransactionID:        state.TransactionID,
		EvaluationType:       domain.EvaluationTypeFraudInvestigation,
		InsightType:          domain.InsightTypeTransactionRisk,
		ModelMode:            modelMode,
		TransactionTimestamp: txnTimestamp,
		Severity:             severity,
		Summary:              narrative,
		ConfidenceScore:      confidence,
		GeneratedAt:          time.Now().UTC(),
	}
	insight.IdempotencyKey = idempotencyKey(insight)

	insight.Evidence = append([]domain.EvidenceItem(nil), state.Evidence...)
	domain.SortEvidence(insight.Evidence)

	insight.Recommendations = buildRecommendations(insightID, state.RecommendationCandidates)

	if state.RuleDraftCandidate != nil {
		recID := ""
		for _, r := range insight.Recommendations {
			if r.Candidate.Type == domain.RecommendationRuleCandidate {
				recID = r.ID
				break
			}
		}
		insight.RuleDraft = &domain.RuleDraft{
			ID:               uuid.NewString(),
			RecommendationID: recID,
			Candidate:        *state.RuleDraftCandidate,
			Status:           domain.RuleDraftNotExported,
		}
	}

	return insight
}

func buildRecommendations(insightID string, candidates []domain.RecommendationCandidate) []domain.Recommendation {
	recs := make([]domain.Recommendation, 0, len(candidates))
	for _, c := range candidates {
		rec := domain.Recommendation{
			ID:        uuid.NewString(),
			InsightID: insightID,
			Candidate: c,
			Status:    domain.RecommendationOpen,
		}
		rec.IdempotencyKey = fmt.Sprintf("%s:%s", insightID, c.ContentIdempotencyKey)
		recs = append(recs, rec)
	}
	return recs
}

// idempotencyKey implements spec §3 invariant d: a pure function of
// (transaction_id, evaluation_type, transaction_timestamp, insight_type,
// model_mode) so a replayed run upserts instead of duplicating.
func idempotencyKey(insight *domain.Insight) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		insight.TransactionID,
		insight.EvaluationType,
		insight.TransactionTimestamp.UTC().Format(time.RFC3339Nano),
		insight.InsightType,
		insight.ModelMode,
	)
	return hex.EncodeToString(h.Sum(nil))
}
