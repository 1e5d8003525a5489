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
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/llm"
)

// ReasoningTool calls the reasoning LLM with a redacted prompt and a
// strict output schema, falling back to a deterministic evidence-based
// narrative on timeout, parse failure, or validation failure (spec §4.7).
type ReasoningTool struct {
	client  *llm.ReasoningBreaker
	timeout time.Duration
	logger  *zap.Logger
}

func NewReasoningTool(client *llm.ReasoningBreaker, timeout time.Duration, logger *zap.Logger) *ReasoningTool {
	return &ReasoningTool{client: client, timeout: timeout, logger: logger}
}

func (t *ReasoningTool) Name() string { return NameReasoning }
func (t *ReasoningTool) Description() string {
	return "Constrained LLM call producing a structured narrative with hypotheses, citations, severity, confidence."
}

func (t *ReasoningTool) PrerequisitesMet(state *domain.State) bool {
	completed := state.CompletedTools()
	return completed[NamePattern] && completed[NameSimilarity]
}

func (t *ReasoningTool) Run(ctx context.Context, state *domain.State) Result {
	flags := state.FeatureFlags

	if !flags.ReasoningLLMEnabled {
		result := fallbackReasoning(state, domain.LLMStatusDisabled, "")
		return Result{
			Status:  domain.ExecutionOK,
			Summary: "reasoning LLM disabled by feature flag; used deterministic fallback",
			Apply:   func(s *domain.State) { s.ReasoningResult = result },
		}
	}

	if t.client.Open() {
		result := fallbackReasoning(state, domain.LLMStatusFailed, "reasoning LLM circuit breaker open")
		return Result{
			Status:  domain.ExecutionOK,
			Summary: "reasoning LLM circuit open; used deterministic fallback",
			Apply:   func(s *domain.State) { s.ReasoningResult = result },
		}
	}

	prompt := buildReasoningPrompt(state)
	out, model, err := t.client.Complete(ctx, prompt, t.timeout)
	if err != nil {
		t.logger.Warn("reasoning LLM call failed, using fallback", zap.Error(err))
		result := fallbackReasoning(state, domain.LLMStatusFailed, err.Error())
		return Result{
			Status:  domain.ExecutionOK,
			Summary: "reasoning LLM call failed; used deterministic fallback",
			Apply:   func(s *domain.State) { s.ReasoningResult = result },
		}
	}

	result, valid, reason := validateReasoningOutput(state, out, model)
	if !valid {
		t.logger.Warn("reasoning LLM output failed validation, using fallback", zap.String("reason", reason))
		result = fallbackReasoning(state, domain.LLMStatusFallback, reason)
	}

	return Result{
		Status:  domain.ExecutionOK,
		Summary: fmt.Sprintf("reasoning tool: severity=%s confidence=%.2f llm_status=%s", result.Severity, result.Confidence, result.LLMStatus),
		Apply:   func(s *domain.State) { s.ReasoningResult = result },
	}
}

// validateReasoningOutput enforces spec §4.7: citations must reference
// Evidence actually present; severity must be consistent with cited
// evidence strengths (no HIGH without strength ≥ 0.6); confidence ∈ [0,1].
func validateReasoningOutput(state *domain.State, out llm.ReasoningOutput, model string) (*domain.ReasoningResult, bool, string) {
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, false, "confidence out of range"
	}
	severity := domain.Severity(strings.ToUpper(out.Severity))
	switch severity {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
	default:
		return nil, false, "unrecognized severity value"
	}
	if len(out.Hypotheses) < 2 || len(out.Hypotheses) > 4 {
		return nil, false, "hypothesis count out of bounds"
	}

	evidenceIDs := map[string]bool{}
	strengthByID := map[string]float64{}
	for _, e := range state.Evidence {
		evidenceIDs[e.ID] = true
		strengthByID[e.ID] = e.Strength
	}

	maxCitedStrength := 0.0
	hyps := make([]domain.Hypothesis, 0, len(out.Hypotheses))
	for _, h := range out.Hypotheses {
		for _, ref := range h.SupportingEvidenceRefs {
			if !evidenceIDs[ref] {
				return nil, false, "citation references unknown evidence id"
			}
			if strengthByID[ref] > maxCitedStrength {
				maxCitedStrength = strengthByID[ref]
			}
		}
		for _, ref := range h.CounterEvidenceRefs {
			if !evidenceIDs[ref] {
				return nil, false, "citation references unknown evidence id"
			}
		}
		hyps = append(hyps, domain.Hypothesis{
			Label:                  h.Label,
			Confidence:             h.Confidence,
			SupportingEvidenceRefs: h.SupportingEvidenceRefs,
			CounterEvidenceRefs:    h.CounterEvidenceRefs,
		})
	}
	if severity == domain.SeverityHigh && maxCitedStrength < 0.6 {
		return nil, false, "severity HIGH without any cited evidence strength >= 0.6"
	}

	return &domain.ReasoningResult{
		Severity:              severity,
		Confidence:            out.Confidence,
		Narrative:             out.Narrative,
		KnownFacts:            out.KnownFacts,
		Unknowns:              out.Unknowns,
		Hypotheses:            hyps,
		WhatWouldChangeMyMind: out.WhatWouldChangeMyMind,
		ModelMode:             "agentic",
		LLMStatus:             domain.LLMStatusSuccess,
		LLMModel:              model,
	}, true, ""
}

// fallbackReasoning derives severity from thresholds on the strongest
// evidence item's strength, lowered by a damping term when counter-evidence
// weighs against the supporting evidence, and synthesizes a narrative from
// the top evidence items (spec
// §4.7). model_mode is still "agentic" whenever reasoning LLM was enabled,
// regardless of whether this particular call fell back.
func fallbackReasoning(state *domain.State, status domain.LLMStatus, llmError string) *domain.ReasoningResult {
	modelMode := "deterministic"
	if state.FeatureFlags.ReasoningLLMEnabled {
		modelMode = "agentic"
	}

	items := append([]domain.EvidenceItem(nil), state.Evidence...)
	domain.SortEvidence(items)

	var supportSum, counterSum float64
	for _, e := range state.Evidence {
		if e.Kind == domain.EvidenceKindCounterEvidence {
			counterSum += -e.Strength
		} else {
			supportSum += e.Strength
		}
	}

	severity := severityFromStrength(topStrength(items) - dampingFromCounterEvidence(counterSum, supportSum))

	topDescriptions := make([]string, 0, 3)
	for i, e := range items {
		if i >= 3 {
			break
		}
		if e.Kind == domain.EvidenceKindCounterEvidence {
			continue
		}
		topDescriptions = append(topDescriptions, e.Description)
	}
	narrative := "Deterministic evidence-based assessment."
	if len(topDescriptions) > 0 {
		narrative = fmt.Sprintf("Deterministic evidence-based assessment. Leading signals: %s.", strings.Join(topDescriptions, "; "))
	}

	confidence := 0.4
	if len(items) > 0 {
		confidence = clamp(topStrength(items), 0.2, 0.8)
	}

	return &domain.ReasoningResult{
		Severity:              severity,
		Confidence:            confidence,
		Narrative:             narrative,
		KnownFacts:            knownFactsFromFeatures(state.Features),
		Unknowns:              []string{"LLM-derived narrative unavailable for this step"},
		Hypotheses:            fallbackHypotheses(items),
		WhatWouldChangeMyMind: []string{"additional corroborating evidence", "analyst disposition on related case"},
		ModelMode:             modelMode,
		LLMStatus:             status,
		LLMError:              llmError,
	}
}

func topStrength(sorted []domain.EvidenceItem) float64 {
	for _, e := range sorted {
		if e.Kind != domain.EvidenceKindCounterEvidence {
			return e.Strength
		}
	}
	return 0
}

func dampingFromCounterEvidence(counterSum, supportSum float64) float64 {
	if counterSum > supportSum && supportSum >= 0 {
		return 0.3
	}
	return 0
}

// severityFromStrength is the one coherent threshold mapping chosen to
// resolve spec §9's open question about the severity-from-evidence table:
// >=0.85 CRITICAL, >=0.6 HIGH, >=0.35 MEDIUM, else LOW. See DESIGN.md.
func severityFromStrength(strength float64) domain.Severity {
	switch {
	case strength >= 0.85:
		return domain.SeverityCritical
	case strength >= 0.6:
		return domain.SeverityHigh
	case strength >= 0.35:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func fallbackHypotheses(items []domain.EvidenceItem) []domain.Hypothesis {
	var refs []string
	for _, e := range items {
		if e.Kind != domain.EvidenceKindCounterEvidence {
			refs = append(refs, e.ID)
		}
		if len(refs) >= 3 {
			break
		}
	}
	var counterRefs []string
	for _, e := range items {
		if e.Kind == domain.EvidenceKindCounterEvidence {
			counterRefs = append(counterRefs, e.ID)
		}
	}
	return []domain.Hypothesis{
		{
			Label:                  "Evidence pattern is consistent with fraudulent activity",
			Confidence:             clamp(topStrength(items), 0.1, 0.9),
			SupportingEvidenceRefs: refs,
			CounterEvidenceRefs:    counterRefs,
		},
		{
			Label:                  "Transaction reflects legitimate account activity",
			Confidence:             clamp(1-topStrength(items), 0.1, 0.9),
			SupportingEvidenceRefs: counterRefs,
			CounterEvidenceRefs:    refs,
		},
	}
}

func knownFactsFromFeatures(f *domain.Features) []string {
	if f == nil {
		return nil
	}
	return []string{
		fmt.Sprintf("amount=%.2f %s", f.Amount, f.Currency),
		fmt.Sprintf("mcc=%s decision=%s", f.MCC, f.Decision),
		fmt.Sprintf("card_txn_count_1h=%d", f.CardTxnCount(domain.Window1h)),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// buildReasoningPrompt strips card PAN, personal names, addresses, phone,
// email, and IP, retaining stable pseudonymous identifiers (spec §4.7).
func buildReasoningPrompt(state *domain.State) string {
	f := state.Features
	var b strings.Builder
	fmt.Fprintf(&b, "narrative_version=%s conflict_matrix_enabled=%v\n", state.FeatureFlags.NarrativeVersion, state.FeatureFlags.ConflictMatrixEnabled)
	fmt.Fprintf(&b, "transaction amount=%.2f currency=%s mcc=%s decision=%s\n", f.Amount, f.Currency, f.MCC, f.Decision)
	fmt.Fprintf(&b, "card=%s merchant=%s device_fingerprint=%s\n", redact(f.CardID), redact(f.MerchantID), f.DeviceFingerprintHash)

	sorted := append([]domain.EvidenceItem(nil), state.Evidence...)
	domain.SortEvidence(sorted)
	b.WriteString("evidence:\n")
	for _, e := range sorted {
		fmt.Fprintf(&b, "- id=%s kind=%s category=%s strength=%.2f description=%q\n", e.ID, e.Kind, e.Category, e.Strength, e.Description)
	}
	b.WriteString("Return severity, confidence, narrative, known_facts, unknowns, 2-4 hypotheses citing evidence ids, and what_would_change_my_mind.\n")
	return b.String()
}

func redact(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
