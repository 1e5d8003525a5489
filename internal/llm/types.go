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

// Package llm wraps the Reasoning LLM and Planner LLM contracts (spec §6)
// behind schema-constrained clients, each with its own circuit breaker
// (spec §5 "enforce circuit-breaker behavior on sustained failures").
// Both clients are backed by github.com/anthropics/anthropic-sdk-go using
// tool-forced structured output; a deterministic fallback always exists
// one layer up in internal/tools so callers never branch on "LLM or not"
// (spec §9).
package llm

import (
	"context"
	"time"
)

// ReasoningOutput is the schema-constrained shape the reasoning LLM must
// return (spec §4.7).
type ReasoningOutput struct {
	Severity   string              `json:"severity"`
	Confidence float64             `json:"confidence"`
	Narrative  string              `json:"narrative"`
	KnownFacts []string            `json:"known_facts"`
	Unknowns   []string            `json:"unknowns"`
	Hypotheses []HypothesisOutput  `json:"hypotheses"`
	WhatWouldChangeMyMind []string `json:"what_would_change_my_mind"`
}

type HypothesisOutput struct {
	Label                  string   `json:"label"`
	Confidence             float64  `json:"confidence"`
	SupportingEvidenceRefs []string `json:"supporting_evidence_refs"`
	CounterEvidenceRefs    []string `json:"counter_evidence_refs"`
}

// ReasoningClient is the reasoning LLM contract: complete(prompt, schema,
// timeout) → structured_output (spec §6).
type ReasoningClient interface {
	Complete(ctx context.Context, prompt string, timeout time.Duration) (ReasoningOutput, string, error)
	ModelName() string
}

// PlannerOutput is the schema-constrained shape the planner LLM must
// return (spec §4.2): exactly one tool name from the menu plus a short
// rationale.
type PlannerOutput struct {
	ToolName  string `json:"tool_name"`
	Rationale string `json:"rationale"`
}

// PlannerClient is the planner LLM contract: complete(prompt, menu,
// timeout) → {tool_name, rationale} (spec §6).
type PlannerClient interface {
	Complete(ctx context.Context, prompt string, menu []string, timeout time.Duration) (PlannerOutput, error)
}
