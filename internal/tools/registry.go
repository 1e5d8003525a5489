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

// Package tools implements the tool contract (spec §4) and the six core
// analysis tools: context, pattern, similarity, reasoning, recommendation,
// rule_draft.
package tools

import (
	"context"
	"sort"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
)

// Names of the registered tools, also used as State.ToolOutputs keys and
// as the planner's menu vocabulary.
const (
	NameContext        = "context"
	NamePattern        = "pattern"
	NameSimilarity     = "similarity"
	NameReasoning      = "reasoning"
	NameRecommendation = "recommendation"
	NameRuleDraft      = "rule_draft"
)

// Result is what a tool hands back to the executor: a status, a log
// summary, and an Apply closure that merges the tool's output into State.
// The executor is the only caller of Apply, and only on success.
type Result struct {
	Status  domain.ExecutionStatus
	Summary string
	Err     error
	Apply   func(*domain.State)
}

// Tool is the contract every analysis tool satisfies (spec §4).
type Tool interface {
	Name() string
	Description() string
	// PrerequisitesMet reports whether state currently satisfies this
	// tool's dependencies (spec §4.2 step 1).
	PrerequisitesMet(state *domain.State) bool
	Run(ctx context.Context, state *domain.State) Result
}

// Registry resolves a tool name to its executable contract (spec
// component "Tool registry").
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Menu returns the names of tools not yet successfully executed and whose
// prerequisites are currently satisfied, in a stable deterministic order
// (spec §4.2 step 1).
func (r *Registry) Menu(state *domain.State) []string {
	completed := state.CompletedTools()
	var menu []string
	for _, name := range r.order {
		if completed[name] {
			continue
		}
		if !r.tools[name].PrerequisitesMet(state) {
			continue
		}
		menu = append(menu, name)
	}
	sort.Strings(menu)
	return menu
}

// Descriptions returns a {name: description} map for prompt construction;
// as a map it has no defined iteration order.
func (r *Registry) Descriptions() map[string]string {
	out := map[string]string{}
	for name, t := range r.tools {
		out[name] = t.Description()
	}
	return out
}
