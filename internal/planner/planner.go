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

// Package planner implements the graph-driven planner node: selects the
// next tool given state and a bounded tool menu, LLM-primary with a
// deterministic fallback sequence (spec §4.2).
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/llm"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/tools"
)

// Complete is the sentinel selected-tool value meaning "stop the loop".
const Complete = "COMPLETE"

// deterministicSequence is the fallback order of spec §4.2 step 4:
// context → pattern → similarity → reasoning → recommendation → [rule_draft
// if recommendation type is rule_candidate] → COMPLETE.
var deterministicSequence = []string{
	tools.NameContext,
	tools.NamePattern,
	tools.NameSimilarity,
	tools.NameReasoning,
	tools.NameRecommendation,
	tools.NameRuleDraft,
}

// Decision is the planner's output for one step (spec §4.2 contract).
type Decision struct {
	SelectedTool string // tool name, or Complete
	Rationale    string
	Fallback     bool
}

// Planner selects the next action given State and the registered tool
// menu.
type Planner struct {
	registry      *tools.Registry
	llmClient     *llm.PlannerBreaker
	timeout       time.Duration
	logger        *zap.Logger
	consecutiveInvalid map[string]int // per-investigation validation failure streak
}

func New(registry *tools.Registry, llmClient *llm.PlannerBreaker, timeout time.Duration, logger *zap.Logger) *Planner {
	return &Planner{registry: registry, llmClient: llmClient, timeout: timeout, logger: logger, consecutiveInvalid: map[string]int{}}
}

// NextAction implements spec §4.2's algorithm end to end. maxSteps is the
// investigation's configured step cap (spec §3 Investigation.max_steps).
func (p *Planner) NextAction(ctx context.Context, state *domain.State, maxSteps int) Decision {
	menu := p.registry.Menu(state)

	// Step 2: empty menu or step cap reached → COMPLETE.
	if len(menu) == 0 || state.StepCount >= maxSteps {
		return Decision{SelectedTool: Complete, Rationale: "menu empty or step cap reached"}
	}

	breakerOpen := p.llmClient != nil && p.llmClient.Open()
	invalidStreak := p.consecutiveInvalid[state.InvestigationID]

	if p.llmClient != nil && !breakerOpen && invalidStreak < 2 {
		if decision, ok := p.tryLLM(ctx, state, menu); ok {
			p.consecutiveInvalid[state.InvestigationID] = 0
			return decision
		}
		p.consecutiveInvalid[state.InvestigationID]++
	}

	// Deterministic fallback (spec §4.2 step 4).
	return p.deterministicNext(state, menu)
}

func (p *Planner) tryLLM(ctx context.Context, state *domain.State, menu []string) (Decision, bool) {
	prompt := buildPlannerPrompt(state, menu)
	out, err := p.llmClient.Complete(ctx, prompt, menu, p.timeout)
	if err != nil {
		p.logger.Warn("planner LLM call failed", zap.Error(err))
		return Decision{}, false
	}

	if !contains(menu, out.ToolName) {
		p.logger.Warn("planner LLM selected a tool outside the menu", zap.String("tool", out.ToolName))
		return Decision{}, false
	}
	if state.CompletedTools()[out.ToolName] {
		p.logger.Warn("planner LLM selected an already-completed tool", zap.String("tool", out.ToolName))
		return Decision{}, false
	}
	if lastDecision := lastSelected(state); lastDecision == out.ToolName {
		p.logger.Warn("planner LLM repeated its last selection", zap.String("tool", out.ToolName))
		return Decision{}, false
	}

	return Decision{SelectedTool: out.ToolName, Rationale: out.Rationale}, true
}

func (p *Planner) deterministicNext(state *domain.State, menu []string) Decision {
	completed := state.CompletedTools()
	menuSet := map[string]bool{}
	for _, m := range menu {
		menuSet[m] = true
	}
	for _, name := range deterministicSequence {
		if completed[name] {
			continue
		}
		if name == tools.NameRuleDraft && !hasRuleCandidate(state) {
			continue
		}
		if !menuSet[name] {
			continue
		}
		return Decision{SelectedTool: name, Rationale: "deterministic fallback sequence", Fallback: true}
	}
	return Decision{SelectedTool: Complete, Rationale: "deterministic sequence exhausted", Fallback: true}
}

func hasRuleCandidate(state *domain.State) bool {
	for _, c := range state.RecommendationCandidates {
		if c.Type == "rule_candidate" {
			return true
		}
	}
	return false
}

func lastSelected(state *domain.State) string {
	if len(state.PlannerDecisions) == 0 {
		return ""
	}
	return state.PlannerDecisions[len(state.PlannerDecisions)-1].SelectedTool
}

func contains(menu []string, name string) bool {
	for _, m := range menu {
		if m == name {
			return true
		}
	}
	return false
}

func buildPlannerPrompt(state *domain.State, menu []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "menu: %s\n", strings.Join(menu, ", "))
	fmt.Fprintf(&b, "steps_completed: %d\n", len(state.ToolExecutions))
	fmt.Fprintf(&b, "evidence_count: %d\n", len(state.Evidence))
	if state.ReasoningResult != nil {
		fmt.Fprintf(&b, "reasoning_severity: %s\n", state.ReasoningResult.Severity)
	}
	b.WriteString("Select exactly one tool name from the menu and give a short rationale.\n")
	return b.String()
}
