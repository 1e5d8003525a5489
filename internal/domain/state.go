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

package domain

// State is the versioned working memory of one investigation loop (spec
// §3). It is persisted as an opaque blob keyed by investigation_id plus a
// monotonically increasing version, written after every step and read on
// resume.
type State struct {
	InvestigationID string `json:"investigation_id"`
	Version         int    `json:"version"`
	TransactionID   string `json:"transaction_id"`

	Features *Features `json:"features,omitempty"`

	// ToolOutputs holds each tool's raw output keyed by tool name, so a
	// resumed run can see exactly what a prior step produced without
	// re-running it.
	ToolOutputs map[string]ToolOutput `json:"tool_outputs,omitempty"`

	Evidence []EvidenceItem `json:"evidence,omitempty"`

	PlannerDecisions []PlannerDecision `json:"planner_decisions,omitempty"`
	ToolExecutions   []ToolExecution   `json:"tool_executions,omitempty"`

	ReasoningResult          *ReasoningResult          `json:"reasoning_result,omitempty"`
	RecommendationCandidates []RecommendationCandidate `json:"recommendation_candidates,omitempty"`
	RuleDraftCandidate       *RuleDraftCandidate        `json:"rule_draft_candidate,omitempty"`

	FeatureFlags FeatureFlags `json:"feature_flags"`

	StepCount int `json:"step_count"`
}

// ToolOutput is the generic envelope every tool returns; Data is
// tool-specific and re-hydrated by the consuming tool via its own typed
// accessor (SimilarityOutput, PatternOutput, ...).
type ToolOutput struct {
	ToolName string         `json:"tool_name"`
	Status   ExecutionStatus `json:"status"`
	Data     map[string]any `json:"data,omitempty"`
}

// NewState builds the version-1 State for a freshly started investigation.
func NewState(investigationID, transactionID string, flags FeatureFlags) *State {
	return &State{
		InvestigationID: investigationID,
		Version:         1,
		TransactionID:   transactionID,
		ToolOutputs:     map[string]ToolOutput{},
		FeatureFlags:    flags,
	}
}

// CompletedTools returns the set of tool names that have a successful
// (OK) execution recorded, used by the planner to compute the valid menu,
// so a tool that already succeeded (also before a resume) is not offered
// again (spec §4.1, §4.2).
func (s *State) CompletedTools() map[string]bool {
	out := map[string]bool{}
	for _, te := range s.ToolExecutions {
		if te.Status == ExecutionOK {
			out[te.ToolName] = true
		}
	}
	return out
}

// NextStepNumber returns the step number the next tool execution should
// use, keeping the log contiguous from 1 (spec §8 item 1).
func (s *State) NextStepNumber() int {
	return len(s.ToolExecutions) + 1
}

// AppendEvidence appends rather than replaces — evidence lists only ever
// grow within a run (spec §4.3).
func (s *State) AppendEvidence(items ...EvidenceItem) {
	s.Evidence = append(s.Evidence, items...)
}

// EvidenceByKind filters the accumulated evidence by kind.
func (s *State) EvidenceByKind(kind EvidenceKind) []EvidenceItem {
	var out []EvidenceItem
	for _, e := range s.Evidence {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
