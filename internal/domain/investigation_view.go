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

// InvestigationView is the full read-back bundle for one investigation
// (spec §6 Exposed: `get_investigation(investigation_id) → {investigation,
// features, evidence, reasoning, recommendations, rule_draft?,
// planner_decisions[], tool_executions[], stage_durations, model_mode,
// llm_status, runtime_feature_flags, runtime_safeguards}`). It is assembled
// from the Investigation row, its latest checkpointed State, and its
// persisted Insight (once one exists).
type InvestigationView struct {
	Investigation *Investigation

	Features         *Features
	Evidence         []EvidenceItem
	Reasoning        *ReasoningResult
	Recommendations  []Recommendation
	RuleDraft        *RuleDraft
	PlannerDecisions []PlannerDecision
	ToolExecutions   []ToolExecution

	StageDurationsMs    map[string]int64
	ModelMode           string
	LLMStatus           string
	RuntimeFeatureFlags FeatureFlags
	RuntimeSafeguards   RuntimeSafeguards
}
