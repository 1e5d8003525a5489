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

import "time"

// AuditEvent is the append-only record emitted on every mutating
// lifecycle transition (spec §3). Individual tool executions do not emit
// one; they are recorded as ToolExecution entries in State and in the tool
// execution log.
type AuditEvent struct {
	EntityType  string
	EntityID    string
	Action      string
	PerformedBy string
	OldValue    any
	NewValue    any
	Timestamp   time.Time
}

// ExecutionStatus is the status of one Tool Execution Log entry (spec §3).
type ExecutionStatus string

const (
	ExecutionOK       ExecutionStatus = "OK"
	ExecutionFailed   ExecutionStatus = "FAILED"
	ExecutionTimeout  ExecutionStatus = "TIMEOUT"
	ExecutionFallback ExecutionStatus = "FALLBACK"
)

// ToolExecution is one append-only Tool Execution Log entry (spec §3).
type ToolExecution struct {
	InvestigationID   string
	ToolName          string
	StepNumber        int
	Status            ExecutionStatus
	InputSummary      string
	OutputSummary     string
	ExecutionTimeMs   int64
	ErrorMessage      string
}

// PlannerDecision is one ordered entry in State.PlannerDecisions (spec §3).
type PlannerDecision struct {
	StepNumber   int
	SelectedTool string
	Rationale    string
	Fallback     bool
	Timestamp    time.Time
}
