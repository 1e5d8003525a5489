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

// Package ruleexport defines the Rule Export client contract (spec §6
// Consumed: "export(draft) → {export_ref}. Errors: Conflict,
// DependencyFailure. Used only on explicit analyst action."). The core
// calls this only from the lifecycle manager's ExportRuleDraft operation,
// never automatically.
package ruleexport

import "context"

// Kind classifies rule-export failures.
type Kind string

const (
	ErrConflict          Kind = "Conflict"
	ErrDependencyFailure Kind = "DependencyFailure"
)

// Error is the structured error shape returned by the rule export client.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// Client exports an accepted rule draft to the downstream rule engine and
// returns the reference it was filed under.
type Client interface {
	Export(ctx context.Context, draft RuleDraft) (exportRef string, err error)
}

// RuleDraft is the minimum shape the export client needs: the conditions
// and thresholds an analyst has acknowledged, plus a human-readable name.
type RuleDraft struct {
	ID              string
	RuleName        string
	RuleDescription string
	Conditions      []Condition
	Thresholds      map[string]float64
}

// Condition is one normalized clause of the rule being exported.
type Condition struct {
	Field    string
	Operator string
	Value    float64
	Scope    string
}
