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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewState_StartsAtVersionOne(t *testing.T) {
	state := NewState("inv-1", "txn-1", FeatureFlags{VectorEnabled: true})

	assert.Equal(t, 1, state.Version)
	assert.Equal(t, "inv-1", state.InvestigationID)
	assert.NotNil(t, state.ToolOutputs)
	assert.True(t, state.FeatureFlags.VectorEnabled)
}

func TestState_CompletedTools_OnlyCountsOKExecutions(t *testing.T) {
	state := NewState("inv-1", "txn-1", FeatureFlags{})
	state.ToolExecutions = []ToolExecution{
		{ToolName: "context", Status: ExecutionOK},
		{ToolName: "pattern", Status: ExecutionFailed},
		{ToolName: "similarity", Status: ExecutionTimeout},
	}

	completed := state.CompletedTools()

	assert.True(t, completed["context"])
	assert.False(t, completed["pattern"])
	assert.False(t, completed["similarity"])
}

func TestState_NextStepNumber_IsContiguous(t *testing.T) {
	state := NewState("inv-1", "txn-1", FeatureFlags{})
	assert.Equal(t, 1, state.NextStepNumber())

	state.ToolExecutions = append(state.ToolExecutions, ToolExecution{ToolName: "context", StepNumber: 1, Status: ExecutionOK})
	assert.Equal(t, 2, state.NextStepNumber())
}

func TestState_AppendEvidence_Grows(t *testing.T) {
	state := NewState("inv-1", "txn-1", FeatureFlags{})
	state.AppendEvidence(EvidenceItem{Kind: EvidenceKindPattern, Category: CategoryVelocityBurst})
	state.AppendEvidence(EvidenceItem{Kind: EvidenceKindSimilarity, Category: CategoryAmountOutlier})

	assert.Len(t, state.Evidence, 2)
}

func TestState_EvidenceByKind_Filters(t *testing.T) {
	state := NewState("inv-1", "txn-1", FeatureFlags{})
	state.AppendEvidence(
		EvidenceItem{Kind: EvidenceKindPattern, Category: CategoryVelocityBurst},
		EvidenceItem{Kind: EvidenceKindSimilarity, Category: CategoryAmountOutlier},
		EvidenceItem{Kind: EvidenceKindPattern, Category: CategoryCardTestingLadder},
	)

	patterns := state.EvidenceByKind(EvidenceKindPattern)

	assert.Len(t, patterns, 2)
	for _, e := range patterns {
		assert.Equal(t, EvidenceKindPattern, e.Kind)
	}
}
