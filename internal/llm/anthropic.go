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

package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-faster/errors"
)

// AnthropicBackend wraps the shared anthropic-sdk-go client construction;
// both the reasoning and planner clients embed one, matching the
// teacher's pattern of a single HTTP client instance reused across calls
// rather than built per request (spec §5 "connection reuse").
type AnthropicBackend struct {
	sdk   anthropic.Client
	model anthropic.Model
}

func NewAnthropicBackend(apiKey string, model string) *AnthropicBackend {
	return &AnthropicBackend{
		sdk:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: anthropic.Model(model),
	}
}

// callTool issues one message with a single tool forced via tool_choice,
// decoding the resulting tool_use input as out. This is the schema-
// constrained generation discipline spec §9 requires ("use schema-
// constrained generation plus a local validator").
func (b *AnthropicBackend) callTool(ctx context.Context, toolName string, schema anthropic.ToolInputSchemaParam, prompt string, maxTokens int64, timeout time.Duration) (json.RawMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := b.sdk.Messages.New(cctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        toolName,
					InputSchema: schema,
				},
			},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: toolName},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "anthropic messages.new")
	}

	for _, block := range msg.Content {
		if tu := block.AsToolUse(); tu.Name == toolName {
			return tu.Input, nil
		}
	}
	return nil, errors.New("anthropic response contained no tool_use block for " + toolName)
}

const reasoningToolName = "emit_reasoning_result"
const plannerToolName = "emit_planner_decision"

var reasoningSchema = anthropic.ToolInputSchemaParam{
	Properties: map[string]any{
		"severity":   map[string]any{"type": "string", "enum": []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}},
		"confidence": map[string]any{"type": "number"},
		"narrative":  map[string]any{"type": "string"},
		"known_facts": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"unknowns":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"hypotheses": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":                    map[string]any{"type": "string"},
					"confidence":               map[string]any{"type": "number"},
					"supporting_evidence_refs": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"counter_evidence_refs":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"label", "confidence"},
			},
		},
		"what_would_change_my_mind": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	Required: []string{"severity", "confidence", "narrative", "known_facts", "unknowns", "hypotheses", "what_would_change_my_mind"},
}

var plannerSchema = anthropic.ToolInputSchemaParam{
	Properties: map[string]any{
		"tool_name": map[string]any{"type": "string"},
		"rationale": map[string]any{"type": "string"},
	},
	Required: []string{"tool_name", "rationale"},
}

// AnthropicReasoningClient implements ReasoningClient.
type AnthropicReasoningClient struct {
	backend *AnthropicBackend
	model   string
}

func NewAnthropicReasoningClient(apiKey, model string) *AnthropicReasoningClient {
	return &AnthropicReasoningClient{backend: NewAnthropicBackend(apiKey, model), model: model}
}

func (c *AnthropicReasoningClient) ModelName() string { return c.model }

func (c *AnthropicReasoningClient) Complete(ctx context.Context, prompt string, timeout time.Duration) (ReasoningOutput, string, error) {
	raw, err := c.backend.callTool(ctx, reasoningToolName, reasoningSchema, prompt, 2048, timeout)
	if err != nil {
		return ReasoningOutput{}, c.model, err
	}
	var out ReasoningOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return ReasoningOutput{}, c.model, errors.Wrap(err, "decode reasoning tool_use input")
	}
	return out, c.model, nil
}

// AnthropicPlannerClient implements PlannerClient.
type AnthropicPlannerClient struct {
	backend *AnthropicBackend
}

func NewAnthropicPlannerClient(apiKey, model string) *AnthropicPlannerClient {
	return &AnthropicPlannerClient{backend: NewAnthropicBackend(apiKey, model)}
}

func (c *AnthropicPlannerClient) Complete(ctx context.Context, prompt string, menu []string, timeout time.Duration) (PlannerOutput, error) {
	raw, err := c.backend.callTool(ctx, plannerToolName, plannerSchema, prompt, 256, timeout)
	if err != nil {
		return PlannerOutput{}, err
	}
	var out PlannerOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return PlannerOutput{}, errors.Wrap(err, "decode planner tool_use input")
	}
	return out, nil
}
