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

// Package executor runs one selected tool under timeout and records its
// execution in State (spec §4.3).
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/telemetry"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/tools"
)

// Executor runs a registered tool under a per-tool timeout and merges its
// result into State. It never writes to domain tables directly — only the
// completion node does that (spec §4.3).
type Executor struct {
	registry *tools.Registry
	timeout  func(toolName string) time.Duration
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

func New(registry *tools.Registry, timeout func(string) time.Duration, metrics *telemetry.Metrics, logger *zap.Logger) *Executor {
	return &Executor{registry: registry, timeout: timeout, metrics: metrics, logger: logger}
}

// Run implements spec §4.3's contract: run(tool, state) → state'.
// transactionID and modelMode are purely for the observability span.
func (e *Executor) Run(ctx context.Context, toolName, investigationID, transactionID, modelMode string, state *domain.State) *domain.State {
	stepNumber := state.NextStepNumber()
	start := time.Now()

	tool, found := e.registry.Lookup(toolName)
	if !found {
		exec := domain.ToolExecution{
			InvestigationID: investigationID,
			ToolName:        toolName,
			StepNumber:      stepNumber,
			Status:          domain.ExecutionFailed,
			ErrorMessage:    fmt.Sprintf("tool %q not found in registry", toolName),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
		state.ToolExecutions = append(state.ToolExecutions, exec)
		e.emitSpan(investigationID, transactionID, toolName, stepNumber, string(domain.ExecutionFailed), modelMode)
		return state
	}

	timeout := e.timeout(toolName)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan tools.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- tools.Result{Status: domain.ExecutionFailed, Err: fmt.Errorf("tool %s panicked: %v", toolName, r)}
			}
		}()
		resultCh <- tool.Run(cctx, state)
	}()

	var result tools.Result
	select {
	case result = <-resultCh:
	case <-cctx.Done():
		result = tools.Result{Status: domain.ExecutionTimeout, Err: cctx.Err()}
	}

	elapsed := time.Since(start).Milliseconds()
	status := result.Status
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
		if status == "" {
			status = domain.ExecutionFailed
		}
	}

	exec := domain.ToolExecution{
		InvestigationID: investigationID,
		ToolName:        toolName,
		StepNumber:      stepNumber,
		Status:          status,
		OutputSummary:   result.Summary,
		ExecutionTimeMs: elapsed,
		ErrorMessage:    errMsg,
	}
	state.ToolExecutions = append(state.ToolExecutions, exec)

	if status == domain.ExecutionOK && result.Apply != nil {
		result.Apply(state)
		state.StepCount++
	}

	e.emitSpan(investigationID, transactionID, toolName, stepNumber, string(status), modelMode)
	if e.metrics != nil {
		e.metrics.ToolExecutions.WithLabelValues(toolName, string(status), modelMode).Inc()
		e.metrics.ToolDuration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())
	}

	// On exception/timeout the investigation is not aborted — the planner
	// sees the failure on the next iteration and may choose a different
	// action or complete (spec §4.3).
	return state
}

func (e *Executor) emitSpan(investigationID, transactionID, toolName string, stepNumber int, status, modelMode string) {
	span := telemetry.ToolSpan{
		InvestigationID: investigationID,
		TransactionID:   transactionID,
		ToolName:        toolName,
		StepNumber:      stepNumber,
		ToolStatus:      status,
		ModelMode:       modelMode,
	}
	e.logger.Info("tool execution span",
		zap.String("investigation_id", span.InvestigationID),
		zap.String("transaction_id", span.TransactionID),
		zap.String("tool_name", span.ToolName),
		zap.Int("step_number", span.StepNumber),
		zap.String("tool_status", span.ToolStatus),
		zap.String("model_mode", span.ModelMode),
	)
}
