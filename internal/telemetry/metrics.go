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

// Package telemetry exposes the semantic events the core must emit (spec
// §1 — exporters are out of scope, but the Prometheus registrations and
// span shape are part of the core per spec §9 Observability).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters/histograms every tool span and investigation
// completion updates.
type Metrics struct {
	ToolExecutions  *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	StageDuration   *prometheus.HistogramVec
	InvestigationsTotal *prometheus.CounterVec
}

// NewMetrics registers the runtime's metric families on reg. Passing a
// fresh prometheus.NewRegistry() keeps tests isolated from the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraud_investigator",
			Name:      "tool_executions_total",
			Help:      "Count of tool executions by tool name and status.",
		}, []string{"tool_name", "status", "model_mode"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fraud_investigator",
			Name:      "tool_duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool_name"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fraud_investigator",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage investigation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "tool_name"}),
		InvestigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraud_investigator",
			Name:      "investigations_total",
			Help:      "Count of completed investigations by terminal status.",
		}, []string{"status", "model_mode"}),
	}
	reg.MustRegister(m.ToolExecutions, m.ToolDuration, m.StageDuration, m.InvestigationsTotal)
	return m
}

// ToolSpan is the observability span every executor run emits (spec §4.3,
// §9): {investigation_id, transaction_id, tool_name, step_number,
// tool_status, model_mode, scenario_name?}.
type ToolSpan struct {
	InvestigationID string
	TransactionID   string
	ToolName        string
	StepNumber      int
	ToolStatus      string
	ModelMode       string
	ScenarioName    string
}
