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
	"time"

	"github.com/sony/gobreaker"
)

func newBreaker(name string, threshold uint32) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
}

// ReasoningBreaker decorates a ReasoningClient with a circuit breaker and
// a configurable retry budget (spec §5 "LLM calls use configurable
// retries (default 1) and a bounded circuit breaker").
type ReasoningBreaker struct {
	inner   ReasoningClient
	breaker *gobreaker.CircuitBreaker
	retries int
}

func NewReasoningBreaker(inner ReasoningClient, threshold uint32, retries int) *ReasoningBreaker {
	return &ReasoningBreaker{inner: inner, breaker: newBreaker("reasoning-llm", threshold), retries: retries}
}

func (r *ReasoningBreaker) ModelName() string { return r.inner.ModelName() }

func (r *ReasoningBreaker) Open() bool { return r.breaker.State() == gobreaker.StateOpen }

type reasoningResultPair struct {
	out   ReasoningOutput
	model string
}

func (r *ReasoningBreaker) Complete(ctx context.Context, prompt string, timeout time.Duration) (ReasoningOutput, string, error) {
	var lastErr error
	attempts := r.retries + 1
	for i := 0; i < attempts; i++ {
		v, err := r.breaker.Execute(func() (interface{}, error) {
			out, model, err := r.inner.Complete(ctx, prompt, timeout)
			if err != nil {
				return reasoningResultPair{}, err
			}
			return reasoningResultPair{out: out, model: model}, nil
		})
		if err == nil {
			p := v.(reasoningResultPair)
			return p.out, p.model, nil
		}
		lastErr = err
	}
	return ReasoningOutput{}, r.inner.ModelName(), lastErr
}

// PlannerBreaker decorates a PlannerClient the same way.
type PlannerBreaker struct {
	inner   PlannerClient
	breaker *gobreaker.CircuitBreaker
	retries int
}

func NewPlannerBreaker(inner PlannerClient, threshold uint32, retries int) *PlannerBreaker {
	return &PlannerBreaker{inner: inner, breaker: newBreaker("planner-llm", threshold), retries: retries}
}

func (p *PlannerBreaker) Open() bool { return p.breaker.State() == gobreaker.StateOpen }

func (p *PlannerBreaker) Complete(ctx context.Context, prompt string, menu []string, timeout time.Duration) (PlannerOutput, error) {
	var lastErr error
	attempts := p.retries + 1
	for i := 0; i < attempts; i++ {
		v, err := p.breaker.Execute(func() (interface{}, error) {
			return p.inner.Complete(ctx, prompt, menu, timeout)
		})
		if err == nil {
			return v.(PlannerOutput), nil
		}
		lastErr = err
	}
	return PlannerOutput{}, lastErr
}
