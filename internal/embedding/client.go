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

// Package embedding wraps the embedding service contract (spec §6:
// embed(text) → {vector, model_name}) with a bounded timeout, a single
// retry, and a circuit breaker — embedding failures never retry beyond
// that single attempt, because the similarity tool's SQL fallback is
// authoritative (spec §5 Retry policy).
package embedding

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const VectorDimension = 1024

// Result is the embed() response shape (spec §6).
type Result struct {
	Vector    []float32
	ModelName string
}

// Provider is the raw embedding backend; a production build points this
// at a real embedding service over HTTP or gRPC. Tests substitute a fake.
type Provider interface {
	Embed(ctx context.Context, text string) (Result, error)
}

// Client adds the bounded-timeout/single-retry/circuit-breaker envelope
// spec §6 and §5 require around the raw Provider.
type Client struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
	logger   *zap.Logger
}

func NewClient(provider Provider, timeout time.Duration, logger *zap.Logger) *Client {
	st := gobreaker.Settings{
		Name:        "embedding-service",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(st),
		timeout:  timeout,
		logger:   logger,
	}
}

// Embed performs exactly one attempt plus one retry on failure (spec §4.6
// item 1: "hard timeout and single retry").
func (c *Client) Embed(ctx context.Context, text string) (Result, error) {
	attempt := func() (Result, error) {
		v, err := c.breaker.Execute(func() (interface{}, error) {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return c.provider.Embed(cctx, text)
		})
		if err != nil {
			return Result{}, err
		}
		return v.(Result), nil
	}

	res, err := attempt()
	if err == nil {
		return res, nil
	}
	c.logger.Warn("embedding attempt failed, retrying once", zap.Error(err))
	return attempt()
}

// BreakerOpen reports whether the embedding circuit breaker is currently
// open. Nothing in this module calls it; the RuntimeSafeguards snapshot
// does not read it.
func (c *Client) BreakerOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}
