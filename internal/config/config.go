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

// Package config builds the single immutable configuration struct at
// process init (spec §9, "Global settings singleton"). Nothing in this
// package is re-read mid-investigation: a FeatureFlags/RuntimeSafeguards
// snapshot is taken once per run from whatever Config looked like at
// lifecycle-manager start time.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
)

// ToolTimeouts maps a tool name to its per-tool timeout (spec §4.3,
// default 20s, configurable per tool).
type ToolTimeouts map[string]time.Duration

const defaultToolTimeout = 20 * time.Second

// Config is the process-wide immutable configuration.
type Config struct {
	DatabaseDSN       string
	RedisAddr         string
	UpstreamBaseURL   string
	EmbeddingBaseURL  string
	RuleExportBaseURL string
	ReasoningLLMModel string
	PlannerLLMModel   string
	AnthropicAPIKey   string

	MaxSteps            int
	DefaultToolTimeout  time.Duration
	ToolTimeouts        ToolTimeouts
	LLMRetries          int
	LLMCircuitBreakerThreshold uint32
	UpstreamFetchRetries int

	SimilaritySearchLimit int
	SimilarityMinScore    float64

	Flags domain.FeatureFlags

	Environment string // "local", "staging", "production"
}

// fileDefaults mirrors the YAML defaults file shape; env vars override it.
type fileDefaults struct {
	MaxSteps int `yaml:"max_steps"`
	Flags    struct {
		ReasoningLLMEnabled   bool   `yaml:"reasoning_llm_enabled"`
		VectorEnabled         bool   `yaml:"vector_enabled"`
		EnforceHumanApproval  bool   `yaml:"enforce_human_approval"`
		NarrativeVersion      string `yaml:"narrative_version"`
		ConflictMatrixEnabled bool   `yaml:"conflict_matrix_enabled"`
		FreshnessEnabled      bool   `yaml:"freshness_enabled"`
	} `yaml:"flags"`
}

// Load builds Config once from a YAML defaults file (optional) plus
// environment variable overrides, matching the teacher's layered
// config-then-env pattern.
func Load(defaultsPath string) (*Config, error) {
	cfg := &Config{
		MaxSteps:                   domain.DefaultMaxSteps,
		DefaultToolTimeout:         defaultToolTimeout,
		ToolTimeouts:               ToolTimeouts{},
		LLMRetries:                 1,
		LLMCircuitBreakerThreshold: 5,
		UpstreamFetchRetries:       3,
		SimilaritySearchLimit:      20,
		SimilarityMinScore:         0.7,
		Environment:                getenv("ENVIRONMENT", "local"),
	}

	if defaultsPath != "" {
		if raw, err := os.ReadFile(defaultsPath); err == nil {
			var fd fileDefaults
			if err := yaml.Unmarshal(raw, &fd); err == nil {
				if fd.MaxSteps > 0 {
					cfg.MaxSteps = fd.MaxSteps
				}
				cfg.Flags = domain.FeatureFlags{
					ReasoningLLMEnabled:   fd.Flags.ReasoningLLMEnabled,
					VectorEnabled:         fd.Flags.VectorEnabled,
					EnforceHumanApproval:  fd.Flags.EnforceHumanApproval,
					NarrativeVersion:      fd.Flags.NarrativeVersion,
					ConflictMatrixEnabled: fd.Flags.ConflictMatrixEnabled,
					FreshnessEnabled:      fd.Flags.FreshnessEnabled,
				}
			}
		}
	}

	cfg.DatabaseDSN = getenv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.UpstreamBaseURL = getenv("UPSTREAM_BASE_URL", cfg.UpstreamBaseURL)
	cfg.EmbeddingBaseURL = getenv("EMBEDDING_BASE_URL", cfg.EmbeddingBaseURL)
	cfg.RuleExportBaseURL = getenv("RULE_EXPORT_BASE_URL", cfg.RuleExportBaseURL)
	cfg.ReasoningLLMModel = getenv("REASONING_LLM_MODEL", "claude-3-7-sonnet-latest")
	cfg.PlannerLLMModel = getenv("PLANNER_LLM_MODEL", "claude-3-5-haiku-latest")
	cfg.AnthropicAPIKey = getenv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)

	if v := os.Getenv("MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := os.Getenv("REASONING_LLM_ENABLED"); v != "" {
		cfg.Flags.ReasoningLLMEnabled = parseBool(v, cfg.Flags.ReasoningLLMEnabled)
	}
	if v := os.Getenv("VECTOR_ENABLED"); v != "" {
		cfg.Flags.VectorEnabled = parseBool(v, cfg.Flags.VectorEnabled)
	}

	// enforce_human_approval must be true in non-local environments
	// (spec §6 feature-flag table).
	if cfg.Environment != "local" {
		cfg.Flags.EnforceHumanApproval = true
	} else if v := os.Getenv("ENFORCE_HUMAN_APPROVAL"); v != "" {
		cfg.Flags.EnforceHumanApproval = parseBool(v, cfg.Flags.EnforceHumanApproval)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// ToolTimeout returns the configured timeout for a tool, falling back to
// DefaultToolTimeout.
func (c *Config) ToolTimeout(tool string) time.Duration {
	if d, ok := c.ToolTimeouts[tool]; ok {
		return d
	}
	return c.DefaultToolTimeout
}

// RunDeadline is the effective upper bound on a whole run: max_steps ×
// max_tool_timeout (spec §5 "Cancellation").
func (c *Config) RunDeadline() time.Duration {
	maxTimeout := c.DefaultToolTimeout
	for _, t := range c.ToolTimeouts {
		if t > maxTimeout {
			maxTimeout = t
		}
	}
	return time.Duration(c.MaxSteps) * maxTimeout
}

// Snapshot captures the flags and safeguards for one investigation at
// start time, per spec §9 "Global settings singleton".
func (c *Config) Snapshot(circuitOpen bool) (domain.FeatureFlags, domain.RuntimeSafeguards) {
	maxTimeout := c.DefaultToolTimeout
	for _, t := range c.ToolTimeouts {
		if t > maxTimeout {
			maxTimeout = t
		}
	}
	safeguards := domain.RuntimeSafeguards{
		MaxSteps:           c.MaxSteps,
		MaxToolTimeoutMs:   maxTimeout.Milliseconds(),
		RunDeadlineMs:      c.RunDeadline().Milliseconds(),
		CircuitBreakerOpen: circuitOpen,
		LLMRetryBudget:     c.LLMRetries,
	}
	return c.Flags, safeguards
}

// WatchDrift wires fsnotify to the defaults file purely to log operator
// drift; it never mutates the running Config (SPEC_FULL.md ambient
// stack — config is loaded once, watched only for observability).
func WatchDrift(path string, logger *zap.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := watcher.Add(path); err != nil {
			logger.Warn("config drift watch unavailable", zap.String("path", path), zap.Error(err))
		}
	}
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				logger.Warn("configuration file changed on disk; process config is immutable until restart",
					zap.String("path", event.Name), zap.String("op", event.Op.String()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return watcher, nil
}
