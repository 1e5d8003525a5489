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

// Command investigator runs the card-fraud investigation agent: an HTTP
// API over the lifecycle manager that starts investigations, reads them
// back, acknowledges or rejects recommendations and exports rule drafts
// (spec §1, §5).
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/apierrors"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/audit"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/completion"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/config"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/domain"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/embedding"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/executor"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/lifecycle"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/llm"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/lock"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/planner"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/ruleexport"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/store"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/store/postgres"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/telemetry"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/tools"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/upstream"
	"github.com/fraud-platform/card-fraud-ops-analyst-agent-sub001/internal/vectorstore"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(os.Getenv("CONFIG_DEFAULTS_PATH"))
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if _, err := config.WatchDrift(os.Getenv("CONFIG_DEFAULTS_PATH"), logger); err != nil {
		logger.Warn("config drift watch unavailable", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	mgr, pgStore, redisClient := mustWireManager(cfg, metrics, logger)
	if pgStore != nil {
		defer pgStore.Close()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthHandler(cfg, logger))
	mux.HandleFunc("/investigations", startInvestigationHandler(mgr, logger))
	mux.HandleFunc("/investigations/get", getInvestigationHandler(mgr, logger))
	mux.HandleFunc("/recommendations/acknowledge", acknowledgeRecommendationHandler(mgr, logger))
	mux.HandleFunc("/recommendations/reject", rejectRecommendationHandler(mgr, logger))
	mux.HandleFunc("/rule-drafts/export", exportRuleDraftHandler(mgr, logger))

	server := &http.Server{
		Addr:              getenv("HTTP_ADDR", ":8080"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("investigator listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}

// mustWireManager assembles the lifecycle.Manager from Config: the
// Postgres store when DATABASE_DSN is set, otherwise the in-memory store
// used for local/demo runs; Redis for the distributed lock when
// REDIS_ADDR is reachable, otherwise the in-memory lock.
func mustWireManager(cfg *config.Config, metrics *telemetry.Metrics, logger *zap.Logger) (*lifecycle.Manager, *postgres.Store, *redis.Client) {
	ctx := context.Background()

	var (
		st          store.StateStore
		pgStore     *postgres.Store
		redisClient *redis.Client
		lk          lock.Lock
	)

	if cfg.DatabaseDSN != "" {
		s, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("postgres connect failed", zap.Error(err))
		}
		pgStore = s
		st = s
	} else {
		logger.Warn("DATABASE_DSN not set; using in-memory store (not for production use)")
		st = store.NewMemory()
	}

	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; falling back to in-process lock", zap.Error(err))
			lk = lock.NewMemory()
			redisClient = nil
		} else {
			lk = lock.NewRedis(redisClient)
		}
	} else {
		lk = lock.NewMemory()
	}

	upstreamClient := upstream.NewHTTPClient(cfg.UpstreamBaseURL, cfg.DefaultToolTimeout)
	ruleExportClient := ruleexport.NewHTTPClient(cfg.RuleExportBaseURL, cfg.DefaultToolTimeout)

	var embedProvider embedding.Provider = embedding.NewHTTPProvider(cfg.EmbeddingBaseURL, cfg.DefaultToolTimeout)
	embedClient := embedding.NewClient(embedProvider, cfg.DefaultToolTimeout, logger)
	vecStore := vectorstore.NewMemoryStore()

	reasoningClient := llm.NewAnthropicReasoningClient(cfg.AnthropicAPIKey, cfg.ReasoningLLMModel)
	reasoningBreaker := llm.NewReasoningBreaker(reasoningClient, cfg.LLMCircuitBreakerThreshold, cfg.LLMRetries)
	plannerClient := llm.NewAnthropicPlannerClient(cfg.AnthropicAPIKey, cfg.PlannerLLMModel)
	plannerBreaker := llm.NewPlannerBreaker(plannerClient, cfg.LLMCircuitBreakerThreshold, cfg.LLMRetries)

	registry := tools.NewRegistry(
		tools.NewContextTool(upstreamClient, logger),
		tools.NewPatternTool(upstreamClient),
		tools.NewSimilarityTool(embedClient, vecStore, upstreamClient, cfg.SimilaritySearchLimit, cfg.SimilarityMinScore, logger),
		tools.NewReasoningTool(reasoningBreaker, cfg.ToolTimeout(tools.NameReasoning), logger),
		tools.NewRecommendationTool(),
		tools.NewRuleDraftTool(),
	)

	pl := planner.New(registry, plannerBreaker, cfg.ToolTimeout("planner"), logger)
	ex := executor.New(registry, cfg.ToolTimeout, metrics, logger)
	comp := completion.New(st, metrics, logger)
	aw := audit.New(st, logger)

	mgr := lifecycle.New(st, lk, pl, ex, comp, aw, cfg, logger, ruleExportClient)
	return mgr, pgStore, redisClient
}

// healthHandler reports readiness from the upstream system's health check:
// 503 while the upstream is unhealthy or unreachable, 200 otherwise.
// Starting an investigation does not consult it.
func healthHandler(cfg *config.Config, logger *zap.Logger) http.HandlerFunc {
	client := upstream.NewHTTPClient(cfg.UpstreamBaseURL, 3*time.Second)
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := client.GetHealth(r.Context())
		if err != nil || !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ready":false}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ready":true}`))
	}
}

type startInvestigationRequest struct {
	TransactionID string `json:"transaction_id"`
	Mode          string `json:"mode"`
	TriggerRef    string `json:"trigger_ref"`
}

func startInvestigationHandler(mgr *lifecycle.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req startInvestigationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.TransactionID == "" {
			http.Error(w, "transaction_id is required", http.StatusBadRequest)
			return
		}
		mode := domain.Mode(req.Mode)
		if mode == "" {
			mode = domain.ModeDeep
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
		defer cancel()

		inv, err := mgr.Start(ctx, req.TransactionID, mode, req.TriggerRef)
		if err != nil {
			logger.Error("investigation start failed", zap.Error(err), zap.String("transaction_id", req.TransactionID))
			http.Error(w, "investigation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"investigation_id": inv.ID,
			"status":           inv.Status,
			"final_severity":   inv.FinalSeverity,
			"request_id":       uuid.NewString(),
		})
	}
}

type getInvestigationRequest struct {
	InvestigationID string `json:"investigation_id"`
}

func getInvestigationHandler(mgr *lifecycle.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getInvestigationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InvestigationID == "" {
			http.Error(w, "investigation_id is required", http.StatusBadRequest)
			return
		}
		view, err := mgr.GetInvestigation(r.Context(), req.InvestigationID)
		if err != nil {
			writeAPIError(w, logger, "get_investigation failed", req.InvestigationID, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

type recommendationActionRequest struct {
	ID    string `json:"id"`
	Actor string `json:"actor"`
}

func acknowledgeRecommendationHandler(mgr *lifecycle.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recommendationActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Actor == "" {
			http.Error(w, "id and actor are required", http.StatusBadRequest)
			return
		}
		rec, err := mgr.AcknowledgeRecommendation(r.Context(), req.ID, req.Actor)
		if err != nil {
			writeAPIError(w, logger, "acknowledge_recommendation failed", req.ID, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	}
}

func rejectRecommendationHandler(mgr *lifecycle.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recommendationActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Actor == "" {
			http.Error(w, "id and actor are required", http.StatusBadRequest)
			return
		}
		rec, err := mgr.RejectRecommendation(r.Context(), req.ID, req.Actor)
		if err != nil {
			writeAPIError(w, logger, "reject_recommendation failed", req.ID, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	}
}

type exportRuleDraftRequest struct {
	ID    string `json:"id"`
	Actor string `json:"actor"`
}

func exportRuleDraftHandler(mgr *lifecycle.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req exportRuleDraftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Actor == "" {
			http.Error(w, "id and actor are required", http.StatusBadRequest)
			return
		}
		draft, err := mgr.ExportRuleDraft(r.Context(), req.ID, req.Actor)
		if err != nil {
			writeAPIError(w, logger, "export_rule_draft failed", req.ID, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(draft)
	}
}

// writeAPIError maps an apierrors.Kind to the HTTP status spec §7 assigns
// it, logging the underlying cause either way.
func writeAPIError(w http.ResponseWriter, logger *zap.Logger, msg, id string, err error) {
	logger.Error(msg, zap.Error(err), zap.String("id", id))
	status := http.StatusInternalServerError
	switch apierrors.KindOf(err) {
	case apierrors.KindValidation:
		status = http.StatusBadRequest
	case apierrors.KindNotFound:
		status = http.StatusNotFound
	case apierrors.KindForbidden:
		status = http.StatusForbidden
	case apierrors.KindConflict:
		status = http.StatusConflict
	case apierrors.KindDependencyFailure:
		status = http.StatusBadGateway
	}
	http.Error(w, msg, status)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
