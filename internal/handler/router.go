package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/infra/observability"
	"github.com/boddenberg/support-agent-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

const maxMessageLength = 10000

// Option configures the router.
type Option func(*routerOptions)

type routerOptions struct {
	timeout time.Duration
}

// WithRequestTimeout cancels request contexts after d. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *routerOptions) { o.timeout = d }
}

// NewRouter creates the HTTP router with all routes and middleware.
// agent may be nil, in which case only the operational endpoints answer
// and every /v1 route except the metrics snapshot returns 503.
func NewRouter(agent *service.Agent, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) http.Handler {
	o := routerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	if o.timeout > 0 {
		r.Use(middleware.Timeout(o.timeout))
	}

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(agent, time.Now(), logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", metricsHandler(metrics))

	locks := newSessionLocks()

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Metrics snapshot
		// GET /v1/metrics/agent
		// =============================================
		r.Get("/metrics/agent", agentMetricsHandler(metrics, logger))

		r.Group(func(r chi.Router) {
			r.Use(requireAgent(agent))

			// =============================================
			// 2. Chat
			// POST /v1/chat
			// POST /v1/chat/{sessionId}
			// =============================================
			r.Post("/chat", chatHandler(agent, locks, logger))
			r.Post("/chat/{sessionId}", chatHandler(agent, locks, logger))

			// =============================================
			// 3. Sessions
			// =============================================
			r.Get("/sessions/{sessionId}/history", historyHandler(agent, logger))
			r.Get("/sessions/{sessionId}/summary", summaryHandler(agent, logger))
			r.Get("/sessions/{sessionId}/stats", statsHandler(agent, logger))
			r.Delete("/sessions/{sessionId}", clearSessionHandler(agent, locks, logger))

			// =============================================
			// 4. Knowledge base
			// =============================================
			r.Post("/knowledge/documents", ingestDocumentHandler(agent, logger))
			r.Delete("/knowledge/documents/{documentId}", deleteDocumentHandler(agent, logger))
			r.Get("/knowledge/search", searchKnowledgeHandler(agent, logger))
		})
	})

	return r
}

func requireAgent(agent *service.Agent) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if agent == nil {
				writeError(w, http.StatusServiceUnavailable, "agent unavailable")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================
// 1. Operational
// ============================================================

func healthzHandler(agent *service.Agent, started time.Time, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now()

		services := []domain.ComponentHealth{
			{Name: "support-agent", Status: domain.HealthHealthy, CheckedAt: now},
		}

		if agent != nil {
			start := time.Now()
			count, err := agent.DocumentCount(ctx)
			probe := domain.ComponentHealth{
				Name:      "knowledge-store",
				Status:    domain.HealthHealthy,
				LatencyMs: time.Since(start).Milliseconds(),
				CheckedAt: now,
			}
			if err != nil {
				logger.Warn("healthz: knowledge store check failed", zap.Error(err))
				probe.Status = domain.HealthDegraded
			} else {
				probe.Documents = &count
			}
			services = append(services, probe)
		}

		overallStatus := domain.HealthHealthy
		for _, s := range services {
			if s.Status == domain.HealthUnhealthy {
				overallStatus = domain.HealthUnhealthy
				break
			}
			if s.Status == domain.HealthDegraded {
				overallStatus = domain.HealthDegraded
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:        overallStatus,
			UptimeSeconds: int64(now.Sub(started).Seconds()),
			Services:      services,
		})
	}
}

// metricsHandler serves the agent's private registry, or the default one
// when metrics are disabled.
func metricsHandler(metrics *observability.Metrics) http.Handler {
	if metrics == nil || metrics.Registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func agentMetricsHandler(metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}

// ============================================================
// 2. Chat
// ============================================================

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

func chatHandler(agent *service.Agent, locks *sessionLocks, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chat")
		defer span.End()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}
		if len(req.Message) > maxMessageLength {
			writeError(w, http.StatusBadRequest, "message is too long")
			return
		}

		sessionID := chi.URLParam(r, "sessionId")
		if sessionID == "" {
			sessionID = req.SessionID
		}
		if sessionID == "" {
			sessionID = uuid.New().String()
		}
		span.SetAttributes(attribute.String("session.id", sessionID))

		unlock := locks.lock(sessionID)
		resp := agent.ProcessMessage(ctx, req.Message, sessionID)
		unlock()

		if resp.Metadata.Error != "" {
			logger.Warn("chat turn failed",
				zap.String("session_id", sessionID),
				zap.String("error", resp.Metadata.Error),
			)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// 3. Sessions
// ============================================================

func historyHandler(agent *service.Agent, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sessions/{sessionId}/history")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		msgs, err := agent.History(ctx, sessionID, parseLimit(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId": sessionID,
			"messages":  msgs,
		})
	}
}

func summaryHandler(agent *service.Agent, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sessions/{sessionId}/summary")
		defer span.End()

		summary, err := agent.Summary(ctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func statsHandler(agent *service.Agent, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sessions/{sessionId}/stats")
		defer span.End()

		stats, err := agent.Stats(ctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func clearSessionHandler(agent *service.Agent, locks *sessionLocks, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/sessions/{sessionId}")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		unlock := locks.lock(sessionID)
		err := agent.ClearSession(ctx, sessionID)
		unlock()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "session cleared", ID: sessionID})
	}
}

// ============================================================
// 4. Knowledge base
// ============================================================

type ingestRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func ingestDocumentHandler(agent *service.Agent, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/knowledge/documents")
		defer span.End()

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := agent.IngestDocument(ctx, req.Title, req.Content)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("document.id", result.DocumentID),
			attribute.Int("document.chunks", result.Chunks),
		)
		writeJSON(w, http.StatusCreated, result)
	}
}

func deleteDocumentHandler(agent *service.Agent, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/knowledge/documents/{documentId}")
		defer span.End()

		documentID := chi.URLParam(r, "documentId")
		if err := agent.DeleteDocument(ctx, documentID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "document deleted", ID: documentID})
	}
}

func searchKnowledgeHandler(agent *service.Agent, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/knowledge/search")
		defer span.End()

		result, err := agent.SearchKnowledge(ctx, r.URL.Query().Get("q"), parseLimit(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("rag.chunks", len(result.Chunks)))
		writeJSON(w, http.StatusOK, result)
	}
}
