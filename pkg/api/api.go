// Package api exposes the compliance service over HTTP: shield evaluation,
// the evidence ledger, the review queue, SCC registration and GDPR erasure.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/veridion/sovereign-shield/pkg/config"
	"github.com/veridion/sovereign-shield/pkg/evidence"
	"github.com/veridion/sovereign-shield/pkg/observability"
	"github.com/veridion/sovereign-shield/pkg/review"
	"github.com/veridion/sovereign-shield/pkg/scc"
	"github.com/veridion/sovereign-shield/pkg/shield"
	"github.com/veridion/sovereign-shield/pkg/shredder"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config        *config.Config
	Ledger        *evidence.Store
	Reviews       *review.Queue
	Registry      *scc.Registry
	Shield        *shield.Service
	Shredder      *shredder.Shredder
	Observability *observability.Provider
	Logger        *slog.Logger
}

// Server is the HTTP surface of the compliance service.
type Server struct {
	cfg      *config.Config
	ledger   *evidence.Store
	reviews  *review.Queue
	registry *scc.Registry
	shield   *shield.Service
	shredder *shredder.Shredder
	obs      *observability.Provider
	logger   *slog.Logger
	limiter  *GlobalRateLimiter
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rps, burst := 50, 100
	if d.Config != nil {
		if d.Config.RateLimitRPS > 0 {
			rps = d.Config.RateLimitRPS
		}
		if d.Config.RateLimitBurst > 0 {
			burst = d.Config.RateLimitBurst
		}
	}
	return &Server{
		cfg:      d.Config,
		ledger:   d.Ledger,
		reviews:  d.Reviews,
		registry: d.Registry,
		shield:   d.Shield,
		shredder: d.Shredder,
		obs:      d.Observability,
		logger:   logger,
		limiter:  NewGlobalRateLimiter(rps, burst),
	}
}

// Handler builds the full route table wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/auth/dev-bypass", s.handleDevBypass)
	mux.HandleFunc("GET /api/v1/auth/me", s.handleAuthMe)
	mux.HandleFunc("GET /api/v1/system/config", s.handleSystemConfig)
	mux.HandleFunc("GET /api/v1/my/enabled-modules", s.handleModules)
	mux.HandleFunc("GET /api/v1/modules", s.handleModules)
	mux.HandleFunc("GET /api/v1/audit/alerts", s.handleAuditAlerts)

	mux.HandleFunc("GET /api/v1/evidence/events", s.handleListEvents)
	mux.HandleFunc("POST /api/v1/evidence/events", s.handleCreateEvent)
	mux.HandleFunc("POST /api/v1/evidence/verify-integrity", s.handleVerifyIntegrity)

	mux.HandleFunc("POST /api/v1/shield/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /api/v1/shield/ingest-logs", s.handleIngestLogs)
	mux.HandleFunc("GET /api/v1/lenses/sovereign-shield/stats", s.handleShieldStats)
	mux.HandleFunc("GET /api/v1/lenses/sovereign-shield/countries", s.handleShieldCountries)
	mux.HandleFunc("GET /api/v1/lenses/sovereign-shield/requires-attention", s.handleRequiresAttention)
	mux.HandleFunc("GET /api/v1/lenses/sovereign-shield/transfers/by-destination", s.handleTransfersByDestination)

	mux.HandleFunc("POST /api/v1/scc-registries", s.handleRegisterSCC)
	mux.HandleFunc("GET /api/v1/scc-registries", s.handleListSCC)
	mux.HandleFunc("DELETE /api/v1/scc-registries/{id}", s.handleRevokeSCC)

	mux.HandleFunc("GET /api/v1/review-queue", s.handleReviewQueue)
	mux.HandleFunc("POST /api/v1/review-queue", s.handleCreateReview)
	mux.HandleFunc("GET /api/v1/human_oversight/pending", s.handlePendingReviews)
	mux.HandleFunc("GET /api/v1/human_oversight/decided-evidence-ids", s.handleDecidedEvidenceIDs)
	mux.HandleFunc("POST /api/v1/action/{seal_id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/v1/action/{seal_id}/reject", s.handleReject)

	mux.HandleFunc("POST /api/v1/lenses/gdpr-rights/erasure/execute", s.handleExecuteErasure)
	mux.HandleFunc("POST /api/v1/gdpr-rights/erasure/execute", s.handleExecuteErasure)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.requestLogger(handler)
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "veridion-api",
		"version": "1.0.0",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAPIError emits the {"error": CODE, "message": ...} shape used across
// the API.
func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error":   code,
		"message": message,
	})
}

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(v)
}
