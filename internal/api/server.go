// Package api serves the gateway over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"duck-gateway/internal/audit"
	"duck-gateway/internal/breaker"
	"duck-gateway/internal/domain"
	"duck-gateway/internal/gateway"
	"duck-gateway/internal/middleware"
	"duck-gateway/internal/pool"
	"duck-gateway/internal/tools"
)

// Gateway is the orchestration surface the handlers call. Implemented by
// *gateway.Gateway.
type Gateway interface {
	Submit(ctx context.Context, req gateway.SubmitRequest) (*gateway.SubmitResponse, error)
	SubmitTransaction(ctx context.Context, req gateway.TransactionRequest) (*gateway.TransactionResponse, error)
	Invoke(ctx context.Context, dependency, operation string, params map[string]interface{}, timeout time.Duration) (*tools.Result, error)
	RejectRequest(ctx context.Context, kind domain.RequestKind, input, candidate string, cause error) (string, error)
}

// Deps are the collaborators behind the HTTP surface. AuditReader, Metrics,
// and the health sources are optional.
type Deps struct {
	Gateway     Gateway
	AuditReader domain.AuditReader
	PoolStats   func() pool.Stats
	AuditHealth func() audit.Health
	Breakers    func() []breaker.Snapshot
	Metrics     http.Handler
	Logger      *slog.Logger
}

// Options tune the router.
type Options struct {
	CORSAllowedOrigins []string
	RateLimit          middleware.RateLimitConfig
	MaxBodyBytes       int64
}

// Handler holds the HTTP handlers.
type Handler struct {
	deps    Deps
	logger  *slog.Logger
	maxBody int64
}

// NewHandler creates the handler set.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{deps: deps, logger: logger.With("component", "api"), maxBody: 1 << 20}
}

// Router builds the chi router. ctx bounds background middleware work such
// as rate-limit bucket sweeping.
func (h *Handler) Router(ctx context.Context, opts Options) http.Handler {
	if opts.MaxBodyBytes > 0 {
		h.maxBody = opts.MaxBodyBytes
	}
	origins := opts.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.HeaderRequestID},
		ExposedHeaders: []string{middleware.HeaderRequestID, "Retry-After"},
		MaxAge:         300,
	}))

	if h.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/audit", h.listAudit)

		r.Group(func(r chi.Router) {
			if opts.RateLimit.RequestsPerSecond > 0 {
				r.Use(middleware.RateLimiter(ctx, opts.RateLimit))
			}
			r.Post("/query", h.submit)
			r.Post("/transaction", h.submitTransaction)
			r.Post("/tools/{dependency}/invoke", h.invoke)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, domain.ErrNotFound("no route for %s %s", r.Method, r.URL.Path))
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromError(err)
	if status == http.StatusOK {
		status = http.StatusInternalServerError
	}
	h.writeErrorStatus(w, r, status, err)
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	setErrorHeaders(w, err)
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Class:     domain.ClassOf(err),
		Message:   err.Error(),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	}})
}

// decode reads a JSON body into dst, rejecting unknown fields.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

// refuse audits a request that never reached the gateway proper and writes
// the error with its audit id. A failed audit write takes over the status.
func (h *Handler) refuse(w http.ResponseWriter, r *http.Request, status int, kind domain.RequestKind, input, candidate string, cause error) {
	auditID, err := h.deps.Gateway.RejectRequest(r.Context(), kind, input, candidate, cause)
	if domain.ClassOf(err) == domain.ErrorClassAuditDegraded {
		status = httpStatusFromError(err)
	}
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Class:     domain.ClassOf(err),
		Message:   err.Error(),
		RequestID: middleware.RequestIDFromContext(r.Context()),
		AuditID:   auditID,
	}})
}
