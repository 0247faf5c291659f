package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"duck-gateway/internal/audit"
	"duck-gateway/internal/breaker"
	"duck-gateway/internal/domain"
	"duck-gateway/internal/gateway"
	"duck-gateway/internal/pool"
)

// ExecutionParams are the tuning fields shared by query and transaction
// requests.
type ExecutionParams struct {
	Priority      string `json:"priority,omitempty"` // low, normal, high
	TimeoutMs     int64  `json:"timeout_ms,omitempty" validate:"gte=0"`
	WaitTimeoutMs int64  `json:"wait_timeout_ms,omitempty" validate:"gte=0"`
}

func (p ExecutionParams) options() (gateway.ExecutionOptions, error) {
	opts := gateway.ExecutionOptions{
		Timeout:     time.Duration(p.TimeoutMs) * time.Millisecond,
		WaitTimeout: time.Duration(p.WaitTimeoutMs) * time.Millisecond,
	}
	switch strings.ToLower(p.Priority) {
	case "", "normal":
		opts.Priority = pool.PriorityNormal
	case "low":
		opts.Priority = pool.PriorityLow
	case "high":
		opts.Priority = pool.PriorityHigh
	default:
		return opts, domain.ErrValidation("unknown priority %q", p.Priority)
	}
	return opts, nil
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	SQL      string `json:"sql"`
	Question string `json:"question,omitempty"`
	ExecutionParams
}

// TransactionRequest is the body of POST /v1/transaction.
type TransactionRequest struct {
	Statements []string `json:"statements"`
	Question   string   `json:"question,omitempty"`
	ExecutionParams
}

// InvokeRequest is the body of POST /v1/tools/{dependency}/invoke.
type InvokeRequest struct {
	Operation string                 `json:"operation" validate:"required"`
	Params    map[string]interface{} `json:"params,omitempty"`
	TimeoutMs int64                  `json:"timeout_ms,omitempty" validate:"gte=0"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var body QueryRequest
	if err := h.decode(w, r, &body); err != nil {
		h.refuse(w, r, http.StatusBadRequest, domain.RequestDirect, "", "", err)
		return
	}
	kind := domain.RequestDirect
	if body.Question != "" {
		kind = domain.RequestNaturalLanguage
	}
	if err := validateBody(body); err != nil {
		h.refuse(w, r, http.StatusUnprocessableEntity, kind, body.Question, body.SQL, err)
		return
	}
	opts, err := body.options()
	if err != nil {
		h.refuse(w, r, http.StatusUnprocessableEntity, kind, body.Question, body.SQL, err)
		return
	}

	resp, err := h.deps.Gateway.Submit(r.Context(), gateway.SubmitRequest{
		SQL:      body.SQL,
		Question: body.Question,
		Options:  opts,
	})
	h.writeGatewayResponse(w, r, resp, resp != nil, err)
}

func (h *Handler) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var body TransactionRequest
	if err := h.decode(w, r, &body); err != nil {
		h.refuse(w, r, http.StatusBadRequest, domain.RequestTransaction, "", "", err)
		return
	}
	candidate := strings.Join(body.Statements, "\n")
	if err := validateBody(body); err != nil {
		h.refuse(w, r, http.StatusUnprocessableEntity, domain.RequestTransaction, body.Question, candidate, err)
		return
	}
	opts, err := body.options()
	if err != nil {
		h.refuse(w, r, http.StatusUnprocessableEntity, domain.RequestTransaction, body.Question, candidate, err)
		return
	}

	resp, err := h.deps.Gateway.SubmitTransaction(r.Context(), gateway.TransactionRequest{
		Statements: body.Statements,
		Question:   body.Question,
		Options:    opts,
	})
	h.writeGatewayResponse(w, r, resp, resp != nil, err)
}

// writeGatewayResponse writes a gateway response body with the status its
// error maps to. It falls back to a plain error body when the gateway
// produced no response.
func (h *Handler) writeGatewayResponse(w http.ResponseWriter, r *http.Request, resp interface{}, hasBody bool, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case !hasBody:
		h.writeError(w, r, err)
	default:
		setErrorHeaders(w, err)
		writeJSON(w, httpStatusFromError(err), resp)
	}
}

func (h *Handler) invoke(w http.ResponseWriter, r *http.Request) {
	var body InvokeRequest
	dependency := chi.URLParam(r, "dependency")
	if err := h.decode(w, r, &body); err != nil {
		h.refuse(w, r, http.StatusBadRequest, domain.RequestToolInvocation, dependency, "", err)
		return
	}
	if err := validateBody(body); err != nil {
		h.refuse(w, r, http.StatusUnprocessableEntity, domain.RequestToolInvocation, dependency+"."+body.Operation, "", err)
		return
	}

	res, err := h.deps.Gateway.Invoke(r.Context(), dependency, body.Operation, body.Params,
		time.Duration(body.TimeoutMs)*time.Millisecond)
	if err != nil {
		if httpStatusFromError(err) == http.StatusInternalServerError && domain.ClassOf(err) == domain.ErrorClassExecution {
			// the peer itself failed
			h.writeErrorStatus(w, r, http.StatusBadGateway, err)
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status   string             `json:"status"` // ok, degraded
	Pool     *pool.Stats        `json:"pool,omitempty"`
	Audit    *audit.Health      `json:"audit,omitempty"`
	Breakers []breaker.Snapshot `json:"breakers"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Breakers: []breaker.Snapshot{}}
	if h.deps.PoolStats != nil {
		s := h.deps.PoolStats()
		resp.Pool = &s
		if s.Closed {
			resp.Status = "degraded"
		}
	}
	if h.deps.AuditHealth != nil {
		a := h.deps.AuditHealth()
		resp.Audit = &a
		if a.Degraded {
			resp.Status = "degraded"
		}
	}
	if h.deps.Breakers != nil {
		resp.Breakers = h.deps.Breakers()
		for _, b := range resp.Breakers {
			if b.State != breaker.StateClosed {
				resp.Status = "degraded"
			}
		}
	}

	status := http.StatusOK
	if resp.Pool != nil && resp.Pool.Closed {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// AuditRecord is the JSON form of a persisted audit record.
type AuditRecord struct {
	ID                string             `json:"id"`
	Sequence          int64              `json:"sequence"`
	CreatedAt         time.Time          `json:"created_at"`
	Kind              domain.RequestKind `json:"kind"`
	InputText         string             `json:"input_text,omitempty"`
	CandidateSQL      string             `json:"candidate_sql,omitempty"`
	ValidationOutcome string             `json:"validation_outcome"`
	SanitizedSQL      *string            `json:"sanitized_sql,omitempty"`
	TablesAccessed    []string           `json:"tables_accessed"`
	RejectionCode     *string            `json:"rejection_code,omitempty"`
	DurationMs        int64              `json:"duration_ms"`
	RowCount          *int64             `json:"row_count,omitempty"`
	Success           bool               `json:"success"`
	ErrorClass        domain.ErrorClass  `json:"error_class,omitempty"`
	ErrorDetail       *string            `json:"error_detail,omitempty"`
}

// NewAuditRecord converts a stored record to its JSON form.
func NewAuditRecord(r domain.AuditRecord) AuditRecord {
	tables := r.TablesAccessed
	if tables == nil {
		tables = []string{}
	}
	return AuditRecord{
		ID:                r.ID,
		Sequence:          r.Sequence,
		CreatedAt:         r.CreatedAt,
		Kind:              r.Kind,
		InputText:         r.InputText,
		CandidateSQL:      r.CandidateSQL,
		ValidationOutcome: r.ValidationOutcome,
		SanitizedSQL:      r.SanitizedSQL,
		TablesAccessed:    tables,
		RejectionCode:     r.RejectionCode,
		DurationMs:        r.DurationMs,
		RowCount:          r.RowCount,
		Success:           r.Success,
		ErrorClass:        r.ErrorClass,
		ErrorDetail:       r.ErrorDetail,
	}
}

// AuditListResponse is the body of GET /v1/audit.
type AuditListResponse struct {
	Records []AuditRecord `json:"records"`
	Total   int64         `json:"total"`
}

// parseAuditFilter reads limit, status (success|failure), kind and since
// (RFC 3339) query parameters.
func parseAuditFilter(r *http.Request) (domain.AuditFilter, error) {
	q := r.URL.Query()
	var f domain.AuditFilter
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, domain.ErrValidation("limit must be a positive integer")
		}
		f.Limit = n
	}
	switch strings.ToLower(q.Get("status")) {
	case "":
	case "success":
		ok := true
		f.Success = &ok
	case "failure", "failed":
		ok := false
		f.Success = &ok
	default:
		return f, domain.ErrValidation("status must be success or failure")
	}
	if v := q.Get("kind"); v != "" {
		k := domain.RequestKind(strings.ToLower(v))
		switch k {
		case domain.RequestNaturalLanguage, domain.RequestDirect, domain.RequestTransaction, domain.RequestToolInvocation:
			f.Kind = &k
		default:
			return f, domain.ErrValidation("unknown kind %q", v)
		}
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, domain.ErrValidation("since must be an RFC 3339 timestamp")
		}
		f.Since = &t
	}
	return f, nil
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	if h.deps.AuditReader == nil {
		h.writeError(w, r, domain.ErrNotFound("audit listing requires the sqlite audit sink"))
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.deps.AuditReader.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list audit records", "error", err)
		h.writeError(w, r, err)
		return
	}
	total, err := h.deps.AuditReader.Count(r.Context())
	if err != nil {
		h.logger.Error("count audit records", "error", err)
		h.writeError(w, r, err)
		return
	}

	out := AuditListResponse{Records: make([]AuditRecord, 0, len(records)), Total: total}
	for _, rec := range records {
		out.Records = append(out.Records, NewAuditRecord(rec))
	}
	writeJSON(w, http.StatusOK, out)
}
