// Package gateway is the single entry point for candidate SQL: every request
// is validated, executed through the pool when accepted, and audited exactly
// once.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"duck-gateway/internal/domain"
	"duck-gateway/internal/pool"
	"duck-gateway/internal/tools"
	"duck-gateway/internal/validator"
)

// Executor runs sanitized statements. Implemented by *pool.Pool.
type Executor interface {
	Query(ctx context.Context, sql string, args []interface{}, opts pool.QueryOptions) (*pool.QueryResult, error)
	Transaction(ctx context.Context, stmts []pool.Statement, opts pool.TxOptions) (*pool.TxResult, error)
}

// Recorder persists audit records. Implemented by *audit.Logger.
type Recorder interface {
	Record(ctx context.Context, rec domain.AuditRecord) error
}

// ToolInvoker calls external dependencies. Implemented by *tools.Invoker.
type ToolInvoker interface {
	Invoke(ctx context.Context, dependency, operation string, params map[string]interface{}, timeout time.Duration) (*tools.Result, error)
}

// Observer is told about every finished request. outcome is one of the
// domain.Outcome* values.
type Observer interface {
	ObserveRequest(kind domain.RequestKind, outcome string, class domain.ErrorClass, elapsed time.Duration)
}

// Config holds the gateway's collaborators. Tools and Observer are
// optional.
type Config struct {
	Validator *validator.Validator
	Executor  Executor
	Audit     Recorder
	Tools     ToolInvoker
	Observer  Observer
	Logger    *slog.Logger
}

// Gateway orchestrates validation, execution and audit.
type Gateway struct {
	validator *validator.Validator
	exec      Executor
	audit     Recorder
	tools     ToolInvoker
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Validator == nil {
		return nil, errors.New("gateway: validator is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("gateway: executor is required")
	}
	if cfg.Audit == nil {
		return nil, errors.New("gateway: audit recorder is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		validator: cfg.Validator,
		exec:      cfg.Executor,
		audit:     cfg.Audit,
		tools:     cfg.Tools,
		observer:  cfg.Observer,
		logger:    logger.With("component", "gateway"),
		now:       time.Now,
	}, nil
}

// finish completes rec, writes it, and notifies the observer. A failed audit
// write replaces err: a request whose trail could not be kept fails.
func (g *Gateway) finish(ctx context.Context, rec *domain.AuditRecord, start time.Time, err error) error {
	rec.DurationMs = g.now().Sub(start).Milliseconds()
	rec.Success = err == nil
	rec.ErrorClass = domain.ClassOf(err)
	if err != nil {
		detail := err.Error()
		rec.ErrorDetail = &detail
	}

	if aerr := g.audit.Record(ctx, *rec); aerr != nil {
		g.logger.Error("audit write failed", "audit_id", rec.ID, "kind", rec.Kind, "error", aerr)
		err = &domain.AuditError{Err: aerr}
		rec.Success = false
		rec.ErrorClass = domain.ErrorClassAuditDegraded
	}

	if g.observer != nil {
		g.observer.ObserveRequest(rec.Kind, rec.ValidationOutcome, rec.ErrorClass, g.now().Sub(start))
	}
	return err
}

// CodeMalformedRequest is the rejection code of a request refused before
// its SQL reached the validator.
const CodeMalformedRequest = "MALFORMED_REQUEST"

// RejectRequest audits a request that was refused before it could be
// submitted, such as a body that failed to decode. It returns the audit id
// and cause, or a *domain.AuditError when the record could not be written.
func (g *Gateway) RejectRequest(ctx context.Context, kind domain.RequestKind, input, candidate string, cause error) (string, error) {
	start := g.now()
	rec := newRecord(kind, input, candidate)
	rec.ValidationOutcome = domain.OutcomeRejected
	rec.RejectionCode = strPtr(CodeMalformedRequest)
	g.logger.Info("request refused", "audit_id", rec.ID, "kind", kind, "error", cause)
	return rec.ID, g.finish(ctx, &rec, start, cause)
}

func newRecord(kind domain.RequestKind, input, candidate string) domain.AuditRecord {
	return domain.AuditRecord{
		ID:           domain.NewID(),
		Kind:         kind,
		InputText:    input,
		CandidateSQL: candidate,
	}
}

func kindFor(explicit domain.RequestKind, question string) domain.RequestKind {
	if explicit != "" {
		return explicit
	}
	if question != "" {
		return domain.RequestNaturalLanguage
	}
	return domain.RequestDirect
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }
