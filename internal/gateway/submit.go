package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"duck-gateway/internal/domain"
	"duck-gateway/internal/pool"
	"duck-gateway/internal/validator"
)

// ExecutionOptions tune how an accepted statement runs. Zero values take
// pool defaults.
type ExecutionOptions struct {
	Priority    pool.Priority
	Timeout     time.Duration
	WaitTimeout time.Duration
}

// SubmitRequest is one candidate statement. Question carries the analyst's
// original text when the SQL was generated from it.
type SubmitRequest struct {
	SQL      string
	Question string
	Kind     domain.RequestKind
	Options  ExecutionOptions
}

// Rejection is the reason a request was refused.
type Rejection struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Metadata describes how a request was handled.
type Metadata struct {
	AuditID      string             `json:"audit_id"`
	Kind         domain.RequestKind `json:"kind"`
	Outcome      string             `json:"validation_outcome"`
	SanitizedSQL string             `json:"sanitized_sql,omitempty"`
	Tables       []string           `json:"tables,omitempty"`
	Columns      []string           `json:"columns,omitempty"`
	Limit        int                `json:"limit,omitempty"`
	RowCount     int                `json:"row_count"`
	DurationMs   int64              `json:"duration_ms"`
	ErrorClass   domain.ErrorClass  `json:"error_class,omitempty"`
}

// SubmitResponse is the answer to Submit. Exactly one of Rows and Rejection
// is meaningful: Rows when Success, Rejection when validation refused the
// statement.
type SubmitResponse struct {
	Success   bool            `json:"success"`
	Columns   []string        `json:"columns,omitempty"`
	Rows      [][]interface{} `json:"rows,omitempty"`
	Rejection *Rejection      `json:"rejection,omitempty"`
	Error     string          `json:"error,omitempty"`
	Metadata  Metadata        `json:"metadata"`
}

// Submit validates req.SQL, runs it on a reader when accepted, and writes one
// audit record. The response is always non-nil. A rejection is returned as a
// *domain.PolicyViolationError alongside the response; execution and audit
// failures are returned as their typed errors.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	start := g.now()
	kind := kindFor(req.Kind, req.Question)
	rec := newRecord(kind, req.Question, req.SQL)
	resp := &SubmitResponse{Metadata: Metadata{AuditID: rec.ID, Kind: kind}}

	verdict := g.validator.Validate(req.SQL)
	rec.ValidationOutcome = string(verdict.Outcome())
	resp.Metadata.Outcome = rec.ValidationOutcome

	var err error
	if rej, rejected := verdict.Rejection(); rejected {
		rec.RejectionCode = strPtr(rej.Code)
		resp.Rejection = &Rejection{Code: rej.Code, Reason: rej.Reason}
		err = rej.Error()
		g.logger.Info("statement rejected", "audit_id", rec.ID, "code", rej.Code, "reason", rej.Reason)
	} else {
		sanitized := verdict.Sanitized()
		rec.SanitizedSQL = strPtr(sanitized)
		rec.TablesAccessed = verdict.Tables()
		resp.Metadata.SanitizedSQL = sanitized
		resp.Metadata.Tables = verdict.Tables()
		resp.Metadata.Columns = verdict.Columns()
		resp.Metadata.Limit = verdict.Limit()

		var res *pool.QueryResult
		res, err = g.exec.Query(ctx, sanitized, nil, pool.QueryOptions{
			Role:        pool.RoleReader,
			Priority:    req.Options.Priority,
			Timeout:     req.Options.Timeout,
			WaitTimeout: req.Options.WaitTimeout,
		})
		if err == nil {
			rec.RowCount = int64Ptr(int64(res.RowCount))
			resp.Columns = res.Columns
			resp.Rows = res.Rows
			resp.Metadata.RowCount = res.RowCount
		} else {
			g.logger.Warn("execution failed", "audit_id", rec.ID, "error", err)
		}
	}

	err = g.finish(ctx, &rec, start, err)
	resp.Metadata.DurationMs = rec.DurationMs
	resp.Metadata.ErrorClass = rec.ErrorClass
	if err != nil {
		resp.Success = false
		resp.Columns, resp.Rows = nil, nil
		if resp.Rejection == nil {
			resp.Error = err.Error()
		}
		return resp, err
	}
	resp.Success = true
	return resp, nil
}

// TransactionRequest is a group of statements that run together.
type TransactionRequest struct {
	Statements []string
	Question   string
	Options    ExecutionOptions
}

// TransactionResponse is the answer to SubmitTransaction.
type TransactionResponse struct {
	Success     bool                `json:"success"`
	Results     []*pool.QueryResult `json:"results,omitempty"`
	Rejection   *Rejection          `json:"rejection,omitempty"`
	FailedIndex *int                `json:"failed_index,omitempty"`
	Error       string              `json:"error,omitempty"`
	Metadata    Metadata            `json:"metadata"`
}

// SubmitTransaction validates every statement under the same policy. Any
// rejection refuses the whole group before anything runs; otherwise the
// sanitized statements execute in one pool transaction. One audit record
// covers the group.
func (g *Gateway) SubmitTransaction(ctx context.Context, req TransactionRequest) (*TransactionResponse, error) {
	start := g.now()
	kind := domain.RequestTransaction
	rec := newRecord(kind, req.Question, strings.Join(req.Statements, "\n"))
	resp := &TransactionResponse{Metadata: Metadata{AuditID: rec.ID, Kind: kind}}

	sanitized, tables, columns, rej := g.validateAll(req.Statements)

	var err error
	switch {
	case len(req.Statements) == 0:
		rec.ValidationOutcome = domain.OutcomeRejected
		err = domain.ErrValidation("transaction has no statements")
	case rej != nil:
		rec.ValidationOutcome = domain.OutcomeRejected
		rec.RejectionCode = strPtr(rej.Code)
		resp.Rejection = &Rejection{Code: rej.Code, Reason: rej.Reason}
		err = rej.Error()
		g.logger.Info("transaction rejected", "audit_id", rec.ID, "code", rej.Code, "reason", rej.Reason)
	default:
		rec.ValidationOutcome = domain.OutcomeAccepted
		joined := strings.Join(sanitized, "\n")
		rec.SanitizedSQL = strPtr(joined)
		rec.TablesAccessed = tables
		resp.Metadata.SanitizedSQL = joined
		resp.Metadata.Tables = tables
		resp.Metadata.Columns = columns

		stmts := make([]pool.Statement, len(sanitized))
		for i, s := range sanitized {
			stmts[i] = pool.Statement{SQL: s}
		}
		var res *pool.TxResult
		res, err = g.exec.Transaction(ctx, stmts, pool.TxOptions{
			Priority:    req.Options.Priority,
			Timeout:     req.Options.Timeout,
			WaitTimeout: req.Options.WaitTimeout,
		})
		if err == nil {
			total := 0
			for _, r := range res.Results {
				total += r.RowCount
			}
			rec.RowCount = int64Ptr(int64(total))
			resp.Results = res.Results
			resp.Metadata.RowCount = total
		} else {
			g.logger.Warn("transaction failed", "audit_id", rec.ID, "error", err)
		}
	}
	resp.Metadata.Outcome = rec.ValidationOutcome

	err = g.finish(ctx, &rec, start, err)
	resp.Metadata.DurationMs = rec.DurationMs
	resp.Metadata.ErrorClass = rec.ErrorClass
	if err != nil {
		resp.Success = false
		resp.Results = nil
		if resp.Rejection == nil {
			resp.Error = err.Error()
		}
		var te *domain.TransactionError
		if errors.As(err, &te) {
			idx := te.FailedIndex
			resp.FailedIndex = &idx
		}
		return resp, err
	}
	resp.Success = true
	return resp, nil
}

// validateAll validates each statement in order and stops at the first
// rejection, whose reason names the statement's position.
func (g *Gateway) validateAll(stmts []string) (sanitized, tables, columns []string, rej *validator.Rejection) {
	tableSet := make(map[string]bool)
	colSet := make(map[string]bool)
	for i, s := range stmts {
		verdict := g.validator.Validate(s)
		if r, rejected := verdict.Rejection(); rejected {
			r.Reason = fmt.Sprintf("statement %d: %s", i+1, r.Reason)
			return nil, nil, nil, &r
		}
		sanitized = append(sanitized, verdict.Sanitized())
		for _, t := range verdict.Tables() {
			tableSet[t] = true
		}
		for _, c := range verdict.Columns() {
			colSet[c] = true
		}
	}
	return sanitized, sortedKeys(tableSet), sortedKeys(colSet), nil
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
