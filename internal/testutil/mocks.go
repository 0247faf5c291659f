// Package testutil provides shared mock implementations of the gateway's
// collaborator interfaces for use in tests across the codebase. This follows
// the Go convention of a shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"duck-gateway/internal/domain"
	"duck-gateway/internal/pool"
	"duck-gateway/internal/tools"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// === Executor Mock ===

// MockExecutor implements gateway.Executor for testing.
type MockExecutor struct {
	QueryFn       func(ctx context.Context, sql string, args []interface{}, opts pool.QueryOptions) (*pool.QueryResult, error)
	TransactionFn func(ctx context.Context, stmts []pool.Statement, opts pool.TxOptions) (*pool.TxResult, error)

	mu      sync.Mutex
	Queries []string // SQL passed to Query, in call order
	Txns    [][]pool.Statement
}

// Query implements the interface method for testing.
func (m *MockExecutor) Query(ctx context.Context, sql string, args []interface{}, opts pool.QueryOptions) (*pool.QueryResult, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, sql)
	m.mu.Unlock()
	if m.QueryFn != nil {
		return m.QueryFn(ctx, sql, args, opts)
	}
	return &pool.QueryResult{}, nil
}

// Transaction implements the interface method for testing.
func (m *MockExecutor) Transaction(ctx context.Context, stmts []pool.Statement, opts pool.TxOptions) (*pool.TxResult, error) {
	m.mu.Lock()
	m.Txns = append(m.Txns, stmts)
	m.mu.Unlock()
	if m.TransactionFn != nil {
		return m.TransactionFn(ctx, stmts, opts)
	}
	results := make([]*pool.QueryResult, len(stmts))
	for i := range stmts {
		results[i] = &pool.QueryResult{}
	}
	return &pool.TxResult{Results: results}, nil
}

// QueryCount returns how many times Query was called.
func (m *MockExecutor) QueryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Queries)
}

// === Audit Recorder Mock ===

// MockRecorder implements gateway.Recorder for testing.
type MockRecorder struct {
	RecordFn func(ctx context.Context, rec domain.AuditRecord) error

	mu      sync.Mutex
	Records []domain.AuditRecord // collected records for assertions
}

// Record implements the interface method for testing. Records are only
// collected when RecordFn succeeds.
func (m *MockRecorder) Record(ctx context.Context, rec domain.AuditRecord) error {
	if m.RecordFn != nil {
		if err := m.RecordFn(ctx, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Sequence = int64(len(m.Records) + 1)
	m.Records = append(m.Records, rec)
	return nil
}

// Count returns the number of collected records.
func (m *MockRecorder) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records)
}

// Last returns the last collected record, or nil if none.
func (m *MockRecorder) Last() *domain.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Records) == 0 {
		return nil
	}
	rec := m.Records[len(m.Records)-1]
	return &rec
}

// === Tool Invoker Mock ===

// MockToolInvoker implements gateway.ToolInvoker for testing.
type MockToolInvoker struct {
	InvokeFn func(ctx context.Context, dependency, operation string, params map[string]interface{}, timeout time.Duration) (*tools.Result, error)
}

// Invoke implements the interface method for testing.
func (m *MockToolInvoker) Invoke(ctx context.Context, dependency, operation string, params map[string]interface{}, timeout time.Duration) (*tools.Result, error) {
	if m.InvokeFn != nil {
		return m.InvokeFn(ctx, dependency, operation, params, timeout)
	}
	return &tools.Result{Dependency: dependency, Operation: operation, Data: json.RawMessage(`null`)}, nil
}

// === Audit Reader Mock ===

// MockAuditReader implements domain.AuditReader for testing.
type MockAuditReader struct {
	ListFn            func(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error)
	CountFn           func(ctx context.Context) (int64, error)
	DeleteOlderThanFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

// List implements the interface method for testing.
func (m *MockAuditReader) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockAuditReader.List")
}

// Count implements the interface method for testing.
func (m *MockAuditReader) Count(ctx context.Context) (int64, error) {
	if m.CountFn != nil {
		return m.CountFn(ctx)
	}
	panic("unexpected call to MockAuditReader.Count")
}

// DeleteOlderThan implements the interface method for testing.
func (m *MockAuditReader) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFn != nil {
		return m.DeleteOlderThanFn(ctx, cutoff)
	}
	panic("unexpected call to MockAuditReader.DeleteOlderThan")
}
