package domain

import (
	"context"
	"time"
)

// RequestKind distinguishes requests that started as a natural-language
// question from direct SQL submissions.
type RequestKind string

// RequestKind values.
const (
	RequestNaturalLanguage RequestKind = "natural_language"
	RequestDirect          RequestKind = "direct"
	RequestTransaction     RequestKind = "transaction"
	RequestToolInvocation  RequestKind = "tool_invocation"
)

// Validation outcomes stored on audit records.
const (
	OutcomeAccepted = "ACCEPTED"
	OutcomeRejected = "REJECTED"
	OutcomeSkipped  = "SKIPPED" // tool invocations carry no SQL
)

// AuditRecord is the immutable entry written for every gateway request.
type AuditRecord struct {
	ID                string
	Sequence          int64
	CreatedAt         time.Time
	Kind              RequestKind
	InputText         string
	CandidateSQL      string
	ValidationOutcome string
	SanitizedSQL      *string
	TablesAccessed    []string
	RejectionCode     *string
	DurationMs        int64
	RowCount          *int64
	Success           bool
	ErrorClass        ErrorClass
	ErrorDetail       *string
}

// Age returns how long ago the record was written. Retention is enforced by
// external pruning against this value.
func (r *AuditRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// AuditFilter narrows audit listings.
type AuditFilter struct {
	Success *bool
	Kind    *RequestKind
	Since   *time.Time
	Limit   int
}

// EffectiveLimit clamps the listing size to [1, 1000], defaulting to 100.
func (f AuditFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return 100
	case f.Limit > 1000:
		return 1000
	default:
		return f.Limit
	}
}

// AuditSink is the durable, append-only store behind the audit logger.
type AuditSink interface {
	Append(ctx context.Context, rec *AuditRecord) error
}

// AuditReader lists persisted audit records. Implemented by the SQLite sink.
type AuditReader interface {
	List(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
	Count(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
