// Package domain defines the core types, ports, and error taxonomy shared by
// the gateway components.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass names a category of the gateway error taxonomy. It is recorded
// in audit records and drives HTTP status mapping.
type ErrorClass string

// ErrorClassPolicyViolation and friends enumerate the error taxonomy.
const (
	ErrorClassNone                  ErrorClass = ""
	ErrorClassPolicyViolation       ErrorClass = "POLICY_VIOLATION"
	ErrorClassMalformedInput        ErrorClass = "MALFORMED_INPUT"
	ErrorClassResourceExhausted     ErrorClass = "RESOURCE_EXHAUSTED"
	ErrorClassExecutionTimeout      ErrorClass = "EXECUTION_TIMEOUT"
	ErrorClassTransactionFailure    ErrorClass = "TRANSACTION_FAILURE"
	ErrorClassDependencyUnavailable ErrorClass = "DEPENDENCY_UNAVAILABLE"
	ErrorClassAuditDegraded         ErrorClass = "AUDIT_DEGRADED"
	ErrorClassExecution             ErrorClass = "EXECUTION_ERROR"
	ErrorClassInternal              ErrorClass = "INTERNAL"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid request input that never reached the
// validator (empty SQL, bad options).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// PolicyViolationError is returned at the gateway boundary when the validator
// rejects a statement. Malformed input uses the same type with
// ErrorClassMalformedInput. Never retried.
type PolicyViolationError struct {
	Class  ErrorClass
	Code   string
	Reason string
}

func (e *PolicyViolationError) Error() string { return e.Reason }

// ResourceExhaustedError indicates no connection became available within the
// queue-wait timeout. Retryable by the caller.
type ResourceExhaustedError struct {
	Role string
	Wait time.Duration
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("no %s connection available within %s", e.Role, e.Wait)
}

// ExecutionTimeoutError indicates an accepted statement exceeded its time
// budget. The statement was valid; it was too expensive.
type ExecutionTimeoutError struct {
	Timeout time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution exceeded timeout of %s", e.Timeout)
}

// TransactionError reports the failing statement of a rolled-back
// transaction. Succeeded counts the statements that ran before it; they were
// rolled back too.
type TransactionError struct {
	FailedIndex int
	Succeeded   int
	Err         error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction rolled back at statement %d (%d succeeded before it): %v",
		e.FailedIndex, e.Succeeded, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// DependencyUnavailableError indicates the circuit for an external peer is
// open. It heals itself through the half-open probe.
type DependencyUnavailableError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("dependency circuit open: %s", e.Dependency)
}

// AuditError indicates the audit trail could not accept a record. Requests
// are never considered served without their record.
type AuditError struct {
	Err error
}

func (e *AuditError) Error() string { return "audit write failed: " + e.Err.Error() }

func (e *AuditError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ClassOf maps an error to its taxonomy class.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ErrorClassNone
	}
	var (
		pv *PolicyViolationError
		re *ResourceExhaustedError
		et *ExecutionTimeoutError
		te *TransactionError
		du *DependencyUnavailableError
		ae *AuditError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &pv):
		return pv.Class
	case errors.As(err, &ve):
		return ErrorClassMalformedInput
	case errors.As(err, &re):
		return ErrorClassResourceExhausted
	case errors.As(err, &et):
		return ErrorClassExecutionTimeout
	case errors.As(err, &te):
		return ErrorClassTransactionFailure
	case errors.As(err, &du):
		return ErrorClassDependencyUnavailable
	case errors.As(err, &ae):
		return ErrorClassAuditDegraded
	default:
		return ErrorClassExecution
	}
}

// IsRetryable reports whether the caller may retry the request. Only
// resource exhaustion and execution timeouts qualify; the gateway itself
// never retries.
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ErrorClassResourceExhausted, ErrorClassExecutionTimeout:
		return true
	default:
		return false
	}
}
