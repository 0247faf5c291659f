package validator

import "duck-gateway/internal/domain"

// Outcome is the verdict of a validation.
type Outcome string

// Validation outcomes.
const (
	OutcomeAccepted Outcome = domain.OutcomeAccepted
	OutcomeRejected Outcome = domain.OutcomeRejected
)

// Rejection codes. Each corresponds to one validation step.
const (
	CodeForbiddenPattern = "forbidden_pattern"
	CodeMalformedSQL     = "malformed_sql"
	CodeNonASCII         = "non_ascii"
	CodeStatementKind    = "statement_kind"
	CodeSetOperation     = "set_operation"
	CodeTableNotAllowed  = "table_not_allowed"
	CodeTableFunction    = "table_function"
	CodeBlockedFunction  = "blocked_function"
	CodeColumnNotAllowed = "column_not_allowed"
	CodeAmbiguousColumn  = "ambiguous_column"
	CodeWildcard         = "wildcard"
	CodeRowLimit         = "row_limit"
	CodeInternal         = "internal"
)

// Rejection explains why a statement was refused.
type Rejection struct {
	Code   string
	Reason string
}

// Class maps the rejection to the error taxonomy. Parse failures are
// malformed input; everything else is a policy violation.
func (r Rejection) Class() domain.ErrorClass {
	switch r.Code {
	case CodeMalformedSQL, CodeNonASCII:
		return domain.ErrorClassMalformedInput
	case CodeInternal:
		return domain.ErrorClassInternal
	default:
		return domain.ErrorClassPolicyViolation
	}
}

// Error converts the rejection into the error returned at the gateway edge.
func (r Rejection) Error() error {
	return &domain.PolicyViolationError{Class: r.Class(), Code: r.Code, Reason: r.Reason}
}

// Result is the verdict for one candidate statement. It is either accepted,
// carrying the rewritten statement and what it touches, or rejected,
// carrying only a code and a reason. The accessors of an accepted result
// return zero values on a rejected one.
type Result struct {
	outcome   Outcome
	sanitized string
	tables    []string
	columns   []string
	limit     int
	rejection Rejection
}

func accepted(sanitized string, tables, columns []string, limit int) Result {
	return Result{
		outcome:   OutcomeAccepted,
		sanitized: sanitized,
		tables:    tables,
		columns:   columns,
		limit:     limit,
	}
}

func rejected(code, reason string) Result {
	return Result{outcome: OutcomeRejected, rejection: Rejection{Code: code, Reason: reason}}
}

// Outcome returns the verdict.
func (r Result) Outcome() Outcome { return r.outcome }

// Accepted reports whether the statement may be executed.
func (r Result) Accepted() bool { return r.outcome == OutcomeAccepted }

// Sanitized returns the statement to execute, with the row limit applied.
// Empty unless accepted.
func (r Result) Sanitized() string {
	if !r.Accepted() {
		return ""
	}
	return r.sanitized
}

// Tables returns the sorted canonical names of referenced base tables.
func (r Result) Tables() []string {
	if !r.Accepted() {
		return nil
	}
	return append([]string(nil), r.tables...)
}

// Columns returns the sorted table.column pairs the statement reads.
func (r Result) Columns() []string {
	if !r.Accepted() {
		return nil
	}
	return append([]string(nil), r.columns...)
}

// Limit returns the effective row cap of the sanitized statement.
func (r Result) Limit() int {
	if !r.Accepted() {
		return 0
	}
	return r.limit
}

// Rejection returns the rejection and true when the statement was refused.
func (r Result) Rejection() (Rejection, bool) {
	if r.Accepted() {
		return Rejection{}, false
	}
	return r.rejection, true
}
