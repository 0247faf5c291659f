package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"duck-gateway/internal/domain"
)

// ErrorBody is the JSON shape of every error response that carries no
// richer gateway response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure.
type ErrorDetail struct {
	Class     domain.ErrorClass `json:"class,omitempty"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	AuditID   string            `json:"audit_id,omitempty"`
}

// httpStatusFromError maps gateway errors to HTTP status codes through their
// taxonomy class.
func httpStatusFromError(err error) int {
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	switch domain.ClassOf(err) {
	case domain.ErrorClassNone:
		return http.StatusOK
	case domain.ErrorClassPolicyViolation, domain.ErrorClassMalformedInput:
		return http.StatusUnprocessableEntity
	case domain.ErrorClassResourceExhausted, domain.ErrorClassDependencyUnavailable:
		return http.StatusServiceUnavailable
	case domain.ErrorClassExecutionTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrorClassTransactionFailure:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// retryAfter returns the Retry-After value for retryable capacity errors.
func retryAfter(err error) (string, bool) {
	var (
		re *domain.ResourceExhaustedError
		du *domain.DependencyUnavailableError
		d  time.Duration
	)
	switch {
	case errors.As(err, &re):
		d = re.Wait
	case errors.As(err, &du):
		d = du.RetryAfter
	default:
		return "", false
	}
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs), true
}

// setErrorHeaders adds Retry-After where applicable.
func setErrorHeaders(w http.ResponseWriter, err error) {
	if v, ok := retryAfter(err); ok {
		w.Header().Set("Retry-After", v)
	}
}
