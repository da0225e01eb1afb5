package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryTransport covers network failures and timeouts talking to the upstream
	CategoryTransport ErrorCategory = "transport"
	// CategoryUpstream covers non-2xx responses and malformed bodies
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryNormalization covers a single unusable upstream record
	CategoryNormalization ErrorCategory = "normalization"
	// CategoryPersistence covers canonical store failures
	CategoryPersistence ErrorCategory = "persistence"
	// CategoryQueue covers queue backend failures
	CategoryQueue ErrorCategory = "queue"
	// CategoryValidation represents bad input from an operator or a job payload
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConfiguration represents invalid startup configuration
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryInternal represents everything else
	CategoryInternal ErrorCategory = "internal"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Upstream errors

// NewTransportError reports that the request to an upstream endpoint never got a response.
func NewTransportError(endpoint string, cause error) *CategorizedError {
	code := "UPSTREAM_UNREACHABLE"
	status := http.StatusBadGateway
	if stderrors.Is(cause, context.DeadlineExceeded) {
		code = "UPSTREAM_TIMEOUT"
		status = http.StatusGatewayTimeout
	}
	return &CategorizedError{
		Category:   CategoryTransport,
		StatusCode: status,
		Code:       code,
		Message:    fmt.Sprintf("transport error calling %s", endpoint),
		Cause:      cause,
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
	}
}

// NewUpstreamError reports a response the fetcher could not use.
// upstreamStatus is the HTTP status returned by the upstream, or 0 when the
// status was fine but the body was not.
func NewUpstreamError(endpoint string, upstreamStatus int, cause error) *CategorizedError {
	msg := fmt.Sprintf("upstream %s returned status %d", endpoint, upstreamStatus)
	code := "UPSTREAM_STATUS"
	if upstreamStatus == 0 || (upstreamStatus >= 200 && upstreamStatus < 300) {
		msg = fmt.Sprintf("malformed response from %s", endpoint)
		code = "UPSTREAM_MALFORMED"
	}
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       code,
		Message:    msg,
		Cause:      cause,
		Details: map[string]interface{}{
			"endpoint":       endpoint,
			"upstreamStatus": upstreamStatus,
		},
	}
}

// NewNormalizationError reports a single upstream record that was dropped.
func NewNormalizationError(entity string, ref interface{}, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNormalization,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "INVALID_RECORD",
		Message:    fmt.Sprintf("dropping %s record %v: %s", entity, ref, reason),
		Details: map[string]interface{}{
			"entity": entity,
			"ref":    ref,
			"reason": reason,
		},
	}
}

// Store errors

// NewPersistenceError wraps a canonical store failure
func NewPersistenceError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPersistence,
		StatusCode: http.StatusInternalServerError,
		Code:       "PERSISTENCE_ERROR",
		Message:    fmt.Sprintf("persistence error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewQueueError wraps a queue backend failure
func NewQueueError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryQueue,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "QUEUE_ERROR",
		Message:    fmt.Sprintf("queue error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Input errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConfigurationError reports invalid startup configuration
func NewConfigurationError(setting string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusInternalServerError,
		Code:       "INVALID_CONFIGURATION",
		Message:    fmt.Sprintf("invalid configuration for %s: %s", setting, reason),
		Details: map[string]interface{}{
			"setting": setting,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInternal,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize finds the outermost CategorizedError in err's chain. Errors
// without one are reported as internal.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// HasCategory reports whether err carries the given category
func HasCategory(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == category
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines whether a failed job should go back through backoff.
// Uncategorized errors are retried: a job that fails for an unknown reason
// still gets its bounded attempts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return true
	}

	switch catErr.Category {
	case CategoryTransport, CategoryUpstream, CategoryPersistence, CategoryQueue, CategoryInternal:
		return true
	default:
		return false
	}
}
