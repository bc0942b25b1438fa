package errors

import (
	"fmt"
	"net/http"
)

// ClassifyHTTPError maps a non-2xx response to the taxonomy:
//   - 401/403 are Unauthenticated and never retried
//   - 408, 429 and 5xx are Transport errors and retried with backoff
//   - every other 4xx is a Validation error (the server rejected the input)
func ClassifyHTTPError(statusCode int, body string, underlyingErr error) *ClassifiedError {
	kind := getHTTPErrorKind(statusCode)
	e := New(kind, underlyingErr)
	e.StatusCode = statusCode
	e.Body = body
	return e
}

func getHTTPErrorKind(statusCode int) Kind {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindUnauthenticated
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests:
		return KindTransport
	case statusCode >= 400 && statusCode < 500:
		return KindValidation
	default:
		// 5xx and unexpected codes: be conservative and retry
		return KindTransport
	}
}

// NewHTTPError creates a classified error for HTTP failures.
func NewHTTPError(statusCode int, body string, operation string) *ClassifiedError {
	underlyingErr := fmt.Errorf("%s failed: HTTP %d", operation, statusCode)
	return ClassifyHTTPError(statusCode, body, underlyingErr)
}

// NewNetworkError creates a classified error for network-level failures.
// Network errors are always recoverable as they may be transient.
func NewNetworkError(operation string, err error) *ClassifiedError {
	return New(KindTransport, fmt.Errorf("%s network error: %w", operation, err))
}
