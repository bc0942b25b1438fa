// Package errors provides the error taxonomy shared by every component of
// the presence layer. Errors carry both a Kind (what went wrong) and a
// Category (whether retry logic may try again).
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory determines how errors should be handled by retry logic.
type ErrorCategory int

const (
	// Recoverable errors should be retried with exponential backoff.
	// Examples: 500 Internal Server Error, network timeouts, connection failures.
	Recoverable ErrorCategory = iota

	// Irrecoverable errors should fail immediately without retry.
	// Examples: 401 Unauthorized, 400 Bad Request, malformed samples.
	Irrecoverable
)

// String returns a human-readable representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// Kind names the failure in terms callers act on.
type Kind int

const (
	KindTransport Kind = iota
	KindUnauthenticated
	KindPermissionDenied
	KindValidation
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindPermissionDenied:
		return "permission denied"
	case KindValidation:
		return "validation"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels, one per Kind. A *ClassifiedError matches its Kind's sentinel
// under errors.Is.
var (
	ErrTransport        = stderrors.New("transport error")
	ErrUnauthenticated  = stderrors.New("unauthenticated")
	ErrPermissionDenied = stderrors.New("location permission denied")
	ErrValidation       = stderrors.New("validation error")
	ErrProtocol         = stderrors.New("protocol error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnauthenticated:
		return ErrUnauthenticated
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindValidation:
		return ErrValidation
	case KindProtocol:
		return ErrProtocol
	default:
		return ErrTransport
	}
}

// ClassifiedError wraps an error with categorization metadata for retry policies.
type ClassifiedError struct {
	Kind       Kind
	Category   ErrorCategory
	StatusCode int    // HTTP status code (0 for non-HTTP errors)
	Body       string // Response body for debugging
	Underlying error  // The original error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Kind, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Kind, e.Underlying)
}

// Unwrap returns the underlying error for error chain compatibility.
func (e *ClassifiedError) Unwrap() error {
	return e.Underlying
}

// Is reports whether target is the sentinel for e.Kind.
func (e *ClassifiedError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// New builds a ClassifiedError of the given kind. Transport errors are
// recoverable, everything else is not.
func New(kind Kind, err error) *ClassifiedError {
	cat := Irrecoverable
	if kind == KindTransport {
		cat = Recoverable
	}
	return &ClassifiedError{Kind: kind, Category: cat, Underlying: err}
}

// Validationf returns an irrecoverable validation error.
func Validationf(format string, args ...any) *ClassifiedError {
	return New(KindValidation, fmt.Errorf(format, args...))
}

// Protocolf returns a protocol error for a malformed frame.
func Protocolf(format string, args ...any) *ClassifiedError {
	return New(KindProtocol, fmt.Errorf(format, args...))
}

// IsIrrecoverable returns true if the error should not be retried.
func IsIrrecoverable(err error) bool {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified.Category == Irrecoverable
	}
	return false
}

// IsRetryable is the inverse of IsIrrecoverable for non-nil errors.
// Unclassified errors are treated as retryable.
func IsRetryable(err error) bool {
	return err != nil && !IsIrrecoverable(err)
}

// KindOf returns the Kind of err, defaulting to KindTransport for
// unclassified errors.
func KindOf(err error) Kind {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified.Kind
	}
	return KindTransport
}
