package presence

import (
	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/socket"
)

// Re-exported error kinds so callers compare against a single symbol with
// errors.Is.
var (
	ErrPermissionDenied = perrors.ErrPermissionDenied
	ErrUnauthenticated  = perrors.ErrUnauthenticated
	ErrTransport        = perrors.ErrTransport
	ErrValidation       = perrors.ErrValidation
	ErrProtocol         = perrors.ErrProtocol

	// ErrNotConnected is returned by socket sends while not registered.
	ErrNotConnected = socket.ErrNotConnected
)

// ClassifiedError carries the kind, category and HTTP details of a failure.
type ClassifiedError = perrors.ClassifiedError

// IsRetryable reports whether retrying err may succeed.
func IsRetryable(err error) bool { return perrors.IsRetryable(err) }
