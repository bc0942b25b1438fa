// Package transport is the I/O boundary of the presence layer: request /
// response calls over HTTP and a duplex socket dialer. It performs no retries
// and carries no business logic, so higher layers can be tested against a
// fake implementation.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mycelian/vendor-presence/internal/credential"
	perrors "github.com/mycelian/vendor-presence/internal/errors"
)

// Request describes one REST call. Path is relative to the base URL.
type Request struct {
	Method    string
	Path      string
	Body      any
	Operation string // short name used in errors and logs, e.g. "list conversations"
}

// Response is the raw outcome of a call that reached the server.
type Response struct {
	StatusCode int
	Body       []byte
}

// Sender is what the API layer depends on.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// REST sends requests with resty over the SDK's http.Client.
type REST struct {
	client *resty.Client
	creds  credential.Store
	log    zerolog.Logger
}

// NewREST wraps httpClient (keeping its transport chain and timeout) for
// calls against baseURL. Retries are disabled: retry policy belongs to the
// callers.
func NewREST(httpClient *http.Client, baseURL string, creds credential.Store, logger zerolog.Logger) *REST {
	c := resty.NewWithClient(httpClient).
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	return &REST{
		client: c,
		creds:  creds,
		log:    logger.With().Str("component", "transport").Logger(),
	}
}

// Send attaches the stored credential and performs the call. It fails fast
// with ErrUnauthenticated when no credential is stored. Any response that
// reaches the server is returned as-is; status handling belongs to the caller.
func (r *REST) Send(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token, err := bearerToken(ctx, r.creds, req.Operation)
	if err != nil {
		return nil, err
	}

	reqID := uuid.NewString()
	rr := r.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Request-ID", reqID)
	if req.Body != nil {
		rr.SetBody(req.Body)
	}

	resp, err := rr.Execute(req.Method, req.Path)
	if err != nil {
		r.log.Debug().Err(err).Str("request_id", reqID).Str("op", req.Operation).Msg("request failed")
		return nil, perrors.NewNetworkError(req.Operation, err)
	}
	r.log.Debug().
		Str("request_id", reqID).
		Str("op", req.Operation).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode()).
		Dur("took", resp.Time()).
		Msg("request done")
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

// bearerToken reads the current credential; absence is Unauthenticated.
func bearerToken(ctx context.Context, creds credential.Store, op string) (string, error) {
	if creds == nil {
		return "", perrors.New(perrors.KindUnauthenticated, fmt.Errorf("%s: no credential store", op))
	}
	sess, err := creds.Load(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return "", perrors.New(perrors.KindUnauthenticated, fmt.Errorf("%s: %w", op, err))
		}
		return "", fmt.Errorf("%s: load credential: %w", op, err)
	}
	if sess.Token == "" {
		return "", perrors.New(perrors.KindUnauthenticated, fmt.Errorf("%s: empty token", op))
	}
	return sess.Token, nil
}
