package presence

// Functional options applied by New before the components are wired.

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/vendor-presence/internal/credential"
	"github.com/mycelian/vendor-presence/internal/location"
	"github.com/mycelian/vendor-presence/internal/transport"
)

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithHTTPTimeout sets the http.Client Timeout used for REST calls. It
// bounds a single request; prefer context deadlines for whole operations.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.http.Timeout = d
		return nil
	}
}

// WithDebugLogging wraps the HTTP transport so each request and response is
// dumped at debug level. Dumps include the bearer token; do not enable in
// production.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		if enabled {
			if _, ok := c.http.Transport.(*debugTransport); ok {
				return nil
			}
			c.http.Transport = &debugTransport{base: c.http.Transport, log: &c.log}
		}
		return nil
	}
}

// WithLogger replaces the global zerolog logger for every component.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithCredentialStore replaces the SQLite session store. The caller keeps
// ownership; Close does not close it.
func WithCredentialStore(s credential.Store) Option {
	return func(c *Client) error {
		if s == nil {
			return fmt.Errorf("credential store must not be nil")
		}
		c.creds = s
		return nil
	}
}

// WithLocationSource sets the provider of location samples.
func WithLocationSource(s location.Source) Option {
	return func(c *Client) error {
		if s == nil {
			return fmt.Errorf("location source must not be nil")
		}
		c.source = s
		return nil
	}
}

// WithSocketDialer replaces the websocket dialer, mainly for tests.
func WithSocketDialer(d transport.Dialer) Option {
	return func(c *Client) error {
		if d == nil {
			return fmt.Errorf("socket dialer must not be nil")
		}
		c.dialer = d
		return nil
	}
}

// WithPublishRetry bounds location publish attempts. maxAttempts counts the
// first try; base is the first backoff interval, doubled per retry.
func WithPublishRetry(maxAttempts int, base time.Duration) Option {
	return func(c *Client) error {
		if maxAttempts <= 0 || base <= 0 {
			return fmt.Errorf("publish retry needs positive attempts and backoff")
		}
		c.queue.MaxAttempts = maxAttempts
		c.queue.BaseBackoff = base
		if c.queue.MaxInterval < base {
			c.queue.MaxInterval = base
		}
		return nil
	}
}

// WithReconnectBackoff sets the socket reconnect delay range.
func WithReconnectBackoff(min, max time.Duration) Option {
	return func(c *Client) error {
		if min <= 0 || max < min {
			return fmt.Errorf("reconnect backoff needs 0 < min <= max")
		}
		c.cfg.ReconnectMin = min
		c.cfg.ReconnectMax = max
		return nil
	}
}

// withHTTPTransport swaps the base round tripper under any debug wrapper.
func withHTTPTransport(rt http.RoundTripper) Option {
	return func(c *Client) error {
		if dt, ok := c.http.Transport.(*debugTransport); ok {
			dt.base = rt
			return nil
		}
		c.http.Transport = rt
		return nil
	}
}
