package presence

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/vendor-presence/internal/credential"
	"github.com/mycelian/vendor-presence/internal/testbackend"
	"github.com/mycelian/vendor-presence/internal/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestWithHTTPTimeoutAndDebugLogging(t *testing.T) {
	c := &Client{http: &http.Client{}, log: zerolog.Nop()}
	if err := WithHTTPTimeout(5 * time.Second)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.http.Timeout != 5*time.Second {
		t.Fatalf("http timeout not set")
	}
	if err := WithHTTPTimeout(0)(c); err == nil {
		t.Fatalf("expected error for zero timeout")
	}

	var called bool
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return &http.Response{StatusCode: 200, Body: http.NoBody, Header: make(http.Header)}, nil
	})
	if err := WithDebugLogging(true)(c); err != nil {
		t.Fatalf("debug logging: %v", err)
	}
	if err := withHTTPTransport(rt)(c); err != nil {
		t.Fatalf("transport: %v", err)
	}
	if _, ok := c.http.Transport.(*debugTransport); !ok {
		t.Fatalf("debug transport not kept on top")
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://example.com", strings.NewReader(""))
	if _, err := c.http.Do(req); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !called {
		t.Fatalf("base transport not invoked")
	}
}

func TestDebugTransport_ErrorPath(t *testing.T) {
	c := &Client{http: &http.Client{}, log: zerolog.Nop()}
	_ = WithDebugLogging(true)(c)
	_ = withHTTPTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	}))(c)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://example.com", http.NoBody)
	if _, err := c.http.Do(req); err == nil {
		t.Fatalf("expected error from underlying transport")
	}
}

func TestNew_AutoEnableDebugViaEnv(t *testing.T) {
	t.Setenv("VENDOR_PRESENCE_DEBUG", "true")
	srv := testbackend.New()
	defer srv.Close()
	c, err := New(testConfig(srv), WithLogger(zerolog.Nop()), WithCredentialStore(credential.NewMemoryStore(types.Session{})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if _, ok := c.http.Transport.(*debugTransport); !ok {
		t.Fatalf("expected debugTransport when VENDOR_PRESENCE_DEBUG=true")
	}
}

func TestOptions_RejectBadValues(t *testing.T) {
	c := &Client{http: &http.Client{}}
	for name, opt := range map[string]Option{
		"nil store":          WithCredentialStore(nil),
		"nil source":         WithLocationSource(nil),
		"nil dialer":         WithSocketDialer(nil),
		"zero attempts":      WithPublishRetry(0, time.Second),
		"inverted backoff":   WithReconnectBackoff(time.Second, time.Millisecond),
		"zero reconnect":     WithReconnectBackoff(0, time.Second),
		"zero retry spacing": WithPublishRetry(3, 0),
	} {
		if err := opt(c); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestWithPublishRetry_SetsQueue(t *testing.T) {
	c := &Client{}
	if err := WithPublishRetry(5, 2*time.Second)(c); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if c.queue.MaxAttempts != 5 || c.queue.BaseBackoff != 2*time.Second || c.queue.MaxInterval != 2*time.Second {
		t.Fatalf("queue not configured: %+v", c.queue)
	}
}
