package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/rs/zerolog"

	"github.com/mycelian/vendor-presence/internal/credential"
	"github.com/mycelian/vendor-presence/internal/transport"
	"github.com/mycelian/vendor-presence/internal/types"
)

// newSender returns a REST sender pointed at srv with a valid credential.
func newSender(srv *httptest.Server) transport.Sender {
	creds := credential.NewMemoryStore(types.Session{Token: "test-token", VendorID: "v1"})
	return transport.NewREST(srv.Client(), srv.URL, creds, zerolog.Nop())
}

// errSender always fails (simulates network failure).
type errSender struct{ calls int }

func (e *errSender) Send(context.Context, transport.Request) (*transport.Response, error) {
	e.calls++
	return nil, fmt.Errorf("boom")
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}
