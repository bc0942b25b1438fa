package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/vendor-presence/internal/credential"
	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/types"
)

func TestREST_AttachesCredential(t *testing.T) {
	t.Parallel()
	var gotAuth, gotReqID, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	creds := credential.NewMemoryStore(types.Session{Token: "tok", VendorID: "v1"})
	rest := NewREST(srv.Client(), srv.URL, creds, zerolog.Nop())

	resp, err := rest.Send(context.Background(), Request{
		Method:    http.MethodPost,
		Path:      "/api/messages",
		Body:      types.CreateMessageRequest{ConversationID: "c1", Text: "hi"},
		Operation: "create message",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"id":"x"}`, string(resp.Body))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.NotEmpty(t, gotReqID)
	assert.JSONEq(t, `{"conversationId":"c1","text":"hi"}`, gotBody)
}

func TestREST_NoCredentialFailsFast(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	rest := NewREST(srv.Client(), srv.URL, credential.NewMemoryStore(types.Session{}), zerolog.Nop())
	_, err := rest.Send(context.Background(), Request{Method: http.MethodGet, Path: "/api/conversations", Operation: "list"})
	require.ErrorIs(t, err, perrors.ErrUnauthenticated)
	assert.Zero(t, atomic.LoadInt32(&hits), "no request may leave without a credential")
}

func TestREST_NetworkErrorIsTransport(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	creds := credential.NewMemoryStore(types.Session{Token: "tok", VendorID: "v1"})
	rest := NewREST(&http.Client{}, url, creds, zerolog.Nop())
	_, err := rest.Send(context.Background(), Request{Method: http.MethodGet, Path: "/", Operation: "ping"})
	require.ErrorIs(t, err, perrors.ErrTransport)
	assert.True(t, perrors.IsRetryable(err))
}

func TestWebSocketDialer(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.WriteMessage(websocket.TextMessage, data)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("echo", func(t *testing.T) {
		d := NewWebSocketDialer(credential.NewMemoryStore(types.Session{Token: "tok", VendorID: "v1"}))
		conn, err := d.Dial(context.Background(), wsURL)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.WriteMessage([]byte(`{"type":"ping"}`)))
		got, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"ping"}`, string(got))
	})

	t.Run("rejected token", func(t *testing.T) {
		d := NewWebSocketDialer(credential.NewMemoryStore(types.Session{Token: "bad", VendorID: "v1"}))
		_, err := d.Dial(context.Background(), wsURL)
		assert.ErrorIs(t, err, perrors.ErrUnauthenticated)
	})

	t.Run("missing credential", func(t *testing.T) {
		d := NewWebSocketDialer(credential.NewMemoryStore(types.Session{}))
		_, err := d.Dial(context.Background(), wsURL)
		assert.ErrorIs(t, err, perrors.ErrUnauthenticated)
	})
}
