package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/types"
)

func TestListMessages_Success(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/c7/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(types.ListMessagesResponse{Messages: []types.Message{
			{ID: "m1", ConversationID: "c7", SenderType: types.SenderUser, Body: "hi", CreatedAt: now},
		}})
	}))
	defer srv.Close()

	got, err := ListMessages(context.Background(), newSender(srv), "c7")
	if err != nil || len(got) != 1 || got[0].ID != "m1" || got[0].SenderType != types.SenderUser {
		t.Fatalf("ListMessages unexpected: got=%+v err=%v", got, err)
	}
}

func TestCreateMessage_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(types.Message{
			ID: "m9", SenderType: types.SenderVendor, Body: req.Text, CreatedAt: time.Now(),
		})
	}))
	defer srv.Close()

	got, err := CreateMessage(context.Background(), newSender(srv), "c7", "hello")
	if err != nil || got.ID != "m9" || got.Body != "hello" {
		t.Fatalf("CreateMessage unexpected: got=%+v err=%v", got, err)
	}
	if got.ConversationID != "c7" {
		t.Fatalf("conversation id not backfilled: %+v", got)
	}
}

func TestCreateMessage_EmptyBodyNoNetwork(t *testing.T) {
	t.Parallel()
	s := &errSender{}
	_, err := CreateMessage(context.Background(), s, "c7", "   ")
	if !errors.Is(err, perrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if s.calls != 0 {
		t.Fatal("no request expected for empty body")
	}
}

func TestCreateMessage_MalformedResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(jsonHandler(http.StatusCreated, `not-json`))
	defer srv.Close()
	if _, err := CreateMessage(context.Background(), newSender(srv), "c7", "x"); !errors.Is(err, perrors.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestMessages_NetworkError(t *testing.T) {
	t.Parallel()
	if _, err := ListMessages(context.Background(), &errSender{}, "c7"); err == nil {
		t.Fatal("expected error")
	}
}
