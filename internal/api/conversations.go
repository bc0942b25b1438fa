package api

import (
	"context"
	"net/http"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/transport"
	"github.com/mycelian/vendor-presence/internal/types"
)

// ErrConversationExists is returned by CreateConversation on 409 Conflict:
// the backend already holds a conversation for this participant.
var ErrConversationExists = perrors.Validationf("conversation already exists")

// ListConversations returns the vendor's conversations.
func ListConversations(ctx context.Context, s transport.Sender) ([]types.Conversation, error) {
	var lr types.ListConversationsResponse
	_, err := call(ctx, s, transport.Request{
		Method:    http.MethodGet,
		Path:      "/api/conversations",
		Operation: "list conversations",
	}, &lr, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return lr.Conversations, nil
}

// CreateConversation opens a conversation with participantID.
func CreateConversation(ctx context.Context, s transport.Sender, participantID string) (*types.Conversation, error) {
	if err := types.ValidateID("participant id", participantID); err != nil {
		return nil, err
	}
	var conv types.Conversation
	status, err := call(ctx, s, transport.Request{
		Method:    http.MethodPost,
		Path:      "/api/conversations",
		Body:      types.CreateConversationRequest{ParticipantID: participantID},
		Operation: "create conversation",
	}, &conv, http.StatusCreated, http.StatusOK)
	if status == http.StatusConflict {
		return nil, ErrConversationExists
	}
	if err != nil {
		return nil, err
	}
	if conv.ID == "" {
		return nil, perrors.Protocolf("create conversation: response has no id")
	}
	return &conv, nil
}
