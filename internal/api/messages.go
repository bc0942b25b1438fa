package api

import (
	"context"
	"net/http"
	"net/url"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/transport"
	"github.com/mycelian/vendor-presence/internal/types"
)

// ListMessages returns the message history of a conversation, in whatever
// order the server sends it.
func ListMessages(ctx context.Context, s transport.Sender, conversationID string) ([]types.Message, error) {
	if err := types.ValidateID("conversation id", conversationID); err != nil {
		return nil, err
	}
	var lr types.ListMessagesResponse
	_, err := call(ctx, s, transport.Request{
		Method:    http.MethodGet,
		Path:      pathf("/api/conversations/%s/messages", url.PathEscape(conversationID)),
		Operation: "list messages",
	}, &lr, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return lr.Messages, nil
}

// CreateMessage posts text and returns the server's canonical message.
func CreateMessage(ctx context.Context, s transport.Sender, conversationID, text string) (*types.Message, error) {
	if err := types.ValidateID("conversation id", conversationID); err != nil {
		return nil, err
	}
	if err := types.ValidateMessageBody(text); err != nil {
		return nil, err
	}
	var msg types.Message
	_, err := call(ctx, s, transport.Request{
		Method:    http.MethodPost,
		Path:      "/api/messages",
		Body:      types.CreateMessageRequest{ConversationID: conversationID, Text: text},
		Operation: "create message",
	}, &msg, http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, perrors.Protocolf("create message: response has no id")
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	return &msg, nil
}
