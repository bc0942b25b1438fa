package types

// ------------------------------
// Request Types
// ------------------------------

// CreateConversationRequest opens a thread with a customer.
type CreateConversationRequest struct {
	ParticipantID string `json:"participantId"`
}

// CreateMessageRequest posts a message into a conversation.
type CreateMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

// UpsertLocationRequest creates or updates the vendor's published location.
type UpsertLocationRequest struct {
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
