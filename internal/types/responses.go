package types

// ------------------------------
// Response Types
// ------------------------------

// ListConversationsResponse wraps GET /api/conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// ListMessagesResponse wraps GET /api/conversations/{id}/messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// ListLocationsResponse wraps GET /api/vendor-locations.
type ListLocationsResponse struct {
	Locations []PublishedLocation `json:"locations"`
}
