package types

import "time"

// ------------------------------
// Core Domain Entities
// ------------------------------

// Session is the authenticated vendor identity the process acts as.
type Session struct {
	Token    string `json:"token"`
	VendorID string `json:"vendorId"`
}

// Valid reports whether both the credential and the identity are present.
func (s Session) Valid() bool { return s.Token != "" && s.VendorID != "" }

// Sample is one device position reading.
type Sample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Coordinates is the location payload carried in socket frames.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PublishedLocation is the server-side "current location" row of a vendor.
type PublishedLocation struct {
	ID        string    `json:"id"`
	VendorID  string    `json:"vendorId"`
	Address   string    `json:"address"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Conversation is a vendor/customer thread.
type Conversation struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
}

// SenderType identifies which side of a conversation wrote a message.
type SenderType string

const (
	SenderVendor SenderType = "vendor"
	SenderUser   SenderType = "user"
)

// Message is a single chat message. ID is assigned by the server.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderType     SenderType `json:"senderType"`
	Body           string     `json:"body"`
	CreatedAt      time.Time  `json:"createdAt"`
}
