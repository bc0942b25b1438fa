// Package wire defines the JSON frames exchanged over the realtime socket.
// Every frame is a single JSON object whose "type" field selects its shape.
package wire

import (
	"encoding/json"
	"time"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/types"
)

// Frame types.
const (
	TypeRegister        = "register"
	TypeLocationUpdate  = "location_update"
	TypeLocationRemoved = "location_removed"
	TypeNewMessage      = "new_message"
)

// Frame is the union of all known frame shapes. Only the fields relevant to
// Type are set; the rest are omitted on the wire.
type Frame struct {
	Type           string             `json:"type"`
	VendorID       string             `json:"vendorId,omitempty"`
	Location       *types.Coordinates `json:"location,omitempty"`
	Timestamp      *time.Time         `json:"timestamp,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	Message        *types.Message     `json:"message,omitempty"`
}

// Register announces the vendor on a fresh connection.
func Register(vendorID string) Frame {
	return Frame{Type: TypeRegister, VendorID: vendorID}
}

// LocationUpdate is the advisory broadcast sent after a successful publish.
func LocationUpdate(vendorID string, lat, lng float64, at time.Time) Frame {
	at = at.UTC()
	return Frame{
		Type:      TypeLocationUpdate,
		VendorID:  vendorID,
		Location:  &types.Coordinates{Latitude: lat, Longitude: lng},
		Timestamp: &at,
	}
}

// LocationRemoved tells listeners to evict the vendor from nearby views.
func LocationRemoved(vendorID string, at time.Time) Frame {
	at = at.UTC()
	return Frame{Type: TypeLocationRemoved, VendorID: vendorID, Timestamp: &at}
}

// NewMessage wraps a message push for conversationID.
func NewMessage(conversationID string, msg types.Message) Frame {
	return Frame{Type: TypeNewMessage, ConversationID: conversationID, Message: &msg}
}

// Encode marshals f after checking it is well formed.
func Encode(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// Decode parses and validates one inbound frame. Malformed input yields an
// ErrProtocol error. Unknown types are returned as-is so callers may route or
// ignore them.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, perrors.Protocolf("decode frame: %v", err)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks the fields required by f.Type.
func (f Frame) Validate() error {
	switch f.Type {
	case "":
		return perrors.Protocolf("frame has no type")
	case TypeRegister:
		if f.VendorID == "" {
			return perrors.Protocolf("register frame without vendorId")
		}
	case TypeLocationUpdate:
		if f.VendorID == "" || f.Location == nil {
			return perrors.Protocolf("location_update frame missing vendorId or location")
		}
	case TypeLocationRemoved:
		if f.VendorID == "" {
			return perrors.Protocolf("location_removed frame without vendorId")
		}
	case TypeNewMessage:
		if f.ConversationID == "" || f.Message == nil || f.Message.ID == "" {
			return perrors.Protocolf("new_message frame missing conversationId or message id")
		}
	}
	return nil
}
