package presence

import (
	"github.com/mycelian/vendor-presence/internal/chat"
	"github.com/mycelian/vendor-presence/internal/location"
	"github.com/mycelian/vendor-presence/internal/socket"
	"github.com/mycelian/vendor-presence/internal/types"
)

// Public type aliases so callers can import only this package.
type (
	Session           = types.Session
	Sample            = types.Sample
	Coordinates       = types.Coordinates
	PublishedLocation = types.PublishedLocation
	Conversation      = types.Conversation
	Message           = types.Message
	SenderType        = types.SenderType

	ChatManager = chat.Manager
	Channel     = chat.Channel

	SocketClient = socket.Client
	SocketState  = socket.State

	LocationSource = location.Source
	LocationStats  = location.Stats
	Thresholds     = location.Thresholds
)

const (
	SenderVendor = types.SenderVendor
	SenderUser   = types.SenderUser

	Disconnected = socket.Disconnected
	Connecting   = socket.Connecting
	Registered   = socket.Registered
)
