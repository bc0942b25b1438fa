package socket

// State is the connection state of a Client.
type State int

const (
	Disconnected State = iota
	Connecting
	Registered
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Registered:
		return "registered"
	default:
		return "unknown"
	}
}
