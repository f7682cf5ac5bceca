package models

// ConnState describes the lifecycle of the single socket connection.
// It is owned exclusively by the socket manager; everyone else observes
// transitions through the state bus.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	ReconnectScheduled
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectScheduled:
		return "reconnect-scheduled"
	default:
		return "unknown"
	}
}
