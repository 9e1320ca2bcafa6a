package enet

// PeerState is a step in the connection lifecycle.
type PeerState int

const (
	StateDisconnected PeerState = iota
	StateConnecting
	StateAcknowledgingConnect
	StateConnectionPending
	StateConnectionSucceeded
	StateConnected
	StateDisconnectLater
	StateDisconnecting
	StateAcknowledgingDisconnect
	StateZombie
)

func (s PeerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAcknowledgingConnect:
		return "acknowledging-connect"
	case StateConnectionPending:
		return "connection-pending"
	case StateConnectionSucceeded:
		return "connection-succeeded"
	case StateConnected:
		return "connected"
	case StateDisconnectLater:
		return "disconnect-later"
	case StateDisconnecting:
		return "disconnecting"
	case StateAcknowledgingDisconnect:
		return "acknowledging-disconnect"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// isConnected reports whether application data may flow.
func (s PeerState) isConnected() bool {
	return s == StateConnected || s == StateDisconnectLater
}
