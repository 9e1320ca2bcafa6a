package enet

// EventType identifies what a service call produced.
type EventType int

const (
	// EventNone means no event occurred.
	EventNone EventType = iota
	// EventConnect reports a completed handshake. Data is the value the
	// connecting side passed to Connect.
	EventConnect
	// EventDisconnect reports the end of a connection. Data is the value
	// passed to Disconnect, by either side.
	EventDisconnect
	// EventReceive delivers a packet received on ChannelID.
	EventReceive
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReceive:
		return "receive"
	default:
		return "none"
	}
}

// Event is the outcome of Host.Service or Host.CheckEvents. Peer stays
// valid until the next call that services the host; for a disconnect the
// peer has already been reset and only its address and user data remain.
type Event struct {
	Type      EventType
	Peer      *Peer
	ChannelID uint8
	Data      uint32
	Packet    *Packet
}
