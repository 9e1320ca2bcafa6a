package enet

import "fmt"

// PacketMode selects how a packet is delivered. Reliability implies
// sequencing; there is no reliable unsequenced mode.
type PacketMode uint8

const (
	// UnreliableSequenced packets may be lost and are dropped when they
	// arrive after a newer packet on the same channel.
	UnreliableSequenced PacketMode = iota
	// UnreliableUnsequenced packets may be lost and are delivered in
	// arrival order.
	UnreliableUnsequenced
	// ReliableSequenced packets are retransmitted until acknowledged and
	// delivered in send order.
	ReliableSequenced
)

// IsReliable reports whether the mode retransmits lost packets.
func (m PacketMode) IsReliable() bool { return m == ReliableSequenced }

// IsSequenced reports whether the mode delivers in send order.
func (m PacketMode) IsSequenced() bool { return m != UnreliableUnsequenced }

func (m PacketMode) String() string {
	switch m {
	case UnreliableSequenced:
		return "unreliable-sequenced"
	case UnreliableUnsequenced:
		return "unreliable-unsequenced"
	case ReliableSequenced:
		return "reliable-sequenced"
	default:
		return fmt.Sprintf("PacketMode(%d)", uint8(m))
	}
}

// Packet is an immutable payload with its delivery mode.
type Packet struct {
	data                []byte
	mode                PacketMode
	unreliableFragments bool
}

// PacketOption adjusts a packet at creation.
type PacketOption func(*Packet)

// UnreliableFragments lets an unreliable packet larger than one datagram be
// sent as unreliable fragments. Without it such packets are sent reliably.
func UnreliableFragments() PacketOption {
	return func(p *Packet) { p.unreliableFragments = true }
}

// NewPacket copies data into a new packet.
func NewPacket(data []byte, mode PacketMode, opts ...PacketOption) (*Packet, error) {
	if mode > ReliableSequenced {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidPacket, mode)
	}
	p := &Packet{
		data: append([]byte(nil), data...),
		mode: mode,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Data returns the payload. It must not be modified.
func (p *Packet) Data() []byte { return p.data }

// Mode returns the delivery mode.
func (p *Packet) Mode() PacketMode { return p.mode }

// Len returns the payload size in bytes.
func (p *Packet) Len() int { return len(p.data) }
