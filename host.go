package enet

import (
	"container/list"
	"errors"
	"fmt"
	"iter"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/based-collective/citizen-enet/internal/protocol"
	"github.com/based-collective/citizen-enet/internal/transport"
	"github.com/based-collective/citizen-enet/internal/util"
)

// Transport is the datagram endpoint a Host runs on.
type Transport = transport.Conn

// Stats are the traffic counters of a Host.
type Stats = util.Snapshot

// Host multiplexes peers over one datagram endpoint. A Host is not safe for
// concurrent use, except for Stats.
type Host struct {
	conn    transport.Conn
	clock   clock.Clock
	epoch   time.Time
	address Address
	closed  bool

	peers          []Peer
	channelLimit   int
	duplicatePeers int
	mtu            uint32

	incomingBandwidth          uint32
	outgoingBandwidth          uint32
	bandwidthThrottleEpoch     uint32
	recalculateBandwidthLimits bool
	connectedPeers             int
	bandwidthLimitedPeers      int

	maximumPacketSize  int
	maximumWaitingData int
	checksum           bool
	compressor         Compressor

	intercept   Intercept
	inIntercept bool

	randomSeed    uint32
	serviceTime   uint32
	dispatchQueue list.List // of *Peer
	pending       *transport.Datagram

	out      datagramBuilder
	inflate  []byte
	received []byte
	counters util.Counters
}

// HostOption customizes a Host at construction.
type HostOption func(*Host)

// WithTransport runs the host on conn instead of a UDP socket. The host
// takes ownership of conn.
func WithTransport(conn Transport) HostOption {
	if conn == nil {
		panic("enet: nil transport")
	}
	return func(h *Host) { h.conn = conn }
}

// WithClock sets the time source used for protocol timers.
func WithClock(c clock.Clock) HostOption {
	return func(h *Host) { h.clock = c }
}

// WithChecksum appends a CRC32 of every datagram. Both ends must agree.
func WithChecksum() HostOption {
	return func(h *Host) { h.checksum = true }
}

// WithIntercept installs a hook that sees every received datagram before
// the protocol does and may consume it.
func WithIntercept(fn Intercept) HostOption {
	return func(h *Host) { h.intercept = fn }
}

// WithMTU sets the datagram size offered to peers, clamped to the protocol
// range.
func WithMTU(mtu int) HostOption {
	return func(h *Host) { h.mtu = clampMTU(uint32(max(mtu, 0))) }
}

// WithMaximumPacketSize bounds the size of packets accepted by Send and
// of reassembled incoming packets.
func WithMaximumPacketSize(n int) HostOption {
	return func(h *Host) { h.maximumPacketSize = n }
}

// WithMaximumWaitingData bounds the bytes buffered per peer for
// reassembly and delivery.
func WithMaximumWaitingData(n int) HostOption {
	return func(h *Host) { h.maximumWaitingData = n }
}

// WithDuplicatePeers limits how many peers may connect from one IP address.
func WithDuplicatePeers(n int) HostOption {
	return func(h *Host) { h.duplicatePeers = n }
}

// NewHost creates a host with room for peerLimit peers. When no transport
// option is given it binds a UDP socket on bind, or on an ephemeral port
// when bind is nil.
func NewHost(bind *Address, peerLimit int, channelLimit ChannelLimit, incoming, outgoing BandwidthLimit, opts ...HostOption) (*Host, error) {
	if peerLimit < 1 || peerLimit > protocol.MaximumPeerID {
		return nil, fmt.Errorf("%w: peer limit %d", ErrCapacity, peerLimit)
	}
	channels, err := channelLimit.resolve()
	if err != nil {
		return nil, err
	}

	h := &Host{
		clock:              clock.New(),
		channelLimit:       channels,
		duplicatePeers:     protocol.MaximumPeerID,
		mtu:                hostDefaultMTU,
		incomingBandwidth:  uint32(incoming),
		outgoingBandwidth:  uint32(outgoing),
		maximumPacketSize:  hostDefaultMaximumPacketSize,
		maximumWaitingData: hostDefaultMaximumWaitingData,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.conn == nil {
		var ap netip.AddrPort
		if bind != nil {
			ap = bind.AddrPort()
		}
		conn, err := transport.ListenUDP(ap)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		h.conn = conn
	}

	h.address = AddressFrom(h.conn.LocalAddr())
	h.epoch = h.clock.Now()
	h.randomSeed = util.SeedFromEndpoint(h.address.String(), h.epoch)

	h.peers = make([]Peer, peerLimit)
	for i := range h.peers {
		p := &h.peers[i]
		p.host = h
		p.incomingPeerID = uint16(i)
		p.incomingSessionID = 0xFF
		p.outgoingSessionID = 0xFF
		p.Reset()
	}

	util.LogDebug("host bound to %s with %d peer slots", h.address, peerLimit)
	return h, nil
}

// now is the host time in milliseconds. It starts at 1 because zero marks
// unset timestamps.
func (h *Host) now() uint32 {
	return uint32(h.clock.Since(h.epoch)/time.Millisecond) + 1
}

// Connect starts a handshake with addr. The returned peer is in
// StateConnecting until an EventConnect is produced for it.
func (h *Host) Connect(addr Address, channelCount int, data uint32) (*Peer, error) {
	h.checkReentry("Connect")
	if h.closed {
		return nil, ErrClosed
	}
	if channelCount < protocol.MinimumChannelCount || channelCount > protocol.MaximumChannelCount {
		return nil, fmt.Errorf("%w: channel count %d", ErrCapacity, channelCount)
	}

	var p *Peer
	for i := range h.peers {
		if h.peers[i].state == StateDisconnected {
			p = &h.peers[i]
			break
		}
	}
	if p == nil {
		return nil, fmt.Errorf("%w: all %d peers in use", ErrCapacity, len(h.peers))
	}

	p.resetQueues()
	p.outgoingReliableSequenceNumber = 0
	p.outgoingUnsequencedGroup = 0
	p.outgoingDataTotal = 0

	p.channels = make([]channel, channelCount)
	p.state = StateConnecting
	p.address = addr
	h.randomSeed++
	p.connectID = h.randomSeed
	p.eventData = data
	p.windowSize = windowSizeFor(h.outgoingBandwidth)
	p.throttlePending = false
	p.connectThrottle = protocol.ThrottleConfigure{
		PacketThrottleInterval:     p.throttle.interval,
		PacketThrottleAcceleration: p.throttle.acceleration,
		PacketThrottleDeceleration: p.throttle.deceleration,
	}

	p.queueOutgoing(&protocol.Command{
		Header: protocol.CommandHeader{
			Command:   uint8(protocol.CommandConnect) | protocol.FlagAcknowledge,
			ChannelID: controlChannel,
		},
		Connect: protocol.Connect{
			OutgoingPeerID:             p.incomingPeerID,
			IncomingSessionID:          p.incomingSessionID,
			OutgoingSessionID:          p.outgoingSessionID,
			MTU:                        p.mtu,
			WindowSize:                 p.windowSize,
			ChannelCount:               uint32(channelCount),
			IncomingBandwidth:          h.incomingBandwidth,
			OutgoingBandwidth:          h.outgoingBandwidth,
			PacketThrottleInterval:     p.connectThrottle.PacketThrottleInterval,
			PacketThrottleAcceleration: p.connectThrottle.PacketThrottleAcceleration,
			PacketThrottleDeceleration: p.connectThrottle.PacketThrottleDeceleration,
			ConnectID:                  p.connectID,
			Data:                       data,
		},
	}, nil, 0, 0)

	util.LogDebug("peer %d connecting to %s", p.incomingPeerID, addr)
	return p, nil
}

// Broadcast queues packet on channelID for every connected peer.
func (h *Host) Broadcast(channelID uint8, packet *Packet) {
	h.checkReentry("Broadcast")
	for i := range h.peers {
		p := &h.peers[i]
		if p.state != StateConnected {
			continue
		}
		if err := p.Send(channelID, packet); err != nil {
			util.LogDebug("broadcast to peer %d: %v", p.incomingPeerID, err)
		}
	}
}

// SendTo writes a raw datagram to addr outside of any connection. It is the
// one mutating call allowed from an intercept hook.
func (h *Host) SendTo(addr Address, data []byte) error {
	if h.closed {
		return ErrClosed
	}
	n, err := h.conn.Send(addr.AddrPort(), data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	h.counters.AddSent(n)
	return nil
}

// Close resets every peer without notifying it and closes the transport.
func (h *Host) Close() error {
	h.checkReentry("Close")
	if h.closed {
		return nil
	}
	for i := range h.peers {
		h.peers[i].Reset()
	}
	h.closed = true
	if err := h.conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (h *Host) Address() Address                  { return h.address }
func (h *Host) ChannelLimit() int                 { return h.channelLimit }
func (h *Host) IncomingBandwidth() BandwidthLimit { return BandwidthLimit(h.incomingBandwidth) }
func (h *Host) OutgoingBandwidth() BandwidthLimit { return BandwidthLimit(h.outgoingBandwidth) }
func (h *Host) MTU() int                          { return int(h.mtu) }

// PeerCount is the size of the peer table.
func (h *Host) PeerCount() int { return len(h.peers) }

// ConnectedPeers counts peers in StateConnected or StateDisconnectLater.
func (h *Host) ConnectedPeers() int { return h.connectedPeers }

// Peers iterates over the whole peer table, including idle slots.
func (h *Host) Peers() iter.Seq[*Peer] {
	return func(yield func(*Peer) bool) {
		for i := range h.peers {
			if !yield(&h.peers[i]) {
				return
			}
		}
	}
}

// Stats may be called from any goroutine.
func (h *Host) Stats() Stats { return h.counters.Snapshot() }
