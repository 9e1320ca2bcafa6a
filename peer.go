package enet

import (
	"container/list"
	"time"

	"github.com/based-collective/citizen-enet/internal/protocol"
	"github.com/based-collective/citizen-enet/internal/util"
)

// Peer is one remote endpoint of a Host. Peers live in a fixed table owned
// by the Host and are reused after they return to StateDisconnected, so a
// *Peer stays valid for the Host's lifetime while its identity does not;
// compare ConnectID to detect reuse.
type Peer struct {
	host *Host

	incomingPeerID    uint16
	outgoingPeerID    uint16
	connectID         uint32
	incomingSessionID uint8
	outgoingSessionID uint8

	address  Address
	data     any
	state    PeerState
	channels []channel

	incomingBandwidth              uint32
	outgoingBandwidth              uint32
	incomingBandwidthThrottleEpoch uint32
	outgoingBandwidthThrottleEpoch uint32
	incomingDataTotal              uint32
	outgoingDataTotal              uint32

	lastSendTime    uint32
	lastReceiveTime uint32
	nextTimeout     uint32
	earliestTimeout uint32

	packetLossEpoch    uint32
	packetsSent        uint32
	packetsLost        uint32
	packetLoss         uint32
	packetLossVariance uint32

	throttle throttle
	// connectThrottle is what our CONNECT advertised; VERIFY_CONNECT must
	// echo it. throttlePending defers a reconfiguration made mid-handshake.
	connectThrottle protocol.ThrottleConfigure
	throttlePending bool

	pingInterval   uint32
	timeoutLimit   uint32
	timeoutMinimum uint32
	timeoutMaximum uint32

	lastRoundTripTime            uint32
	lowestRoundTripTime          uint32
	lastRoundTripTimeVariance    uint32
	highestRoundTripTimeVariance uint32
	roundTripTime                uint32
	roundTripTimeVariance        uint32

	mtu                            uint32
	windowSize                     uint32
	reliableDataInTransit          uint32
	outgoingReliableSequenceNumber uint16

	acknowledgements   list.List // of *acknowledgement
	sentReliable       list.List // of *outgoingCommand
	outgoingReliable   list.List // of *outgoingCommand
	outgoingUnreliable list.List // of *outgoingCommand
	dispatched         list.List // of *incomingCommand

	needsDispatch bool
	dispatchElem  *list.Element

	incomingUnsequencedGroup uint16
	outgoingUnsequencedGroup uint16
	unsequencedWindow        [peerUnsequencedWindowSize / 32]uint32

	eventData        uint32
	disconnectData   uint32
	totalWaitingData int
}

type acknowledgement struct {
	sentTime uint16
	header   protocol.CommandHeader
}

// outgoingCommand is a queued protocol command. Data commands reference a
// slice of their packet through fragmentOffset and fragmentLength.
type outgoingCommand struct {
	reliableSequenceNumber   uint16
	unreliableSequenceNumber uint16
	sentTime                 uint32
	roundTripTimeout         uint32
	roundTripTimeoutLimit    uint32
	fragmentOffset           uint32
	fragmentLength           uint32
	sendAttempts             uint32
	command                  protocol.Command
	packet                   *Packet
}

func (oc *outgoingCommand) payload() []byte {
	if oc.packet == nil {
		return nil
	}
	return oc.packet.data[oc.fragmentOffset : oc.fragmentOffset+oc.fragmentLength]
}

func (p *Peer) State() PeerState       { return p.state }
func (p *Peer) Address() Address       { return p.address }
func (p *Peer) ChannelCount() int      { return len(p.channels) }
func (p *Peer) ID() uint16             { return p.incomingPeerID }
func (p *Peer) ConnectID() uint32      { return p.connectID }
func (p *Peer) MTU() uint32            { return p.mtu }
func (p *Peer) Data() any              { return p.data }
func (p *Peer) SetData(data any)       { p.data = data }
func (p *Peer) PacketThrottle() uint32 { return p.throttle.value }

// EventData is the user data received with the last connect or disconnect
// command.
func (p *Peer) EventData() uint32 { return p.eventData }

// IncomingBandwidth is the remote's downstream limit in bytes per second,
// zero when unlimited.
func (p *Peer) IncomingBandwidth() uint32 { return p.incomingBandwidth }

// OutgoingBandwidth is the remote's upstream limit in bytes per second.
func (p *Peer) OutgoingBandwidth() uint32 { return p.outgoingBandwidth }

func (p *Peer) RoundTripTime() time.Duration {
	return time.Duration(p.roundTripTime) * time.Millisecond
}

func (p *Peer) RoundTripTimeVariance() time.Duration {
	return time.Duration(p.roundTripTimeVariance) * time.Millisecond
}

// PacketLoss is the mean fraction of reliable packets lost, scaled so that
// 1<<16 means every packet.
func (p *Peer) PacketLoss() uint32 { return p.packetLoss }

// Ping queues a ping. Pings are sent automatically when the link is idle;
// calling Ping forces an RTT sample sooner.
func (p *Peer) Ping() {
	if p.state != StateConnected {
		return
	}
	p.queueOutgoing(&protocol.Command{Header: protocol.CommandHeader{
		Command:   uint8(protocol.CommandPing) | protocol.FlagAcknowledge,
		ChannelID: controlChannel,
	}}, nil, 0, 0)
}

// SetPingInterval sets how long the link may be idle before a ping is sent.
// Zero restores the default.
func (p *Peer) SetPingInterval(d time.Duration) {
	p.pingInterval = uint32(d / time.Millisecond)
	if p.pingInterval == 0 {
		p.pingInterval = peerPingInterval
	}
}

// SetTimeout configures when an unresponsive peer is dropped. Zero values
// restore the defaults.
func (p *Peer) SetTimeout(limit uint32, minimum, maximum time.Duration) {
	p.timeoutLimit = limit
	if p.timeoutLimit == 0 {
		p.timeoutLimit = peerTimeoutLimit
	}
	p.timeoutMinimum = uint32(minimum / time.Millisecond)
	if p.timeoutMinimum == 0 {
		p.timeoutMinimum = peerTimeoutMinimum
	}
	p.timeoutMaximum = uint32(maximum / time.Millisecond)
	if p.timeoutMaximum == 0 {
		p.timeoutMaximum = peerTimeoutMaximum
	}
}

// ConfigureThrottle sets the throttle parameters locally and sends them to
// the remote. Changes made before the connection completes are sent once it
// does. Acceleration and deceleration are capped at ThrottleScale.
func (p *Peer) ConfigureThrottle(interval time.Duration, acceleration, deceleration uint32) {
	p.throttle.interval = uint32(interval / time.Millisecond)
	p.throttle.acceleration = min(acceleration, ThrottleScale)
	p.throttle.deceleration = min(deceleration, ThrottleScale)

	switch p.state {
	case StateConnected, StateDisconnectLater:
		p.sendThrottleConfigure()
	case StateConnecting, StateAcknowledgingConnect, StateConnectionPending, StateConnectionSucceeded:
		p.throttlePending = true
	}
}

func (p *Peer) sendThrottleConfigure() {
	p.queueOutgoing(&protocol.Command{
		Header: protocol.CommandHeader{
			Command:   uint8(protocol.CommandThrottleConfigure) | protocol.FlagAcknowledge,
			ChannelID: controlChannel,
		},
		ThrottleConfigure: protocol.ThrottleConfigure{
			PacketThrottleInterval:     p.throttle.interval,
			PacketThrottleAcceleration: p.throttle.acceleration,
			PacketThrottleDeceleration: p.throttle.deceleration,
		},
	}, nil, 0, 0)
}

// Receive pops the next delivered packet and the channel it arrived on.
func (p *Peer) Receive() (*Packet, uint8, bool) {
	e := p.dispatched.Front()
	if e == nil {
		return nil, 0, false
	}
	ic := p.dispatched.Remove(e).(*incomingCommand)
	p.releaseWaitingData(len(ic.data))
	return &Packet{data: ic.data, mode: ic.mode}, ic.command.Header.ChannelID, true
}

// Disconnect starts an orderly disconnect. A Disconnect event carrying data
// is produced once the remote acknowledges or the peer times out.
func (p *Peer) Disconnect(data uint32) {
	switch p.state {
	case StateDisconnecting, StateDisconnected, StateAcknowledgingDisconnect, StateZombie:
		return
	}

	p.resetQueues()
	p.disconnectData = data

	cmd := &protocol.Command{
		Header:         protocol.CommandHeader{Command: uint8(protocol.CommandDisconnect), ChannelID: controlChannel},
		DisconnectData: data,
	}
	connected := p.state.isConnected()
	if connected {
		cmd.Header.Command |= protocol.FlagAcknowledge
	} else {
		cmd.Header.Command |= protocol.FlagUnsequenced
	}
	p.queueOutgoing(cmd, nil, 0, 0)

	if connected {
		p.host.onDisconnect(p)
		p.state = StateDisconnecting
		util.LogDebug("peer %d disconnecting", p.incomingPeerID)
		return
	}
	p.host.flushBestEffort()
	p.Reset()
}

// DisconnectNow notifies the remote without waiting for an
// acknowledgement and resets the peer. No event is produced.
func (p *Peer) DisconnectNow(data uint32) {
	if p.state == StateDisconnected {
		return
	}
	if p.state != StateZombie && p.state != StateDisconnecting {
		p.resetQueues()
		p.queueOutgoing(&protocol.Command{
			Header: protocol.CommandHeader{
				Command:   uint8(protocol.CommandDisconnect) | protocol.FlagUnsequenced,
				ChannelID: controlChannel,
			},
			DisconnectData: data,
		}, nil, 0, 0)
		p.host.flushBestEffort()
	}
	p.Reset()
}

// DisconnectLater disconnects once all queued outgoing data has been sent
// and acknowledged.
func (p *Peer) DisconnectLater(data uint32) {
	if p.state.isConnected() && !p.queuesEmpty() {
		p.state = StateDisconnectLater
		p.disconnectData = data
		return
	}
	p.Disconnect(data)
}

func (p *Peer) queuesEmpty() bool {
	return p.outgoingReliable.Len() == 0 &&
		p.outgoingUnreliable.Len() == 0 &&
		p.sentReliable.Len() == 0
}

// Reset returns the peer to StateDisconnected without notifying the remote.
func (p *Peer) Reset() {
	h := p.host
	h.onDisconnect(p)

	p.outgoingPeerID = protocol.MaximumPeerID
	p.connectID = 0
	p.state = StateDisconnected

	p.incomingBandwidth = 0
	p.outgoingBandwidth = 0
	p.incomingBandwidthThrottleEpoch = 0
	p.outgoingBandwidthThrottleEpoch = 0
	p.incomingDataTotal = 0
	p.outgoingDataTotal = 0
	p.lastSendTime = 0
	p.lastReceiveTime = 0
	p.nextTimeout = 0
	p.earliestTimeout = 0
	p.packetLossEpoch = 0
	p.packetsSent = 0
	p.packetsLost = 0
	p.packetLoss = 0
	p.packetLossVariance = 0

	p.throttle = newThrottle()
	p.connectThrottle = protocol.ThrottleConfigure{}
	p.throttlePending = false
	p.pingInterval = peerPingInterval
	p.timeoutLimit = peerTimeoutLimit
	p.timeoutMinimum = peerTimeoutMinimum
	p.timeoutMaximum = peerTimeoutMaximum

	p.lastRoundTripTime = peerDefaultRoundTripTime
	p.lowestRoundTripTime = peerDefaultRoundTripTime
	p.lastRoundTripTimeVariance = 0
	p.highestRoundTripTimeVariance = 0
	p.roundTripTime = peerDefaultRoundTripTime
	p.roundTripTimeVariance = 0

	p.mtu = h.mtu
	p.windowSize = protocol.MaximumWindowSize
	p.reliableDataInTransit = 0
	p.outgoingReliableSequenceNumber = 0
	p.incomingUnsequencedGroup = 0
	p.outgoingUnsequencedGroup = 0
	p.unsequencedWindow = [peerUnsequencedWindowSize / 32]uint32{}
	p.eventData = 0
	p.disconnectData = 0
	p.totalWaitingData = 0

	p.resetQueues()
}

func (p *Peer) resetQueues() {
	if p.needsDispatch {
		p.host.dispatchQueue.Remove(p.dispatchElem)
		p.needsDispatch = false
		p.dispatchElem = nil
	}
	p.acknowledgements.Init()
	p.sentReliable.Init()
	p.outgoingReliable.Init()
	p.outgoingUnreliable.Init()
	p.dispatched.Init()
	p.channels = nil
}

// queueAcknowledgement schedules an acknowledgement for a received command
// unless its sequence number lies in the window being recycled.
func (p *Peer) queueAcknowledgement(header protocol.CommandHeader, sentTime uint16) {
	if int(header.ChannelID) < len(p.channels) {
		ch := &p.channels[header.ChannelID]
		window, current := reliableWindowOf(header.ReliableSequenceNumber, ch.incomingReliableSequenceNumber)
		if window >= current+peerFreeReliableWindows-1 && window <= current+peerFreeReliableWindows {
			return
		}
	}
	p.outgoingDataTotal += uint32(protocol.CommandSize(uint8(protocol.CommandAcknowledge)))
	p.acknowledgements.PushBack(&acknowledgement{sentTime: sentTime, header: header})
}

func (p *Peer) queueOutgoing(cmd *protocol.Command, packet *Packet, offset, length uint32) {
	oc := &outgoingCommand{
		command:        *cmd,
		packet:         packet,
		fragmentOffset: offset,
		fragmentLength: length,
	}
	p.setupOutgoing(oc)
}

// setupOutgoing assigns sequence numbers and appends the command to the
// reliable or unreliable send queue.
func (p *Peer) setupOutgoing(oc *outgoingCommand) {
	header := &oc.command.Header
	p.outgoingDataTotal += uint32(oc.command.Size()) + oc.fragmentLength

	switch {
	case header.ChannelID == controlChannel:
		p.outgoingReliableSequenceNumber++
		oc.reliableSequenceNumber = p.outgoingReliableSequenceNumber
		oc.unreliableSequenceNumber = 0
	case header.Command&protocol.FlagAcknowledge != 0:
		ch := &p.channels[header.ChannelID]
		ch.outgoingReliableSequenceNumber++
		ch.outgoingUnreliableSequenceNumber = 0
		oc.reliableSequenceNumber = ch.outgoingReliableSequenceNumber
		oc.unreliableSequenceNumber = 0
	case header.Command&protocol.FlagUnsequenced != 0:
		p.outgoingUnsequencedGroup++
		oc.reliableSequenceNumber = 0
		oc.unreliableSequenceNumber = 0
	default:
		ch := &p.channels[header.ChannelID]
		if oc.fragmentOffset == 0 {
			ch.outgoingUnreliableSequenceNumber++
		}
		oc.reliableSequenceNumber = ch.outgoingReliableSequenceNumber
		oc.unreliableSequenceNumber = ch.outgoingUnreliableSequenceNumber
	}

	oc.sendAttempts = 0
	oc.sentTime = 0
	oc.roundTripTimeout = 0
	oc.roundTripTimeoutLimit = 0
	header.ReliableSequenceNumber = oc.reliableSequenceNumber

	switch header.Type() {
	case protocol.CommandSendUnreliable:
		oc.command.Send.UnreliableSequenceNumber = oc.unreliableSequenceNumber
	case protocol.CommandSendUnsequenced:
		oc.command.Send.UnsequencedGroup = p.outgoingUnsequencedGroup
	}

	if header.Command&protocol.FlagAcknowledge != 0 {
		p.outgoingReliable.PushBack(oc)
	} else {
		p.outgoingUnreliable.PushBack(oc)
	}
}

// removeSentReliable drops the command acknowledged by (seq, channelID) and
// returns its type, or CommandNone when no such command is outstanding.
func (p *Peer) removeSentReliable(seq uint16, channelID uint8) protocol.CommandType {
	match := func(oc *outgoingCommand) bool {
		return oc.reliableSequenceNumber == seq && oc.command.Header.ChannelID == channelID
	}

	wasSent := true
	var found *list.Element
	for e := p.sentReliable.Front(); e != nil; e = e.Next() {
		if match(e.Value.(*outgoingCommand)) {
			found = e
			break
		}
	}
	src := &p.sentReliable
	if found == nil {
		for e := p.outgoingReliable.Front(); e != nil; e = e.Next() {
			oc := e.Value.(*outgoingCommand)
			if oc.sendAttempts < 1 {
				return protocol.CommandNone
			}
			if match(oc) {
				found = e
				break
			}
		}
		if found == nil {
			return protocol.CommandNone
		}
		src = &p.outgoingReliable
		wasSent = false
	}

	if int(channelID) < len(p.channels) {
		ch := &p.channels[channelID]
		window := seq / peerReliableWindowSize
		if ch.reliableWindows[window] > 0 {
			ch.reliableWindows[window]--
			if ch.reliableWindows[window] == 0 {
				ch.usedReliableWindows &^= 1 << window
			}
		}
	}

	oc := src.Remove(found).(*outgoingCommand)
	if oc.packet != nil && wasSent {
		p.reliableDataInTransit -= oc.fragmentLength
	}

	if front := p.sentReliable.Front(); front != nil {
		next := front.Value.(*outgoingCommand)
		p.nextTimeout = next.sentTime + next.roundTripTimeout
	}
	return oc.command.Header.Type()
}
