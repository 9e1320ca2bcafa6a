package enet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/based-collective/citizen-enet/internal/protocol"
	"github.com/based-collective/citizen-enet/internal/transport"
	"github.com/based-collective/citizen-enet/internal/util"
)

var (
	errUnexpectedCommand = fmt.Errorf("%w: command not valid in peer state", ErrProtocol)
	errRefused           = fmt.Errorf("%w: connection refused", ErrProtocol)
	errQueueFull         = fmt.Errorf("%w: incoming queue rejected command", ErrProtocol)
)

// receiveIncoming drains up to one batch of datagrams from the transport.
func (h *Host) receiveIncoming(ev *Event) error {
	for range hostReceiveBatch {
		var d transport.Datagram
		if h.pending != nil {
			d, h.pending = *h.pending, nil
		} else {
			var ok bool
			var err error
			d, ok, err = h.conn.Receive(0)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrTransport, err)
			}
			if !ok {
				return nil
			}
		}
		h.counters.AddReceived(len(d.Data))

		if h.intercept != nil && h.runIntercept(d.From, d.Data) {
			continue
		}
		h.handleIncoming(ev, d.From, d.Data)
		if ev.Type != EventNone {
			return nil
		}
	}
	return nil
}

func (h *Host) dropDatagram(from netip.AddrPort, reason error) {
	h.counters.DatagramsDropped.Add(1)
	if util.DebugEnabled() {
		util.LogDebug("dropping datagram from %s: %v", from, reason)
	}
}

// handleIncoming demultiplexes one datagram to its peer and runs every
// command in it.
func (h *Host) handleIncoming(ev *Event, from netip.AddrPort, data []byte) {
	header, headerSize, err := protocol.DecodeHeader(data)
	if err != nil {
		h.dropDatagram(from, err)
		return
	}

	flags := header.PeerID & protocol.HeaderFlagMask
	sessionID := uint8((header.PeerID & protocol.HeaderSessionMask) >> protocol.HeaderSessionShift)
	peerID := header.PeerID &^ (protocol.HeaderFlagMask | protocol.HeaderSessionMask)

	if h.checksum {
		headerSize += protocol.ChecksumSize
		if len(data) < headerSize {
			h.dropDatagram(from, errors.New("missing checksum"))
			return
		}
	}

	var p *Peer
	switch {
	case peerID == protocol.MaximumPeerID:
	case int(peerID) >= len(h.peers):
		h.dropDatagram(from, fmt.Errorf("unknown peer id %d", peerID))
		return
	default:
		p = &h.peers[peerID]
		if p.state == StateDisconnected || p.state == StateZombie ||
			p.address != AddressFrom(from) ||
			(p.outgoingPeerID < protocol.MaximumPeerID && sessionID != p.incomingSessionID) {
			h.dropDatagram(from, fmt.Errorf("stale datagram for peer %d", peerID))
			return
		}
	}

	if flags&protocol.HeaderFlagCompressed != 0 {
		if h.compressor == nil {
			h.dropDatagram(from, errors.New("compressed datagram without compressor"))
			return
		}
		body, err := h.compressor.Decompress(h.inflate[:0], data[headerSize:], transport.MaxDatagramSize-headerSize)
		if err != nil {
			h.dropDatagram(from, err)
			return
		}
		h.inflate = body
		h.received = append(append(h.received[:0], data[:headerSize]...), body...)
		data = h.received
	}

	if h.checksum {
		var seed uint32
		if p != nil {
			seed = p.connectID
		}
		offset := headerSize - protocol.ChecksumSize
		if datagramChecksum(data, offset, seed) != binary.BigEndian.Uint32(data[offset:]) {
			h.dropDatagram(from, errors.New("checksum mismatch"))
			return
		}
	}

	if p != nil {
		p.incomingDataTotal += uint32(len(data))
	}

	cur := headerSize
commands:
	for cur < len(data) {
		cmd, n, err := protocol.DecodeCommand(data[cur:])
		if err != nil {
			h.dropDatagram(from, err)
			break
		}
		cur += n

		typ := cmd.Header.Type()
		if p == nil && typ != protocol.CommandConnect {
			h.dropDatagram(from, fmt.Errorf("%s without a connection", typ))
			break
		}

		var payload []byte
		switch typ {
		case protocol.CommandSendReliable, protocol.CommandSendUnreliable, protocol.CommandSendUnsequenced,
			protocol.CommandSendFragment, protocol.CommandSendUnreliableFragment:
			end := cur + int(cmd.Send.DataLength)
			if end > len(data) {
				h.dropDatagram(from, fmt.Errorf("%w: %s payload truncated", ErrProtocol, typ))
				break commands
			}
			payload = data[cur:end]
			cur = end
		}

		switch typ {
		case protocol.CommandAcknowledge:
			err = h.handleAcknowledge(ev, p, &cmd)
		case protocol.CommandConnect:
			if p != nil {
				err = errUnexpectedCommand
				break
			}
			if p = h.handleConnect(from, &cmd); p == nil {
				err = errRefused
			}
		case protocol.CommandVerifyConnect:
			err = h.handleVerifyConnect(ev, p, &cmd)
		case protocol.CommandDisconnect:
			h.handleDisconnect(p, &cmd)
		case protocol.CommandPing:
			err = p.expectConnected()
		case protocol.CommandSendReliable:
			err = h.handleSendReliable(p, &cmd, payload)
		case protocol.CommandSendUnreliable:
			err = h.handleSendUnreliable(p, &cmd, payload)
		case protocol.CommandSendUnsequenced:
			err = h.handleSendUnsequenced(p, &cmd, payload)
		case protocol.CommandSendFragment:
			err = h.handleSendFragment(p, &cmd, payload)
		case protocol.CommandSendUnreliableFragment:
			err = h.handleSendUnreliableFragment(p, &cmd, payload)
		case protocol.CommandBandwidthLimit:
			err = h.handleBandwidthLimit(p, &cmd)
		case protocol.CommandThrottleConfigure:
			err = h.handleThrottleConfigure(p, &cmd)
		default:
			err = fmt.Errorf("%w: %s", errUnexpectedCommand, typ)
		}
		if err != nil {
			h.dropDatagram(from, fmt.Errorf("%s: %w", typ, err))
			break
		}

		if p == nil || cmd.Header.Command&protocol.FlagAcknowledge == 0 {
			continue
		}
		if flags&protocol.HeaderFlagSentTime == 0 {
			break
		}
		switch p.state {
		case StateDisconnecting, StateAcknowledgingConnect, StateDisconnected, StateZombie:
		case StateAcknowledgingDisconnect:
			if typ == protocol.CommandDisconnect {
				p.queueAcknowledgement(cmd.Header, header.SentTime)
			}
		default:
			p.queueAcknowledgement(cmd.Header, header.SentTime)
		}
	}
}

func (p *Peer) expectConnected() error {
	if !p.state.isConnected() {
		return errUnexpectedCommand
	}
	return nil
}

func (h *Host) handleConnect(from netip.AddrPort, cmd *protocol.Command) *Peer {
	c := &cmd.Connect
	if c.ChannelCount < protocol.MinimumChannelCount || c.ChannelCount > protocol.MaximumChannelCount {
		return nil
	}

	remote := AddressFrom(from)
	var p *Peer
	duplicates := 0
	for i := range h.peers {
		q := &h.peers[i]
		if q.state == StateDisconnected {
			if p == nil {
				p = q
			}
			continue
		}
		if q.state == StateConnecting || q.address.w.Host != remote.w.Host {
			continue
		}
		if q.address.Port() == remote.Port() && q.connectID == c.ConnectID {
			return nil
		}
		duplicates++
	}
	if p == nil {
		util.LogDebug("refusing connection from %s: peer table full", from)
		return nil
	}
	if duplicates >= h.duplicatePeers {
		util.LogDebug("refusing connection from %s: %d peers from that address", from, duplicates)
		return nil
	}

	channelCount := min(int(c.ChannelCount), h.channelLimit)
	p.channels = make([]channel, channelCount)
	p.state = StateAcknowledgingConnect
	p.connectID = c.ConnectID
	p.address = remote
	p.outgoingPeerID = c.OutgoingPeerID
	p.incomingBandwidth = c.IncomingBandwidth
	p.outgoingBandwidth = c.OutgoingBandwidth
	p.throttle.interval = c.PacketThrottleInterval
	p.throttle.acceleration = min(c.PacketThrottleAcceleration, ThrottleScale)
	p.throttle.deceleration = min(c.PacketThrottleDeceleration, ThrottleScale)
	p.eventData = c.Data

	incomingSessionID := c.IncomingSessionID
	if incomingSessionID == 0xFF {
		incomingSessionID = p.outgoingSessionID
	}
	incomingSessionID = (incomingSessionID + 1) & sessionMask
	if incomingSessionID == p.outgoingSessionID {
		incomingSessionID = (incomingSessionID + 1) & sessionMask
	}
	p.outgoingSessionID = incomingSessionID

	outgoingSessionID := c.OutgoingSessionID
	if outgoingSessionID == 0xFF {
		outgoingSessionID = p.incomingSessionID
	}
	outgoingSessionID = (outgoingSessionID + 1) & sessionMask
	if outgoingSessionID == p.incomingSessionID {
		outgoingSessionID = (outgoingSessionID + 1) & sessionMask
	}
	p.incomingSessionID = outgoingSessionID

	p.mtu = min(clampMTU(c.MTU), h.mtu)
	p.windowSize = linkWindowSize(h.outgoingBandwidth, p.incomingBandwidth)
	windowSize := clampWindow(min(windowSizeFor(h.incomingBandwidth), c.WindowSize))

	p.queueOutgoing(&protocol.Command{
		Header: protocol.CommandHeader{
			Command:   uint8(protocol.CommandVerifyConnect) | protocol.FlagAcknowledge,
			ChannelID: controlChannel,
		},
		Connect: protocol.Connect{
			OutgoingPeerID:             p.incomingPeerID,
			IncomingSessionID:          incomingSessionID,
			OutgoingSessionID:          outgoingSessionID,
			MTU:                        p.mtu,
			WindowSize:                 windowSize,
			ChannelCount:               uint32(channelCount),
			IncomingBandwidth:          h.incomingBandwidth,
			OutgoingBandwidth:          h.outgoingBandwidth,
			PacketThrottleInterval:     p.throttle.interval,
			PacketThrottleAcceleration: p.throttle.acceleration,
			PacketThrottleDeceleration: p.throttle.deceleration,
			ConnectID:                  p.connectID,
		},
	}, nil, 0, 0)

	util.LogDebug("peer %d accepting connection from %s", p.incomingPeerID, from)
	return p
}

func (h *Host) handleVerifyConnect(ev *Event, p *Peer, cmd *protocol.Command) error {
	if p.state != StateConnecting {
		return nil
	}
	c := &cmd.Connect
	if c.ChannelCount < protocol.MinimumChannelCount || c.ChannelCount > protocol.MaximumChannelCount ||
		c.PacketThrottleInterval != p.connectThrottle.PacketThrottleInterval ||
		c.PacketThrottleAcceleration != p.connectThrottle.PacketThrottleAcceleration ||
		c.PacketThrottleDeceleration != p.connectThrottle.PacketThrottleDeceleration ||
		c.ConnectID != p.connectID {
		h.failConnect(p)
		return fmt.Errorf("%w: verify parameters do not match", ErrProtocol)
	}

	p.removeSentReliable(1, controlChannel)

	if int(c.ChannelCount) < len(p.channels) {
		p.channels = p.channels[:c.ChannelCount]
	}
	p.outgoingPeerID = c.OutgoingPeerID
	p.incomingSessionID = c.IncomingSessionID
	p.outgoingSessionID = c.OutgoingSessionID
	p.mtu = min(p.mtu, clampMTU(c.MTU))
	p.windowSize = min(p.windowSize, clampWindow(c.WindowSize))
	p.incomingBandwidth = c.IncomingBandwidth
	p.outgoingBandwidth = c.OutgoingBandwidth

	h.notifyConnect(p, ev)
	return nil
}

func (h *Host) handleAcknowledge(ev *Event, p *Peer, cmd *protocol.Command) error {
	if p.state == StateDisconnected || p.state == StateZombie {
		return nil
	}

	now := h.serviceTime
	sentTime := uint32(cmd.Acknowledge.ReceivedSentTime) | now&0xFFFF0000
	if sentTime&0x8000 > now&0x8000 {
		sentTime -= 0x10000
	}
	if timeLess(now, sentTime) {
		return nil
	}
	p.updateRoundTripTime(max(timeDifference(now, sentTime), 1), now)

	p.lastReceiveTime = max(now, 1)
	p.earliestTimeout = 0

	acked := p.removeSentReliable(cmd.Acknowledge.ReceivedReliableSequenceNumber, cmd.Header.ChannelID)
	switch p.state {
	case StateAcknowledgingConnect:
		if acked != protocol.CommandVerifyConnect {
			return errUnexpectedCommand
		}
		h.notifyConnect(p, ev)
	case StateDisconnecting:
		if acked != protocol.CommandDisconnect {
			return errUnexpectedCommand
		}
		h.notifyDisconnect(p, ev)
	case StateDisconnectLater:
		if p.queuesEmpty() {
			p.Disconnect(p.disconnectData)
		}
	}
	return nil
}

// updateRoundTripTime folds an RTT sample into the smoothed estimate and
// feeds the throttle.
func (p *Peer) updateRoundTripTime(rtt, now uint32) {
	if p.lastReceiveTime > 0 {
		p.throttle.adjust(rtt, p.lastRoundTripTime, p.lastRoundTripTimeVariance)

		p.roundTripTimeVariance -= p.roundTripTimeVariance / 4
		if rtt >= p.roundTripTime {
			diff := rtt - p.roundTripTime
			p.roundTripTimeVariance += diff / 4
			p.roundTripTime += diff / 8
		} else {
			diff := p.roundTripTime - rtt
			p.roundTripTimeVariance += diff / 4
			p.roundTripTime -= diff / 8
		}
	} else {
		p.roundTripTime = rtt
		p.roundTripTimeVariance = (rtt + 1) / 2
	}

	p.lowestRoundTripTime = min(p.lowestRoundTripTime, p.roundTripTime)
	p.highestRoundTripTimeVariance = max(p.highestRoundTripTimeVariance, p.roundTripTimeVariance)

	if p.throttle.epoch == 0 || timeDifference(now, p.throttle.epoch) >= p.throttle.interval {
		p.lastRoundTripTime = p.lowestRoundTripTime
		p.lastRoundTripTimeVariance = max(p.highestRoundTripTimeVariance, 1)
		p.lowestRoundTripTime = p.roundTripTime
		p.highestRoundTripTimeVariance = p.roundTripTimeVariance
		p.throttle.epoch = now
	}
}

func (h *Host) handleDisconnect(p *Peer, cmd *protocol.Command) {
	switch p.state {
	case StateDisconnected, StateZombie, StateAcknowledgingDisconnect:
		return
	}

	p.resetQueues()
	switch {
	case p.state == StateConnecting:
		h.failConnect(p)
		return
	case p.state == StateConnectionSucceeded || p.state == StateDisconnecting:
		h.dispatchState(p, StateZombie)
	case !p.state.isConnected():
		if p.state == StateConnectionPending {
			h.recalculateBandwidthLimits = true
		}
		p.Reset()
	case cmd.Header.Command&protocol.FlagAcknowledge != 0:
		h.changeState(p, StateAcknowledgingDisconnect)
	default:
		h.dispatchState(p, StateZombie)
	}

	if p.state != StateDisconnected {
		p.eventData = cmd.DisconnectData
	}
}

func (h *Host) handleBandwidthLimit(p *Peer, cmd *protocol.Command) error {
	if err := p.expectConnected(); err != nil {
		return err
	}
	if p.incomingBandwidth != 0 {
		h.bandwidthLimitedPeers--
	}
	p.incomingBandwidth = cmd.BandwidthLimit.IncomingBandwidth
	p.outgoingBandwidth = cmd.BandwidthLimit.OutgoingBandwidth
	if p.incomingBandwidth != 0 {
		h.bandwidthLimitedPeers++
	}
	p.windowSize = linkWindowSize(h.outgoingBandwidth, p.incomingBandwidth)
	return nil
}

func (h *Host) handleThrottleConfigure(p *Peer, cmd *protocol.Command) error {
	if err := p.expectConnected(); err != nil {
		return err
	}
	p.throttle.interval = cmd.ThrottleConfigure.PacketThrottleInterval
	p.throttle.acceleration = min(cmd.ThrottleConfigure.PacketThrottleAcceleration, ThrottleScale)
	p.throttle.deceleration = min(cmd.ThrottleConfigure.PacketThrottleDeceleration, ThrottleScale)
	return nil
}

// acceptData checks that a data command may be queued on its channel.
func (h *Host) acceptData(p *Peer, cmd *protocol.Command) error {
	if int(cmd.Header.ChannelID) >= len(p.channels) {
		return fmt.Errorf("%w: channel %d", ErrInvalidChannel, cmd.Header.ChannelID)
	}
	if err := p.expectConnected(); err != nil {
		return err
	}
	if int(cmd.Send.DataLength) > h.maximumPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, cmd.Send.DataLength)
	}
	return nil
}

func (h *Host) handleSendReliable(p *Peer, cmd *protocol.Command, payload []byte) error {
	if err := h.acceptData(p, cmd); err != nil {
		return err
	}
	if _, ok := p.queueIncoming(cmd, payload, 0, ReliableSequenced, 0); !ok {
		return errQueueFull
	}
	return nil
}

func (h *Host) handleSendUnreliable(p *Peer, cmd *protocol.Command, payload []byte) error {
	if err := h.acceptData(p, cmd); err != nil {
		return err
	}
	if _, ok := p.queueIncoming(cmd, payload, 0, UnreliableSequenced, 0); !ok {
		return errQueueFull
	}
	return nil
}

// handleSendUnsequenced delivers an unsequenced packet unless its group was
// already seen in the current unsequenced window.
func (h *Host) handleSendUnsequenced(p *Peer, cmd *protocol.Command, payload []byte) error {
	if err := h.acceptData(p, cmd); err != nil {
		return err
	}

	group := uint32(cmd.Send.UnsequencedGroup)
	index := group % peerUnsequencedWindowSize
	if group < uint32(p.incomingUnsequencedGroup) {
		group += 0x10000
	}
	if group >= uint32(p.incomingUnsequencedGroup)+peerFreeUnsequencedWindows*peerUnsequencedWindowSize {
		return nil
	}
	group &= 0xFFFF

	if group-index != uint32(p.incomingUnsequencedGroup) {
		p.incomingUnsequencedGroup = uint16(group - index)
		clear(p.unsequencedWindow[:])
	} else if p.unsequencedWindow[index/32]&(1<<(index%32)) != 0 {
		return nil
	}

	if _, ok := p.queueIncoming(cmd, payload, 0, UnreliableUnsequenced, 0); !ok {
		return errQueueFull
	}
	p.unsequencedWindow[index/32] |= 1 << (index % 32)
	return nil
}

// checkFragment validates the fragment fields of cmd against its payload.
func (h *Host) checkFragment(cmd *protocol.Command, payload []byte) error {
	s := &cmd.Send
	length := uint32(len(payload))
	switch {
	case length == 0:
		return fmt.Errorf("%w: empty fragment", ErrProtocol)
	case s.FragmentCount > protocol.MaximumFragmentCount,
		s.FragmentNumber >= s.FragmentCount,
		s.TotalLength > uint32(h.maximumPacketSize),
		s.TotalLength < s.FragmentCount,
		s.FragmentOffset >= s.TotalLength,
		length > s.TotalLength-s.FragmentOffset:
		return fmt.Errorf("%w: fragment %d/%d at %d of %d", ErrProtocol, s.FragmentNumber, s.FragmentCount, s.FragmentOffset, s.TotalLength)
	}
	return nil
}

// sameGroup reports whether ic is the reassembly buffer cmd belongs to.
func sameGroup(ic *incomingCommand, cmd *protocol.Command) error {
	if ic.commandType() != cmd.Header.Type() ||
		uint32(len(ic.data)) != cmd.Send.TotalLength ||
		ic.fragmentCount != cmd.Send.FragmentCount {
		return fmt.Errorf("%w: fragment does not match its group", ErrProtocol)
	}
	return nil
}

func (h *Host) handleSendFragment(p *Peer, cmd *protocol.Command, payload []byte) error {
	if err := h.acceptData(p, cmd); err != nil {
		return err
	}
	ch := &p.channels[cmd.Header.ChannelID]
	start := cmd.Send.StartSequenceNumber

	window, current := reliableWindowOf(start, ch.incomingReliableSequenceNumber)
	if window < current || window >= current+peerFreeReliableWindows-1 {
		return nil
	}
	if err := h.checkFragment(cmd, payload); err != nil {
		return err
	}

	var group *incomingCommand
	for e := ch.incomingReliable.Back(); e != nil; e = e.Prev() {
		ic := e.Value.(*incomingCommand)
		if start >= ch.incomingReliableSequenceNumber {
			if ic.reliableSequenceNumber < ch.incomingReliableSequenceNumber {
				continue
			}
		} else if ic.reliableSequenceNumber >= ch.incomingReliableSequenceNumber {
			break
		}
		if ic.reliableSequenceNumber <= start {
			if ic.reliableSequenceNumber < start {
				break
			}
			if err := sameGroup(ic, cmd); err != nil {
				return err
			}
			group = ic
			break
		}
	}

	if group == nil {
		first := *cmd
		first.Header.ReliableSequenceNumber = start
		var ok bool
		group, ok = p.queueIncoming(&first, nil, cmd.Send.TotalLength, ReliableSequenced, cmd.Send.FragmentCount)
		if !ok || group == nil {
			return errQueueFull
		}
	}

	if group.addFragment(cmd.Send.FragmentNumber, cmd.Send.FragmentOffset, payload) && group.fragmentsRemaining == 0 {
		p.dispatchIncomingReliable(ch, nil)
	}
	return nil
}

func (h *Host) handleSendUnreliableFragment(p *Peer, cmd *protocol.Command, payload []byte) error {
	if err := h.acceptData(p, cmd); err != nil {
		return err
	}
	ch := &p.channels[cmd.Header.ChannelID]
	reliableSeq := cmd.Header.ReliableSequenceNumber
	start := cmd.Send.StartSequenceNumber

	window, current := reliableWindowOf(reliableSeq, ch.incomingReliableSequenceNumber)
	if window < current || window >= current+peerFreeReliableWindows-1 {
		return nil
	}
	if reliableSeq == ch.incomingReliableSequenceNumber && start <= ch.incomingUnreliableSequenceNumber {
		return nil
	}
	if err := h.checkFragment(cmd, payload); err != nil {
		return err
	}

	var group *incomingCommand
	for e := ch.incomingUnreliable.Back(); e != nil; e = e.Prev() {
		ic := e.Value.(*incomingCommand)
		if reliableSeq >= ch.incomingReliableSequenceNumber {
			if ic.reliableSequenceNumber < ch.incomingReliableSequenceNumber {
				continue
			}
		} else if ic.reliableSequenceNumber >= ch.incomingReliableSequenceNumber {
			break
		}
		if ic.reliableSequenceNumber < reliableSeq {
			break
		}
		if ic.reliableSequenceNumber > reliableSeq {
			continue
		}
		if ic.unreliableSequenceNumber <= start {
			if ic.unreliableSequenceNumber < start {
				break
			}
			if err := sameGroup(ic, cmd); err != nil {
				return err
			}
			group = ic
			break
		}
	}

	if group == nil {
		var ok bool
		group, ok = p.queueIncoming(cmd, nil, cmd.Send.TotalLength, UnreliableSequenced, cmd.Send.FragmentCount)
		if !ok || group == nil {
			return errQueueFull
		}
	}

	if group.addFragment(cmd.Send.FragmentNumber, cmd.Send.FragmentOffset, payload) && group.fragmentsRemaining == 0 {
		p.dispatchIncomingUnreliable(ch, nil)
	}
	return nil
}
