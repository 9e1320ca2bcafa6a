package enet

import (
	"encoding/binary"
	"fmt"

	"github.com/based-collective/citizen-enet/internal/protocol"
	"github.com/based-collective/citizen-enet/internal/util"
)

// datagramBuilder accumulates the commands of the datagram being built for
// one peer.
type datagramBuilder struct {
	headerFlags     uint16
	commandCount    int
	packetSize      int
	continueSending bool

	body       []byte
	compressed []byte
	packet     []byte
}

func (b *datagramBuilder) reset(checksum bool) {
	b.headerFlags = 0
	b.commandCount = 0
	b.body = b.body[:0]
	b.packetSize = protocol.HeaderSize
	if checksum {
		b.packetSize += protocol.ChecksumSize
	}
}

// fits reports whether a command of size bytes plus payload still fits
// into a datagram of mtu bytes.
func (b *datagramBuilder) fits(mtu uint32, size int, payload uint32) bool {
	return b.commandCount < protocol.MaximumPacketCommands &&
		int(mtu)-b.packetSize >= size+int(payload)
}

func (b *datagramBuilder) appendCommand(cmd *protocol.Command, payload []byte) {
	b.body = protocol.AppendCommand(b.body, cmd)
	b.body = append(b.body, payload...)
	b.packetSize += cmd.Size() + len(payload)
	b.commandCount++
}

// sendOutgoing builds and sends datagrams for every active peer until all
// queues that fit have been drained.
func (h *Host) sendOutgoing(ev *Event, checkTimeouts bool) error {
	b := &h.out
	pingSize := protocol.CommandSize(uint8(protocol.CommandPing))

	b.continueSending = true
	for b.continueSending {
		b.continueSending = false

		for i := range h.peers {
			p := &h.peers[i]
			if p.state == StateDisconnected || p.state == StateZombie {
				continue
			}

			b.reset(h.checksum)
			if p.acknowledgements.Len() > 0 {
				h.sendAcknowledgements(p)
			}

			if checkTimeouts && p.sentReliable.Len() > 0 &&
				timeGreaterEqual(h.serviceTime, p.nextTimeout) &&
				h.checkTimeouts(p, ev) {
				if ev != nil && ev.Type != EventNone {
					return nil
				}
				continue
			}

			if (p.outgoingReliable.Len() == 0 || h.sendReliableOutgoing(p)) &&
				p.sentReliable.Len() == 0 &&
				timeDifference(h.serviceTime, p.lastReceiveTime) >= p.pingInterval &&
				int(p.mtu)-b.packetSize >= pingSize {
				p.Ping()
				h.sendReliableOutgoing(p)
			}

			if p.outgoingUnreliable.Len() > 0 {
				h.sendUnreliableOutgoing(p)
			}

			if b.commandCount == 0 {
				continue
			}
			p.updatePacketLoss(h.serviceTime)
			if err := h.transmit(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Host) sendAcknowledgements(p *Peer) {
	b := &h.out
	size := protocol.CommandSize(uint8(protocol.CommandAcknowledge))

	for e := p.acknowledgements.Front(); e != nil; {
		if !b.fits(p.mtu, size, 0) {
			b.continueSending = true
			break
		}
		next := e.Next()
		ack := p.acknowledgements.Remove(e).(*acknowledgement)
		e = next

		b.appendCommand(&protocol.Command{
			Header: protocol.CommandHeader{
				Command:                uint8(protocol.CommandAcknowledge),
				ChannelID:              ack.header.ChannelID,
				ReliableSequenceNumber: ack.header.ReliableSequenceNumber,
			},
			Acknowledge: protocol.Acknowledge{
				ReceivedReliableSequenceNumber: ack.header.ReliableSequenceNumber,
				ReceivedSentTime:               ack.sentTime,
			},
		}, nil)

		if ack.header.Type() == protocol.CommandDisconnect {
			h.dispatchState(p, StateZombie)
		}
	}
}

// checkTimeouts requeues reliable commands whose retransmission timer
// expired, doubling their timeout. It reports true when the peer was
// declared unreachable.
func (h *Host) checkTimeouts(p *Peer, ev *Event) bool {
	now := h.serviceTime
	insertBefore := p.outgoingReliable.Front()
	lost := false

	for e := p.sentReliable.Front(); e != nil; {
		oc := e.Value.(*outgoingCommand)
		next := e.Next()

		if timeDifference(now, oc.sentTime) < oc.roundTripTimeout {
			e = next
			continue
		}

		if p.earliestTimeout == 0 || timeLess(oc.sentTime, p.earliestTimeout) {
			p.earliestTimeout = oc.sentTime
		}
		elapsed := timeDifference(now, p.earliestTimeout)
		if elapsed >= p.timeoutMaximum ||
			(oc.roundTripTimeout >= oc.roundTripTimeoutLimit && elapsed >= p.timeoutMinimum) {
			util.LogWarning("peer %d (%s) unreachable after %dms", p.incomingPeerID, p.address, elapsed)
			h.notifyDisconnect(p, ev)
			return true
		}

		if oc.packet != nil {
			p.reliableDataInTransit -= oc.fragmentLength
		}
		p.packetsLost++
		h.counters.Retransmissions.Add(1)
		lost = true

		oc.roundTripTimeout *= 2
		p.sentReliable.Remove(e)
		if insertBefore == nil {
			p.outgoingReliable.PushBack(oc)
		} else {
			p.outgoingReliable.InsertBefore(oc, insertBefore)
		}

		if next != nil && next == p.sentReliable.Front() {
			first := next.Value.(*outgoingCommand)
			p.nextTimeout = first.sentTime + first.roundTripTimeout
		}
		e = next
	}

	if lost {
		p.throttle.decelerate()
	}
	return false
}

// sendReliableOutgoing moves reliable commands into the datagram while the
// reliable window and the throttled in-flight budget allow. It reports
// whether nothing was sent, in which case a ping may go out instead.
func (h *Host) sendReliableOutgoing(p *Peer) bool {
	b := &h.out
	const busyWindows = uint32(1<<(peerFreeReliableWindows+2) - 1)
	windowExceeded, windowWrap, canPing := false, false, true

	for e := p.outgoingReliable.Front(); e != nil; {
		oc := e.Value.(*outgoingCommand)

		var ch *channel
		if int(oc.command.Header.ChannelID) < len(p.channels) {
			ch = &p.channels[oc.command.Header.ChannelID]
		}
		window := oc.reliableSequenceNumber / peerReliableWindowSize

		if ch != nil {
			if !windowWrap && oc.sendAttempts < 1 &&
				oc.reliableSequenceNumber%peerReliableWindowSize == 0 &&
				(ch.reliableWindows[(window+peerReliableWindows-1)%peerReliableWindows] >= peerReliableWindowSize ||
					uint32(ch.usedReliableWindows)&(busyWindows<<window|busyWindows>>(peerReliableWindows-window)) != 0) {
				windowWrap = true
			}
			if windowWrap {
				e = e.Next()
				continue
			}
		}

		if oc.packet != nil {
			if !windowExceeded {
				windowSize := p.throttle.value * p.windowSize / ThrottleScale
				if p.reliableDataInTransit+oc.fragmentLength > max(windowSize, p.mtu) {
					windowExceeded = true
				}
			}
			if windowExceeded {
				e = e.Next()
				continue
			}
		}

		canPing = false
		if !b.fits(p.mtu, oc.command.Size(), oc.fragmentLength) {
			b.continueSending = true
			break
		}
		next := e.Next()

		if ch != nil && oc.sendAttempts < 1 {
			ch.usedReliableWindows |= 1 << window
			ch.reliableWindows[window]++
		}
		oc.sendAttempts++
		if oc.roundTripTimeout == 0 {
			oc.roundTripTimeout = p.roundTripTime + 4*p.roundTripTimeVariance
			oc.roundTripTimeoutLimit = p.timeoutLimit * oc.roundTripTimeout
		}
		if p.sentReliable.Len() == 0 {
			p.nextTimeout = h.serviceTime + oc.roundTripTimeout
		}

		p.outgoingReliable.Remove(e)
		p.sentReliable.PushBack(oc)
		oc.sentTime = h.serviceTime

		b.headerFlags |= protocol.HeaderFlagSentTime
		b.appendCommand(&oc.command, oc.payload())
		if oc.packet != nil {
			p.reliableDataInTransit += oc.fragmentLength
		}
		p.packetsSent++
		e = next
	}
	return canPing
}

// sendUnreliableOutgoing moves unreliable commands into the datagram. The
// throttle may drop a packet here, together with all of its fragments.
func (h *Host) sendUnreliableOutgoing(p *Peer) {
	b := &h.out

	for e := p.outgoingUnreliable.Front(); e != nil; {
		oc := e.Value.(*outgoingCommand)
		if !b.fits(p.mtu, oc.command.Size(), oc.fragmentLength) {
			b.continueSending = true
			break
		}
		next := e.Next()
		p.outgoingUnreliable.Remove(e)

		if oc.packet != nil && oc.fragmentOffset == 0 && p.throttle.drop() {
			h.counters.PacketsThrottled.Add(1)
			for next != nil {
				f := next.Value.(*outgoingCommand)
				if f.fragmentOffset == 0 ||
					f.reliableSequenceNumber != oc.reliableSequenceNumber ||
					f.unreliableSequenceNumber != oc.unreliableSequenceNumber {
					break
				}
				after := next.Next()
				p.outgoingUnreliable.Remove(next)
				next = after
			}
			e = next
			continue
		}

		b.appendCommand(&oc.command, oc.payload())
		e = next
	}

	if p.state == StateDisconnectLater && p.queuesEmpty() {
		p.Disconnect(p.disconnectData)
	}
}

// updatePacketLoss folds the last interval's loss ratio into the peer's
// packet loss mean and variance.
func (p *Peer) updatePacketLoss(now uint32) {
	if p.packetLossEpoch == 0 {
		p.packetLossEpoch = now
		return
	}
	if timeDifference(now, p.packetLossEpoch) < peerPacketLossInterval || p.packetsSent == 0 {
		return
	}

	loss := uint32(uint64(p.packetsLost) * peerPacketLossScale / uint64(p.packetsSent))
	diff := loss - p.packetLoss
	if loss < p.packetLoss {
		diff = p.packetLoss - loss
	}
	p.packetLossVariance = (p.packetLossVariance*3 + diff) / 4
	p.packetLoss = (p.packetLoss*7 + loss) / 8

	p.packetLossEpoch = now
	p.packetsSent = 0
	p.packetsLost = 0
}

// transmit frames the built commands for p and writes the datagram.
func (h *Host) transmit(p *Peer) error {
	b := &h.out

	body := b.body
	if h.compressor != nil {
		b.compressed = h.compressor.Compress(b.compressed[:0], b.body)
		if len(b.compressed) > 0 && len(b.compressed) < len(b.body) {
			b.headerFlags |= protocol.HeaderFlagCompressed
			body = b.compressed
		}
	}
	if p.outgoingPeerID < protocol.MaximumPeerID {
		b.headerFlags |= uint16(p.outgoingSessionID) << protocol.HeaderSessionShift
	}

	header := protocol.Header{PeerID: p.outgoingPeerID | b.headerFlags}
	if b.headerFlags&protocol.HeaderFlagSentTime != 0 {
		header.SentTime = uint16(h.serviceTime)
	}
	pkt := protocol.AppendHeader(b.packet[:0], header)

	if h.checksum {
		var seed uint32
		if p.outgoingPeerID < protocol.MaximumPeerID {
			seed = p.connectID
		}
		offset := len(pkt)
		pkt = binary.BigEndian.AppendUint32(pkt, seed)
		pkt = append(pkt, b.body...)
		binary.BigEndian.PutUint32(pkt[offset:], datagramChecksum(pkt, offset, seed))
		pkt = append(pkt[:offset+protocol.ChecksumSize], body...)
	} else {
		pkt = append(pkt, body...)
	}
	b.packet = pkt

	p.lastSendTime = h.serviceTime
	n, err := h.conn.Send(p.address.AddrPort(), pkt)
	if err != nil {
		return fmt.Errorf("%w: send to %s: %w", ErrTransport, p.address, err)
	}
	h.counters.AddSent(n)
	return nil
}
