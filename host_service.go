package enet

import (
	"fmt"
	"time"

	"github.com/based-collective/citizen-enet/internal/util"
)

// Service runs protocol housekeeping and waits up to timeout for network
// activity. It returns the first event produced, or nil when the timeout
// passed without one. Further events are queued for later calls.
func (h *Host) Service(timeout time.Duration) (*Event, error) {
	h.checkReentry("Service")
	if h.closed {
		return nil, ErrClosed
	}

	ev := &Event{}
	if h.dispatchIncoming(ev) {
		return ev, nil
	}

	h.serviceTime = h.now()
	deadline := h.serviceTime + uint32(timeout/time.Millisecond)
	for {
		if timeDifference(h.serviceTime, h.bandwidthThrottleEpoch) >= hostBandwidthThrottleInterval {
			h.bandwidthThrottle()
		}

		for _, step := range [...]func(*Event) error{h.sendOutgoingChecked, h.receiveIncoming, h.sendOutgoingChecked} {
			if err := step(ev); err != nil {
				return nil, err
			}
			if ev.Type != EventNone {
				return ev, nil
			}
		}
		if h.dispatchIncoming(ev) {
			return ev, nil
		}

		h.serviceTime = h.now()
		if timeGreaterEqual(h.serviceTime, deadline) {
			return nil, nil
		}

		wait := time.Duration(timeDifference(deadline, h.serviceTime)) * time.Millisecond
		d, ok, err := h.conn.Receive(wait)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if !ok {
			return nil, nil
		}
		h.pending = &d
		h.serviceTime = h.now()
	}
}

func (h *Host) sendOutgoingChecked(ev *Event) error {
	return h.sendOutgoing(ev, true)
}

// CheckEvents returns an already queued event without touching the
// transport.
func (h *Host) CheckEvents() (*Event, error) {
	h.checkReentry("CheckEvents")
	if h.closed {
		return nil, ErrClosed
	}
	ev := &Event{}
	if h.dispatchIncoming(ev) {
		return ev, nil
	}
	return nil, nil
}

// Flush sends everything queued on every peer without waiting for a
// service call. Timeouts are not checked.
func (h *Host) Flush() error {
	h.checkReentry("Flush")
	if h.closed {
		return ErrClosed
	}
	h.serviceTime = h.now()
	return h.sendOutgoing(nil, false)
}

// flushBestEffort sends a final notice during a disconnect. The peer is
// reset right after, so a transport error has nowhere to go.
func (h *Host) flushBestEffort() {
	if h.closed {
		return
	}
	h.serviceTime = h.now()
	if err := h.sendOutgoing(nil, false); err != nil {
		util.LogDebug("flush: %v", err)
	}
}

// dispatchIncoming pops peers off the dispatch queue until one yields an
// event.
func (h *Host) dispatchIncoming(ev *Event) bool {
	for {
		e := h.dispatchQueue.Front()
		if e == nil {
			return false
		}
		p := h.dispatchQueue.Remove(e).(*Peer)
		p.needsDispatch = false
		p.dispatchElem = nil

		switch p.state {
		case StateConnectionPending, StateConnectionSucceeded:
			h.changeState(p, StateConnected)
			h.counters.Connects.Add(1)
			*ev = Event{Type: EventConnect, Peer: p, Data: p.eventData}
			return true

		case StateZombie:
			h.recalculateBandwidthLimits = true
			h.counters.Disconnects.Add(1)
			*ev = Event{Type: EventDisconnect, Peer: p, Data: p.eventData}
			p.Reset()
			return true

		case StateConnected:
			packet, channelID, ok := p.Receive()
			if !ok {
				continue
			}
			h.counters.PacketsReceived.Add(1)
			*ev = Event{Type: EventReceive, Peer: p, ChannelID: channelID, Packet: packet}
			if p.dispatched.Len() > 0 {
				h.markForDispatch(p)
			}
			return true
		}
	}
}

func (h *Host) markForDispatch(p *Peer) {
	if p.needsDispatch {
		return
	}
	p.needsDispatch = true
	p.dispatchElem = h.dispatchQueue.PushBack(p)
}

func (h *Host) onConnect(p *Peer) {
	if p.state.isConnected() {
		return
	}
	if p.incomingBandwidth != 0 {
		h.bandwidthLimitedPeers++
	}
	h.connectedPeers++
}

func (h *Host) onDisconnect(p *Peer) {
	if !p.state.isConnected() {
		return
	}
	if p.incomingBandwidth != 0 {
		h.bandwidthLimitedPeers--
	}
	h.connectedPeers--
}

func (h *Host) changeState(p *Peer, state PeerState) {
	if state.isConnected() {
		h.onConnect(p)
	} else {
		h.onDisconnect(p)
	}
	util.LogDebug("peer %d %s -> %s", p.incomingPeerID, p.state, state)
	p.state = state
	if state == StateConnected && p.throttlePending {
		p.throttlePending = false
		p.sendThrottleConfigure()
	}
}

// dispatchState changes state and queues the peer so the change surfaces as
// an event.
func (h *Host) dispatchState(p *Peer, state PeerState) {
	h.changeState(p, state)
	h.markForDispatch(p)
}

func (h *Host) notifyConnect(p *Peer, ev *Event) {
	h.recalculateBandwidthLimits = true
	if ev != nil {
		h.changeState(p, StateConnected)
		h.counters.Connects.Add(1)
		*ev = Event{Type: EventConnect, Peer: p, Data: p.eventData}
		return
	}
	if p.state == StateConnecting {
		h.dispatchState(p, StateConnectionSucceeded)
	} else {
		h.dispatchState(p, StateConnectionPending)
	}
}

// notifyDisconnect ends a connection that timed out or finished its
// disconnect handshake. Handshakes that never completed end silently.
func (h *Host) notifyDisconnect(p *Peer, ev *Event) {
	if p.state >= StateConnectionPending {
		h.recalculateBandwidthLimits = true
	}

	switch {
	case p.state == StateConnecting:
		util.LogDebug("peer %d: connection to %s failed", p.incomingPeerID, p.address)
		h.counters.FailedConnects.Add(1)
		p.Reset()
	case p.state < StateConnectionSucceeded:
		p.Reset()
	case ev != nil:
		h.counters.Disconnects.Add(1)
		*ev = Event{Type: EventDisconnect, Peer: p, Data: p.disconnectData}
		p.Reset()
	default:
		p.eventData = p.disconnectData
		h.dispatchState(p, StateZombie)
	}
}

// failConnect abandons an outbound handshake the remote rejected.
func (h *Host) failConnect(p *Peer) {
	util.LogDebug("peer %d: handshake with %s rejected", p.incomingPeerID, p.address)
	h.counters.FailedConnects.Add(1)
	p.Reset()
}
