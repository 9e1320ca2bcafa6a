package enet

import (
	"fmt"

	"github.com/based-collective/citizen-enet/internal/protocol"
)

// BandwidthLimit is a rate in bytes per second. Zero means unlimited.
type BandwidthLimit uint32

const Unlimited BandwidthLimit = 0

// ChannelLimit caps the channels a remote may open. Zero means the
// protocol maximum.
type ChannelLimit int

func (l ChannelLimit) resolve() (int, error) {
	switch {
	case l == 0:
		return protocol.MaximumChannelCount, nil
	case l < protocol.MinimumChannelCount || l > protocol.MaximumChannelCount:
		return 0, fmt.Errorf("%w: channel limit %d", ErrCapacity, l)
	}
	return int(l), nil
}

func windowSizeFor(bandwidth uint32) uint32 {
	if bandwidth == 0 {
		return protocol.MaximumWindowSize
	}
	return clampWindow((bandwidth / peerWindowSizeScale) * protocol.MinimumWindowSize)
}

func clampWindow(w uint32) uint32 {
	return min(max(w, protocol.MinimumWindowSize), protocol.MaximumWindowSize)
}

func clampMTU(mtu uint32) uint32 {
	return min(max(mtu, protocol.MinimumMTU), protocol.MaximumMTU)
}

// linkWindowSize sizes the reliable window of a link from the sender's
// outgoing and the receiver's incoming limit.
func linkWindowSize(outgoing, incoming uint32) uint32 {
	switch {
	case outgoing == 0 && incoming == 0:
		return protocol.MaximumWindowSize
	case outgoing == 0 || incoming == 0:
		return clampWindow((max(outgoing, incoming) / peerWindowSizeScale) * protocol.MinimumWindowSize)
	default:
		return clampWindow((min(outgoing, incoming) / peerWindowSizeScale) * protocol.MinimumWindowSize)
	}
}

// SetBandwidthLimits changes the host's limits. Connected peers are told
// the new limits on the next service.
func (h *Host) SetBandwidthLimits(incoming, outgoing BandwidthLimit) {
	h.incomingBandwidth = uint32(incoming)
	h.outgoingBandwidth = uint32(outgoing)
	h.recalculateBandwidthLimits = true
}

// SetChannelLimit caps the channel count accepted from future inbound
// connections.
func (h *Host) SetChannelLimit(limit ChannelLimit) error {
	n, err := limit.resolve()
	if err != nil {
		return err
	}
	h.channelLimit = n
	return nil
}

// bandwidthThrottle spreads the host's outgoing bandwidth over the connected
// peers by lowering their throttle limits, and renegotiates incoming limits
// when they changed.
func (h *Host) bandwidthThrottle() {
	now := h.serviceTime
	elapsed := now - h.bandwidthThrottleEpoch
	if elapsed < hostBandwidthThrottleInterval {
		return
	}
	h.bandwidthThrottleEpoch = now

	peersRemaining := h.connectedPeers
	if peersRemaining == 0 {
		return
	}

	dataTotal, bandwidth := ^uint64(0), ^uint64(0)
	if h.outgoingBandwidth != 0 {
		dataTotal = 0
		bandwidth = uint64(h.outgoingBandwidth) * uint64(elapsed) / 1000
		for i := range h.peers {
			p := &h.peers[i]
			if p.state.isConnected() {
				dataTotal += uint64(p.outgoingDataTotal)
			}
		}
	}

	throttleFor := func() uint64 {
		if dataTotal <= bandwidth {
			return ThrottleScale
		}
		return bandwidth * ThrottleScale / dataTotal
	}

	needsAdjustment := h.bandwidthLimitedPeers > 0
	for peersRemaining > 0 && needsAdjustment {
		needsAdjustment = false
		throttle := throttleFor()

		for i := range h.peers {
			p := &h.peers[i]
			if !p.state.isConnected() || p.incomingBandwidth == 0 || p.outgoingBandwidthThrottleEpoch == now {
				continue
			}
			peerBandwidth := uint64(p.incomingBandwidth) * uint64(elapsed) / 1000
			if throttle*uint64(p.outgoingDataTotal)/ThrottleScale <= peerBandwidth {
				continue
			}
			limit := uint32(peerBandwidth * ThrottleScale / uint64(p.outgoingDataTotal))
			p.throttle.setLimit(max(limit, 1))
			p.outgoingBandwidthThrottleEpoch = now
			p.incomingDataTotal = 0
			p.outgoingDataTotal = 0

			needsAdjustment = true
			peersRemaining--
			bandwidth -= min(bandwidth, peerBandwidth)
			dataTotal -= min(dataTotal, peerBandwidth)
		}
	}

	if peersRemaining > 0 {
		throttle := uint32(throttleFor())
		for i := range h.peers {
			p := &h.peers[i]
			if !p.state.isConnected() || p.outgoingBandwidthThrottleEpoch == now {
				continue
			}
			p.throttle.setLimit(throttle)
			p.incomingDataTotal = 0
			p.outgoingDataTotal = 0
		}
	}

	if !h.recalculateBandwidthLimits {
		return
	}
	h.recalculateBandwidthLimits = false

	peersRemaining = h.connectedPeers
	remaining := h.incomingBandwidth
	var bandwidthLimit uint32
	needsAdjustment = true
	if remaining != 0 {
		for peersRemaining > 0 && needsAdjustment {
			needsAdjustment = false
			bandwidthLimit = remaining / uint32(peersRemaining)
			for i := range h.peers {
				p := &h.peers[i]
				if !p.state.isConnected() || p.incomingBandwidthThrottleEpoch == now {
					continue
				}
				if p.outgoingBandwidth > 0 && p.outgoingBandwidth >= bandwidthLimit {
					continue
				}
				p.incomingBandwidthThrottleEpoch = now
				needsAdjustment = true
				peersRemaining--
				remaining -= min(remaining, p.outgoingBandwidth)
			}
		}
	}

	for i := range h.peers {
		p := &h.peers[i]
		if !p.state.isConnected() {
			continue
		}
		incoming := bandwidthLimit
		if p.incomingBandwidthThrottleEpoch == now {
			incoming = p.outgoingBandwidth
		}
		p.queueOutgoing(&protocol.Command{
			Header: protocol.CommandHeader{
				Command:   uint8(protocol.CommandBandwidthLimit) | protocol.FlagAcknowledge,
				ChannelID: controlChannel,
			},
			BandwidthLimit: protocol.BandwidthLimit{
				IncomingBandwidth: incoming,
				OutgoingBandwidth: h.outgoingBandwidth,
			},
		}, nil, 0, 0)
	}
}
