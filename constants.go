package enet

import "github.com/based-collective/citizen-enet/internal/protocol"

const (
	hostBandwidthThrottleInterval = 1000
	hostDefaultMTU                = 1400
	hostDefaultMaximumPacketSize  = 32 * 1024 * 1024
	hostDefaultMaximumWaitingData = 32 * 1024 * 1024
	hostReceiveBatch              = 256

	peerDefaultRoundTripTime   = 500
	peerPacketLossScale        = 1 << 16
	peerPacketLossInterval     = 10000
	peerWindowSizeScale        = 64 * 1024
	peerTimeoutLimit           = 32
	peerTimeoutMinimum         = 5000
	peerTimeoutMaximum         = 30000
	peerPingInterval           = 500
	peerUnsequencedWindowSize  = 1024
	peerFreeUnsequencedWindows = 32
	peerReliableWindows        = 16
	peerReliableWindowSize     = 0x1000
	peerFreeReliableWindows    = 8

	controlChannel = 0xFF
	sessionMask    = uint8(protocol.HeaderSessionMask >> protocol.HeaderSessionShift)
)

// timeOverflow bounds how far apart two service times may be before
// wrap-around is assumed.
const timeOverflow = 86400000

func timeLess(a, b uint32) bool         { return a-b >= timeOverflow }
func timeGreater(a, b uint32) bool      { return b-a >= timeOverflow }
func timeGreaterEqual(a, b uint32) bool { return !timeLess(a, b) }

func timeDifference(a, b uint32) uint32 {
	if a-b >= timeOverflow {
		return b - a
	}
	return a - b
}

// reliableWindowOf returns the window of seq relative to the channel's
// incoming position, unwrapped past the end of the sequence space.
func reliableWindowOf(seq, incoming uint16) (window, current uint16) {
	window = seq / peerReliableWindowSize
	current = incoming / peerReliableWindowSize
	if seq < incoming {
		window += peerReliableWindows
	}
	return window, current
}
