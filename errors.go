package enet

import "errors"

var (
	// ErrTransport wraps failures of the underlying datagram transport.
	ErrTransport = errors.New("transport error")
	// ErrResolution is returned when an address cannot be parsed or resolved.
	ErrResolution = errors.New("address resolution failed")
	// ErrCapacity is returned when the peer table is full or a channel or
	// peer count is out of range.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrProtocol reports a malformed or unexpected protocol frame.
	ErrProtocol = errors.New("protocol error")

	ErrInvalidPacket  = errors.New("invalid packet")
	ErrNotConnected   = errors.New("peer not connected")
	ErrInvalidChannel = errors.New("invalid channel")
	ErrPacketTooLarge = errors.New("packet too large")
	ErrClosed         = errors.New("host closed")
)
