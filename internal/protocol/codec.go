package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnknownCommand is returned when a command byte names no known command.
var ErrUnknownCommand = errors.New("unknown command")

// AppendHeader encodes h onto buf. SentTime is written only when
// HeaderFlagSentTime is set in PeerID.
func AppendHeader(buf []byte, h Header) []byte {
	buf = binary.BigEndian.AppendUint16(buf, h.PeerID)
	if h.PeerID&HeaderFlagSentTime != 0 {
		buf = binary.BigEndian.AppendUint16(buf, h.SentTime)
	}
	return buf
}

// DecodeHeader parses the datagram header and returns the number of bytes
// it occupies.
func DecodeHeader(data []byte) (Header, int, error) {
	if len(data) < HeaderSizeMinimal {
		return Header{}, 0, fmt.Errorf("packet too short: %d bytes (need at least %d)", len(data), HeaderSizeMinimal)
	}
	h := Header{PeerID: binary.BigEndian.Uint16(data[0:2])}
	if h.PeerID&HeaderFlagSentTime == 0 {
		return h, HeaderSizeMinimal, nil
	}
	if len(data) < HeaderSize {
		return Header{}, 0, fmt.Errorf("packet too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	h.SentTime = binary.BigEndian.Uint16(data[2:4])
	return h, HeaderSize, nil
}

// AppendCommand encodes c, without payload, onto buf.
func AppendCommand(buf []byte, c *Command) []byte {
	be := binary.BigEndian
	buf = append(buf, c.Header.Command, c.Header.ChannelID)
	buf = be.AppendUint16(buf, c.Header.ReliableSequenceNumber)

	switch c.Header.Type() {
	case CommandAcknowledge:
		buf = be.AppendUint16(buf, c.Acknowledge.ReceivedReliableSequenceNumber)
		buf = be.AppendUint16(buf, c.Acknowledge.ReceivedSentTime)
	case CommandConnect, CommandVerifyConnect:
		cc := &c.Connect
		buf = be.AppendUint16(buf, cc.OutgoingPeerID)
		buf = append(buf, cc.IncomingSessionID, cc.OutgoingSessionID)
		for _, v := range [...]uint32{
			cc.MTU, cc.WindowSize, cc.ChannelCount,
			cc.IncomingBandwidth, cc.OutgoingBandwidth,
			cc.PacketThrottleInterval, cc.PacketThrottleAcceleration, cc.PacketThrottleDeceleration,
			cc.ConnectID,
		} {
			buf = be.AppendUint32(buf, v)
		}
		if c.Header.Type() == CommandConnect {
			buf = be.AppendUint32(buf, cc.Data)
		}
	case CommandDisconnect:
		buf = be.AppendUint32(buf, c.DisconnectData)
	case CommandSendReliable:
		buf = be.AppendUint16(buf, c.Send.DataLength)
	case CommandSendUnreliable:
		buf = be.AppendUint16(buf, c.Send.UnreliableSequenceNumber)
		buf = be.AppendUint16(buf, c.Send.DataLength)
	case CommandSendUnsequenced:
		buf = be.AppendUint16(buf, c.Send.UnsequencedGroup)
		buf = be.AppendUint16(buf, c.Send.DataLength)
	case CommandSendFragment, CommandSendUnreliableFragment:
		s := &c.Send
		buf = be.AppendUint16(buf, s.StartSequenceNumber)
		buf = be.AppendUint16(buf, s.DataLength)
		buf = be.AppendUint32(buf, s.FragmentCount)
		buf = be.AppendUint32(buf, s.FragmentNumber)
		buf = be.AppendUint32(buf, s.TotalLength)
		buf = be.AppendUint32(buf, s.FragmentOffset)
	case CommandBandwidthLimit:
		buf = be.AppendUint32(buf, c.BandwidthLimit.IncomingBandwidth)
		buf = be.AppendUint32(buf, c.BandwidthLimit.OutgoingBandwidth)
	case CommandThrottleConfigure:
		buf = be.AppendUint32(buf, c.ThrottleConfigure.PacketThrottleInterval)
		buf = be.AppendUint32(buf, c.ThrottleConfigure.PacketThrottleAcceleration)
		buf = be.AppendUint32(buf, c.ThrottleConfigure.PacketThrottleDeceleration)
	}
	return buf
}

// DecodeCommand parses one command, without payload, from the front of data
// and returns the number of bytes consumed.
func DecodeCommand(data []byte) (Command, int, error) {
	var c Command
	if len(data) < CommandHeaderSize {
		return c, 0, fmt.Errorf("command too short: %d bytes (need at least %d)", len(data), CommandHeaderSize)
	}
	size := CommandSize(data[0])
	if size == 0 {
		return c, 0, fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, data[0])
	}
	if len(data) < size {
		return c, 0, fmt.Errorf("%s command too short: %d bytes (need %d)", CommandType(data[0]&CommandMask), len(data), size)
	}

	be := binary.BigEndian
	c.Header = CommandHeader{
		Command:                data[0],
		ChannelID:              data[1],
		ReliableSequenceNumber: be.Uint16(data[2:4]),
	}
	b := data[CommandHeaderSize:size]

	switch c.Header.Type() {
	case CommandAcknowledge:
		c.Acknowledge.ReceivedReliableSequenceNumber = be.Uint16(b[0:2])
		c.Acknowledge.ReceivedSentTime = be.Uint16(b[2:4])
	case CommandConnect, CommandVerifyConnect:
		cc := &c.Connect
		cc.OutgoingPeerID = be.Uint16(b[0:2])
		cc.IncomingSessionID = b[2]
		cc.OutgoingSessionID = b[3]
		fields := []*uint32{
			&cc.MTU, &cc.WindowSize, &cc.ChannelCount,
			&cc.IncomingBandwidth, &cc.OutgoingBandwidth,
			&cc.PacketThrottleInterval, &cc.PacketThrottleAcceleration, &cc.PacketThrottleDeceleration,
			&cc.ConnectID,
		}
		if c.Header.Type() == CommandConnect {
			fields = append(fields, &cc.Data)
		}
		for i, f := range fields {
			*f = be.Uint32(b[4+4*i:])
		}
	case CommandDisconnect:
		c.DisconnectData = be.Uint32(b[0:4])
	case CommandSendReliable:
		c.Send.DataLength = be.Uint16(b[0:2])
	case CommandSendUnreliable:
		c.Send.UnreliableSequenceNumber = be.Uint16(b[0:2])
		c.Send.DataLength = be.Uint16(b[2:4])
	case CommandSendUnsequenced:
		c.Send.UnsequencedGroup = be.Uint16(b[0:2])
		c.Send.DataLength = be.Uint16(b[2:4])
	case CommandSendFragment, CommandSendUnreliableFragment:
		s := &c.Send
		s.StartSequenceNumber = be.Uint16(b[0:2])
		s.DataLength = be.Uint16(b[2:4])
		s.FragmentCount = be.Uint32(b[4:8])
		s.FragmentNumber = be.Uint32(b[8:12])
		s.TotalLength = be.Uint32(b[12:16])
		s.FragmentOffset = be.Uint32(b[16:20])
	case CommandBandwidthLimit:
		c.BandwidthLimit.IncomingBandwidth = be.Uint32(b[0:4])
		c.BandwidthLimit.OutgoingBandwidth = be.Uint32(b[4:8])
	case CommandThrottleConfigure:
		c.ThrottleConfigure.PacketThrottleInterval = be.Uint32(b[0:4])
		c.ThrottleConfigure.PacketThrottleAcceleration = be.Uint32(b[4:8])
		c.ThrottleConfigure.PacketThrottleDeceleration = be.Uint32(b[8:12])
	}
	return c, size, nil
}
