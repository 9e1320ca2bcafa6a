package enet

import (
	"fmt"

	"github.com/based-collective/citizen-enet/internal/protocol"
)

// Send queues packet on channelID. Packets larger than the path MTU are
// split into fragments. The packet must not be modified afterwards.
func (p *Peer) Send(channelID uint8, packet *Packet) error {
	if packet == nil {
		return ErrInvalidPacket
	}
	if p.state != StateConnected {
		return ErrNotConnected
	}
	if int(channelID) >= len(p.channels) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidChannel, channelID, len(p.channels))
	}
	if packet.Len() > p.host.maximumPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, packet.Len())
	}

	ch := &p.channels[channelID]
	dataLength := uint32(packet.Len())
	fragmentLength := p.mtu - protocol.HeaderSize - uint32(protocol.CommandSize(uint8(protocol.CommandSendFragment)))
	if p.host.checksum {
		fragmentLength -= protocol.ChecksumSize
	}

	if dataLength > fragmentLength {
		return p.sendFragments(ch, channelID, packet, fragmentLength)
	}

	cmd := &protocol.Command{Header: protocol.CommandHeader{ChannelID: channelID}}
	switch {
	case packet.mode == UnreliableUnsequenced:
		cmd.Header.Command = uint8(protocol.CommandSendUnsequenced) | protocol.FlagUnsequenced
	case packet.mode.IsReliable() || ch.outgoingUnreliableSequenceNumber >= 0xFFFF:
		cmd.Header.Command = uint8(protocol.CommandSendReliable) | protocol.FlagAcknowledge
	default:
		cmd.Header.Command = uint8(protocol.CommandSendUnreliable)
	}
	cmd.Send.DataLength = uint16(dataLength)

	p.queueOutgoing(cmd, packet, 0, dataLength)
	p.host.counters.PacketsSent.Add(1)
	return nil
}

func (p *Peer) sendFragments(ch *channel, channelID uint8, packet *Packet, fragmentLength uint32) error {
	dataLength := uint32(packet.Len())
	fragmentCount := (dataLength + fragmentLength - 1) / fragmentLength
	if fragmentCount > protocol.MaximumFragmentCount {
		return fmt.Errorf("%w: %d fragments", ErrPacketTooLarge, fragmentCount)
	}

	var command uint8
	var startSequenceNumber uint16
	if !packet.mode.IsReliable() && packet.unreliableFragments && ch.outgoingUnreliableSequenceNumber < 0xFFFF {
		command = uint8(protocol.CommandSendUnreliableFragment)
		startSequenceNumber = ch.outgoingUnreliableSequenceNumber + 1
	} else {
		command = uint8(protocol.CommandSendFragment) | protocol.FlagAcknowledge
		startSequenceNumber = ch.outgoingReliableSequenceNumber + 1
	}

	fragments := make([]*outgoingCommand, 0, fragmentCount)
	for number, offset := uint32(0), uint32(0); offset < dataLength; number, offset = number+1, offset+fragmentLength {
		length := min(fragmentLength, dataLength-offset)
		fragments = append(fragments, &outgoingCommand{
			fragmentOffset: offset,
			fragmentLength: length,
			packet:         packet,
			command: protocol.Command{
				Header: protocol.CommandHeader{Command: command, ChannelID: channelID},
				Send: protocol.Send{
					StartSequenceNumber: startSequenceNumber,
					DataLength:          uint16(length),
					FragmentCount:       fragmentCount,
					FragmentNumber:      number,
					TotalLength:         dataLength,
					FragmentOffset:      offset,
				},
			},
		})
	}
	for _, oc := range fragments {
		p.setupOutgoing(oc)
	}
	p.host.counters.PacketsSent.Add(1)
	return nil
}
