package enet

import (
	"container/list"

	"github.com/based-collective/citizen-enet/internal/protocol"
)

// channel is the sequencing state of one channel of a peer.
type channel struct {
	outgoingReliableSequenceNumber   uint16
	outgoingUnreliableSequenceNumber uint16
	usedReliableWindows              uint16
	reliableWindows                  [peerReliableWindows]uint16
	incomingReliableSequenceNumber   uint16
	incomingUnreliableSequenceNumber uint16

	incomingReliable   list.List // of *incomingCommand, ordered by sequence
	incomingUnreliable list.List // of *incomingCommand
}

func (c *channel) reset() {
	*c = channel{}
}

// incomingCommand is a received data command waiting for dispatch. For
// fragmented packets data is the reassembly buffer and fragments the
// bitmap of received fragment numbers.
type incomingCommand struct {
	reliableSequenceNumber   uint16
	unreliableSequenceNumber uint16
	command                  protocol.Command
	fragmentCount            uint32
	fragmentsRemaining       uint32
	fragments                []uint32
	data                     []byte
	mode                     PacketMode
}

func (ic *incomingCommand) commandType() protocol.CommandType {
	return ic.command.Header.Type()
}

// addFragment records fragment n at offset. It reports false when the
// fragment was already present.
func (ic *incomingCommand) addFragment(n, offset uint32, payload []byte) bool {
	if ic.fragments[n/32]&(1<<(n%32)) != 0 {
		return false
	}
	ic.fragmentsRemaining--
	ic.fragments[n/32] |= 1 << (n % 32)

	end := offset + uint32(len(payload))
	if end > uint32(len(ic.data)) {
		end = uint32(len(ic.data))
	}
	copy(ic.data[offset:end], payload)
	return true
}

// insertAfter places v after mark, or at the front when mark is nil.
func insertAfter(l *list.List, v any, mark *list.Element) *list.Element {
	if mark == nil {
		return l.PushFront(v)
	}
	return l.InsertAfter(v, mark)
}

// queueIncoming places a received data command on its channel queue. It
// returns the queued command, nil with ok set when the command is a
// duplicate or out of window and was discarded, or ok false when the
// command could not be accepted.
func (p *Peer) queueIncoming(cmd *protocol.Command, data []byte, dataLength uint32, mode PacketMode, fragmentCount uint32) (queued *incomingCommand, ok bool) {
	ch := &p.channels[cmd.Header.ChannelID]
	typ := cmd.Header.Type()

	discard := func() (*incomingCommand, bool) {
		if fragmentCount > 0 {
			return nil, false
		}
		return nil, true
	}

	if p.state == StateDisconnectLater {
		return discard()
	}

	var reliableSeq, unreliableSeq uint16
	if typ != protocol.CommandSendUnsequenced {
		reliableSeq = cmd.Header.ReliableSequenceNumber
		window, current := reliableWindowOf(reliableSeq, ch.incomingReliableSequenceNumber)
		if window < current || window >= current+peerFreeReliableWindows-1 {
			return discard()
		}
	}

	var mark *list.Element
	switch typ {
	case protocol.CommandSendFragment, protocol.CommandSendReliable:
		if reliableSeq == ch.incomingReliableSequenceNumber {
			return discard()
		}
		for e := ch.incomingReliable.Back(); e != nil; e = e.Prev() {
			ic := e.Value.(*incomingCommand)
			if reliableSeq >= ch.incomingReliableSequenceNumber {
				if ic.reliableSequenceNumber < ch.incomingReliableSequenceNumber {
					continue
				}
			} else if ic.reliableSequenceNumber >= ch.incomingReliableSequenceNumber {
				mark = e
				break
			}
			if ic.reliableSequenceNumber <= reliableSeq {
				if ic.reliableSequenceNumber < reliableSeq {
					mark = e
					break
				}
				return discard()
			}
		}

	case protocol.CommandSendUnreliable, protocol.CommandSendUnreliableFragment:
		if typ == protocol.CommandSendUnreliable {
			unreliableSeq = cmd.Send.UnreliableSequenceNumber
		} else {
			unreliableSeq = cmd.Send.StartSequenceNumber
		}
		if reliableSeq == ch.incomingReliableSequenceNumber && unreliableSeq <= ch.incomingUnreliableSequenceNumber {
			return discard()
		}
		for e := ch.incomingUnreliable.Back(); e != nil; e = e.Prev() {
			ic := e.Value.(*incomingCommand)
			if ic.commandType() == protocol.CommandSendUnsequenced {
				continue
			}
			if reliableSeq >= ch.incomingReliableSequenceNumber {
				if ic.reliableSequenceNumber < ch.incomingReliableSequenceNumber {
					continue
				}
			} else if ic.reliableSequenceNumber >= ch.incomingReliableSequenceNumber {
				mark = e
				break
			}
			if ic.reliableSequenceNumber < reliableSeq {
				mark = e
				break
			}
			if ic.reliableSequenceNumber > reliableSeq {
				continue
			}
			if ic.unreliableSequenceNumber <= unreliableSeq {
				if ic.unreliableSequenceNumber < unreliableSeq {
					mark = e
					break
				}
				return discard()
			}
		}

	case protocol.CommandSendUnsequenced:
		// unsequenced commands go to the front and bypass ordering

	default:
		return discard()
	}

	if p.totalWaitingData >= p.host.maximumWaitingData {
		return nil, false
	}

	ic := &incomingCommand{
		reliableSequenceNumber:   cmd.Header.ReliableSequenceNumber,
		unreliableSequenceNumber: unreliableSeq,
		command:                  *cmd,
		fragmentCount:            fragmentCount,
		fragmentsRemaining:       fragmentCount,
		mode:                     mode,
	}
	if data != nil {
		ic.data = append([]byte(nil), data...)
	} else {
		ic.data = make([]byte, dataLength)
	}
	if fragmentCount > 0 {
		if fragmentCount > protocol.MaximumFragmentCount {
			return nil, false
		}
		ic.fragments = make([]uint32, (fragmentCount+31)/32)
	}
	p.totalWaitingData += len(ic.data)

	switch typ {
	case protocol.CommandSendFragment, protocol.CommandSendReliable:
		insertAfter(&ch.incomingReliable, ic, mark)
		p.dispatchIncomingReliable(ch, ic)
	default:
		insertAfter(&ch.incomingUnreliable, ic, mark)
		p.dispatchIncomingUnreliable(ch, ic)
	}
	return ic, true
}

// dispatchIncomingReliable moves the contiguous run of complete reliable
// commands that follows the last delivered sequence number to the peer's
// dispatch list.
func (p *Peer) dispatchIncomingReliable(ch *channel, queued *incomingCommand) {
	var run []*list.Element
	for e := ch.incomingReliable.Front(); e != nil; e = e.Next() {
		ic := e.Value.(*incomingCommand)
		if ic.fragmentsRemaining > 0 || ic.reliableSequenceNumber != ch.incomingReliableSequenceNumber+1 {
			break
		}
		ch.incomingReliableSequenceNumber = ic.reliableSequenceNumber
		if ic.fragmentCount > 0 {
			ch.incomingReliableSequenceNumber += uint16(ic.fragmentCount - 1)
		}
		run = append(run, e)
	}
	if len(run) == 0 {
		return
	}

	ch.incomingUnreliableSequenceNumber = 0
	for _, e := range run {
		p.dispatched.PushBack(ch.incomingReliable.Remove(e))
	}
	p.host.markForDispatch(p)

	if ch.incomingUnreliable.Len() > 0 {
		p.dispatchIncomingUnreliable(ch, queued)
	}
}

// dispatchIncomingUnreliable delivers the unreliable commands that belong
// to the current reliable sequence number and drops the ones overtaken by
// it. Incomplete fragment groups are kept until a newer packet is delivered
// past them.
func (p *Peer) dispatchIncomingUnreliable(ch *channel, queued *incomingCommand) {
	elems := make([]*list.Element, 0, ch.incomingUnreliable.Len())
	for e := ch.incomingUnreliable.Front(); e != nil; e = e.Next() {
		elems = append(elems, e)
	}
	moved := make([]bool, len(elems))

	moveRange := func(from, to int) {
		for i := from; i < to; i++ {
			p.dispatched.PushBack(ch.incomingUnreliable.Remove(elems[i]))
			moved[i] = true
		}
		p.host.markForDispatch(p)
	}

	start, dropped := 0, 0
	i := 0
	for ; i < len(elems); i++ {
		ic := elems[i].Value.(*incomingCommand)
		if ic.commandType() == protocol.CommandSendUnsequenced {
			continue
		}

		if ic.reliableSequenceNumber == ch.incomingReliableSequenceNumber {
			if ic.fragmentsRemaining == 0 {
				ch.incomingUnreliableSequenceNumber = ic.unreliableSequenceNumber
				continue
			}
			if start != i {
				moveRange(start, i)
				dropped = i
			} else if dropped != i {
				dropped = i - 1
			}
		} else {
			window, current := reliableWindowOf(ic.reliableSequenceNumber, ch.incomingReliableSequenceNumber)
			if window >= current && window < current+peerFreeReliableWindows-1 {
				break
			}
			dropped = i + 1
			if start != i {
				moveRange(start, i)
			}
		}
		start = i + 1
	}
	if start != i {
		moveRange(start, i)
		dropped = i
	}

	for j := 0; j < dropped; j++ {
		if moved[j] {
			continue
		}
		ic := elems[j].Value.(*incomingCommand)
		if ic == queued {
			continue
		}
		ch.incomingUnreliable.Remove(elems[j])
		p.releaseWaitingData(len(ic.data))
	}
}

func (p *Peer) releaseWaitingData(n int) {
	p.totalWaitingData -= min(p.totalWaitingData, n)
}
