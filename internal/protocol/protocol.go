// Package protocol defines the datagram framing and command formats of the
// reliable-UDP protocol.
package protocol

// Protocol limits.
const (
	MinimumMTU            = 576
	MaximumMTU            = 4096
	MaximumPacketCommands = 32
	MinimumWindowSize     = 4096
	MaximumWindowSize     = 65536
	MinimumChannelCount   = 1
	MaximumChannelCount   = 255
	MaximumPeerID         = 0xFFF
	MaximumFragmentCount  = 1024 * 1024
)

// CommandType is the low nibble of a command byte.
type CommandType uint8

const (
	CommandNone CommandType = iota
	CommandAcknowledge
	CommandConnect
	CommandVerifyConnect
	CommandDisconnect
	CommandPing
	CommandSendReliable
	CommandSendUnreliable
	CommandSendFragment
	CommandSendUnsequenced
	CommandBandwidthLimit
	CommandThrottleConfigure
	CommandSendUnreliableFragment
	CommandCount

	CommandMask = 0x0F
)

// Flags stored in the high bits of a command byte.
const (
	FlagAcknowledge uint8 = 1 << 7
	FlagUnsequenced uint8 = 1 << 6
)

// Flags and session bits stored in the peer id field of the datagram header.
const (
	HeaderFlagCompressed uint16 = 1 << 14
	HeaderFlagSentTime   uint16 = 1 << 15
	HeaderFlagMask              = HeaderFlagCompressed | HeaderFlagSentTime

	HeaderSessionMask  uint16 = 3 << 12
	HeaderSessionShift        = 12
)

// Header sizes. A checksum, when enabled, follows the header.
const (
	HeaderSizeMinimal = 2
	HeaderSize        = 4
	ChecksumSize      = 4
	CommandHeaderSize = 4
)

var commandSizes = [CommandCount]int{
	0,
	8,  // acknowledge
	48, // connect
	44, // verify connect
	8,  // disconnect
	4,  // ping
	6,  // send reliable
	8,  // send unreliable
	24, // send fragment
	8,  // send unsequenced
	12, // bandwidth limit
	16, // throttle configure
	24, // send unreliable fragment
}

// CommandSize returns the encoded size of a command without its payload,
// or 0 for an unknown command.
func CommandSize(cmd uint8) int {
	t := CommandType(cmd & CommandMask)
	if t >= CommandCount {
		return 0
	}
	return commandSizes[t]
}

func (t CommandType) String() string {
	switch t {
	case CommandAcknowledge:
		return "acknowledge"
	case CommandConnect:
		return "connect"
	case CommandVerifyConnect:
		return "verify-connect"
	case CommandDisconnect:
		return "disconnect"
	case CommandPing:
		return "ping"
	case CommandSendReliable:
		return "send-reliable"
	case CommandSendUnreliable:
		return "send-unreliable"
	case CommandSendFragment:
		return "send-fragment"
	case CommandSendUnsequenced:
		return "send-unsequenced"
	case CommandBandwidthLimit:
		return "bandwidth-limit"
	case CommandThrottleConfigure:
		return "throttle-configure"
	case CommandSendUnreliableFragment:
		return "send-unreliable-fragment"
	default:
		return "none"
	}
}

// Header is the datagram header. PeerID carries the 12-bit peer id, the
// session bits and the header flags.
type Header struct {
	PeerID   uint16
	SentTime uint16
}

// CommandHeader prefixes every command in a datagram.
type CommandHeader struct {
	Command                uint8 // CommandType | Flag*
	ChannelID              uint8
	ReliableSequenceNumber uint16
}

// Type returns the command type without flags.
func (h CommandHeader) Type() CommandType { return CommandType(h.Command & CommandMask) }

// Acknowledge is the body of an acknowledge command.
type Acknowledge struct {
	ReceivedReliableSequenceNumber uint16
	ReceivedSentTime               uint16
}

// Connect is the body of connect and verify-connect commands. Data is only
// present on the wire for connect.
type Connect struct {
	OutgoingPeerID             uint16
	IncomingSessionID          uint8
	OutgoingSessionID          uint8
	MTU                        uint32
	WindowSize                 uint32
	ChannelCount               uint32
	IncomingBandwidth          uint32
	OutgoingBandwidth          uint32
	PacketThrottleInterval     uint32
	PacketThrottleAcceleration uint32
	PacketThrottleDeceleration uint32
	ConnectID                  uint32
	Data                       uint32
}

// Send is the body shared by the data-carrying commands. Which fields are
// on the wire depends on the command type.
type Send struct {
	UnreliableSequenceNumber uint16
	UnsequencedGroup         uint16
	StartSequenceNumber      uint16
	DataLength               uint16
	FragmentCount            uint32
	FragmentNumber           uint32
	TotalLength              uint32
	FragmentOffset           uint32
}

// BandwidthLimit is the body of a bandwidth-limit command.
type BandwidthLimit struct {
	IncomingBandwidth uint32
	OutgoingBandwidth uint32
}

// ThrottleConfigure is the body of a throttle-configure command.
type ThrottleConfigure struct {
	PacketThrottleInterval     uint32
	PacketThrottleAcceleration uint32
	PacketThrottleDeceleration uint32
}

// Command is a decoded protocol command. Only the body matching
// Header.Type() is meaningful.
type Command struct {
	Header            CommandHeader
	Acknowledge       Acknowledge
	Connect           Connect
	DisconnectData    uint32
	Send              Send
	BandwidthLimit    BandwidthLimit
	ThrottleConfigure ThrottleConfigure
}

// Size returns the encoded size of the command without payload.
func (c *Command) Size() int { return CommandSize(c.Header.Command) }
