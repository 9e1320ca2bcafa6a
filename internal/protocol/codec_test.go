package protocol

import (
	"errors"
	"net/netip"
	"testing"
)

// TestCommandRoundTrip verifies that encoding and decoding are inverse
// operations for every command type, and that the encoded size matches
// the command size table.
func TestCommandRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		cmd  Command
	}{
		{
			name: "acknowledge",
			cmd: Command{
				Header:      CommandHeader{Command: uint8(CommandAcknowledge), ChannelID: 3, ReliableSequenceNumber: 9},
				Acknowledge: Acknowledge{ReceivedReliableSequenceNumber: 0xFFFF, ReceivedSentTime: 1234},
			},
		},
		{
			name: "connect",
			cmd: Command{
				Header: CommandHeader{Command: uint8(CommandConnect) | FlagAcknowledge, ChannelID: 0xFF, ReliableSequenceNumber: 1},
				Connect: Connect{
					OutgoingPeerID: 7, IncomingSessionID: 0xFF, OutgoingSessionID: 2,
					MTU: 1400, WindowSize: 32768, ChannelCount: 4,
					IncomingBandwidth: 100, OutgoingBandwidth: 200,
					PacketThrottleInterval: 5000, PacketThrottleAcceleration: 2, PacketThrottleDeceleration: 2,
					ConnectID: 0xDEADBEEF, Data: 42,
				},
			},
		},
		{
			name: "verify connect",
			cmd: Command{
				Header: CommandHeader{Command: uint8(CommandVerifyConnect) | FlagAcknowledge, ChannelID: 0xFF, ReliableSequenceNumber: 1},
				Connect: Connect{
					OutgoingPeerID: 0, MTU: 576, WindowSize: 4096, ChannelCount: 255,
					PacketThrottleInterval: 1, ConnectID: 99,
				},
			},
		},
		{
			name: "disconnect",
			cmd: Command{
				Header:         CommandHeader{Command: uint8(CommandDisconnect), ChannelID: 0xFF},
				DisconnectData: 0xCAFEBABE,
			},
		},
		{
			name: "ping",
			cmd:  Command{Header: CommandHeader{Command: uint8(CommandPing) | FlagAcknowledge, ChannelID: 0xFF, ReliableSequenceNumber: 77}},
		},
		{
			name: "send reliable",
			cmd: Command{
				Header: CommandHeader{Command: uint8(CommandSendReliable) | FlagAcknowledge, ChannelID: 1, ReliableSequenceNumber: 5},
				Send:   Send{DataLength: 1000},
			},
		},
		{
			name: "send unreliable",
			cmd: Command{
				Header: CommandHeader{Command: uint8(CommandSendUnreliable), ChannelID: 1, ReliableSequenceNumber: 5},
				Send:   Send{UnreliableSequenceNumber: 600, DataLength: 10},
			},
		},
		{
			name: "send unsequenced",
			cmd: Command{
				Header: CommandHeader{Command: uint8(CommandSendUnsequenced) | FlagUnsequenced, ChannelID: 0},
				Send:   Send{UnsequencedGroup: 1025, DataLength: 3},
			},
		},
		{
			name: "send fragment",
			cmd: Command{
				Header: CommandHeader{Command: uint8(CommandSendFragment) | FlagAcknowledge, ChannelID: 2, ReliableSequenceNumber: 12},
				Send: Send{
					StartSequenceNumber: 10, DataLength: 1300,
					FragmentCount: 8, FragmentNumber: 2, TotalLength: 10000, FragmentOffset: 2600,
				},
			},
		},
		{
			name: "send unreliable fragment",
			cmd: Command{
				Header: CommandHeader{Command: uint8(CommandSendUnreliableFragment), ChannelID: 2, ReliableSequenceNumber: 12},
				Send: Send{
					StartSequenceNumber: 3, DataLength: 1,
					FragmentCount: 2, FragmentNumber: 1, TotalLength: 1301, FragmentOffset: 1300,
				},
			},
		},
		{
			name: "bandwidth limit",
			cmd: Command{
				Header:         CommandHeader{Command: uint8(CommandBandwidthLimit) | FlagAcknowledge, ChannelID: 0xFF},
				BandwidthLimit: BandwidthLimit{IncomingBandwidth: 57600, OutgoingBandwidth: 14400},
			},
		},
		{
			name: "throttle configure",
			cmd: Command{
				Header:            CommandHeader{Command: uint8(CommandThrottleConfigure) | FlagAcknowledge, ChannelID: 0xFF},
				ThrottleConfigure: ThrottleConfigure{PacketThrottleInterval: 1000, PacketThrottleAcceleration: 4, PacketThrottleDeceleration: 8},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := AppendCommand(nil, &tc.cmd)
			if len(encoded) != tc.cmd.Size() {
				t.Fatalf("size mismatch: got %d, want %d", len(encoded), tc.cmd.Size())
			}

			decoded, n, err := DecodeCommand(encoded)
			if err != nil {
				t.Fatalf("DecodeCommand failed: %v", err)
			}
			if n != len(encoded) {
				t.Errorf("consumed mismatch: got %d, want %d", n, len(encoded))
			}
			if decoded != tc.cmd {
				t.Errorf("command mismatch:\n got %+v\nwant %+v", decoded, tc.cmd)
			}
		})
	}
}

// TestDecodeCommandTooShort verifies that truncated commands are rejected.
func TestDecodeCommandTooShort(t *testing.T) {
	full := AppendCommand(nil, &Command{
		Header: CommandHeader{Command: uint8(CommandConnect)},
	})

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"partial header", []byte{byte(CommandPing), 0xFF}},
		{"truncated connect", full[:len(full)-1]},
		{"truncated disconnect", []byte{byte(CommandDisconnect), 0xFF, 0, 1, 0, 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := DecodeCommand(tc.data); err == nil {
				t.Fatal("expected error for short command, got nil")
			}
		})
	}
}

func TestDecodeCommandUnknown(t *testing.T) {
	for _, b := range []byte{0x00, 0x0D, 0x0E, 0x8F} {
		_, _, err := DecodeCommand([]byte{b, 0, 0, 0, 0, 0, 0, 0})
		if !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("command 0x%02x: got %v, want ErrUnknownCommand", b, err)
		}
	}
}

// TestHeaderSentTime verifies that the sent time is only present on the
// wire when its flag is set.
func TestHeaderSentTime(t *testing.T) {
	testCases := []struct {
		name     string
		header   Header
		wantSize int
	}{
		{"without sent time", Header{PeerID: 0x0123}, HeaderSizeMinimal},
		{"with sent time", Header{PeerID: 0x0123 | HeaderFlagSentTime, SentTime: 0xBEEF}, HeaderSize},
		{"connect id with session", Header{PeerID: MaximumPeerID | 2<<HeaderSessionShift | HeaderFlagSentTime, SentTime: 1}, HeaderSize},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := AppendHeader(nil, tc.header)
			if len(encoded) != tc.wantSize {
				t.Fatalf("size mismatch: got %d, want %d", len(encoded), tc.wantSize)
			}
			decoded, n, err := DecodeHeader(encoded)
			if err != nil {
				t.Fatalf("DecodeHeader failed: %v", err)
			}
			if n != tc.wantSize || decoded != tc.header {
				t.Errorf("header mismatch: got %+v (%d bytes), want %+v", decoded, n, tc.header)
			}
		})
	}

	if _, _, err := DecodeHeader([]byte{0x80, 0x01, 0x00}); err == nil {
		t.Error("expected error for header missing its sent time")
	}
}

// TestAddressRoundTrip verifies exact IPv4-mapped encoding and scope id
// preservation for IPv6.
func TestAddressRoundTrip(t *testing.T) {
	testCases := []struct {
		name    string
		addr    string
		scopeID uint16
	}{
		{"ipv4 loopback", "127.0.0.1:7777", 0},
		{"ipv4 broadcast", "255.255.255.255:65535", 0},
		{"ipv4 any", "0.0.0.0:0", 0},
		{"ipv6 loopback", "[::1]:1", 0},
		{"ipv6 link local", "[fe80::1]:9000", 3},
		{"ipv6 global", "[2001:db8::dead:beef]:443", 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ap := netip.MustParseAddrPort(tc.addr)
			w := EncodeAddress(ap, tc.scopeID)

			if ap.Addr().Is4() {
				if !w.IsIPv4Mapped() {
					t.Fatalf("expected IPv4-mapped form, got % x", w.Host)
				}
				if w.ScopeID != 0 {
					t.Errorf("scope id mismatch: got %d, want 0", w.ScopeID)
				}
			}

			got, scope := w.Decode()
			if got != ap {
				t.Errorf("address mismatch: got %s, want %s", got, ap)
			}
			if scope != w.ScopeID {
				t.Errorf("scope id mismatch: got %d, want %d", scope, w.ScopeID)
			}
		})
	}
}

func TestAddressIPv4ForcesScopeZero(t *testing.T) {
	w := EncodeAddress(netip.MustParseAddrPort("10.0.0.1:80"), 9)
	want := [16]byte{10: 0xFF, 11: 0xFF, 12: 10, 15: 1}
	if w.Host != want || w.ScopeID != 0 {
		t.Errorf("wire mismatch: got % x scope %d", w.Host, w.ScopeID)
	}
}
