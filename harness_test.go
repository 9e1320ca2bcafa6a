package enet

import (
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/based-collective/citizen-enet/internal/transport"
)

// harness drives hosts on an in-memory network with a mock clock. Each
// round services every host until it runs dry, then advances the clock.
type harness struct {
	t      *testing.T
	net    *transport.Network
	clock  *clock.Mock
	step   time.Duration
	events map[*Host][]Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:      t,
		net:    transport.NewNetwork(),
		clock:  clock.NewMock(),
		step:   10 * time.Millisecond,
		events: make(map[*Host][]Event),
	}
}

func (hs *harness) host(peerLimit int, opts ...HostOption) *Host {
	hs.t.Helper()
	conn, err := hs.net.Listen(netip.AddrPort{})
	require.NoError(hs.t, err)

	opts = append([]HostOption{WithTransport(conn), WithClock(hs.clock)}, opts...)
	h, err := NewHost(nil, peerLimit, 0, 0, 0, opts...)
	require.NoError(hs.t, err)
	hs.t.Cleanup(func() { _ = h.Close() })
	return h
}

// round services each host once until it yields no event, then advances
// the clock by one step.
func (hs *harness) round(hosts ...*Host) {
	hs.t.Helper()
	for _, h := range hosts {
		for {
			ev, err := h.Service(0)
			require.NoError(hs.t, err)
			if ev == nil {
				break
			}
			hs.events[h] = append(hs.events[h], *ev)
		}
	}
	hs.clock.Add(hs.step)
}

func (hs *harness) pump(rounds int, hosts ...*Host) {
	hs.t.Helper()
	for range rounds {
		hs.round(hosts...)
	}
}

// runUntil pumps until cond holds, failing the test after limit rounds.
func (hs *harness) runUntil(limit int, cond func() bool, hosts ...*Host) {
	hs.t.Helper()
	for range limit {
		if cond() {
			return
		}
		hs.round(hosts...)
	}
	require.True(hs.t, cond(), "condition not reached after %d rounds", limit)
}

func (hs *harness) eventsOf(h *Host, typ EventType) []Event {
	var out []Event
	for _, ev := range hs.events[h] {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (hs *harness) received(h *Host) [][]byte {
	var out [][]byte
	for _, ev := range hs.eventsOf(h, EventReceive) {
		out = append(out, ev.Packet.Data())
	}
	return out
}

// connect completes a handshake from client to server and returns the
// peer each side holds for the other.
func (hs *harness) connect(client, server *Host, channels int, data uint32) (*Peer, *Peer) {
	hs.t.Helper()
	cp, err := client.Connect(server.Address(), channels, data)
	require.NoError(hs.t, err)

	before := len(hs.eventsOf(server, EventConnect))
	hs.runUntil(100, func() bool {
		return cp.State() == StateConnected && len(hs.eventsOf(server, EventConnect)) > before
	}, client, server)

	sp := hs.eventsOf(server, EventConnect)[before].Peer
	return cp, sp
}

func mustPacket(t *testing.T, data []byte, mode PacketMode, opts ...PacketOption) *Packet {
	t.Helper()
	p, err := NewPacket(data, mode, opts...)
	require.NoError(t, err)
	return p
}
