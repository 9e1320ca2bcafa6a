package app

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enet "github.com/based-collective/citizen-enet"
	"github.com/based-collective/citizen-enet/internal/config"
	"github.com/based-collective/citizen-enet/internal/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(nil, "")
	require.NoError(t, err)
	cfg.StatsInterval = 0
	return cfg
}

// pair returns a server session and a client session pointed at it on a
// fresh in-memory network.
func pair(t *testing.T, reg prometheus.Registerer) (*Session, *Session) {
	t.Helper()
	network := transport.NewNetwork()
	sconn, err := network.Listen(netip.AddrPort{})
	require.NoError(t, err)
	cconn, err := network.Listen(netip.AddrPort{})
	require.NoError(t, err)

	server, err := New(testConfig(t), sconn, nil, reg)
	require.NoError(t, err)

	remote := enet.AddressFrom(sconn.LocalAddr())
	client, err := New(testConfig(t), cconn, &remote, nil)
	require.NoError(t, err)
	return server, client
}

func run(ctx context.Context, s *Session) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(10 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestSessionEcho(t *testing.T) {
	server, client := pair(t, nil)

	server.OnReceive = func(p *enet.Peer, channelID uint8, data []byte) {
		reply, err := enet.NewPacket(append([]byte("echo "), data...), enet.ReliableSequenced)
		if err == nil {
			_ = p.Send(channelID, reply)
		}
	}
	got := make(chan string, 1)
	client.OnReceive = func(_ *enet.Peer, channelID uint8, data []byte) {
		assert.Equal(t, uint8(1), channelID)
		got <- string(data)
	}

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	clientCtx, stopClient := context.WithCancel(context.Background())
	defer stopClient()

	serverDone := run(serverCtx, server)
	clientDone := run(clientCtx, client)

	// Queued before the handshake completes; flushed once connected.
	require.NoError(t, client.Send(clientCtx, 1, []byte("hello"), enet.ReliableSequenced))
	assert.Equal(t, "echo hello", wait(t, got))
	wait(t, client.Connected())

	stopClient()
	assert.NoError(t, wait(t, clientDone))
	stopServer()
	assert.NoError(t, wait(t, serverDone))
}

func TestShutdownDeliversQueuedPackets(t *testing.T) {
	server, client := pair(t, nil)

	got := make(chan string, 1)
	server.OnReceive = func(_ *enet.Peer, _ uint8, data []byte) { got <- string(data) }

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	clientCtx, stopClient := context.WithCancel(context.Background())
	defer stopClient()

	// Queued and cancelled in the same callback, the way the send command
	// works.
	client.OnConnect = func(*enet.Peer) {
		assert.NoError(t, client.Send(clientCtx, 0, []byte("hello"), enet.ReliableSequenced))
		stopClient()
	}

	serverDone := run(serverCtx, server)
	clientDone := run(clientCtx, client)

	assert.NoError(t, wait(t, clientDone))
	assert.Equal(t, "hello", wait(t, got))

	stopServer()
	assert.NoError(t, wait(t, serverDone))
}

func TestSessionRemoteClosed(t *testing.T) {
	server, client := pair(t, nil)

	server.OnConnect = func(p *enet.Peer) { p.Disconnect(7) }
	data := make(chan uint32, 1)
	client.OnDisconnect = func(_ *enet.Peer, d uint32) { data <- d }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverDone := run(ctx, server)

	err := wait(t, run(ctx, client))
	assert.ErrorIs(t, err, ErrRemoteClosed)
	assert.Equal(t, uint32(7), wait(t, data))

	cancel()
	assert.NoError(t, wait(t, serverDone))
}

func TestSessionConnectedPeersGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	server, client := pair(t, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverDone := run(ctx, server)
	clientDone := run(ctx, client)

	require.Eventually(t, func() bool {
		families, err := reg.Gather()
		if err != nil {
			return false
		}
		for _, mf := range families {
			if mf.GetName() == "enet_host_connected_peers" {
				return mf.GetMetric()[0].GetGauge().GetValue() == 1
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	wait(t, clientDone)
	wait(t, serverDone)
}

func TestSendAfterCancel(t *testing.T) {
	_, client := pair(t, nil)
	t.Cleanup(func() { _ = client.Host().Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < outboxSize; i++ {
		require.NoError(t, client.Send(context.Background(), 0, []byte{byte(i)}, enet.UnreliableUnsequenced))
	}
	assert.ErrorIs(t, client.Send(ctx, 0, []byte("late"), enet.UnreliableUnsequenced), context.Canceled)
}

func TestParseBind(t *testing.T) {
	tests := []struct {
		in   string
		want netip.AddrPort
		err  bool
	}{
		{in: "", want: netip.AddrPort{}},
		{in: "127.0.0.1:7777", want: netip.MustParseAddrPort("127.0.0.1:7777")},
		{in: "[::1]:80", want: netip.MustParseAddrPort("[::1]:80")},
		{in: ":7777", want: netip.AddrPortFrom(netip.IPv6Unspecified(), 7777)},
		{in: "localhost:7777", err: true},
		{in: "127.0.0.1", err: true},
		{in: "127.0.0.1:99999", err: true},
	}

	for _, tt := range tests {
		got, err := parseBind(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestResolve(t *testing.T) {
	addr, err := resolve(context.Background(), "127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), addr.Port())
	assert.True(t, addr.IsIPv4())

	_, err = resolve(context.Background(), "no-port")
	assert.Error(t, err)
}
