package transport

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNetworkDeliver(t *testing.T) {
	n := NewNetwork()
	a, err := n.Listen(netip.AddrPort{})
	require.NoError(t, err)
	b, err := n.Listen(netip.MustParseAddrPort("127.0.0.1:9000"))
	require.NoError(t, err)

	buf := []byte("hello")
	sent, err := a.Send(b.LocalAddr(), buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), sent)

	buf[0] = 'j' // the network keeps its own copy

	d, ok, err := b.Receive(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.LocalAddr(), d.From)
	assert.Equal(t, []byte("hello"), d.Data)

	_, ok, err = b.Receive(0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryNetworkAddressInUse(t *testing.T) {
	n := NewNetwork()
	addr := netip.MustParseAddrPort("127.0.0.1:7000")
	_, err := n.Listen(addr)
	require.NoError(t, err)
	_, err = n.Listen(addr)
	assert.Error(t, err)
}

func TestMemoryNetworkFilter(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Listen(netip.AddrPort{})
	b, _ := n.Listen(netip.AddrPort{})

	n.SetFilter(func(_, _ netip.AddrPort, data []byte) Verdict {
		switch data[0] {
		case 'd':
			return Drop
		case 'h':
			return Delay
		case '2':
			return Duplicate
		}
		return Deliver
	})

	a.Send(b.LocalAddr(), []byte("drop"))
	a.Send(b.LocalAddr(), []byte("held"))
	a.Send(b.LocalAddr(), []byte("2x"))
	a.Send(b.LocalAddr(), []byte("last"))

	var got []string
	for {
		d, ok, err := b.Receive(0)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(d.Data))
	}
	assert.Equal(t, []string{"2x", "2x", "held", "last"}, got)
}

func TestMemoryNetworkRelease(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Listen(netip.AddrPort{})
	b, _ := n.Listen(netip.AddrPort{})

	n.SetFilter(func(_, _ netip.AddrPort, _ []byte) Verdict { return Delay })
	a.Send(b.LocalAddr(), []byte("x"))

	_, ok, _ := b.Receive(0)
	require.False(t, ok)

	n.Release()
	d, ok, _ := b.Receive(0)
	require.True(t, ok)
	assert.Equal(t, []byte("x"), d.Data)
}

func TestMemoryConnClose(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Listen(netip.AddrPort{})
	require.NoError(t, a.Close())

	_, _, err := a.Receive(0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = a.Send(netip.MustParseAddrPort("127.0.0.1:1"), []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)

	// the address is free again
	_, err = n.Listen(a.LocalAddr())
	assert.NoError(t, err)
}

func TestReceiveWaitTimesOut(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Listen(netip.AddrPort{})

	start := time.Now()
	_, ok, err := a.Receive(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestUDPLoopback(t *testing.T) {
	a, err := ListenUDP(netip.MustParseAddrPort("127.0.0.1:0"))
	require.NoError(t, err)
	defer a.Close()
	b, err := ListenUDP(netip.MustParseAddrPort("127.0.0.1:0"))
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Send(b.LocalAddr(), []byte("ping"))
	require.NoError(t, err)

	d, ok, err := b.Receive(2 * time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("ping"), d.Data)
	assert.Equal(t, a.LocalAddr(), d.From)

	require.NoError(t, b.Close())
	_, _, err = b.Receive(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}
