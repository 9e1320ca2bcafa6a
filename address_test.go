package enet

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressIPv4Mapped(t *testing.T) {
	plain := NewAddress(netip.MustParseAddr("192.0.2.7"), 7777)
	mapped := NewAddress(netip.MustParseAddr("::ffff:192.0.2.7"), 7777)

	assert.Equal(t, plain, mapped)
	assert.True(t, plain.IsIPv4())
	assert.Equal(t, netip.MustParseAddr("192.0.2.7"), plain.IP())
	assert.Equal(t, uint16(7777), plain.Port())
	assert.Zero(t, plain.ScopeID())
	assert.Equal(t, "192.0.2.7:7777", plain.String())
}

func TestAddressIPv6Scope(t *testing.T) {
	a := NewAddress(netip.MustParseAddr("fe80::1%3"), 9000)
	assert.False(t, a.IsIPv4())
	assert.Equal(t, uint16(3), a.ScopeID())
	assert.Equal(t, netip.MustParseAddrPort("[fe80::1%3]:9000"), a.AddrPort())

	b := NewAddress(netip.MustParseAddr("2001:db8::5"), 1)
	assert.Zero(t, b.ScopeID())
	assert.Equal(t, netip.MustParseAddrPort("[2001:db8::5]:1"), b.AddrPort())
}

func TestAddressRoundTrip(t *testing.T) {
	for _, s := range []string{"127.0.0.1:5000", "[::1]:6000", "[2001:db8::1]:65535", "0.0.0.0:0"} {
		ap := netip.MustParseAddrPort(s)
		assert.Equal(t, ap, AddressFrom(ap).AddrPort(), s)

		parsed, err := ParseAddress(s)
		require.NoError(t, err)
		assert.Equal(t, AddressFrom(ap), parsed)
	}
}

func TestParseAddressInvalid(t *testing.T) {
	_, err := ParseAddress("not an address")
	assert.ErrorIs(t, err, ErrResolution)
}

func TestFromHostname(t *testing.T) {
	a, err := FromHostname("10.1.2.3", 80)
	require.NoError(t, err)
	assert.Equal(t, NewAddress(netip.MustParseAddr("10.1.2.3"), 80), a)

	a, err = FromHostname("localhost", 1234)
	require.NoError(t, err)
	assert.True(t, a.IP().IsLoopback())
	assert.Equal(t, uint16(1234), a.Port())

	_, err = FromHostname("", 1)
	assert.ErrorIs(t, err, ErrResolution)

	_, err = FromHostname("no-such-host.invalid", 1)
	assert.ErrorIs(t, err, ErrResolution)
}

func TestAddressZero(t *testing.T) {
	var a Address
	assert.True(t, a.IsZero())
	assert.Equal(t, "<nil>", a.String())
	assert.False(t, NewAddress(netip.IPv4Unspecified(), 0).IsZero())
}

func TestAddressUDPConversion(t *testing.T) {
	udp := &net.UDPAddr{IP: net.ParseIP("192.0.2.7"), Port: 4000}
	a := AddressFromUDP(udp)
	assert.True(t, a.IsIPv4())
	assert.Equal(t, "192.0.2.7:4000", a.String())

	back := a.UDPAddr()
	assert.True(t, back.IP.Equal(udp.IP))
	assert.Equal(t, 4000, back.Port)

	assert.True(t, AddressFromUDP(nil).IsZero())
}
