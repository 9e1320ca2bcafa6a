package enet

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/based-collective/citizen-enet/internal/protocol"
)

// Address is an endpoint: an IP, a port and, for IPv6, a scope id. IPv4
// addresses are held in IPv4-mapped IPv6 form, so an IPv4 address and its
// mapped form compare equal.
type Address struct {
	w protocol.Address
}

// NewAddress returns the address for ip and port. A zone on ip becomes the
// scope id.
func NewAddress(ip netip.Addr, port uint16) Address {
	return AddressFrom(netip.AddrPortFrom(ip, port))
}

// AddressFrom converts a native socket address.
func AddressFrom(ap netip.AddrPort) Address {
	return Address{w: protocol.EncodeAddress(ap, zoneToScope(ap.Addr().Zone()))}
}

// AddressFromUDP converts a net.UDPAddr. A nil addr yields the zero
// Address.
func AddressFromUDP(addr *net.UDPAddr) Address {
	if addr == nil {
		return Address{}
	}
	return AddressFrom(addr.AddrPort())
}

// ParseAddress parses "host:port" where host is an IP literal.
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrResolution, err)
	}
	return AddressFrom(ap), nil
}

// FromHostname resolves name and pairs it with port. IP literals are used
// as is; for names an IPv4 result is preferred.
func FromHostname(name string, port uint16) (Address, error) {
	return FromHostnameContext(context.Background(), name, port)
}

// FromHostnameContext is FromHostname with a context bounding the lookup.
func FromHostnameContext(ctx context.Context, name string, port uint16) (Address, error) {
	if name == "" {
		return Address{}, fmt.Errorf("%w: empty hostname", ErrResolution)
	}
	if ip, err := netip.ParseAddr(name); err == nil {
		return NewAddress(ip, port), nil
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", name)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrResolution, err)
	}
	if len(ips) == 0 {
		return Address{}, fmt.Errorf("%w: no addresses for %q", ErrResolution, name)
	}

	chosen := ips[0]
	for _, ip := range ips {
		if ip.Unmap().Is4() {
			chosen = ip
			break
		}
	}
	return NewAddress(chosen, port), nil
}

// IP returns the address IP. IPv4 is returned unmapped; IPv6 carries the
// scope id as a numeric zone.
func (a Address) IP() netip.Addr {
	return a.AddrPort().Addr()
}

// Port returns the port.
func (a Address) Port() uint16 { return a.w.Port }

// ScopeID returns the IPv6 scope id, 0 for IPv4.
func (a Address) ScopeID() uint16 { return a.w.ScopeID }

// IsIPv4 reports whether the address is an IPv4 address.
func (a Address) IsIPv4() bool { return a.w.IsIPv4Mapped() }

// AddrPort converts the address to its native form.
func (a Address) AddrPort() netip.AddrPort {
	ap, scope := a.w.Decode()
	if scope != 0 {
		return netip.AddrPortFrom(ap.Addr().WithZone(strconv.Itoa(int(scope))), ap.Port())
	}
	return ap
}

// UDPAddr converts the address for use with the net package.
func (a Address) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(a.AddrPort())
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string {
	if a.IsZero() {
		return "<nil>"
	}
	return a.AddrPort().String()
}

// zoneToScope maps an IPv6 zone to a scope id: numeric zones are used
// directly, interface names are looked up.
func zoneToScope(zone string) uint16 {
	if zone == "" {
		return 0
	}
	if n, err := strconv.ParseUint(zone, 10, 16); err == nil {
		return uint16(n)
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint16(ifi.Index)
	}
	return 0
}
