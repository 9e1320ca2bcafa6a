package protocol

import "net/netip"

// Address is the wire form of an endpoint: a 16-byte IPv6 host, with IPv4
// carried in IPv4-mapped form, plus port and scope id.
type Address struct {
	Host    [16]byte
	Port    uint16
	ScopeID uint16
}

// EncodeAddress converts a native address into its wire form. The scope id
// is forced to 0 for IPv4.
func EncodeAddress(ap netip.AddrPort, scopeID uint16) Address {
	addr := ap.Addr()
	w := Address{Port: ap.Port()}
	if addr.Is4() || addr.Is4In6() {
		v4 := addr.Unmap().As4()
		w.Host[10], w.Host[11] = 0xFF, 0xFF
		copy(w.Host[12:], v4[:])
		return w
	}
	w.Host = addr.As16()
	w.ScopeID = scopeID
	return w
}

// IsIPv4Mapped reports whether the first 80 bits are zero and the next 16
// are all ones.
func (a Address) IsIPv4Mapped() bool {
	for _, b := range a.Host[:10] {
		if b != 0 {
			return false
		}
	}
	return a.Host[10] == 0xFF && a.Host[11] == 0xFF
}

// Decode converts the wire form back into a native address and scope id.
func (a Address) Decode() (netip.AddrPort, uint16) {
	if a.IsIPv4Mapped() {
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(a.Host[12:16])), a.Port), 0
	}
	return netip.AddrPortFrom(netip.AddrFrom16(a.Host), a.Port), a.ScopeID
}
