package transport

import (
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// memoryInboxSize is larger than a socket's so that tests driving many
// datagrams per tick do not lose them to queue overflow.
const memoryInboxSize = 4096

// Verdict is the fate a Filter assigns to a datagram in flight.
type Verdict int

const (
	// Deliver hands the datagram to its destination.
	Deliver Verdict = iota
	// Drop discards the datagram.
	Drop
	// Delay holds the datagram back until the next datagram to the same
	// destination is delivered, or until Release.
	Delay
	// Duplicate delivers the datagram twice.
	Duplicate
)

// Filter inspects every datagram sent on a Network.
type Filter func(from, to netip.AddrPort, data []byte) Verdict

// Network is an in-memory datagram network. Endpoints created with Listen
// exchange datagrams without touching the operating system.
type Network struct {
	mu       sync.Mutex
	conns    map[netip.AddrPort]*MemoryConn
	held     map[netip.AddrPort][]Datagram
	filter   Filter
	nextPort uint16
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		conns:    make(map[netip.AddrPort]*MemoryConn),
		held:     make(map[netip.AddrPort][]Datagram),
		nextPort: 49152,
	}
}

// SetFilter installs f for subsequent sends. A nil filter delivers
// everything.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// Release delivers every delayed datagram.
func (n *Network) Release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for to, ds := range n.held {
		if c, ok := n.conns[to]; ok {
			for _, d := range ds {
				c.in.push(d)
			}
		}
		delete(n.held, to)
	}
}

// Listen creates an endpoint. A zero port picks a free one; an invalid
// address binds 127.0.0.1.
func (n *Network) Listen(addr netip.AddrPort) (*MemoryConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ip := addr.Addr()
	if !ip.IsValid() {
		ip = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	port := addr.Port()
	if port == 0 {
		for {
			port = n.nextPort
			n.nextPort++
			if n.nextPort == 0 {
				n.nextPort = 49152
			}
			if _, used := n.conns[netip.AddrPortFrom(ip, port)]; !used {
				break
			}
		}
	}

	local := netip.AddrPortFrom(ip, port)
	if _, used := n.conns[local]; used {
		return nil, fmt.Errorf("address %s already in use", local)
	}

	c := &MemoryConn{net: n, local: local, in: newInbox(memoryInboxSize)}
	n.conns[local] = c
	return c, nil
}

func (n *Network) deliver(from, to netip.AddrPort, b []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	data := make([]byte, len(b))
	copy(data, b)
	d := Datagram{From: from, Data: data}

	verdict := Deliver
	if n.filter != nil {
		verdict = n.filter(from, to, data)
	}

	dst, ok := n.conns[to]
	switch verdict {
	case Drop:
		return
	case Delay:
		n.held[to] = append(n.held[to], d)
		return
	}
	if !ok {
		return
	}

	dst.in.push(d)
	if verdict == Duplicate {
		dst.in.push(d)
	}
	for _, h := range n.held[to] {
		dst.in.push(h)
	}
	delete(n.held, to)
}

// MemoryConn is an endpoint on a Network.
type MemoryConn struct {
	net   *Network
	local netip.AddrPort
	in    *inbox
}

// Send delivers a copy of b to the endpoint bound at to. Datagrams to
// unknown addresses vanish.
func (c *MemoryConn) Send(to netip.AddrPort, b []byte) (int, error) {
	select {
	case <-c.in.done:
		return 0, ErrClosed
	default:
	}
	c.net.deliver(c.local, to, b)
	return len(b), nil
}

// Receive returns the next datagram, waiting up to wait.
func (c *MemoryConn) Receive(wait time.Duration) (Datagram, bool, error) {
	return c.in.receive(wait)
}

// LocalAddr returns the endpoint address.
func (c *MemoryConn) LocalAddr() netip.AddrPort { return c.local }

// Close detaches the endpoint from its network.
func (c *MemoryConn) Close() error {
	c.net.mu.Lock()
	if c.net.conns[c.local] == c {
		delete(c.net.conns, c.local)
	}
	c.net.mu.Unlock()
	c.in.fail(ErrClosed)
	return nil
}
