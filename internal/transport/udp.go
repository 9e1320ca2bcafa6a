package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/based-collective/citizen-enet/internal/util"
)

// UDPConn is a Conn backed by a UDP socket. A single reader goroutine moves
// datagrams from the socket into a bounded inbox.
type UDPConn struct {
	conn  *net.UDPConn
	local netip.AddrPort
	in    *inbox
}

// ListenUDP binds a UDP socket. An invalid bind address listens on all
// interfaces with an ephemeral port.
func ListenUDP(bind netip.AddrPort) (*UDPConn, error) {
	var laddr *net.UDPAddr
	if bind.IsValid() {
		laddr = net.UDPAddrFromAddrPort(bind)
	}

	network := "udp"
	if bind.IsValid() && bind.Addr().Is4() {
		network = "udp4"
	}

	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", bind, err)
	}

	c := &UDPConn{
		conn:  conn,
		local: conn.LocalAddr().(*net.UDPAddr).AddrPort(),
		in:    newInbox(inboxSize),
	}
	go c.readLoop()
	return c, nil
}

func (c *UDPConn) readLoop() {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := c.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				c.in.fail(ErrClosed)
			} else {
				c.in.fail(err)
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

		if !c.in.push(Datagram{From: from, Data: data}) {
			util.LogDebug("udp inbox full, dropped %d bytes from %s", n, from)
		}
	}
}

// Send writes b to the given address.
func (c *UDPConn) Send(to netip.AddrPort, b []byte) (int, error) {
	n, err := c.conn.WriteToUDPAddrPort(b, to)
	if errors.Is(err, net.ErrClosed) {
		return n, ErrClosed
	}
	return n, err
}

// Receive returns the next datagram, waiting up to wait.
func (c *UDPConn) Receive(wait time.Duration) (Datagram, bool, error) {
	return c.in.receive(wait)
}

// LocalAddr returns the bound socket address.
func (c *UDPConn) LocalAddr() netip.AddrPort { return c.local }

// Close closes the socket and stops the reader.
func (c *UDPConn) Close() error {
	c.in.fail(ErrClosed)
	return c.conn.Close()
}
