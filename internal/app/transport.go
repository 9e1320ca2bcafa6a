package app

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/pterm/pterm"

	enet "github.com/based-collective/citizen-enet"
	"github.com/based-collective/citizen-enet/internal/config"
	"github.com/based-collective/citizen-enet/internal/signaling"
	"github.com/based-collective/citizen-enet/internal/transport"
)

// openTransport returns the datagram transport for cfg and, for a client,
// the address of the server.
func openTransport(ctx context.Context, cfg *config.Config) (enet.Transport, *enet.Address, error) {
	if cfg.Transport == config.TransportWebRTC {
		opts := signaling.Options{ICEServers: cfg.Signaling.ICEServers, Announce: announce}
		if cfg.Role == config.RoleServer {
			conn, err := signaling.EstablishAsServer(ctx, cfg.Signaling.Listen, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to establish DataChannel: %w", err)
			}
			return conn, nil, nil
		}

		conn, err := signaling.EstablishAsClient(ctx, cfg.Signaling.URL, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to establish DataChannel: %w", err)
		}
		// Datagrams on a DataChannel arrive from the far end's address.
		remote := enet.AddressFrom(conn.RemoteAddr())
		return conn, &remote, nil
	}

	bind, err := parseBind(cfg.Bind)
	if err != nil {
		return nil, nil, err
	}

	var remote *enet.Address
	if cfg.Role == config.RoleClient {
		addr, err := resolve(ctx, cfg.Remote)
		if err != nil {
			return nil, nil, err
		}
		remote = &addr
	}

	conn, err := transport.ListenUDP(bind)
	if err != nil {
		return nil, nil, err
	}
	return conn, remote, nil
}

// parseBind accepts "", "host:port" with an IP literal, or ":port".
func parseBind(s string) (netip.AddrPort, error) {
	if s == "" {
		return netip.AddrPort{}, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid bind address %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid bind port %q: %w", portStr, err)
	}
	if host == "" {
		return netip.AddrPortFrom(netip.IPv6Unspecified(), uint16(port)), nil
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid bind address %q: %w", s, err)
	}
	return netip.AddrPortFrom(ip, uint16(port)), nil
}

// resolve turns "host:port" into an address, looking the host up if needed.
func resolve(ctx context.Context, s string) (enet.Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return enet.Address{}, fmt.Errorf("invalid remote address %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return enet.Address{}, fmt.Errorf("invalid remote port %q: %w", portStr, err)
	}
	return enet.FromHostnameContext(ctx, host, uint16(port))
}

func announce(url string) {
	pterm.DefaultBox.WithTitle("Signaling").Println(
		"Share this URL with the client:\n\n" + pterm.LightCyan(url),
	)
}
