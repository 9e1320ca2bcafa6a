// Package app runs an enet host from a config.Config: it opens the
// transport, services the host until shutdown and reports what happens.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	enet "github.com/based-collective/citizen-enet"
	"github.com/based-collective/citizen-enet/internal/config"
	"github.com/based-collective/citizen-enet/internal/metrics"
	"github.com/based-collective/citizen-enet/internal/util"
)

const (
	serviceWait   = 20 * time.Millisecond
	shutdownGrace = 3 * time.Second
	outboxSize    = 256
)

var (
	// ErrConnectFailed is returned by Run when the server never answered
	// or refused the connection.
	ErrConnectFailed = errors.New("connection failed")
	// ErrRemoteClosed is returned by Run when the server ends the session.
	ErrRemoteClosed = errors.New("remote closed the connection")
)

type outgoing struct {
	channelID uint8
	packet    *enet.Packet
}

// Session owns one host. A client session also owns the peer it connects
// to. Callbacks run on the goroutine calling Run.
type Session struct {
	cfg       *config.Config
	host      *enet.Host
	remote    *enet.Address
	collector *metrics.Collector

	peer      *enet.Peer
	connected bool
	ready     chan struct{}
	outbox    chan outgoing

	OnConnect    func(p *enet.Peer)
	OnDisconnect func(p *enet.Peer, data uint32)
	OnReceive    func(p *enet.Peer, channelID uint8, data []byte)
}

// Open creates the transport described by cfg and a session on it. For a
// webrtc transport this blocks until the DataChannel is open.
func Open(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Session, error) {
	conn, remote, err := openTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(cfg, conn, remote, reg)
}

// New creates a session on conn. A non-nil remote makes it a client that
// connects there when Run starts. The session owns conn from here on.
func New(cfg *config.Config, conn enet.Transport, remote *enet.Address, reg prometheus.Registerer) (*Session, error) {
	opts := []enet.HostOption{enet.WithTransport(conn), enet.WithMTU(cfg.MTU)}
	if cfg.Checksum {
		opts = append(opts, enet.WithChecksum())
	}
	if cfg.Compression {
		opts = append(opts, enet.WithS2Compression())
	}

	h, err := enet.NewHost(nil, cfg.Peers, enet.ChannelLimit(cfg.Channels),
		enet.BandwidthLimit(cfg.Bandwidth.Incoming), enet.BandwidthLimit(cfg.Bandwidth.Outgoing), opts...)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	s := &Session{
		cfg:    cfg,
		host:   h,
		remote: remote,
		ready:  make(chan struct{}),
		outbox: make(chan outgoing, outboxSize),
	}

	if reg != nil {
		if s.collector, err = metrics.NewCollector(reg, h.Stats); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return s, nil
}

// Host returns the underlying host. It must only be used from callbacks.
func (s *Session) Host() *enet.Host { return s.host }

// Connected is closed once a client session completes its handshake. It
// never closes for a server.
func (s *Session) Connected() <-chan struct{} { return s.ready }

// Send queues data for every connected peer, or for the server on a
// client. It is safe to call from any goroutine.
func (s *Session) Send(ctx context.Context, channelID uint8, data []byte, mode enet.PacketMode) error {
	packet, err := enet.NewPacket(data, mode)
	if err != nil {
		return err
	}
	select {
	case s.outbox <- outgoing{channelID: channelID, packet: packet}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run services the host until ctx is cancelled, then disconnects every
// peer and closes the host. A client also returns once its connection
// fails or ends.
func (s *Session) Run(ctx context.Context) error {
	defer s.host.Close()

	if s.cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, s.cfg.StatsInterval, s.host.Stats)
	}

	if s.remote != nil {
		p, err := s.host.Connect(*s.remote, s.cfg.Channels, 0)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", s.remote, err)
		}
		s.peer = p
		util.LogInfo("Connecting to %s", s.remote)
	} else {
		util.LogInfo("Listening on %s", s.host.Address())
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		default:
		}

		s.flushOutbox()

		ev, err := s.host.Service(serviceWait)
		if err != nil {
			return err
		}
		if ev != nil {
			if err := s.handle(ev); err != nil {
				return err
			}
			continue
		}

		// Handshake failures produce no event.
		if s.peer != nil && !s.connected && s.peer.State() == enet.StateDisconnected {
			return fmt.Errorf("%w: %s", ErrConnectFailed, s.remote)
		}
	}
}

func (s *Session) handle(ev *enet.Event) error {
	switch ev.Type {
	case enet.EventConnect:
		p := ev.Peer
		p.SetTimeout(s.cfg.Timeout.Limit, s.cfg.Timeout.Minimum, s.cfg.Timeout.Maximum)
		p.ConfigureThrottle(s.cfg.Throttle.Interval, s.cfg.Throttle.Acceleration, s.cfg.Throttle.Deceleration)
		p.SetPingInterval(s.cfg.PingInterval)
		if p == s.peer {
			s.connected = true
			close(s.ready)
		}
		s.updateGauge()

		util.LogSuccess("Peer %d connected from %s (%d channels, data %d)", p.ID(), p.Address(), p.ChannelCount(), ev.Data)
		if s.OnConnect != nil {
			s.OnConnect(p)
		}

	case enet.EventDisconnect:
		s.updateGauge()
		util.LogInfo("Peer %d at %s disconnected (data %d)", ev.Peer.ID(), ev.Peer.Address(), ev.Data)
		if s.OnDisconnect != nil {
			s.OnDisconnect(ev.Peer, ev.Data)
		}
		if ev.Peer == s.peer {
			if !s.connected {
				return fmt.Errorf("%w: %s", ErrConnectFailed, s.remote)
			}
			return ErrRemoteClosed
		}

	case enet.EventReceive:
		if util.DebugEnabled() {
			util.LogDebug("Peer %d: %d bytes on channel %d", ev.Peer.ID(), ev.Packet.Len(), ev.ChannelID)
		}
		if s.OnReceive != nil {
			s.OnReceive(ev.Peer, ev.ChannelID, ev.Packet.Data())
		}
	}
	return nil
}

// flushOutbox hands queued packets to the host. Nothing leaves a client
// before it is connected.
func (s *Session) flushOutbox() {
	if s.peer != nil && !s.connected {
		return
	}
	for {
		select {
		case out := <-s.outbox:
			if s.peer == nil {
				s.host.Broadcast(out.channelID, out.packet)
				continue
			}
			if err := s.peer.Send(out.channelID, out.packet); err != nil {
				util.LogWarning("Dropped %d-byte packet for channel %d: %v", out.packet.Len(), out.channelID, err)
			}
		default:
			return
		}
	}
}

// shutdown hands over what is still queued, disconnects every connected
// peer once its queued data is acknowledged and services the host until
// they finish or the grace period ends.
func (s *Session) shutdown() {
	s.flushOutbox()

	pending := 0
	for p := range s.host.Peers() {
		if p.State() == enet.StateConnected {
			p.DisconnectLater(0)
			pending++
		}
	}
	if pending > 0 {
		util.LogInfo("Disconnecting %d peer(s)", pending)
	}

	deadline := time.Now().Add(shutdownGrace)
	for pending > 0 && time.Now().Before(deadline) {
		ev, err := s.host.Service(serviceWait)
		if err != nil {
			util.LogWarning("Shutdown interrupted: %v", err)
			return
		}
		if ev != nil && ev.Type == enet.EventDisconnect {
			pending--
		}
	}
	s.updateGauge()
}

func (s *Session) updateGauge() {
	if s.collector != nil {
		s.collector.ConnectedPeers.Set(float64(s.host.ConnectedPeers()))
	}
}
