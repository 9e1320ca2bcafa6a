package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	enet "github.com/based-collective/citizen-enet"
	"github.com/based-collective/citizen-enet/internal/app"
	"github.com/based-collective/citizen-enet/internal/config"
	"github.com/based-collective/citizen-enet/internal/metrics"
	"github.com/based-collective/citizen-enet/internal/util"
)

// attachFunc wires command-specific behaviour into a session before it
// runs. Calling stop ends the run.
type attachFunc func(ctx context.Context, s *app.Session, cfg *config.Config, stop context.CancelFunc)

// runSession loads the config, opens the session and services it until
// Ctrl+C, SIGTERM or a fatal error.
func runSession(parent context.Context, opts *rootOptions, attach attachFunc) error {
	cfg, err := config.Load(opts.v, opts.configFile)
	if err != nil {
		return err
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("enet v%s (%s over %s)", version, cfg.Role, cfg.Transport))
	pterm.Println()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		r := prometheus.NewRegistry()
		r.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg = r

		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, r)
		if err := srv.Start(); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Stop(context.Background())
		})
	}

	s, err := app.Open(gctx, cfg, reg)
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	if attach != nil {
		attach(gctx, s, cfg, cancel)
	}
	g.Go(func() error {
		defer cancel()
		return s.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	util.LogInfo("Host closed")
	return nil
}

// parseMode maps a delivery mode name onto a packet mode.
func parseMode(s string) (enet.PacketMode, error) {
	switch strings.ToLower(s) {
	case "reliable", "reliable-sequenced":
		return enet.ReliableSequenced, nil
	case "unreliable", "unreliable-sequenced":
		return enet.UnreliableSequenced, nil
	case "unsequenced", "unreliable-unsequenced":
		return enet.UnreliableUnsequenced, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (must be reliable, unreliable or unsequenced)", s)
	}
}

// normalizeWSURL validates a signaling URL. A missing scheme defaults to
// wss, a missing path to /ws; the query carrying the PIN is kept.
func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid WebSocket scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
