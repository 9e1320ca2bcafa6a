package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	enet "github.com/based-collective/citizen-enet"
	"github.com/based-collective/citizen-enet/internal/app"
	"github.com/based-collective/citizen-enet/internal/config"
	"github.com/based-collective/citizen-enet/internal/util"
)

func newConnectCmd(opts *rootOptions) *cobra.Command {
	var (
		channel uint8
		mode    string
	)

	cmd := &cobra.Command{
		Use:   "connect <host:port | ws-url>",
		Short: "Connect to a server and send lines from stdin",
		Long: `Connect to a server and send every line read from stdin as one packet.
Packets from the server are printed. End of input disconnects.

A ws:// or wss:// target selects the webrtc transport and is used as the
signaling URL printed by "enet serve --transport webrtc".

Examples:
  enet connect 127.0.0.1:7777
  echo hello | enet connect 127.0.0.1:7777 --channel 1 --mode unsequenced
  enet connect "ws://192.168.1.10:8080/ws?pin=123456"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			packetMode, err := parseMode(mode)
			if err != nil {
				return err
			}
			if err := setTarget(opts.v, args[0]); err != nil {
				return err
			}

			in := cmd.InOrStdin()
			out := cmd.OutOrStdout()
			return runSession(cmd.Context(), opts, func(ctx context.Context, s *app.Session, cfg *config.Config, stop context.CancelFunc) {
				if int(channel) >= cfg.Channels {
					util.LogWarning("Channel %d is outside the %d negotiated channels", channel, cfg.Channels)
				}
				s.OnReceive = func(_ *enet.Peer, channelID uint8, data []byte) {
					fmt.Fprintf(out, "[ch %d] %s\n", channelID, data)
				}
				// Nothing waits for this goroutine; a blocked stdin read cannot be cancelled.
				go sendLines(ctx, s, in, channel, packetMode, stop)
			})
		},
	}

	cmd.Flags().Uint8Var(&channel, "channel", 0, "channel to send on")
	cmd.Flags().StringVar(&mode, "mode", "reliable", "delivery mode: reliable, unreliable or unsequenced")
	return cmd
}

// setTarget records the connect target as the client's remote address or,
// for a WebSocket URL, as its signaling URL.
func setTarget(v *viper.Viper, target string) error {
	v.Set("role", string(config.RoleClient))
	if strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://") {
		wsURL, err := normalizeWSURL(target)
		if err != nil {
			return err
		}
		v.Set("transport", string(config.TransportWebRTC))
		v.Set("signaling.url", wsURL)
		return nil
	}
	v.Set("remote", target)
	return nil
}

// sendLines queues each input line as a packet and calls stop at end of
// input once connected.
func sendLines(ctx context.Context, s *app.Session, in io.Reader, channel uint8, mode enet.PacketMode, stop context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := s.Send(ctx, channel, []byte(scanner.Text()), mode); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		util.LogWarning("Reading input: %v", err)
	}

	// Queued lines only leave once the handshake completes.
	select {
	case <-s.Connected():
	case <-ctx.Done():
		return
	}
	util.LogDebug("End of input, disconnecting")
	stop()
}
