package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	enet "github.com/based-collective/citizen-enet"
	"github.com/based-collective/citizen-enet/internal/app"
	"github.com/based-collective/citizen-enet/internal/config"
	"github.com/based-collective/citizen-enet/internal/util"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		channel uint8
		mode    string
	)

	cmd := &cobra.Command{
		Use:   "send <host:port | ws-url> <message>...",
		Short: "Connect, send one packet and disconnect",
		Long: `Connect to a server, send the arguments joined by spaces as one packet,
then disconnect gracefully once it has been handed over.

Examples:
  enet send 127.0.0.1:7777 hello world
  enet send 127.0.0.1:7777 --channel 1 --mode unsequenced ping`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			packetMode, err := parseMode(mode)
			if err != nil {
				return err
			}
			if err := setTarget(opts.v, args[0]); err != nil {
				return err
			}
			payload := []byte(strings.Join(args[1:], " "))

			return runSession(cmd.Context(), opts, func(ctx context.Context, s *app.Session, _ *config.Config, stop context.CancelFunc) {
				s.OnConnect = func(*enet.Peer) {
					if err := s.Send(ctx, channel, payload, packetMode); err != nil {
						util.LogError("Failed to queue packet: %v", err)
					} else {
						util.LogSuccess("Queued %d bytes on channel %d (%s)", len(payload), channel, packetMode)
					}
					stop()
				}
			})
		},
	}

	cmd.Flags().Uint8Var(&channel, "channel", 0, "channel to send on")
	cmd.Flags().StringVar(&mode, "mode", "reliable", "delivery mode: reliable, unreliable or unsequenced")
	return cmd
}
