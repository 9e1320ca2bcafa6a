package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	enet "github.com/based-collective/citizen-enet"
	"github.com/based-collective/citizen-enet/internal/app"
	"github.com/based-collective/citizen-enet/internal/config"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var echo bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept peers and print what they send",
		Long: `Accept peers and print every packet they send.

Examples:
  enet serve --bind :7777                    # UDP server on port 7777
  enet serve --bind :7777 --echo             # send every packet back to its peer
  enet serve --transport webrtc              # print a signaling URL and wait for one client`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.v.Set("role", string(config.RoleServer))

			out := cmd.OutOrStdout()
			return runSession(cmd.Context(), opts, func(_ context.Context, s *app.Session, _ *config.Config, _ context.CancelFunc) {
				s.OnReceive = func(p *enet.Peer, channelID uint8, data []byte) {
					fmt.Fprintf(out, "[peer %d ch %d] %s\n", p.ID(), channelID, data)
					if !echo {
						return
					}
					reply, err := enet.NewPacket(data, enet.ReliableSequenced)
					if err == nil {
						_ = p.Send(channelID, reply)
					}
				}
			})
		},
	}

	cmd.Flags().BoolVar(&echo, "echo", false, "send every received packet back on the same channel")
	return cmd
}
