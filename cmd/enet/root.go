package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"bind":             "bind",
	"transport":        "transport",
	"peers":            "peers",
	"channels":         "channels",
	"mtu":              "mtu",
	"compression":      "compression",
	"checksum":         "checksum",
	"bandwidth-in":     "bandwidth.incoming",
	"bandwidth-out":    "bandwidth.outgoing",
	"signaling-listen": "signaling.listen",
	"ice-server":       "signaling.ice_servers",
	"metrics":          "metrics.enabled",
	"metrics-listen":   "metrics.listen",
	"stats-interval":   "stats_interval",
	"debug":            "debug",
}

type rootOptions struct {
	configFile string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:   "enet",
		Short: "enet - reliable, sequenced datagrams over UDP or WebRTC",
		Long: `enet runs a connection-oriented datagram host with reliable and
unreliable channels, fragmentation, bandwidth throttling and timeouts.

Settings come from flags, ENET_* environment variables and an optional
YAML config file, in that order of precedence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "config file path")
	pf.String("bind", "", "local address to bind, host:port or :port")
	pf.String("transport", "udp", "datagram transport: udp or webrtc")
	pf.Int("peers", 32, "maximum number of peers")
	pf.Int("channels", 2, "channels per connection")
	pf.Int("mtu", 1400, "datagram size offered to peers")
	pf.Bool("compression", false, "compress datagrams with S2 (both ends must agree)")
	pf.Bool("checksum", false, "append a CRC32 to every datagram (both ends must agree)")
	pf.Uint32("bandwidth-in", 0, "incoming bandwidth limit in bytes/s, 0 = unlimited")
	pf.Uint32("bandwidth-out", 0, "outgoing bandwidth limit in bytes/s, 0 = unlimited")
	pf.String("signaling-listen", ":8080", "WebSocket signaling listen address (webrtc server)")
	pf.StringSlice("ice-server", nil, "STUN/TURN server URL (repeatable)")
	pf.Bool("metrics", false, "serve Prometheus metrics")
	pf.String("metrics-listen", ":9091", "metrics listen address")
	pf.Duration("stats-interval", 5*time.Second, "log traffic statistics at this interval, 0 = off")
	pf.Bool("debug", false, "enable debug logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return bindFlags(opts.v, cmd.Flags())
	}

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newConnectCmd(opts))
	root.AddCommand(newSendCmd(opts))
	return root
}

// bindFlags binds every known flag of fs to its config key. Only flags
// the user set override the file and environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}
