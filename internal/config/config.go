// Package config loads the enet command configuration from a file, the
// environment and command-line flags using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ENET_BANDWIDTH_INCOMING.
const EnvPrefix = "ENET"

// Role selects whether the process accepts or initiates connections.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Transport selects how datagrams leave the process.
type Transport string

const (
	TransportUDP    Transport = "udp"
	TransportWebRTC Transport = "webrtc"
)

// Config is the full runtime configuration of one enet process.
type Config struct {
	Role          Role            `mapstructure:"role"`
	Transport     Transport       `mapstructure:"transport"`
	Bind          string          `mapstructure:"bind"`   // local host:port, empty = ephemeral
	Remote        string          `mapstructure:"remote"` // client: server host:port
	Peers         int             `mapstructure:"peers"`
	Channels      int             `mapstructure:"channels"`
	MTU           int             `mapstructure:"mtu"`
	Compression   bool            `mapstructure:"compression"`
	Checksum      bool            `mapstructure:"checksum"`
	PingInterval  time.Duration   `mapstructure:"ping_interval"`
	Bandwidth     BandwidthConfig `mapstructure:"bandwidth"`
	Throttle      ThrottleConfig  `mapstructure:"throttle"`
	Timeout       TimeoutConfig   `mapstructure:"timeout"`
	Signaling     SignalingConfig `mapstructure:"signaling"`
	Metrics       MetricsConfig   `mapstructure:"metrics"`
	StatsInterval time.Duration   `mapstructure:"stats_interval"` // 0 disables the periodic stats line
	Debug         bool            `mapstructure:"debug"`
}

// BandwidthConfig holds host bandwidth limits in bytes per second. Zero is
// unlimited.
type BandwidthConfig struct {
	Incoming uint32 `mapstructure:"incoming"`
	Outgoing uint32 `mapstructure:"outgoing"`
}

// ThrottleConfig is applied to every peer once it connects.
type ThrottleConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Acceleration uint32        `mapstructure:"acceleration"`
	Deceleration uint32        `mapstructure:"deceleration"`
}

// TimeoutConfig is applied to every peer once it connects.
type TimeoutConfig struct {
	Limit   uint32        `mapstructure:"limit"`
	Minimum time.Duration `mapstructure:"minimum"`
	Maximum time.Duration `mapstructure:"maximum"`
}

// SignalingConfig configures the WebSocket exchange used by the webrtc
// transport.
type SignalingConfig struct {
	Listen     string   `mapstructure:"listen"` // server: WebSocket listen address
	URL        string   `mapstructure:"url"`    // client: ws:// URL printed by the server
	ICEServers []string `mapstructure:"ice_servers"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// Load builds a Config from v. When path is non-empty the file is read
// first; environment variables override it and flags already bound to v
// override both. A nil v uses a fresh viper instance.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so that environment overrides reach
// Unmarshal even when no file mentions them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("role", string(RoleServer))
	v.SetDefault("transport", string(TransportUDP))
	v.SetDefault("bind", "")
	v.SetDefault("remote", "")
	v.SetDefault("peers", 32)
	v.SetDefault("channels", 2)
	v.SetDefault("mtu", 1400)
	v.SetDefault("compression", false)
	v.SetDefault("checksum", false)
	v.SetDefault("ping_interval", "500ms")

	v.SetDefault("bandwidth.incoming", 0)
	v.SetDefault("bandwidth.outgoing", 0)

	v.SetDefault("throttle.interval", "5s")
	v.SetDefault("throttle.acceleration", 2)
	v.SetDefault("throttle.deceleration", 2)

	v.SetDefault("timeout.limit", 32)
	v.SetDefault("timeout.minimum", "5s")
	v.SetDefault("timeout.maximum", "30s")

	v.SetDefault("signaling.listen", ":8080")
	v.SetDefault("signaling.url", "")
	v.SetDefault("signaling.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9091")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("stats_interval", "5s")
	v.SetDefault("debug", false)
}

// Validate checks ranges and role/transport combinations.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleServer, RoleClient:
	default:
		return fmt.Errorf("invalid role %q (must be %s or %s)", c.Role, RoleServer, RoleClient)
	}

	switch c.Transport {
	case TransportUDP:
		if c.Role == RoleClient && c.Remote == "" {
			return fmt.Errorf("remote is required for a udp client")
		}
	case TransportWebRTC:
		if c.Role == RoleClient && c.Signaling.URL == "" {
			return fmt.Errorf("signaling.url is required for a webrtc client")
		}
		if c.Role == RoleServer && c.Signaling.Listen == "" {
			return fmt.Errorf("signaling.listen is required for a webrtc server")
		}
	default:
		return fmt.Errorf("invalid transport %q (must be %s or %s)", c.Transport, TransportUDP, TransportWebRTC)
	}

	if c.Peers < 1 || c.Peers > 0xFFF {
		return fmt.Errorf("peers must be in [1, 4095], got %d", c.Peers)
	}
	if c.Channels < 1 || c.Channels > 255 {
		return fmt.Errorf("channels must be in [1, 255], got %d", c.Channels)
	}
	if c.MTU < 576 || c.MTU > 4096 {
		return fmt.Errorf("mtu must be in [576, 4096], got %d", c.MTU)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive")
	}

	if c.Throttle.Interval <= 0 {
		return fmt.Errorf("throttle.interval must be positive")
	}
	if c.Throttle.Acceleration > 32 || c.Throttle.Deceleration > 32 {
		return fmt.Errorf("throttle acceleration and deceleration must not exceed 32")
	}

	if c.Timeout.Minimum > c.Timeout.Maximum {
		return fmt.Errorf("timeout.minimum (%s) exceeds timeout.maximum (%s)", c.Timeout.Minimum, c.Timeout.Maximum)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	if c.StatsInterval < 0 {
		return fmt.Errorf("stats_interval must not be negative")
	}
	return nil
}
