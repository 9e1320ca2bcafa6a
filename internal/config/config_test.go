package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, "")
	require.NoError(t, err)

	assert.Equal(t, RoleServer, cfg.Role)
	assert.Equal(t, TransportUDP, cfg.Transport)
	assert.Equal(t, 32, cfg.Peers)
	assert.Equal(t, 2, cfg.Channels)
	assert.Equal(t, 1400, cfg.MTU)
	assert.Equal(t, 500*time.Millisecond, cfg.PingInterval)
	assert.Equal(t, 5*time.Second, cfg.Throttle.Interval)
	assert.Equal(t, uint32(2), cfg.Throttle.Acceleration)
	assert.Equal(t, uint32(32), cfg.Timeout.Limit)
	assert.Equal(t, 30*time.Second, cfg.Timeout.Maximum)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Metrics.Enabled)
	assert.NotEmpty(t, cfg.Signaling.ICEServers)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
role: client
remote: "127.0.0.1:7777"
channels: 4
checksum: true
compression: true
bandwidth:
  incoming: 100000
  outgoing: 50000
throttle:
  interval: 2s
  deceleration: 4
timeout:
  limit: 8
  minimum: 1s
  maximum: 10s
metrics:
  enabled: true
  listen: "127.0.0.1:0"
`)

	cfg, err := Load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, RoleClient, cfg.Role)
	assert.Equal(t, "127.0.0.1:7777", cfg.Remote)
	assert.Equal(t, 4, cfg.Channels)
	assert.True(t, cfg.Checksum)
	assert.True(t, cfg.Compression)
	assert.Equal(t, uint32(100000), cfg.Bandwidth.Incoming)
	assert.Equal(t, uint32(50000), cfg.Bandwidth.Outgoing)
	assert.Equal(t, 2*time.Second, cfg.Throttle.Interval)
	assert.Equal(t, uint32(2), cfg.Throttle.Acceleration)
	assert.Equal(t, uint32(4), cfg.Throttle.Deceleration)
	assert.Equal(t, uint32(8), cfg.Timeout.Limit)
	assert.Equal(t, time.Second, cfg.Timeout.Minimum)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:0", cfg.Metrics.Listen)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "channels: 4\n")
	t.Setenv("ENET_CHANNELS", "9")
	t.Setenv("ENET_BANDWIDTH_OUTGOING", "64000")
	t.Setenv("ENET_DEBUG", "true")

	cfg, err := Load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Channels)
	assert.Equal(t, uint32(64000), cfg.Bandwidth.Outgoing)
	assert.True(t, cfg.Debug)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(nil, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		ok   bool
	}{
		{name: "udp server", yaml: "role: server\n", ok: true},
		{name: "udp client without remote", yaml: "role: client\n"},
		{name: "webrtc client with url", yaml: "role: client\ntransport: webrtc\nsignaling:\n  url: ws://127.0.0.1:8080/ws?pin=123456\n", ok: true},
		{name: "webrtc client without url", yaml: "role: client\ntransport: webrtc\n"},
		{name: "unknown role", yaml: "role: relay\n"},
		{name: "unknown transport", yaml: "transport: tcp\n"},
		{name: "too many peers", yaml: "peers: 5000\n"},
		{name: "zero channels", yaml: "channels: 0\n"},
		{name: "mtu too small", yaml: "mtu: 100\n"},
		{name: "throttle out of range", yaml: "throttle:\n  acceleration: 40\n"},
		{name: "timeout bounds inverted", yaml: "timeout:\n  minimum: 40s\n  maximum: 10s\n"},
		{name: "metrics path", yaml: "metrics:\n  enabled: true\n  path: metrics\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(nil, writeConfig(t, tt.yaml))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
