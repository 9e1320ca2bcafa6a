package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enet "github.com/based-collective/citizen-enet"
	"github.com/based-collective/citizen-enet/internal/config"
)

func TestParseMode(t *testing.T) {
	tests := map[string]enet.PacketMode{
		"reliable":               enet.ReliableSequenced,
		"Reliable-Sequenced":     enet.ReliableSequenced,
		"unreliable":             enet.UnreliableSequenced,
		"unsequenced":            enet.UnreliableUnsequenced,
		"unreliable-unsequenced": enet.UnreliableUnsequenced,
	}
	for in, want := range tests {
		got, err := parseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseMode("reliable-unsequenced")
	assert.Error(t, err)
}

func TestNormalizeWSURL(t *testing.T) {
	tests := []struct {
		in, want string
		err      bool
	}{
		{in: "ws://127.0.0.1:8080/ws?pin=123456", want: "ws://127.0.0.1:8080/ws?pin=123456"},
		{in: "  ws://127.0.0.1:8080?pin=1  ", want: "ws://127.0.0.1:8080/ws?pin=1"},
		{in: "example.devtunnels.ms/ws?pin=42", want: "wss://example.devtunnels.ms/ws?pin=42"},
		{in: "http://example.com/ws", err: true},
		{in: "ws://", err: true},
	}
	for _, tt := range tests {
		got, err := normalizeWSURL(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSetTarget(t *testing.T) {
	v := viper.New()
	require.NoError(t, setTarget(v, "127.0.0.1:7777"))
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, config.RoleClient, cfg.Role)
	assert.Equal(t, config.TransportUDP, cfg.Transport)
	assert.Equal(t, "127.0.0.1:7777", cfg.Remote)

	v = viper.New()
	require.NoError(t, setTarget(v, "ws://127.0.0.1:8080/ws?pin=123456"))
	cfg, err = config.Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, config.TransportWebRTC, cfg.Transport)
	assert.Equal(t, "ws://127.0.0.1:8080/ws?pin=123456", cfg.Signaling.URL)
}

func TestFlagsOverrideConfig(t *testing.T) {
	root := newRootCmd()
	flags := root.PersistentFlags()
	require.NoError(t, flags.Parse([]string{
		"--channels", "5",
		"--bandwidth-in", "1000",
		"--checksum",
		"--stats-interval", "2s",
	}))

	v := viper.New()
	require.NoError(t, bindFlags(v, flags))
	cfg, err := config.Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Channels)
	assert.Equal(t, uint32(1000), cfg.Bandwidth.Incoming)
	assert.True(t, cfg.Checksum)
	assert.Equal(t, 2*time.Second, cfg.StatsInterval)
	// Unset flags leave the config defaults alone.
	assert.Equal(t, 32, cfg.Peers)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["connect"])
	assert.True(t, names["send"])
}
