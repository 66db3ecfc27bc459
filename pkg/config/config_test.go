package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 40*time.Millisecond, cfg.Receiver.MaxFrameAge)
	require.Equal(t, 96, cfg.Receiver.MaxPendingFrames)
	require.Equal(t, 1100, cfg.Sender.MaxPayloadBytes)
	require.Equal(t, 1500*time.Millisecond, cfg.Sender.BitrateCooldown)
	require.Equal(t, 350*time.Millisecond, cfg.Sender.KeyframeCooldown)
	require.Equal(t, 24, cfg.Relay.ConnectBurst)
	require.Equal(t, 10*time.Second, cfg.Relay.ConnectWindow)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Relay.Address, cfg.Relay.Address)
}

func TestLoadAppliesFileAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	good := []byte(`
relay:
  address: ":9999"
sender:
  fps: 30
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, good, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Relay.Address)
	require.Equal(t, 30, cfg.Sender.Fps)
	require.Equal(t, "debug", cfg.Logging.Level)

	bad := []byte(`
sender:
  fps: -1
`)
	require.NoError(t, os.WriteFile(path, bad, 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero fps", func(c *Config) { c.Sender.Fps = 0 }},
		{"min above start bitrate", func(c *Config) { c.Sender.MinBitrateKbps = c.Sender.StartBitrateKbps + 1 }},
		{"pacing headroom below 1", func(c *Config) { c.Sender.PacingHeadroom = 0.9 }},
		{"bitrate step out of range", func(c *Config) { c.Sender.BitrateStep = 1.0 }},
		{"unknown sink", func(c *Config) { c.Receiver.Sink = "vlc" }},
		{"file sink without path", func(c *Config) { c.Receiver.Sink = "file"; c.Receiver.SinkPath = "" }},
		{"empty relay address", func(c *Config) { c.Relay.Address = "" }},
		{"zero connect burst", func(c *Config) { c.Relay.ConnectBurst = 0 }},
		{"empty token secret", func(c *Config) { c.Auth.TokenSecret = "" }},
		{"redis enabled without address", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LANCAST_RELAY_ADDRESS", ":7777")
	t.Setenv("LANCAST_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.Relay.Address)
	require.Equal(t, "warn", cfg.Logging.Level)
}
