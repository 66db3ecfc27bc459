package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Sender struct {
		BindAddress       string        `yaml:"bind_address"`
		Fps               int           `yaml:"fps"`
		StartBitrateKbps  int           `yaml:"start_bitrate_kbps"`
		MinBitrateKbps    int           `yaml:"min_bitrate_kbps"`
		MaxPayloadBytes   int           `yaml:"max_payload_bytes"`
		PacingHeadroom    float64       `yaml:"pacing_headroom"`
		BitrateStep       float64       `yaml:"bitrate_step"`
		BitrateCooldown   time.Duration `yaml:"bitrate_cooldown"`
		KeyframeCooldown  time.Duration `yaml:"keyframe_cooldown"`
		RecoverAfter      time.Duration `yaml:"recover_after"`
		MaxStreamDuration time.Duration `yaml:"max_stream_duration"`
	} `yaml:"sender"`

	Receiver struct {
		BindAddress      string        `yaml:"bind_address"`
		MaxFrameAge      time.Duration `yaml:"max_frame_age"`
		MaxPendingFrames int           `yaml:"max_pending_frames"`
		SweepInterval    time.Duration `yaml:"sweep_interval"`
		StatsInterval    time.Duration `yaml:"stats_interval"`
		FeedbackInterval time.Duration `yaml:"feedback_interval"`
		Sink             string        `yaml:"sink"`      // ffplay | file | none
		SinkPath         string        `yaml:"sink_path"` // for sink=file
	} `yaml:"receiver"`

	Relay struct {
		Address          string        `yaml:"address"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
		SweepInterval    time.Duration `yaml:"sweep_interval"`
		HostBytesPerSec  int64         `yaml:"host_bytes_per_sec"`
		ClientMsgsPerSec int           `yaml:"client_msgs_per_sec"`
		ConnectWindow    time.Duration `yaml:"connect_window"`
		ConnectBurst     int           `yaml:"connect_burst"`
		MaxMessageBytes  int64         `yaml:"max_message_bytes"`
	} `yaml:"relay"`

	Auth struct {
		TokenSecret string        `yaml:"token_secret"`
		TokenTTL    time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Sender
	if c.Sender.Fps <= 0 || c.Sender.Fps > 240 {
		return fmt.Errorf("sender.fps must be in (0, 240]")
	}
	if c.Sender.StartBitrateKbps <= 0 {
		return fmt.Errorf("sender.start_bitrate_kbps must be > 0")
	}
	if c.Sender.MinBitrateKbps <= 0 || c.Sender.MinBitrateKbps > c.Sender.StartBitrateKbps {
		return fmt.Errorf("sender.min_bitrate_kbps must be in (0, start_bitrate_kbps]")
	}
	if c.Sender.MaxPayloadBytes < 0 {
		return fmt.Errorf("sender.max_payload_bytes must be >= 0")
	}
	if c.Sender.PacingHeadroom < 1.0 {
		return fmt.Errorf("sender.pacing_headroom must be >= 1.0")
	}
	if c.Sender.BitrateStep <= 0 || c.Sender.BitrateStep >= 1.0 {
		return fmt.Errorf("sender.bitrate_step must be in (0, 1)")
	}
	if c.Sender.BitrateCooldown <= 0 {
		return fmt.Errorf("sender.bitrate_cooldown must be > 0")
	}
	if c.Sender.KeyframeCooldown <= 0 {
		return fmt.Errorf("sender.keyframe_cooldown must be > 0")
	}

	// Receiver
	if c.Receiver.BindAddress == "" {
		return fmt.Errorf("receiver.bind_address must not be empty")
	}
	if c.Receiver.MaxFrameAge <= 0 {
		return fmt.Errorf("receiver.max_frame_age must be > 0")
	}
	if c.Receiver.MaxPendingFrames <= 0 {
		return fmt.Errorf("receiver.max_pending_frames must be > 0")
	}
	if c.Receiver.SweepInterval <= 0 {
		return fmt.Errorf("receiver.sweep_interval must be > 0")
	}
	if c.Receiver.StatsInterval <= 0 {
		return fmt.Errorf("receiver.stats_interval must be > 0")
	}
	switch c.Receiver.Sink {
	case "ffplay", "file", "none":
	default:
		return fmt.Errorf("receiver.sink must be one of ffplay|file|none")
	}
	if c.Receiver.Sink == "file" && c.Receiver.SinkPath == "" {
		return fmt.Errorf("receiver.sink_path must be set when sink=file")
	}

	// Relay
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.HostBytesPerSec <= 0 {
		return fmt.Errorf("relay.host_bytes_per_sec must be > 0")
	}
	if c.Relay.ClientMsgsPerSec <= 0 {
		return fmt.Errorf("relay.client_msgs_per_sec must be > 0")
	}
	if c.Relay.ConnectWindow <= 0 {
		return fmt.Errorf("relay.connect_window must be > 0")
	}
	if c.Relay.ConnectBurst <= 0 {
		return fmt.Errorf("relay.connect_burst must be > 0")
	}
	if c.Relay.SweepInterval <= 0 {
		return fmt.Errorf("relay.sweep_interval must be > 0")
	}

	// Auth
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Sender.BindAddress = ":0"
	cfg.Sender.Fps = 60
	cfg.Sender.StartBitrateKbps = 12000
	cfg.Sender.MinBitrateKbps = 1500
	cfg.Sender.MaxPayloadBytes = 1100
	cfg.Sender.PacingHeadroom = 1.1
	cfg.Sender.BitrateStep = 0.85
	cfg.Sender.BitrateCooldown = 1500 * time.Millisecond
	cfg.Sender.KeyframeCooldown = 350 * time.Millisecond
	cfg.Sender.RecoverAfter = 8 * time.Second
	cfg.Sender.MaxStreamDuration = 0 // unbounded

	cfg.Receiver.BindAddress = ":0"
	cfg.Receiver.MaxFrameAge = 40 * time.Millisecond
	cfg.Receiver.MaxPendingFrames = 96
	cfg.Receiver.SweepInterval = 20 * time.Millisecond
	cfg.Receiver.StatsInterval = 2 * time.Second
	cfg.Receiver.FeedbackInterval = time.Second
	cfg.Receiver.Sink = "none"

	cfg.Relay.Address = ":8090"
	cfg.Relay.ReadTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 15 * time.Second
	cfg.Relay.SweepInterval = 3 * time.Second
	cfg.Relay.HostBytesPerSec = 25 * 1024 * 1024
	cfg.Relay.ClientMsgsPerSec = 240
	cfg.Relay.ConnectWindow = 10 * time.Second
	cfg.Relay.ConnectBurst = 24
	cfg.Relay.MaxMessageBytes = 4 * 1024 * 1024

	cfg.Auth.TokenSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 4 * time.Hour

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "lancast-relay"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if addr := os.Getenv("LANCAST_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if addr := os.Getenv("LANCAST_RECEIVER_BIND"); addr != "" {
		c.Receiver.BindAddress = addr
	}
	if level := os.Getenv("LANCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("LANCAST_TOKEN_SECRET"); secret != "" {
		c.Auth.TokenSecret = secret
	}
	if addr := os.Getenv("LANCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
