// Package config loads the router daemon configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/aboamare/mms-router/pkg/mrn"
)

// Config is the daemon configuration.
type Config struct {
	Router    RouterConfig    `yaml:"router"`
	Listen    ListenConfig    `yaml:"listen"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
}

// RouterConfig configures message handling.
type RouterConfig struct {
	MRN              string        `yaml:"mrn"`
	Strict           bool          `yaml:"strict"`
	PurgeInterval    time.Duration `yaml:"purge_interval"`
	NotifyWindow     time.Duration `yaml:"notify_window"`
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	NonceLength      int           `yaml:"nonce_length"`
	ChallengeTimeout time.Duration `yaml:"challenge_timeout"` // 0 = never
}

// ListenConfig holds listen addresses. An empty gRPC address disables that transport.
type ListenConfig struct {
	HTTP string `yaml:"http"`
	GRPC string `yaml:"grpc"`
}

// AuthConfig locates key material.
type AuthConfig struct {
	KeyFile       string `yaml:"key_file"`
	CertFile      string `yaml:"cert_file"`
	TrustedCAFile string `yaml:"trusted_ca_file"`
	AdminSecret   string `yaml:"admin_secret"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// TransportConfig tunes agent connections.
type TransportConfig struct {
	HeartRate       int      `yaml:"heart_rate"` // pings per minute
	MaxMessageBytes int64    `yaml:"max_message_bytes"`
	SendQueueSize   int      `yaml:"send_queue_size"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Router: RouterConfig{
			MRN:           "urn:mrn:mms:router",
			Strict:        true,
			PurgeInterval: 5 * time.Second,
			NotifyWindow:  10 * time.Second,
			DefaultTTL:    100 * 24 * time.Hour,
			NonceLength:   16,
		},
		Listen: ListenConfig{
			HTTP: ":3001",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Transport: TransportConfig{
			HeartRate:       4,
			MaxMessageBytes: 1 << 20,
			SendQueueSize:   1000,
		},
	}
}

// Load reads configuration from the given path.
// If path is empty the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Router.PurgeInterval == 0 {
		c.Router.PurgeInterval = defaults.Router.PurgeInterval
	}
	if c.Router.NotifyWindow == 0 {
		c.Router.NotifyWindow = defaults.Router.NotifyWindow
	}
	if c.Router.DefaultTTL == 0 {
		c.Router.DefaultTTL = defaults.Router.DefaultTTL
	}
	if c.Router.NonceLength == 0 {
		c.Router.NonceLength = defaults.Router.NonceLength
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Transport.HeartRate == 0 {
		c.Transport.HeartRate = defaults.Transport.HeartRate
	}
	if c.Transport.MaxMessageBytes == 0 {
		c.Transport.MaxMessageBytes = defaults.Transport.MaxMessageBytes
	}
	if c.Transport.SendQueueSize == 0 {
		c.Transport.SendQueueSize = defaults.Transport.SendQueueSize
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := mrn.Validate(c.Router.MRN, mrn.Any); err != nil {
		return fmt.Errorf("router.mrn: %w", err)
	}
	if c.Router.PurgeInterval < 0 || c.Router.NotifyWindow < 0 || c.Router.DefaultTTL < 0 || c.Router.ChallengeTimeout < 0 {
		return fmt.Errorf("router durations cannot be negative")
	}
	if c.Router.NonceLength < 10 || c.Router.NonceLength > 32 {
		return fmt.Errorf("router.nonce_length must be between 10 and 32")
	}
	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http cannot be empty")
	}
	if (c.Auth.KeyFile == "") != (c.Auth.CertFile == "") {
		return fmt.Errorf("auth.key_file and auth.cert_file must be set together")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Transport.HeartRate < 1 {
		return fmt.Errorf("transport.heart_rate must be at least 1")
	}
	if c.Transport.MaxMessageBytes < 1 || c.Transport.SendQueueSize < 1 {
		return fmt.Errorf("transport sizes must be positive")
	}
	return nil
}
