package grpcstream

import (
	"errors"

	"github.com/rs/zerolog"
)

// Config holds configuration for the gRPC agent transport
type Config struct {
	ListenAddress  string
	SendQueueSize  int
	MaxMessageSize int
	Logger         zerolog.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.SendQueueSize < 0 || c.MaxMessageSize < 0 {
		return errors.New("queue and message sizes cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 1000
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024 // 1MB
	}
}
