package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aboamare/mms-router/internal/auth"
	"github.com/aboamare/mms-router/internal/notify"
	internalstore "github.com/aboamare/mms-router/internal/store"
	"github.com/aboamare/mms-router/pkg/message"
	"github.com/aboamare/mms-router/pkg/mrn"
)

var (
	// ErrInvalidMRN is returned when the router MRN is not a valid MRN
	ErrInvalidMRN = errors.New("router MRN is not a valid MRN")
	// ErrNegativeDuration is returned when an interval or timeout is negative
	ErrNegativeDuration = errors.New("durations cannot be negative")
	// ErrNonceLength is returned when the nonce length is outside 10..32
	ErrNonceLength = errors.New("nonce length must be between 10 and 32")
)

// Verifier checks the signature of an authentication answer.
type Verifier interface {
	Verify(jws *message.JWS) (*auth.Claims, error)
}

// Signer signs the router's answer to an authenticate request.
type Signer interface {
	Sign(nonce string) (*message.JWS, error)
}

// Config represents configuration for a Router
type Config struct {
	// MRN is the identity of the router itself, used as subject of its signed answers.
	MRN string

	// Strict requires v4 UUID message ids, a determinable sender and a valid register MRN.
	Strict bool

	// PurgeInterval is the period of the expiry sweep.
	PurgeInterval time.Duration

	// NotifyWindow is the debounce window for notifications.
	NotifyWindow time.Duration

	// DefaultTTL is the lifetime of messages sent without an expiry.
	DefaultTTL time.Duration

	// NonceLength is the length of issued challenge nonces.
	NonceLength int

	// ChallengeTimeout expires unanswered challenges. Zero means they never expire.
	ChallengeTimeout time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Logger zerolog.Logger

	// Verifier checks authentication answers. When nil the payload is read without verification.
	Verifier Verifier

	// Signer answers authenticate requests. When nil they are validated but not answered.
	Signer Signer
}

// NewConfig creates a new Router configuration with safe defaults
func NewConfig(routerMRN string) *Config {
	c := &Config{MRN: routerMRN, Logger: zerolog.Nop()}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset values with their defaults.
func (c *Config) SetDefaults() {
	if c.PurgeInterval == 0 {
		c.PurgeInterval = internalstore.DefaultPurgeInterval
	}
	if c.NotifyWindow == 0 {
		c.NotifyWindow = notify.DefaultWindow
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = message.DefaultTTL
	}
	if c.NonceLength == 0 {
		c.NonceLength = auth.DefaultNonceLength
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.MRN != "" && !mrn.IsValid(c.MRN, mrn.Any) {
		return fmt.Errorf("%w: %q", ErrInvalidMRN, c.MRN)
	}
	if c.PurgeInterval < 0 || c.NotifyWindow < 0 || c.DefaultTTL < 0 || c.ChallengeTimeout < 0 {
		return ErrNegativeDuration
	}
	if c.NonceLength < 10 || c.NonceLength > 32 {
		return ErrNonceLength
	}
	return nil
}

// WithStrict sets strict validation
func (c *Config) WithStrict(strict bool) *Config {
	c.Strict = strict
	return c
}

// WithLogger sets the logger
func (c *Config) WithLogger(logger zerolog.Logger) *Config {
	c.Logger = logger
	return c
}

// WithClock sets the clock
func (c *Config) WithClock(clock func() time.Time) *Config {
	c.Clock = clock
	return c
}

// WithNotifyWindow sets the notification debounce window
func (c *Config) WithNotifyWindow(window time.Duration) *Config {
	c.NotifyWindow = window
	return c
}

// WithPurgeInterval sets the expiry sweep period
func (c *Config) WithPurgeInterval(interval time.Duration) *Config {
	c.PurgeInterval = interval
	return c
}

// WithChallengeTimeout sets how long a challenge stays answerable
func (c *Config) WithChallengeTimeout(timeout time.Duration) *Config {
	c.ChallengeTimeout = timeout
	return c
}

// WithVerifier sets the authentication verifier
func (c *Config) WithVerifier(v Verifier) *Config {
	c.Verifier = v
	return c
}

// WithSigner sets the signer for authenticate answers
func (c *Config) WithSigner(s Signer) *Config {
	c.Signer = s
	return c
}
