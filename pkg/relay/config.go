package relay

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-sitevoice/pkg/speech"
)

// Sentinel errors for the relay package.
var (
	ErrNoURL    = errors.New("relay: socket URL is required")
	ErrNoEngine = errors.New("relay: speech recognition is not available")
)

// Config holds relay transport configuration.
type Config struct {
	// URL is the relay socket, e.g. ws://localhost:8080/ws/voice.
	URL string

	// Engine is the recognition engine. Connect fails without one.
	Engine speech.Engine

	// Voice speaks assistant replies. Replies are transcript-only without it.
	Voice speech.Voice

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
		Logger:           slog.Default(),
	}
}

// Option configures the relay transport.
type Option func(*Config)

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields. A missing engine is
// reported by Connect, not here.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrNoURL
	}
	return nil
}

// WithURL sets the relay socket URL.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithEngine sets the recognition engine.
func WithEngine(e speech.Engine) Option {
	return func(c *Config) {
		c.Engine = e
	}
}

// WithVoice sets the synthesis voice.
func WithVoice(v speech.Voice) Option {
	return func(c *Config) {
		c.Voice = v
	}
}

// WithPingInterval sets the keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = d
	}
}

// WithHandshakeTimeout sets the dial handshake timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
