package session

import (
	"context"
	"log/slog"
	"time"
)

// Config holds session configuration.
type Config struct {
	// Selector decides the transport kind at each Start.
	Selector Selector

	// Factories build transports per kind.
	Factories map[Kind]Factory

	// ConnectTimeout bounds the connect phase of Start.
	ConnectTimeout time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger

	// Now stamps transcript entries.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Selector:       Selector{Preferred: KindAuto},
		Factories:      make(map[Kind]Factory),
		ConnectTimeout: 30 * time.Second,
		Logger:         slog.Default(),
		Now:            time.Now,
	}
}

// Option configures a Session.
type Option func(*Config)

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithTransport registers the factory for a kind.
func WithTransport(kind Kind, f Factory) Option {
	return func(c *Config) {
		c.Factories[kind] = f
	}
}

// WithPreference sets the preferred transport kind.
func WithPreference(kind Kind) Option {
	return func(c *Config) {
		c.Selector.Preferred = kind
	}
}

// WithProbe sets the availability probe used for the auto preference.
func WithProbe(probe func(ctx context.Context) (bool, error)) Option {
	return func(c *Config) {
		c.Selector.Probe = probe
	}
}

// WithConnectTimeout sets the connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithClock overrides the transcript clock.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}
