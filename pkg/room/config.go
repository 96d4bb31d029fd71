package room

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-sitevoice/pkg/audioio"
	"github.com/teslashibe/go-sitevoice/pkg/speech"
)

// Sentinel errors for the room package.
var (
	ErrNoProvisioner = errors.New("room: provisioner is required")
	ErrNoJoiner      = errors.New("room: joiner is required")
	ErrNoMicrophone  = errors.New("room: no microphone configured")
)

// Config holds managed room transport configuration.
type Config struct {
	Provisioner Provisioner
	Joiner      Joiner

	// Source is the microphone. Without one the session runs receive-only.
	Source audioio.Source

	// Sink plays remote audio. Without one remote audio is ignored.
	Sink audioio.Sink

	// Engine, when set, transcribes the user locally and sends finals as
	// text messages.
	Engine speech.Engine

	// RoomPrefix is prepended to generated room names.
	RoomPrefix string

	// SpeakingWindow is how long the session stays active after a remote
	// track arrives.
	SpeakingWindow time.Duration

	// DeleteTimeout bounds the best-effort room deletion on disconnect.
	DeleteTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RoomPrefix:     "sitevoice",
		SpeakingWindow: 3 * time.Second,
		DeleteTimeout:  5 * time.Second,
		Logger:         slog.Default(),
	}
}

// Option configures the room transport.
type Option func(*Config)

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Provisioner == nil {
		return ErrNoProvisioner
	}
	if c.Joiner == nil {
		return ErrNoJoiner
	}
	return nil
}

// WithProvisioner sets the room provisioner.
func WithProvisioner(p Provisioner) Option {
	return func(c *Config) {
		c.Provisioner = p
	}
}

// WithJoiner sets the room client.
func WithJoiner(j Joiner) Option {
	return func(c *Config) {
		c.Joiner = j
	}
}

// WithSource sets the microphone.
func WithSource(src audioio.Source) Option {
	return func(c *Config) {
		c.Source = src
	}
}

// WithSink sets the remote audio output.
func WithSink(sink audioio.Sink) Option {
	return func(c *Config) {
		c.Sink = sink
	}
}

// WithEngine enables local recognition.
func WithEngine(e speech.Engine) Option {
	return func(c *Config) {
		c.Engine = e
	}
}

// WithRoomPrefix sets the room name prefix.
func WithRoomPrefix(prefix string) Option {
	return func(c *Config) {
		c.RoomPrefix = prefix
	}
}

// WithSpeakingWindow sets the remote speaking window.
func WithSpeakingWindow(d time.Duration) Option {
	return func(c *Config) {
		c.SpeakingWindow = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
