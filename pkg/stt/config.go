package stt

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-sitevoice/pkg/audioio"
)

// Config holds recognition configuration.
type Config struct {
	// Source is the microphone. The engine starts and stops it per run.
	Source audioio.Source

	// Transcriber turns an utterance into text.
	Transcriber Transcriber

	// Threshold is the RMS level (0.0-1.0) above which a frame counts as speech.
	Threshold float64

	// Silence ends an utterance after this much quiet.
	Silence time.Duration

	// MinSpeech discards utterances shorter than this.
	MinSpeech time.Duration

	// MaxUtterance forces an endpoint on long speech.
	MaxUtterance time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Threshold:    0.015,
		Silence:      600 * time.Millisecond,
		MinSpeech:    200 * time.Millisecond,
		MaxUtterance: 15 * time.Second,
		Logger:       slog.Default(),
	}
}

// Option configures the engine.
type Option func(*Config)

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Source == nil {
		return ErrNoSource
	}
	if c.Transcriber == nil {
		return ErrNoTranscriber
	}
	return nil
}

// WithSource sets the microphone.
func WithSource(src audioio.Source) Option {
	return func(c *Config) {
		c.Source = src
	}
}

// WithTranscriber sets the transcriber.
func WithTranscriber(t Transcriber) Option {
	return func(c *Config) {
		c.Transcriber = t
	}
}

// WithThreshold sets the speech RMS threshold.
func WithThreshold(rms float64) Option {
	return func(c *Config) {
		c.Threshold = rms
	}
}

// WithSilence sets the end-of-utterance silence.
func WithSilence(d time.Duration) Option {
	return func(c *Config) {
		c.Silence = d
	}
}

// WithMinSpeech sets the shortest accepted utterance.
func WithMinSpeech(d time.Duration) Option {
	return func(c *Config) {
		c.MinSpeech = d
	}
}

// WithMaxUtterance sets the longest utterance before a forced endpoint.
func WithMaxUtterance(d time.Duration) Option {
	return func(c *Config) {
		c.MaxUtterance = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
