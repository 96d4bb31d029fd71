package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker.
type Sink interface {
	// Start opens the output device.
	Start(ctx context.Context) error

	// Write plays a chunk, resampling it to the sink rate when needed.
	// It blocks until the audio is handed to the device, ctx is cancelled or
	// Clear is called.
	Write(ctx context.Context, chunk AudioChunk) error

	// Clear interrupts any Write in progress.
	Clear() error

	// Config returns the playback configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Close releases all resources.
	io.Closer
}
