package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures from the default input device.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	ch      chan AudioChunk
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	closed  bool

	chunksRead atomic.Int64
	overruns   atomic.Int64
}

// NewPortAudioSource creates a source. The device is opened by Start.
func NewPortAudioSource(cfg Config, logger *slog.Logger) *PortAudioSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudioSource{
		cfg:    cfg,
		logger: logger.With("component", "audioio.portaudio.source"),
		ch:     make(chan AudioChunk, 32),
	}
}

// Start opens the default input stream and begins capture.
func (s *PortAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("audioio: portaudio init: %w", err)
	}

	s.buf = make([]int16, s.cfg.BufferSize()*s.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(s.cfg.Channels, 0, float64(s.cfg.SampleRate), s.cfg.BufferSize(), s.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("audioio: open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("audioio: start input: %w", err)
	}

	s.stream = stream
	s.stopCh = make(chan struct{})
	s.ch = make(chan AudioChunk, 32)
	s.running = true

	s.wg.Add(1)
	go s.readLoop(ctx, stream, s.stopCh, s.ch)

	s.logger.Info("microphone capture started",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)
	return nil
}

func (s *PortAudioSource) readLoop(ctx context.Context, stream *portaudio.Stream, stop <-chan struct{}, out chan<- AudioChunk) {
	defer s.wg.Done()
	defer close(out)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// Input overflow is recoverable; anything else ends capture.
			if err == portaudio.InputOverflowed {
				s.overruns.Add(1)
				continue
			}
			s.logger.Warn("microphone read failed", "error", err)
			return
		}

		samples := make([]int16, len(s.buf))
		copy(samples, s.buf)
		chunk := AudioChunk{Samples: samples, SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}

		select {
		case out <- chunk:
			s.chunksRead.Add(1)
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop halts capture and closes the device.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	s.wg.Wait()

	var firstErr error
	if err := stream.Stop(); err != nil {
		firstErr = err
	}
	if err := stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	portaudio.Terminate()

	s.logger.Info("microphone capture stopped")
	return firstErr
}

// Read returns the next captured chunk.
func (s *PortAudioSource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Config returns the capture configuration.
func (s *PortAudioSource) Config() Config {
	return s.cfg
}

// Name returns "portaudio".
func (s *PortAudioSource) Name() string {
	return string(BackendPortAudio)
}

// Close stops capture permanently.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns capture statistics.
func (s *PortAudioSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead: s.chunksRead.Load(),
		Overruns:   s.overruns.Load(),
		Running:    running,
		Backend:    s.Name(),
	}
}

// PortAudioSink plays to the default output device.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	running bool
	closed  bool

	// writeMu serializes writers on the shared buffer.
	writeMu sync.Mutex
	clears  atomic.Uint64
}

// NewPortAudioSink creates a sink. The device is opened by Start.
func NewPortAudioSink(cfg Config, logger *slog.Logger) *PortAudioSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudioSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.portaudio.sink"),
	}
}

// Start opens the default output stream.
func (s *PortAudioSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("audioio: portaudio init: %w", err)
	}
	s.buf = make([]int16, s.cfg.BufferSize()*s.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(0, s.cfg.Channels, float64(s.cfg.SampleRate), s.cfg.BufferSize(), s.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("audioio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("audioio: start output: %w", err)
	}

	s.stream = stream
	s.running = true
	return nil
}

// Write plays chunk, blocking until it is handed to the device.
func (s *PortAudioSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	stream := s.stream
	running := s.running
	s.mu.Unlock()
	if !running {
		return io.ErrClosedPipe
	}

	samples := chunk.Samples
	if chunk.Channels == 2 && s.cfg.Channels == 1 {
		samples = StereoToMono(samples)
	}
	samples = Resample(samples, chunk.SampleRate, s.cfg.SampleRate)

	gen := s.clears.Load()
	for off := 0; off < len(samples); off += len(s.buf) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.clears.Load() != gen {
			return nil
		}
		n := copy(s.buf, samples[off:])
		clear(s.buf[n:])
		if err := stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("audioio: write output: %w", err)
		}
	}
	return nil
}

// Clear interrupts the current Write.
func (s *PortAudioSink) Clear() error {
	s.clears.Add(1)
	return nil
}

// Config returns the playback configuration.
func (s *PortAudioSink) Config() Config {
	return s.cfg
}

// Name returns "portaudio".
func (s *PortAudioSink) Name() string {
	return string(BackendPortAudio)
}

// Close stops playback and closes the device.
func (s *PortAudioSink) Close() error {
	s.Clear()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.running {
		return nil
	}
	s.running = false

	var firstErr error
	if err := s.stream.Stop(); err != nil {
		firstErr = err
	}
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.stream = nil
	portaudio.Terminate()
	return firstErr
}

// Verify interfaces at compile time.
var (
	_ Source = (*PortAudioSource)(nil)
	_ Sink   = (*PortAudioSink)(nil)
)
