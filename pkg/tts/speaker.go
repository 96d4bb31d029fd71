package tts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-sitevoice/pkg/audioio"
	"github.com/teslashibe/go-sitevoice/pkg/speech"
)

// Speaker synthesizes text and plays it on a sink.
type Speaker struct {
	provider Provider
	sink     audioio.Sink
	logger   *slog.Logger

	startOnce sync.Once
	startErr  error
}

// NewSpeaker creates a speaker. The sink is started on first use.
func NewSpeaker(provider Provider, sink audioio.Sink, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		provider: provider,
		sink:     sink,
		logger:   logger.With("component", "tts.speaker"),
	}
}

// Speak plays text and returns when playback finishes. Cancelling ctx
// interrupts playback.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.startOnce.Do(func() {
		s.startErr = s.sink.Start(context.Background())
	})
	if s.startErr != nil {
		return fmt.Errorf("tts: start output: %w", s.startErr)
	}

	result, err := s.provider.Synthesize(ctx, text)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		s.sink.Clear()
	})
	defer stop()

	chunk := audioio.AudioChunk{
		Samples:    audioio.BytesToSamples(result.Audio),
		SampleRate: result.Format.SampleRate,
		Channels:   max(result.Format.Channels, 1),
	}
	s.logger.Debug("playing reply", "chars", result.CharCount, "duration", result.Duration)
	if err := s.sink.Write(ctx, chunk); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("tts: play: %w", err)
	}
	return nil
}

// Close releases the provider and the sink.
func (s *Speaker) Close() error {
	perr := s.provider.Close()
	if err := s.sink.Close(); err != nil {
		return err
	}
	return perr
}

var _ speech.Voice = (*Speaker)(nil)
