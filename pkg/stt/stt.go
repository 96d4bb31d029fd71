// Package stt implements continuous speech recognition over a microphone.
//
// The engine segments captured audio into utterances with an RMS energy
// gate and hands each utterance to a Transcriber (OpenAI Whisper in
// production). It satisfies speech.Engine.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-sitevoice/pkg/audioio"
	"github.com/teslashibe/go-sitevoice/pkg/speech"
)

// Sentinel errors for the stt package.
var (
	ErrNoSource      = errors.New("stt: audio source is required")
	ErrNoTranscriber = errors.New("stt: transcriber is required")
	ErrRunning       = errors.New("stt: recognition already started")
)

// Transcriber converts one utterance of mono PCM16 audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error)
}

// Engine is a continuous recognizer. One run is active at a time.
type Engine struct {
	cfg    *Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// New creates an engine.
func New(opts ...Option) (*Engine, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: cfg.Logger.With("component", "stt")}, nil
}

// Start opens the microphone and begins a run. Microphone failures are
// reported as speech.CodeAudioCapture.
func (e *Engine) Start(ctx context.Context, h speech.Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrRunning
	}

	if err := e.cfg.Source.Start(ctx); err != nil {
		return speech.NewError(speech.CodeAudioCapture, err)
	}

	e.running = true
	e.stop = make(chan struct{})
	go e.run(ctx, e.stop, h)
	return nil
}

// Stop ends the current run. OnEnd follows once the run has drained.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.stop == nil {
		return nil
	}
	close(e.stop)
	e.stop = nil
	return nil
}

func (e *Engine) run(ctx context.Context, stop <-chan struct{}, h speech.Handler) {
	defer func() {
		if err := e.cfg.Source.Stop(); err != nil {
			e.logger.Debug("source stop failed", "error", err)
		}
		e.mu.Lock()
		e.running = false
		e.stop = nil
		e.mu.Unlock()
		if h.OnEnd != nil {
			h.OnEnd()
		}
	}()

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-rctx.Done():
		}
	}()

	rate := e.cfg.Source.Config().SampleRate
	ep := newEndpointer(e.cfg, rate)

	for {
		chunk, err := e.cfg.Source.Read(rctx)
		if err != nil {
			if rctx.Err() != nil {
				e.logger.Debug("recognition run stopped")
				if ctx.Err() != nil && h.OnError != nil {
					h.OnError(speech.NewError(speech.CodeAborted, ctx.Err()))
				}
				return
			}
			if !errors.Is(err, io.EOF) && h.OnError != nil {
				h.OnError(speech.NewError(speech.CodeAudioCapture, err))
			}
			return
		}

		samples := chunk.Samples
		if chunk.Channels == 2 {
			samples = audioio.StereoToMono(samples)
		}
		utterance, started := ep.feed(samples)
		if started && h.OnResult != nil {
			h.OnResult(speech.Result{Final: false})
		}
		if utterance == nil {
			continue
		}

		text, err := e.cfg.Transcriber.Transcribe(rctx, utterance, rate)
		if err != nil {
			if rctx.Err() != nil {
				return
			}
			if h.OnError != nil {
				h.OnError(classify(err))
			}
			continue
		}
		e.logger.Debug("utterance transcribed", "samples", len(utterance), "chars", len(text))
		if h.OnResult != nil && text != "" {
			h.OnResult(speech.Result{Text: text, Final: true})
		}
	}
}

// endpointer groups frames into utterances using an energy gate.
type endpointer struct {
	threshold  float64
	silence    int // samples of quiet that end an utterance
	minSpeech  int
	maxSamples int

	buf      []int16
	speaking bool
	voiced   int
	quiet    int
}

func newEndpointer(cfg *Config, rate int) *endpointer {
	samples := func(d time.Duration) int { return int(d.Seconds() * float64(rate)) }
	return &endpointer{
		threshold:  cfg.Threshold,
		silence:    samples(cfg.Silence),
		minSpeech:  samples(cfg.MinSpeech),
		maxSamples: samples(cfg.MaxUtterance),
	}
}

// feed consumes one frame. It returns a finished utterance, if any, and
// whether speech started on this frame.
func (p *endpointer) feed(frame []int16) (utterance []int16, started bool) {
	loud := audioio.RMS(frame) > p.threshold

	if !p.speaking {
		if !loud {
			return nil, false
		}
		p.speaking = true
		started = true
	}

	p.buf = append(p.buf, frame...)
	if loud {
		p.voiced += len(frame)
		p.quiet = 0
	} else {
		p.quiet += len(frame)
	}

	if p.quiet >= p.silence || len(p.buf) >= p.maxSamples {
		out, voiced := p.buf, p.voiced
		p.reset()
		if voiced < p.minSpeech {
			return nil, started
		}
		return out, started
	}
	return nil, started
}

func (p *endpointer) reset() {
	p.buf = nil
	p.speaking = false
	p.voiced = 0
	p.quiet = 0
}

// classify maps transcription failures to recognition codes.
func classify(err error) error {
	var te *TranscribeError
	if errors.As(err, &te) {
		switch te.StatusCode {
		case 401, 403:
			return speech.NewError(speech.CodeServiceNotAllowed, err)
		}
	}
	return speech.NewError(speech.CodeNetwork, fmt.Errorf("transcribe: %w", err))
}

var _ speech.Engine = (*Engine)(nil)
