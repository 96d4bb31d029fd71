package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithSpeakingHooks sets callbacks fired when an utterance starts and finishes.
// onEnd fires for every onStart, including cancelled and failed utterances.
func WithSpeakingHooks(onStart, onEnd func()) SynthesizerOption {
	return func(s *Synthesizer) {
		s.onStart = onStart
		s.onEnd = onEnd
	}
}

// WithSynthesisErrors sets the callback for failed utterances.
func WithSynthesisErrors(fn func(err error)) SynthesizerOption {
	return func(s *Synthesizer) {
		s.onError = fn
	}
}

// WithSynthesizerLogger sets the logger.
func WithSynthesizerLogger(logger *slog.Logger) SynthesizerOption {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

type utterance struct {
	text string
	gen  uint64
}

// Synthesizer plays queued utterances one at a time through a Voice.
type Synthesizer struct {
	voice   Voice
	onStart func()
	onEnd   func()
	onError func(error)
	logger  *slog.Logger

	queue chan utterance
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	speaking bool
	closed   bool
}

// NewSynthesizer starts a synthesizer over voice.
func NewSynthesizer(voice Voice, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		voice:  voice,
		logger: slog.Default(),
		queue:  make(chan utterance, 32),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "speech.synthesizer")

	s.wg.Add(1)
	go s.loop()
	return s
}

// Speak queues text. It never blocks; when the queue is full the text is dropped.
func (s *Synthesizer) Speak(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- utterance{text: text, gen: s.gen}:
		return true
	default:
		s.logger.Warn("synthesis queue full, dropping utterance", "chars", len(text))
		return false
	}
}

// Cancel stops the current utterance and discards queued ones.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	s.gen++
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Speaking reports whether an utterance is playing.
func (s *Synthesizer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Close cancels speech and stops the worker. It waits for the worker to exit.
func (s *Synthesizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Cancel()
	close(s.done)
	s.wg.Wait()
}

func (s *Synthesizer) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case u := <-s.queue:
			s.play(u)
		}
	}
}

func (s *Synthesizer) play(u utterance) {
	s.mu.Lock()
	if u.gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.speaking = true
	s.mu.Unlock()

	if s.onStart != nil {
		s.onStart()
	}
	err := s.voice.Speak(ctx, u.text)
	cancelled := ctx.Err() != nil

	s.mu.Lock()
	s.cancel = nil
	s.speaking = false
	s.mu.Unlock()
	cancel()

	if s.onEnd != nil {
		s.onEnd()
	}
	if err != nil && !cancelled {
		s.logger.Warn("synthesis failed", "error", err)
		if s.onError != nil {
			s.onError(err)
		}
	}
}
