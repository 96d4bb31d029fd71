package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// RecognizerOption configures a Recognizer.
type RecognizerOption func(*Recognizer)

// WithRestartPolicy sets the predicate consulted when a run ends while enabled.
// Restarts happen only when it returns true.
func WithRestartPolicy(policy func() bool) RecognizerOption {
	return func(r *Recognizer) {
		r.policy = policy
	}
}

// WithResumePolicy sets the predicate consulted when a run that was paused
// and then resumed finishes winding down. The restart policy is not consulted
// for that run because the caller has already asked for recognition again.
func WithResumePolicy(policy func() bool) RecognizerOption {
	return func(r *Recognizer) {
		r.resumePolicy = policy
	}
}

// WithFinal sets the callback for finalized utterances.
func WithFinal(fn func(text string)) RecognizerOption {
	return func(r *Recognizer) {
		r.onFinal = fn
	}
}

// WithErrors sets the callback for errors worth surfacing.
// Blocking errors and network errors are reported; no-speech and aborted are not.
func WithErrors(fn func(err error)) RecognizerOption {
	return func(r *Recognizer) {
		r.onError = fn
	}
}

// WithRecognizerLogger sets the logger.
func WithRecognizerLogger(logger *slog.Logger) RecognizerOption {
	return func(r *Recognizer) {
		r.logger = logger
	}
}

// Recognizer is an owned handle on an Engine.
//
// started is set when a run starts and cleared only by the engine's OnEnd, so
// the engine is never started twice. enabled is the caller's intent and is
// cleared by Pause. blocked latches after a blocking engine error.
// resumed marks a Resume that arrived while a run was winding down.
// The mutex is never held across engine calls.
type Recognizer struct {
	engine       Engine
	policy       func() bool
	resumePolicy func() bool
	onFinal      func(string)
	onError      func(error)
	logger       *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	started bool
	enabled bool
	blocked bool
	closed  bool
	resumed bool
	run     uint64
}

// NewRecognizer wraps engine.
func NewRecognizer(engine Engine, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		engine:       engine,
		policy:       func() bool { return true },
		resumePolicy: func() bool { return true },
		logger:       slog.Default(),
		ctx:          context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "speech.recognizer")
	return r
}

// Start enables recognition and starts the engine. ctx bounds every run,
// including automatic restarts.
func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	return r.Resume()
}

// Resume enables recognition. If a run is still winding down, the restart
// happens when it ends.
func (r *Recognizer) Resume() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.blocked {
		r.mu.Unlock()
		return ErrBlocked
	}
	wasEnabled := r.enabled
	r.enabled = true
	if r.started {
		if !wasEnabled {
			r.resumed = true
		}
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	return r.startRun()
}

// Pause disables recognition and stops a running engine.
func (r *Recognizer) Pause() error {
	r.mu.Lock()
	r.enabled = false
	r.resumed = false
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}
	return r.engine.Stop()
}

// Close disables recognition permanently and stops the engine.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.enabled = false
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}
	return r.engine.Stop()
}

// Started reports whether an engine run is in progress.
func (r *Recognizer) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Enabled reports the caller's intent.
func (r *Recognizer) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Blocked reports whether a blocking error disabled restarts.
func (r *Recognizer) Blocked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocked
}

func (r *Recognizer) startRun() error {
	r.mu.Lock()
	if r.started || !r.enabled || r.blocked || r.closed {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.run++
	run := r.run
	ctx := r.ctx
	r.mu.Unlock()

	err := r.engine.Start(ctx, Handler{
		OnResult: r.handleResult,
		OnError:  r.handleError,
		OnEnd:    func() { r.handleEnd(run) },
	})
	if err != nil {
		r.mu.Lock()
		if r.run == run {
			r.started = false
		}
		if CodeOf(err).Blocking() {
			r.blocked = true
		}
		r.mu.Unlock()
		r.logger.Warn("recognition start failed", "error", err)
		return err
	}
	r.logger.Debug("recognition started", "run", run)
	return nil
}

func (r *Recognizer) handleResult(res Result) {
	if !res.Final {
		return
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}
	r.mu.Lock()
	live := r.enabled && !r.closed
	fn := r.onFinal
	r.mu.Unlock()
	if live && fn != nil {
		fn(text)
	}
}

func (r *Recognizer) handleError(err error) {
	code := CodeOf(err)
	if code.Blocking() {
		r.mu.Lock()
		r.blocked = true
		r.mu.Unlock()
	}

	switch code {
	case CodeNoSpeech, CodeAborted:
		r.logger.Debug("recognition ended quietly", "code", code)
		return
	}
	r.logger.Warn("recognition error", "error", err)
	if r.onError != nil {
		r.onError(err)
	}
}

func (r *Recognizer) handleEnd(run uint64) {
	r.mu.Lock()
	if r.run != run {
		r.mu.Unlock()
		return
	}
	r.started = false
	restart := r.enabled && !r.blocked && !r.closed
	allowed := r.policy
	if r.resumed {
		allowed = r.resumePolicy
	}
	r.resumed = false
	r.mu.Unlock()

	if !restart || !allowed() {
		r.logger.Debug("recognition stopped", "run", run)
		return
	}
	if err := r.startRun(); err != nil && r.onError != nil {
		r.onError(err)
	}
}
