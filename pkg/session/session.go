// Package session implements the voice session state machine.
//
// A Session owns at most one Transport at a time. Start selects the transport
// kind, builds a fresh transport and connects it; End releases it. Transport
// events arrive on arbitrary goroutines through a Host bound to the epoch of
// the Start that created it, so results from an ended attempt never touch the
// current state.
//
// Example usage:
//
//	s := session.New(
//	    session.WithTransport(session.KindLocal, newRelay),
//	    session.WithPreference(session.KindLocal),
//	)
//	defer s.Close()
//
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	s.SubmitUserUtterance(ctx, "how many pages did you crawl?")
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Session is the voice session state machine. It is safe for concurrent use.
type Session struct {
	cfg    *Config
	logger *slog.Logger
	mute   *MuteCoordinator

	mu         sync.Mutex
	status     Status
	kind       Kind
	errMsg     string
	warnings   []string
	mic        MicrophoneState
	transcript []TranscriptEntry
	nextID     uint64
	epoch      uint64
	transport  Transport
	cancel     context.CancelFunc
	closed     bool

	// muteMu serializes mute toggles, which call into the transport without mu.
	muteMu sync.Mutex

	notifyMu  sync.Mutex
	listeners map[int]func(Snapshot)
	nextLis   int
}

// New creates a disconnected session.
func New(opts ...Option) *Session {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "session")
	return &Session{
		cfg:       cfg,
		logger:    logger,
		mute:      NewMuteCoordinator(cfg.Logger),
		status:    StatusDisconnected,
		listeners: make(map[int]func(Snapshot)),
	}
}

// Start connects a new transport. It is a no-op while connecting or connected
// and may be retried from the error state. The returned error is the connect
// failure, if any; the same message is exposed in Snapshot().ErrorMessage.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.status.busy() {
		s.mu.Unlock()
		return nil
	}
	s.epoch++
	epoch := s.epoch
	s.status = StatusConnecting
	s.kind = ""
	s.errMsg = ""
	s.warnings = nil
	s.mic = MicrophoneState{}
	s.transcript = nil
	s.mu.Unlock()
	s.notify()

	kind := s.cfg.Selector.Select(ctx)
	logger := s.logger.With("epoch", epoch, "kind", kind)
	logger.Info("starting voice session")

	factory, ok := s.cfg.Factories[kind]
	if !ok {
		return s.failStart(epoch, nil, &ConnectError{Reason: string(kind), Cause: ErrNoTransport})
	}
	t, err := factory()
	if err != nil {
		return s.failStart(epoch, nil, &ConnectError{Reason: "build transport", Cause: err})
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Ended while selecting. Connect was never called so there is nothing to release.
		s.mu.Unlock()
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	s.kind = kind
	s.transport = t
	s.cancel = cancel
	s.mu.Unlock()
	s.notify()

	host := &host{s: s, epoch: epoch, logger: logger}
	if err := t.Connect(cctx, host); err != nil {
		return s.failStart(epoch, t, err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		logger.Debug("discarding stale connect result")
		return nil
	}
	s.cancel = nil
	changed := s.markConnectedLocked()
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return nil
}

// failStart records a fatal connect error for epoch and releases t once.
func (s *Session) failStart(epoch uint64, t Transport, err error) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("discarding stale connect error", "epoch", epoch, "error", err)
		return nil
	}
	owned := t != nil && s.transport == t
	if owned {
		s.transport = nil
	}
	s.cancel = nil
	s.status = StatusError
	s.errMsg = err.Error()
	s.mic = MicrophoneState{}
	s.appendLocked(SpeakerSystem, fmt.Sprintf("Connection failed: %v", err))
	s.mu.Unlock()

	s.logger.Error("voice session failed to connect", "epoch", epoch, "error", err)
	if owned {
		s.release(t)
	}
	s.notify()
	return err
}

// markConnectedLocked moves connecting to connected once. Caller holds mu.
func (s *Session) markConnectedLocked() bool {
	if s.status != StatusConnecting {
		return false
	}
	s.status = StatusConnected
	s.appendLocked(SpeakerSystem, fmt.Sprintf("Connected (%s)", s.kind))
	return true
}

// End tears the session down. It is idempotent and safe from any state,
// including mid-connect.
func (s *Session) End() {
	s.mu.Lock()
	if s.status == StatusDisconnected && s.transport == nil {
		s.mu.Unlock()
		return
	}
	s.epoch++
	t := s.transport
	s.transport = nil
	cancel := s.cancel
	s.cancel = nil
	s.status = StatusDisconnected
	s.errMsg = ""
	s.mic = MicrophoneState{}
	s.appendLocked(SpeakerSystem, "Voice session ended")
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.logger.Info("voice session ended")
	if t != nil {
		s.release(t)
	}
	s.notify()
}

// Close ends the session and rejects further Start calls.
func (s *Session) Close() error {
	s.End()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Session) release(t Transport) {
	if err := t.Disconnect(); err != nil {
		s.logger.Warn("transport release failed", "kind", t.Kind(), "error", err)
	}
}

// SubmitUserUtterance appends a user entry and forwards text to the transport.
// It is a no-op unless the session is connected.
func (s *Session) SubmitUserUtterance(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if !s.status.Live() || s.transport == nil {
		s.mu.Unlock()
		return nil
	}
	t := s.transport
	s.appendLocked(SpeakerUser, text)
	s.mu.Unlock()
	s.notify()

	if err := t.SendUtterance(ctx, text); err != nil {
		return fmt.Errorf("session: send utterance: %w", err)
	}
	return nil
}

// ToggleMute flips the microphone between muted and unmuted.
func (s *Session) ToggleMute() error {
	s.muteMu.Lock()
	defer s.muteMu.Unlock()

	s.mu.Lock()
	target := !s.mic.Muted
	s.mu.Unlock()
	return s.setMutedLocked(target)
}

// SetMuted moves the microphone to the given state. On failure the state is unchanged.
func (s *Session) SetMuted(muted bool) error {
	s.muteMu.Lock()
	defer s.muteMu.Unlock()
	return s.setMutedLocked(muted)
}

// setMutedLocked runs the coordinator. Caller holds muteMu.
func (s *Session) setMutedLocked(target bool) error {
	s.mu.Lock()
	if !s.status.Live() || s.transport == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	t := s.transport
	current := s.mic
	epoch := s.epoch
	s.mu.Unlock()

	if current.Muted == target {
		return nil
	}

	next, err := s.mute.Toggle(t, target, current)
	if err != nil {
		s.logger.Warn("mute toggle failed", "target", target, "error", err)
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	s.mic.Muted = next.Muted
	s.mu.Unlock()
	s.notify()
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Status:       s.status,
		Kind:         s.kind,
		ErrorMessage: s.errMsg,
		Microphone:   s.mic,
		Epoch:        s.epoch,
		Transcript:   make([]TranscriptEntry, len(s.transcript)),
	}
	copy(snap.Transcript, s.transcript)
	if len(s.warnings) > 0 {
		snap.Warnings = append([]string(nil), s.warnings...)
	}
	return snap
}

// OnChange registers fn to receive a snapshot after every state change and
// returns a function that unregisters it. fn must not call back into the
// session's mutating methods synchronously.
func (s *Session) OnChange(fn func(Snapshot)) (cancel func()) {
	s.notifyMu.Lock()
	id := s.nextLis
	s.nextLis++
	s.listeners[id] = fn
	s.notifyMu.Unlock()

	return func() {
		s.notifyMu.Lock()
		delete(s.listeners, id)
		s.notifyMu.Unlock()
	}
}

func (s *Session) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if len(s.listeners) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range s.listeners {
		fn(snap)
	}
}

// appendLocked adds a transcript entry. Caller holds mu.
func (s *Session) appendLocked(speaker Speaker, text string) {
	s.nextID++
	s.transcript = append(s.transcript, TranscriptEntry{
		ID:      s.nextID,
		Speaker: speaker,
		Text:    text,
		Time:    s.cfg.Now(),
	})
}
