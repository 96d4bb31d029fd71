package session

import (
	"fmt"
	"log/slog"
	"strings"
)

// host delivers transport events for one epoch.
type host struct {
	s      *Session
	epoch  uint64
	logger *slog.Logger
}

// update runs fn under the session lock when the epoch is current and
// notifies listeners if fn reports a change.
func (h *host) update(fn func(s *Session) bool) {
	s := h.s
	s.mu.Lock()
	if s.epoch != h.epoch {
		s.mu.Unlock()
		return
	}
	changed := fn(s)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (h *host) Connected() {
	h.update(func(s *Session) bool {
		return s.markConnectedLocked()
	})
}

func (h *host) Disconnected(err error) {
	s := h.s
	s.mu.Lock()
	if s.epoch != h.epoch {
		s.mu.Unlock()
		return
	}
	s.epoch++
	t := s.transport
	s.transport = nil
	cancel := s.cancel
	s.cancel = nil
	s.status = StatusDisconnected
	s.mic = MicrophoneState{}
	if err != nil {
		s.errMsg = err.Error()
		s.appendLocked(SpeakerSystem, fmt.Sprintf("Disconnected: %v", err))
	} else {
		s.appendLocked(SpeakerSystem, "Disconnected")
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.logger.Info("transport disconnected", "error", err)
	if t != nil {
		s.release(t)
	}
	s.notify()
}

func (h *host) RemoteSpeaking(speaking bool) {
	h.update(func(s *Session) bool {
		switch {
		case speaking && s.status == StatusConnected:
			s.status = StatusActive
		case !speaking && s.status == StatusActive:
			s.status = StatusConnected
		default:
			return false
		}
		return true
	})
}

func (h *host) Transcript(speaker Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	h.update(func(s *Session) bool {
		if s.status != StatusConnecting && !s.status.Live() {
			return false
		}
		s.appendLocked(speaker, text)
		return true
	})
}

func (h *host) Warning(err error) {
	if err == nil {
		return
	}
	h.logger.Warn("voice session warning", "error", err)
	h.update(func(s *Session) bool {
		s.warnings = append(s.warnings, err.Error())
		s.appendLocked(SpeakerSystem, err.Error())
		return true
	})
}

func (h *host) Error(err error) {
	if err == nil {
		return
	}
	h.logger.Warn("voice session error", "error", err)
	h.update(func(s *Session) bool {
		s.errMsg = err.Error()
		return true
	})
}

func (h *host) MicrophonePublished(published bool) {
	h.update(func(s *Session) bool {
		if s.mic.Published == published {
			return false
		}
		s.mic.Published = published
		if !published {
			s.mic.Muted = false
		}
		return true
	})
}

func (h *host) Live() bool {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == h.epoch && ShouldRestartRecognition(s.status, s.mic.Muted)
}

func (h *host) Online() bool {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == h.epoch && s.status.Live()
}

func (h *host) Logger() *slog.Logger {
	return h.logger
}
