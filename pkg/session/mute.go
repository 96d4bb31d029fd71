package session

import (
	"fmt"
	"log/slog"
)

// MuteCoordinator changes the microphone primitive and recognition together.
type MuteCoordinator struct {
	logger *slog.Logger
}

// NewMuteCoordinator creates a coordinator. A nil logger uses slog.Default.
func NewMuteCoordinator(logger *slog.Logger) *MuteCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &MuteCoordinator{logger: logger.With("component", "session.mute")}
}

// Toggle moves the transport to target and returns the next microphone state.
// The audio primitive changes first; if recognition then fails, the primitive
// is rolled back. On any error current is returned unchanged.
func (c *MuteCoordinator) Toggle(t Mutable, target bool, current MicrophoneState) (MicrophoneState, error) {
	prim, err := t.AudioPrimitive()
	if err != nil {
		return current, err
	}
	if prim != nil {
		if err := prim.SetMuted(target); err != nil {
			return current, fmt.Errorf("session: set track muted=%v: %w", target, err)
		}
	}

	if rec := t.Recognition(); rec != nil {
		var recErr error
		if target {
			recErr = rec.Pause()
		} else {
			recErr = rec.Resume()
		}
		if recErr != nil {
			if prim != nil {
				if err := prim.SetMuted(!target); err != nil {
					c.logger.Warn("mute rollback failed", "target", target, "error", err)
				}
			}
			return current, fmt.Errorf("session: recognition muted=%v: %w", target, recErr)
		}
	}

	return MicrophoneState{Published: current.Published, Muted: target}, nil
}
