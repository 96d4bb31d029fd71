package session

import (
	"context"
	"errors"
	"testing"
)

func TestMuteCoordinator(t *testing.T) {
	c := NewMuteCoordinator(quietLogger())
	start := MicrophoneState{Published: true}

	t.Run("mutes primitive and recognition together", func(t *testing.T) {
		m := NewMockTransport(KindManaged)
		m.Primitive = &MockPrimitive{}
		m.Rec = NewMockRecognition()

		next, err := c.Toggle(m, true, start)
		if err != nil {
			t.Fatalf("Toggle: %v", err)
		}
		if !next.Muted || !next.Published {
			t.Errorf("next = %+v", next)
		}
		if !m.Primitive.Muted() || m.Rec.Running() {
			t.Error("primitive and recognition should both be muted")
		}
	})

	t.Run("primitive failure aborts", func(t *testing.T) {
		m := NewMockTransport(KindManaged)
		m.Primitive = &MockPrimitive{Err: errors.New("track gone")}
		m.Rec = NewMockRecognition()

		next, err := c.Toggle(m, true, start)
		if err == nil {
			t.Fatal("expected error")
		}
		if next != start {
			t.Errorf("state changed on failure: %+v", next)
		}
		if !m.Rec.Running() {
			t.Error("recognition must not be touched when the primitive fails")
		}
	})

	t.Run("recognition failure rolls back primitive", func(t *testing.T) {
		m := NewMockTransport(KindManaged)
		m.Primitive = &MockPrimitive{}
		m.Rec = NewMockRecognition()
		m.Rec.PauseErr = errors.New("engine busy")

		next, err := c.Toggle(m, true, start)
		if err == nil {
			t.Fatal("expected error")
		}
		if next != start {
			t.Errorf("state changed on failure: %+v", next)
		}
		if m.Primitive.Muted() {
			t.Error("primitive should be rolled back to unmuted")
		}
		if calls := m.Primitive.Calls; len(calls) != 2 || calls[0] != true || calls[1] != false {
			t.Errorf("primitive calls = %v, want [true false]", calls)
		}
	})

	t.Run("unpublished managed track", func(t *testing.T) {
		m := NewMockTransport(KindManaged)
		m.PrimitiveErr = ErrMuteUnsupported

		_, err := c.Toggle(m, true, MicrophoneState{})
		if !errors.Is(err, ErrMuteUnsupported) {
			t.Errorf("expected ErrMuteUnsupported, got %v", err)
		}
	})

	t.Run("recognition only", func(t *testing.T) {
		m := NewMockTransport(KindLocal)
		m.Rec = NewMockRecognition()

		next, err := c.Toggle(m, true, MicrophoneState{})
		if err != nil || !next.Muted || m.Rec.Running() {
			t.Fatalf("mute: next=%+v err=%v", next, err)
		}
		next, err = c.Toggle(m, false, next)
		if err != nil || next.Muted || !m.Rec.Running() {
			t.Fatalf("unmute: next=%+v err=%v", next, err)
		}
	})
}

func TestSessionMute(t *testing.T) {
	t.Run("toggle round trip", func(t *testing.T) {
		m := NewMockTransport(KindLocal)
		m.Rec = NewMockRecognition()
		s := newTestSession(m)
		s.Start(context.Background())

		if err := s.ToggleMute(); err != nil {
			t.Fatal(err)
		}
		if !s.Snapshot().Microphone.Muted {
			t.Error("expected muted")
		}
		if err := s.ToggleMute(); err != nil {
			t.Fatal(err)
		}
		if s.Snapshot().Microphone.Muted {
			t.Error("expected unmuted")
		}
	})

	t.Run("failure leaves state", func(t *testing.T) {
		m := NewMockTransport(KindLocal)
		m.Rec = NewMockRecognition()
		m.Rec.PauseErr = errors.New("nope")
		s := newTestSession(m)
		s.Start(context.Background())

		if err := s.SetMuted(true); err == nil {
			t.Fatal("expected error")
		}
		if s.Snapshot().Microphone.Muted {
			t.Error("state must not change on failure")
		}
	})

	t.Run("not connected", func(t *testing.T) {
		s := newTestSession(NewMockTransport(KindLocal))
		if err := s.ToggleMute(); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("unpublish resets mute", func(t *testing.T) {
		m := NewMockTransport(KindManaged)
		m.Primitive = &MockPrimitive{}
		s := newTestSession(m)
		s.Start(context.Background())
		m.SimulatePublished(true)
		s.SetMuted(true)

		m.SimulatePublished(false)
		mic := s.Snapshot().Microphone
		if mic.Published || mic.Muted {
			t.Errorf("mic = %+v", mic)
		}
	})
}

func TestRestartPolicy(t *testing.T) {
	statuses := []Status{StatusDisconnected, StatusConnecting, StatusConnected, StatusActive, StatusError}
	for _, st := range statuses {
		for _, muted := range []bool{false, true} {
			want := (st == StatusConnected || st == StatusActive) && !muted
			if got := ShouldRestartRecognition(st, muted); got != want {
				t.Errorf("ShouldRestartRecognition(%s, muted=%v) = %v, want %v", st, muted, got, want)
			}
		}
	}
}

func TestHostLive(t *testing.T) {
	m := NewMockTransport(KindLocal)
	m.Rec = NewMockRecognition()
	s := newTestSession(m)
	s.Start(context.Background())
	h := m.Host()

	if !h.Live() {
		t.Error("connected and unmuted should be live")
	}
	m.SimulateRemoteSpeaking(true)
	if !h.Live() {
		t.Error("active and unmuted should be live")
	}
	s.SetMuted(true)
	if h.Live() {
		t.Error("muted should not be live")
	}
	s.SetMuted(false)
	s.End()
	if h.Live() {
		t.Error("ended epoch should not be live")
	}

	// A new session does not revive the old host.
	s.Start(context.Background())
	if h.Live() {
		t.Error("stale host reported live after restart")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("root")
	errs := []error{
		&ProvisioningError{Room: "r", Cause: cause},
		&CaptureError{Cause: cause},
		&RecognitionError{Code: CodeNetwork, Cause: cause},
		&TransportClosedError{Cause: cause},
		&ConnectError{Reason: "dial", Cause: cause},
	}
	for _, err := range errs {
		if !errors.Is(err, cause) {
			t.Errorf("%T does not unwrap to its cause", err)
		}
	}

	if !IsFatal(&ProvisioningError{}) || !IsFatal(&ConnectError{}) || IsFatal(&CaptureError{}) {
		t.Error("IsFatal mismatch")
	}
	for _, code := range []string{CodeNotAllowed, CodeServiceNotAllowed, CodeAudioCapture} {
		if !IsBlockingRecognition(&RecognitionError{Code: code}) {
			t.Errorf("%s should block restarts", code)
		}
	}
	for _, code := range []string{CodeNetwork, CodeNoSpeech, CodeAborted} {
		if IsBlockingRecognition(&RecognitionError{Code: code}) {
			t.Errorf("%s should not block restarts", code)
		}
	}
}
