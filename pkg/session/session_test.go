package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession returns a local session whose factory always hands out m.
func newTestSession(m *MockTransport, opts ...Option) *Session {
	base := []Option{
		WithLogger(quietLogger()),
		WithPreference(KindLocal),
		WithTransport(KindLocal, func() (Transport, error) { return m, nil }),
	}
	return New(append(base, opts...)...)
}

func TestStart(t *testing.T) {
	t.Run("connects and records entry", func(t *testing.T) {
		m := NewMockTransport(KindLocal)
		s := newTestSession(m)

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		snap := s.Snapshot()
		if snap.Status != StatusConnected {
			t.Errorf("status = %s, want connected", snap.Status)
		}
		if snap.Kind != KindLocal {
			t.Errorf("kind = %s, want local", snap.Kind)
		}
		if len(snap.Transcript) != 1 || snap.Transcript[0].Speaker != SpeakerSystem {
			t.Errorf("expected one system entry, got %+v", snap.Transcript)
		}
	})

	t.Run("idempotent while connected", func(t *testing.T) {
		m := NewMockTransport(KindLocal)
		s := newTestSession(m)

		for i := 0; i < 3; i++ {
			if err := s.Start(context.Background()); err != nil {
				t.Fatalf("Start #%d: %v", i, err)
			}
		}
		if m.ConnectCalls != 1 {
			t.Errorf("ConnectCalls = %d, want 1", m.ConnectCalls)
		}
		if len(s.Snapshot().Transcript) != 1 {
			t.Errorf("repeated Start must not touch the transcript")
		}
	})

	t.Run("idempotent while connecting", func(t *testing.T) {
		release := make(chan struct{})
		m := NewMockTransport(KindLocal)
		m.ConnectFunc = func(ctx context.Context, h Host) error {
			<-release
			h.Connected()
			return nil
		}
		s := newTestSession(m)

		done := make(chan error, 1)
		go func() { done <- s.Start(context.Background()) }()
		waitForStatus(t, s, StatusConnecting)

		if err := s.Start(context.Background()); err != nil {
			t.Errorf("second Start: %v", err)
		}
		close(release)
		if err := <-done; err != nil {
			t.Fatalf("Start: %v", err)
		}
		if m.ConnectCalls != 1 {
			t.Errorf("ConnectCalls = %d, want 1", m.ConnectCalls)
		}
	})

	t.Run("fatal error then retry", func(t *testing.T) {
		attempts := 0
		var current *MockTransport
		s := New(
			WithLogger(quietLogger()),
			WithPreference(KindManaged),
			WithTransport(KindManaged, func() (Transport, error) {
				attempts++
				current = NewMockTransport(KindManaged)
				if attempts == 1 {
					current.ConnectFunc = func(context.Context, Host) error {
						return &ProvisioningError{Room: "r", Reason: "voice disabled"}
					}
				}
				return current, nil
			}),
		)

		err := s.Start(context.Background())
		var pe *ProvisioningError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ProvisioningError, got %v", err)
		}
		snap := s.Snapshot()
		if snap.Status != StatusError || snap.ErrorMessage == "" {
			t.Errorf("snapshot after failure = %+v", snap)
		}
		if current.Disconnects() != 1 {
			t.Errorf("failed transport released %d times, want 1", current.Disconnects())
		}

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("retry: %v", err)
		}
		snap = s.Snapshot()
		if snap.Status != StatusConnected || snap.ErrorMessage != "" {
			t.Errorf("snapshot after retry = %+v", snap)
		}
	})

	t.Run("missing factory", func(t *testing.T) {
		s := New(WithLogger(quietLogger()), WithPreference(KindManaged))
		err := s.Start(context.Background())
		if !errors.Is(err, ErrNoTransport) {
			t.Errorf("expected ErrNoTransport, got %v", err)
		}
		if s.Snapshot().Status != StatusError {
			t.Errorf("status = %s", s.Snapshot().Status)
		}
	})

	t.Run("connect returns without event", func(t *testing.T) {
		m := NewMockTransport(KindLocal)
		m.ConnectFunc = func(context.Context, Host) error { return nil }
		s := newTestSession(m)
		if err := s.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		if s.Snapshot().Status != StatusConnected {
			t.Errorf("status = %s", s.Snapshot().Status)
		}
	})

	t.Run("new start clears transcript", func(t *testing.T) {
		m := NewMockTransport(KindLocal)
		s := newTestSession(m)
		s.Start(context.Background())
		m.SimulateTranscript(SpeakerAssistant, "hello")
		s.End()
		s.Start(context.Background())

		for _, e := range s.Snapshot().Transcript {
			if e.Text == "hello" {
				t.Error("transcript should be cleared on Start")
			}
		}
	})

	t.Run("closed", func(t *testing.T) {
		s := newTestSession(NewMockTransport(KindLocal))
		s.Close()
		if err := s.Start(context.Background()); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestEndReleasesOnce(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, s *Session, m *MockTransport)
		want  int
	}{
		{
			name:  "from disconnected",
			setup: func(*testing.T, *Session, *MockTransport) {},
			want:  0,
		},
		{
			name: "from connected",
			setup: func(t *testing.T, s *Session, m *MockTransport) {
				s.Start(context.Background())
			},
			want: 1,
		},
		{
			name: "from active",
			setup: func(t *testing.T, s *Session, m *MockTransport) {
				s.Start(context.Background())
				m.SimulateRemoteSpeaking(true)
				if s.Snapshot().Status != StatusActive {
					t.Fatalf("status = %s, want active", s.Snapshot().Status)
				}
			},
			want: 1,
		},
		{
			name: "from error",
			setup: func(t *testing.T, s *Session, m *MockTransport) {
				m.ConnectFunc = func(context.Context, Host) error {
					return &ConnectError{Reason: "dial"}
				}
				s.Start(context.Background())
			},
			want: 1, // released by the failed Start, not again by End
		},
		{
			name: "after transport disconnect",
			setup: func(t *testing.T, s *Session, m *MockTransport) {
				s.Start(context.Background())
				m.SimulateDisconnect(&TransportClosedError{})
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockTransport(KindLocal)
			s := newTestSession(m)
			tt.setup(t, s, m)

			s.End()
			s.End()
			s.Close()

			if got := m.Disconnects(); got != tt.want {
				t.Errorf("Disconnect calls = %d, want %d", got, tt.want)
			}
			snap := s.Snapshot()
			if snap.Status != StatusDisconnected {
				t.Errorf("status = %s", snap.Status)
			}
			if snap.Microphone != (MicrophoneState{}) {
				t.Errorf("microphone not reset: %+v", snap.Microphone)
			}
		})
	}
}

func TestEndMidConnect(t *testing.T) {
	entered := make(chan struct{})
	m := NewMockTransport(KindLocal)
	m.ConnectFunc = func(ctx context.Context, h Host) error {
		close(entered)
		<-ctx.Done()
		// A late event from the ended attempt.
		h.Connected()
		return ctx.Err()
	}
	s := newTestSession(m)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	<-entered

	s.End()
	if err := <-done; err != nil {
		t.Errorf("stale Start should return nil, got %v", err)
	}

	snap := s.Snapshot()
	if snap.Status != StatusDisconnected {
		t.Errorf("status = %s, want disconnected", snap.Status)
	}
	if snap.ErrorMessage != "" {
		t.Errorf("stale error leaked: %q", snap.ErrorMessage)
	}
	if m.Disconnects() != 1 {
		t.Errorf("Disconnect calls = %d, want 1", m.Disconnects())
	}
}

func TestStaleProvisioningAfterEnd(t *testing.T) {
	proceed := make(chan struct{})
	entered := make(chan struct{})
	m := NewMockTransport(KindManaged)
	m.ConnectFunc = func(ctx context.Context, h Host) error {
		close(entered)
		<-proceed // provisioning answers after End
		h.Connected()
		h.MicrophonePublished(true)
		return nil
	}
	s := New(
		WithLogger(quietLogger()),
		WithPreference(KindManaged),
		WithTransport(KindManaged, func() (Transport, error) { return m, nil }),
	)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	<-entered
	s.End()
	close(proceed)
	<-done

	snap := s.Snapshot()
	if snap.Status != StatusDisconnected {
		t.Errorf("status = %s, want disconnected", snap.Status)
	}
	if snap.Microphone.Published {
		t.Error("stale publish leaked into the snapshot")
	}
}

func TestTranscriptOrder(t *testing.T) {
	m := NewMockTransport(KindLocal)
	s := newTestSession(m)
	s.Start(context.Background())

	s.SubmitUserUtterance(context.Background(), "first")
	m.SimulateTranscript(SpeakerAssistant, "second")
	m.SimulateTranscript(SpeakerUser, "third")
	m.SimulateWarning(&CaptureError{Cause: errors.New("denied")})

	snap := s.Snapshot()
	want := []Speaker{SpeakerSystem, SpeakerUser, SpeakerAssistant, SpeakerUser, SpeakerSystem}
	if len(snap.Transcript) != len(want) {
		t.Fatalf("transcript len = %d, want %d: %+v", len(snap.Transcript), len(want), snap.Transcript)
	}
	for i, e := range snap.Transcript {
		if e.Speaker != want[i] {
			t.Errorf("entry %d speaker = %s, want %s", i, e.Speaker, want[i])
		}
		if i > 0 && e.ID <= snap.Transcript[i-1].ID {
			t.Errorf("entry %d id %d not increasing", i, e.ID)
		}
	}
	if len(snap.Warnings) != 1 {
		t.Errorf("warnings = %v", snap.Warnings)
	}
	if len(m.Sent) != 1 || m.Sent[0] != "first" {
		t.Errorf("sent = %v", m.Sent)
	}
}

func TestSubmitUserUtterance(t *testing.T) {
	t.Run("no-op when disconnected", func(t *testing.T) {
		m := NewMockTransport(KindLocal)
		s := newTestSession(m)
		if err := s.SubmitUserUtterance(context.Background(), "hello"); err != nil {
			t.Fatal(err)
		}
		if len(s.Snapshot().Transcript) != 0 || len(m.Sent) != 0 {
			t.Error("utterance should be ignored while disconnected")
		}
	})

	t.Run("blank ignored", func(t *testing.T) {
		m := NewMockTransport(KindLocal)
		s := newTestSession(m)
		s.Start(context.Background())
		s.SubmitUserUtterance(context.Background(), "   ")
		if len(m.Sent) != 0 {
			t.Error("blank utterance should not be sent")
		}
	})

	t.Run("send failure surfaces", func(t *testing.T) {
		m := NewMockTransport(KindLocal)
		m.SendFunc = func(context.Context, string) error { return errors.New("socket not open") }
		s := newTestSession(m)
		s.Start(context.Background())
		if err := s.SubmitUserUtterance(context.Background(), "hello"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestRemoteSpeaking(t *testing.T) {
	m := NewMockTransport(KindLocal)
	s := newTestSession(m)
	s.Start(context.Background())

	m.SimulateRemoteSpeaking(true)
	if s.Snapshot().Status != StatusActive {
		t.Errorf("status = %s, want active", s.Snapshot().Status)
	}
	m.SimulateRemoteSpeaking(false)
	if s.Snapshot().Status != StatusConnected {
		t.Errorf("status = %s, want connected", s.Snapshot().Status)
	}
}

func TestTransportReportedDisconnect(t *testing.T) {
	m := NewMockTransport(KindLocal)
	s := newTestSession(m)
	s.Start(context.Background())

	m.SimulateDisconnect(&TransportClosedError{Cause: errors.New("EOF")})
	snap := s.Snapshot()
	if snap.Status != StatusDisconnected {
		t.Errorf("status = %s", snap.Status)
	}
	if snap.ErrorMessage == "" {
		t.Error("disconnect reason should be surfaced")
	}

	// Events from the dead transport are ignored.
	m.SimulateTranscript(SpeakerAssistant, "ghost")
	for _, e := range s.Snapshot().Transcript {
		if e.Text == "ghost" {
			t.Error("stale event appended")
		}
	}
}

func TestErrorBannerKeepsSession(t *testing.T) {
	m := NewMockTransport(KindLocal)
	s := newTestSession(m)
	s.Start(context.Background())

	m.SimulateError(errors.New("backend unavailable"))
	snap := s.Snapshot()
	if snap.Status != StatusConnected {
		t.Errorf("status = %s, want connected", snap.Status)
	}
	if snap.ErrorMessage != "backend unavailable" {
		t.Errorf("error message = %q", snap.ErrorMessage)
	}
	if m.Disconnects() != 0 {
		t.Error("error banner must not release the transport")
	}
}

func TestOnChange(t *testing.T) {
	m := NewMockTransport(KindLocal)
	s := newTestSession(m)

	var mu sync.Mutex
	var statuses []Status
	cancel := s.OnChange(func(snap Snapshot) {
		mu.Lock()
		statuses = append(statuses, snap.Status)
		mu.Unlock()
	})

	s.Start(context.Background())
	cancel()
	s.End()

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) == 0 || statuses[len(statuses)-1] != StatusConnected {
		t.Errorf("statuses = %v, want last connected", statuses)
	}
	for _, st := range statuses {
		if st == StatusDisconnected {
			t.Error("listener called after cancel")
		}
	}
}

func TestSelector(t *testing.T) {
	enabled := func(context.Context) (bool, error) { return true, nil }
	disabled := func(context.Context) (bool, error) { return false, nil }
	failing := func(context.Context) (bool, error) { return false, errors.New("offline") }

	tests := []struct {
		name string
		sel  Selector
		want Kind
	}{
		{"managed preference", Selector{Preferred: KindManaged, Probe: disabled}, KindManaged},
		{"local preference", Selector{Preferred: KindLocal, Probe: enabled}, KindLocal},
		{"auto enabled", Selector{Preferred: KindAuto, Probe: enabled}, KindManaged},
		{"auto disabled", Selector{Preferred: KindAuto, Probe: disabled}, KindLocal},
		{"auto probe fails", Selector{Preferred: KindAuto, Probe: failing}, KindLocal},
		{"auto without probe", Selector{Preferred: KindAuto}, KindLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sel.Select(context.Background()); got != tt.want {
				t.Errorf("Select() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if ParseKind("managed") != KindManaged || ParseKind("local") != KindLocal || ParseKind("x") != KindAuto {
		t.Error("ParseKind mismatch")
	}
}

func waitForStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Snapshot().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never reached %s (last %s)", want, s.Snapshot().Status)
}
