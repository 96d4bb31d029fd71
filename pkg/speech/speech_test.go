package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecognizer(t *testing.T) {
	t.Run("start is not repeated", func(t *testing.T) {
		e := NewMockEngine()
		r := NewRecognizer(e, WithRecognizerLogger(quietLogger()))

		if err := r.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := r.Resume(); err != nil {
			t.Fatal(err)
		}
		if e.Starts() != 1 {
			t.Errorf("engine started %d times, want 1", e.Starts())
		}
	})

	t.Run("finals only", func(t *testing.T) {
		e := NewMockEngine()
		var got []string
		r := NewRecognizer(e,
			WithRecognizerLogger(quietLogger()),
			WithFinal(func(text string) { got = append(got, text) }),
		)
		r.Start(context.Background())

		e.SimulateResult("how many", false)
		e.SimulateResult(" how many pages ", true)
		e.SimulateResult("   ", true)

		if len(got) != 1 || got[0] != "how many pages" {
			t.Errorf("finals = %q", got)
		}
	})

	t.Run("restarts on end while enabled", func(t *testing.T) {
		e := NewMockEngine()
		r := NewRecognizer(e, WithRecognizerLogger(quietLogger()))
		r.Start(context.Background())

		e.SimulateEnd()
		if !e.Running() || e.Starts() != 2 {
			t.Errorf("expected restart, starts=%d running=%v", e.Starts(), e.Running())
		}
	})

	t.Run("policy vetoes restart", func(t *testing.T) {
		var live atomic.Bool
		live.Store(true)
		e := NewMockEngine()
		r := NewRecognizer(e,
			WithRecognizerLogger(quietLogger()),
			WithRestartPolicy(live.Load),
		)
		r.Start(context.Background())

		live.Store(false)
		e.SimulateEnd()
		if e.Running() {
			t.Error("restart should be vetoed by the policy")
		}
		if r.Started() {
			t.Error("started flag should clear on end")
		}
	})

	t.Run("pause stops and blocks restart", func(t *testing.T) {
		e := NewMockEngine()
		r := NewRecognizer(e, WithRecognizerLogger(quietLogger()))
		r.Start(context.Background())

		if err := r.Pause(); err != nil {
			t.Fatal(err)
		}
		if e.Running() || r.Started() {
			t.Error("engine should be stopped")
		}
		if e.Starts() != 1 {
			t.Errorf("paused recognizer restarted: starts=%d", e.Starts())
		}

		r.Resume()
		if !e.Running() || e.Starts() != 2 {
			t.Errorf("resume should start again: starts=%d", e.Starts())
		}
	})

	t.Run("resume during wind down defers to end", func(t *testing.T) {
		e := NewMockEngine()
		e.ManualEnd = true
		r := NewRecognizer(e, WithRecognizerLogger(quietLogger()))
		r.Start(context.Background())

		r.Pause()
		if err := r.Resume(); err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if e.Starts() != 1 {
			t.Errorf("resume must not double start: starts=%d", e.Starts())
		}

		e.SimulateEnd()
		if e.Starts() != 2 || !e.Running() {
			t.Errorf("expected restart after end, starts=%d", e.Starts())
		}
	})

	t.Run("resume during wind down ignores stale restart policy", func(t *testing.T) {
		var online atomic.Bool
		online.Store(true)
		e := NewMockEngine()
		e.ManualEnd = true
		r := NewRecognizer(e,
			WithRecognizerLogger(quietLogger()),
			// The owner still reports muted while its unmute is in progress.
			WithRestartPolicy(func() bool { return false }),
			WithResumePolicy(online.Load),
		)
		r.Start(context.Background())

		r.Pause()
		r.Resume()
		e.SimulateEnd()
		if e.Starts() != 2 || !e.Running() {
			t.Errorf("resumed run should restart, starts=%d", e.Starts())
		}

		// A later plain end goes back to the restart policy.
		e.SimulateEnd()
		if e.Running() {
			t.Error("restart policy should veto an ordinary end")
		}

		r.Pause()
		r.Resume()
		if e.Starts() != 3 {
			t.Fatalf("resume after a finished run should start at once, starts=%d", e.Starts())
		}
		r.Pause()
		r.Resume()
		online.Store(false)
		e.SimulateEnd()
		if e.Running() {
			t.Error("resume policy should veto once the owner is offline")
		}
	})

	t.Run("pause after resume cancels the pending restart", func(t *testing.T) {
		e := NewMockEngine()
		e.ManualEnd = true
		r := NewRecognizer(e, WithRecognizerLogger(quietLogger()))
		r.Start(context.Background())

		r.Pause()
		r.Resume()
		r.Pause()
		e.SimulateEnd()
		if e.Running() || e.Starts() != 1 {
			t.Errorf("paused recognizer restarted: starts=%d", e.Starts())
		}
	})

	t.Run("blocking error latches", func(t *testing.T) {
		e := NewMockEngine()
		var errs []error
		r := NewRecognizer(e,
			WithRecognizerLogger(quietLogger()),
			WithErrors(func(err error) { errs = append(errs, err) }),
		)
		r.Start(context.Background())

		e.SimulateError(CodeNotAllowed)
		e.SimulateEnd()

		if e.Running() {
			t.Error("blocked recognizer must not restart")
		}
		if !r.Blocked() {
			t.Error("expected blocked")
		}
		if err := r.Resume(); !errors.Is(err, ErrBlocked) {
			t.Errorf("Resume = %v, want ErrBlocked", err)
		}
		if len(errs) != 1 || CodeOf(errs[0]) != CodeNotAllowed {
			t.Errorf("errors = %v", errs)
		}
	})

	t.Run("quiet errors are not surfaced", func(t *testing.T) {
		e := NewMockEngine()
		var errs []error
		r := NewRecognizer(e,
			WithRecognizerLogger(quietLogger()),
			WithErrors(func(err error) { errs = append(errs, err) }),
		)
		r.Start(context.Background())

		e.SimulateError(CodeNoSpeech)
		e.SimulateError(CodeAborted)
		e.SimulateError(CodeNetwork)
		e.SimulateEnd()

		if len(errs) != 1 || CodeOf(errs[0]) != CodeNetwork {
			t.Errorf("errors = %v", errs)
		}
		if !e.Running() {
			t.Error("network error should not block restart")
		}
	})

	t.Run("start error with blocking code", func(t *testing.T) {
		e := NewMockEngine()
		e.StartErr = NewError(CodeAudioCapture, errors.New("no device"))
		r := NewRecognizer(e, WithRecognizerLogger(quietLogger()))

		if err := r.Start(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if r.Started() || !r.Blocked() {
			t.Errorf("started=%v blocked=%v", r.Started(), r.Blocked())
		}
	})

	t.Run("close", func(t *testing.T) {
		e := NewMockEngine()
		r := NewRecognizer(e, WithRecognizerLogger(quietLogger()))
		r.Start(context.Background())
		r.Close()

		if e.Running() {
			t.Error("engine should stop on close")
		}
		if err := r.Resume(); !errors.Is(err, ErrClosed) {
			t.Errorf("Resume after close = %v", err)
		}
	})
}

func TestSynthesizer(t *testing.T) {
	t.Run("speaks queued text in order with hooks", func(t *testing.T) {
		v := NewMockVoice()
		var mu sync.Mutex
		var events []string
		ended := make(chan struct{}, 4)
		s := NewSynthesizer(v,
			WithSynthesizerLogger(quietLogger()),
			WithSpeakingHooks(
				func() { mu.Lock(); events = append(events, "start"); mu.Unlock() },
				func() { mu.Lock(); events = append(events, "end"); mu.Unlock(); ended <- struct{}{} },
			),
		)
		defer s.Close()

		s.Speak("one")
		s.Speak("two")
		waitN(t, ended, 2)

		if got := v.Spoken(); len(got) != 2 || got[0] != "one" || got[1] != "two" {
			t.Errorf("spoken = %v", got)
		}
		mu.Lock()
		defer mu.Unlock()
		want := []string{"start", "end", "start", "end"}
		for i := range want {
			if i >= len(events) || events[i] != want[i] {
				t.Fatalf("events = %v, want %v", events, want)
			}
		}
	})

	t.Run("cancel stops current and drops queue", func(t *testing.T) {
		v := NewMockVoice()
		v.Hold = true
		started := make(chan struct{}, 4)
		ended := make(chan struct{}, 4)
		s := NewSynthesizer(v,
			WithSynthesizerLogger(quietLogger()),
			WithSpeakingHooks(
				func() { started <- struct{}{} },
				func() { ended <- struct{}{} },
			),
		)
		defer s.Close()

		s.Speak("long answer")
		s.Speak("queued")
		waitN(t, started, 1)
		if !s.Speaking() {
			t.Error("expected speaking")
		}

		s.Cancel()
		waitN(t, ended, 1)

		// Give the worker a chance to pick up the stale item.
		time.Sleep(20 * time.Millisecond)
		if got := v.Spoken(); len(got) != 1 {
			t.Errorf("queued utterance should be dropped, spoken = %v", got)
		}
	})

	t.Run("errors are reported", func(t *testing.T) {
		v := NewMockVoice()
		v.Err = errors.New("api down")
		errs := make(chan error, 1)
		s := NewSynthesizer(v,
			WithSynthesizerLogger(quietLogger()),
			WithSynthesisErrors(func(err error) { errs <- err }),
		)
		defer s.Close()

		s.Speak("hello")
		select {
		case err := <-errs:
			if err.Error() != "api down" {
				t.Errorf("err = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no error reported")
		}
	})

	t.Run("closed rejects speech", func(t *testing.T) {
		s := NewSynthesizer(NewMockVoice(), WithSynthesizerLogger(quietLogger()))
		s.Close()
		s.Close()
		if s.Speak("late") {
			t.Error("Speak after Close should be rejected")
		}
	})
}

func TestErrorCode(t *testing.T) {
	err := NewError(CodeServiceNotAllowed, errors.New("denied"))
	if CodeOf(err) != CodeServiceNotAllowed || !CodeOf(err).Blocking() {
		t.Error("service-not-allowed should block")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
}

func waitN(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}
