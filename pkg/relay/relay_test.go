package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-sitevoice/pkg/protocol"
	"github.com/teslashibe/go-sitevoice/pkg/session"
	"github.com/teslashibe/go-sitevoice/pkg/speech"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend answers user_message envelopes the way the voice backend does.
type fakeBackend struct {
	srv *httptest.Server

	mu       sync.Mutex
	received []string
	conns    []*websocket.Conn
	closed   chan struct{}
}

func newFakeBackend(t *testing.T, answer func(question string) protocol.Envelope) *fakeBackend {
	t.Helper()
	b := &fakeBackend{closed: make(chan struct{}, 4)}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.mu.Unlock()
		defer func() { b.closed <- struct{}{} }()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.ParseEnvelope(data)
			if err != nil || env.Type != protocol.TypeUserMessage {
				continue
			}
			b.mu.Lock()
			b.received = append(b.received, env.Text)
			b.mu.Unlock()
			reply, _ := answer(env.Text).Bytes()
			conn.WriteMessage(websocket.TextMessage, reply)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws/voice"
}

func (b *fakeBackend) Received() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.received...)
}

func (b *fakeBackend) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
}

func pagesAnswer(q string) protocol.Envelope {
	if q == "how many pages" {
		return protocol.NewAssistantResponse("12 pages")
	}
	return protocol.NewError("unknown question")
}

type fixture struct {
	session *session.Session
	engine  *speech.MockEngine
	voice   *speech.MockVoice
	backend *fakeBackend
}

func newFixture(t *testing.T, withEngine bool) *fixture {
	t.Helper()
	f := &fixture{
		engine:  speech.NewMockEngine(),
		voice:   speech.NewMockVoice(),
		backend: newFakeBackend(t, pagesAnswer),
	}
	factory := func() (session.Transport, error) {
		opts := []Option{WithURL(f.backend.url()), WithVoice(f.voice), WithLogger(quietLogger())}
		if withEngine {
			opts = append(opts, WithEngine(f.engine))
		}
		return New(opts...)
	}
	f.session = session.New(
		session.WithTransport(session.KindLocal, factory),
		session.WithPreference(session.KindLocal),
		session.WithLogger(quietLogger()),
	)
	t.Cleanup(func() { f.session.Close() })
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasEntry(snap session.Snapshot, speaker session.Speaker, text string) bool {
	for _, e := range snap.Transcript {
		if e.Speaker == speaker && e.Text == text {
			return true
		}
	}
	return false
}

func TestLocalConversation(t *testing.T) {
	f := newFixture(t, true)
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.session.Snapshot().Status; got != session.StatusConnected {
		t.Fatalf("status = %s, want connected", got)
	}
	if !f.engine.Running() {
		t.Fatal("recognition should be running after connect")
	}

	f.engine.SimulateResult("how many pages", true)

	waitFor(t, "assistant reply", func() bool {
		return hasEntry(f.session.Snapshot(), session.SpeakerAssistant, "12 pages")
	})
	waitFor(t, "synthesis", func() bool { return len(f.voice.Spoken()) == 1 })
	time.Sleep(50 * time.Millisecond)

	if got := f.voice.Spoken(); len(got) != 1 || got[0] != "12 pages" {
		t.Errorf("spoken = %v, want exactly one \"12 pages\"", got)
	}
	if got := f.backend.Received(); len(got) != 1 || got[0] != "how many pages" {
		t.Errorf("backend received %v", got)
	}

	snap := f.session.Snapshot()
	var order []string
	for _, e := range snap.Transcript {
		if e.Speaker != session.SpeakerSystem {
			order = append(order, string(e.Speaker)+":"+e.Text)
		}
	}
	want := []string{"user:how many pages", "assistant:12 pages"}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Errorf("transcript = %v, want %v", order, want)
	}
}

func TestSpeakingTogglesActive(t *testing.T) {
	f := newFixture(t, true)
	f.voice.Hold = true
	f.session.Start(context.Background())

	f.session.SubmitUserUtterance(context.Background(), "how many pages")
	waitFor(t, "active", func() bool { return f.session.Snapshot().Status == session.StatusActive })

	f.voice.Release()
	waitFor(t, "connected", func() bool { return f.session.Snapshot().Status == session.StatusConnected })
}

func TestRelayErrorEnvelope(t *testing.T) {
	f := newFixture(t, true)
	f.session.Start(context.Background())

	f.session.SubmitUserUtterance(context.Background(), "what is the weather")
	waitFor(t, "error banner", func() bool {
		return f.session.Snapshot().ErrorMessage == "unknown question"
	})
	if got := f.session.Snapshot().Status; got != session.StatusConnected {
		t.Errorf("status = %s, error envelopes must not disconnect", got)
	}
	if len(f.voice.Spoken()) != 0 {
		t.Error("errors must not be spoken")
	}
}

func TestConnectWithoutEngine(t *testing.T) {
	f := newFixture(t, false)
	err := f.session.Start(context.Background())

	var ce *session.ConnectError
	if !errors.As(err, &ce) || !errors.Is(err, ErrNoEngine) {
		t.Fatalf("Start = %v, want ConnectError wrapping ErrNoEngine", err)
	}
	if got := f.session.Snapshot().Status; got != session.StatusError {
		t.Errorf("status = %s, want error", got)
	}
}

func TestEndClosesSocket(t *testing.T) {
	f := newFixture(t, true)
	f.session.Start(context.Background())

	f.session.End()

	select {
	case <-f.backend.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("backend connection was not closed")
	}
	if f.engine.Running() {
		t.Error("recognition should stop on end")
	}
	snap := f.session.Snapshot()
	if snap.Status != session.StatusDisconnected || snap.ErrorMessage != "" {
		t.Errorf("status=%s error=%q", snap.Status, snap.ErrorMessage)
	}
}

func TestRemoteClose(t *testing.T) {
	f := newFixture(t, true)
	f.session.Start(context.Background())

	f.backend.dropAll()
	waitFor(t, "disconnect", func() bool {
		return f.session.Snapshot().Status == session.StatusDisconnected
	})
	if !strings.Contains(f.session.Snapshot().ErrorMessage, "transport closed") {
		t.Errorf("error message = %q", f.session.Snapshot().ErrorMessage)
	}
	waitFor(t, "recognition stop", func() bool { return !f.engine.Running() })
}

func TestMuteStopsRecognitionOnly(t *testing.T) {
	f := newFixture(t, true)
	f.session.Start(context.Background())

	if err := f.session.ToggleMute(); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if f.engine.Running() {
		t.Error("muted relay must stop recognition")
	}
	if !f.session.Snapshot().Microphone.Muted {
		t.Error("snapshot should report muted")
	}

	if err := f.session.ToggleMute(); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if !f.engine.Running() || f.engine.Starts() != 2 {
		t.Errorf("unmute should restart once, starts=%d", f.engine.Starts())
	}
}

func TestFinalBeforeOpenIsDropped(t *testing.T) {
	tr, err := New(WithURL("ws://127.0.0.1:1/ws/voice"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	tr.handleFinal("too early")
	if err := tr.SendUtterance(context.Background(), "typed"); !errors.Is(err, session.ErrNotConnected) {
		t.Errorf("SendUtterance = %v, want ErrNotConnected", err)
	}
	if tr.Recognition() != nil {
		t.Error("no recognition control before connect")
	}
	if err := tr.Disconnect(); err != nil {
		t.Errorf("Disconnect before connect = %v", err)
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(); !errors.Is(err, ErrNoURL) {
		t.Errorf("New() = %v, want ErrNoURL", err)
	}
}

func TestRecognitionErrorSetsBanner(t *testing.T) {
	f := newFixture(t, true)
	f.session.Start(context.Background())

	f.engine.SimulateError(speech.CodeNotAllowed)
	f.engine.SimulateEnd()

	snap := f.session.Snapshot()
	if !strings.Contains(snap.ErrorMessage, string(speech.CodeNotAllowed)) {
		t.Errorf("error = %q", snap.ErrorMessage)
	}
	if snap.Status != session.StatusConnected {
		t.Errorf("status = %s, want connected", snap.Status)
	}
	if f.engine.Running() {
		t.Error("permission errors must not restart recognition")
	}
}

func TestUnmuteWhileRecognitionWindsDown(t *testing.T) {
	f := newFixture(t, true)
	f.engine.ManualEnd = true
	f.session.Start(context.Background())

	if err := f.session.ToggleMute(); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := f.session.ToggleMute(); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	// The paused run only ends now, after the unmute was requested.
	f.engine.SimulateEnd()

	if !f.engine.Running() || f.engine.Starts() != 2 {
		t.Errorf("recognition should restart after wind down, starts=%d", f.engine.Starts())
	}
	if f.session.Snapshot().Microphone.Muted {
		t.Error("snapshot should report unmuted")
	}
}
