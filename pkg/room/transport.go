// Package room implements the managed voice transport: a provisioned
// real-time media room that carries the user's microphone, the assistant's
// voice and structured text messages.
//
// The remote speaking status is approximated: a remote audio track marks the
// session active for a fixed window rather than tracking audio levels.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-sitevoice/pkg/protocol"
	"github.com/teslashibe/go-sitevoice/pkg/session"
	"github.com/teslashibe/go-sitevoice/pkg/speech"
)

// Transport is a session.Transport over a managed room.
type Transport struct {
	cfg    *Config
	logger *slog.Logger
	player *Player

	mu          sync.Mutex
	host        session.Host
	name        string
	provisioned bool
	conn        Conn
	track       LocalTrack
	micStarted  bool
	rec         *speech.Recognizer
	cancel      context.CancelFunc
	speakTimer  *time.Timer
	closed      bool

	// Room events that arrive before the session is told it is connected
	// are queued in pending and replayed in order once ready is set.
	pending []func(session.Host)
	ready   bool
}

// New creates a room transport. Each session start needs a fresh one.
func New(opts ...Option) (*Transport, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "room")
	t := &Transport{cfg: cfg, logger: logger}
	if cfg.Sink != nil {
		t.player = NewPlayer(cfg.Sink, cfg.Logger)
	}
	return t, nil
}

// Kind returns session.KindManaged.
func (t *Transport) Kind() session.Kind {
	return session.KindManaged
}

// Name returns the generated room name, or "" before Connect.
func (t *Transport) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Connect provisions a room, joins it and publishes the microphone.
// Microphone failures leave the connection up and are reported as a
// session.CaptureError warning.
func (t *Transport) Connect(ctx context.Context, host session.Host) error {
	name := fmt.Sprintf("%s-%s", t.cfg.RoomPrefix, uuid.NewString())
	t.mu.Lock()
	t.host = host
	t.name = name
	t.mu.Unlock()

	grant, err := t.cfg.Provisioner.CreateRoom(ctx, name)
	if err != nil {
		return &session.ProvisioningError{Room: name, Reason: reasonOf(err), Cause: err}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.logger.Debug("room provisioned after disconnect", "room", name)
		t.deleteRoom(name)
		return &session.ConnectError{Reason: "disconnected while provisioning"}
	}
	t.provisioned = true
	t.mu.Unlock()

	conn, err := t.cfg.Joiner.Join(ctx, grant, Events{
		Disconnected: t.onDisconnected,
		RemoteAudio:  t.onRemoteAudio,
		Data:         t.onData,
	})
	if err != nil {
		return &session.ConnectError{Reason: "join room", Cause: err}
	}

	lctx, cancel := context.WithCancel(context.Background())
	var rec *speech.Recognizer
	if t.cfg.Engine != nil {
		rec = speech.NewRecognizer(t.cfg.Engine,
			speech.WithRecognizerLogger(host.Logger()),
			speech.WithRestartPolicy(host.Live),
			speech.WithResumePolicy(host.Online),
			speech.WithFinal(t.handleFinal),
			speech.WithErrors(func(err error) {
				host.Error(&session.RecognitionError{Code: string(speech.CodeOf(err)), Cause: err})
			}),
		)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		conn.Close()
		return &session.ConnectError{Reason: "disconnected while joining"}
	}
	t.conn = conn
	t.cancel = cancel
	t.rec = rec
	t.mu.Unlock()

	t.logger.Info("room joined", "room", grant.Room)
	host.Connected()
	if !t.flushPending(host) {
		cancel()
		return nil
	}

	t.startMicrophone(lctx, conn, host)

	if rec != nil {
		if err := rec.Start(lctx); err != nil {
			host.Error(&session.RecognitionError{Code: string(speech.CodeOf(err)), Cause: err})
		}
	}
	return nil
}

func (t *Transport) startMicrophone(ctx context.Context, conn Conn, host session.Host) {
	src := t.cfg.Source
	if src == nil {
		host.Warning(&session.CaptureError{Cause: ErrNoMicrophone})
		return
	}
	if err := src.Start(ctx); err != nil {
		host.Warning(&session.CaptureError{Cause: err})
		return
	}

	sc := src.Config()
	track, err := conn.PublishMicrophone(sc.SampleRate, sc.Channels)
	if err != nil {
		src.Stop()
		host.Warning(&session.CaptureError{Cause: err})
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		track.Unpublish()
		src.Stop()
		return
	}
	t.track = track
	t.micStarted = true
	t.mu.Unlock()

	host.MicrophonePublished(true)
	go t.pumpMicrophone(ctx, track)
}

func (t *Transport) pumpMicrophone(ctx context.Context, track LocalTrack) {
	src := t.cfg.Source
	for {
		chunk, err := src.Read(ctx)
		if err != nil {
			return
		}
		if err := track.WriteSample(chunk.Samples); err != nil {
			t.logger.Debug("microphone write failed", "error", err)
		}
	}
}

// flushPending replays events queued during join until the queue is empty,
// then lets later events through directly. It reports false when a replayed
// event ended the room.
func (t *Transport) flushPending(host session.Host) bool {
	for {
		t.mu.Lock()
		if t.closed {
			t.pending = nil
			t.mu.Unlock()
			return false
		}
		pending := t.pending
		t.pending = nil
		if len(pending) == 0 {
			t.ready = true
			t.mu.Unlock()
			return true
		}
		t.mu.Unlock()
		for _, fn := range pending {
			fn(host)
		}
	}
}

// deliver runs fn once the session knows it is connected. Events fired by
// the room client while Join is still running are queued.
func (t *Transport) deliver(fn func(session.Host)) {
	t.mu.Lock()
	if t.closed || t.host == nil {
		t.mu.Unlock()
		return
	}
	if !t.ready {
		t.pending = append(t.pending, fn)
		t.mu.Unlock()
		return
	}
	host := t.host
	t.mu.Unlock()
	fn(host)
}

func (t *Transport) live() (session.Host, Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.host, t.conn, t.conn != nil && !t.closed
}

func (t *Transport) onDisconnected(err error) {
	t.deliver(func(host session.Host) {
		host.Disconnected(&session.TransportClosedError{Cause: err})
	})
}

func (t *Transport) onRemoteAudio(track RemoteAudio) {
	t.deliver(func(host session.Host) {
		t.playRemote(host, track)
	})
}

func (t *Transport) playRemote(host session.Host, track RemoteAudio) {
	if t.player != nil {
		if err := t.player.Attach(track); err != nil {
			host.Warning(fmt.Errorf("audio output unavailable: %w", err))
		}
	}

	host.RemoteSpeaking(true)
	t.mu.Lock()
	if t.speakTimer != nil {
		t.speakTimer.Stop()
	}
	t.speakTimer = time.AfterFunc(t.cfg.SpeakingWindow, func() {
		host.RemoteSpeaking(false)
	})
	t.mu.Unlock()
}

func (t *Transport) onData(payload []byte) {
	t.deliver(func(host session.Host) {
		t.handleData(host, payload)
	})
}

func (t *Transport) handleData(host session.Host, payload []byte) {
	msg, err := protocol.ParseRoomMessage(payload)
	if err != nil {
		t.logger.Debug("ignoring room data", "error", err)
		return
	}

	switch {
	case msg.IsAssistantText():
		host.Transcript(session.SpeakerAssistant, msg.Text)
	case msg.Type == protocol.TypeTranscript:
		host.Transcript(session.Speaker(protocol.NormalizeSpeaker(msg.Speaker)), msg.Text)
	default:
		t.logger.Debug("ignoring room message", "type", msg.Type)
	}
}

func (t *Transport) handleFinal(text string) {
	host, conn, ok := t.live()
	if !ok {
		return
	}
	host.Transcript(session.SpeakerUser, text)
	if err := sendText(conn, text); err != nil {
		host.Warning(fmt.Errorf("send utterance: %w", err))
	}
}

// SendUtterance sends typed user text as a room text message.
func (t *Transport) SendUtterance(ctx context.Context, text string) error {
	_, conn, ok := t.live()
	if !ok {
		return session.ErrNotConnected
	}
	return sendText(conn, text)
}

func sendText(conn Conn, text string) error {
	data, err := protocol.NewUserTextMessage(text).Bytes()
	if err != nil {
		return err
	}
	return conn.SendData(data)
}

// AudioPrimitive returns the published microphone track, or
// session.ErrMuteUnsupported when none was published.
func (t *Transport) AudioPrimitive() (session.AudioPrimitive, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.track == nil {
		return nil, session.ErrMuteUnsupported
	}
	return t.track, nil
}

// Recognition returns the recognizer, or nil when local recognition is off.
func (t *Transport) Recognition() session.RecognitionControl {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rec == nil {
		return nil
	}
	return t.rec
}

// Disconnect stops recognition, releases the microphone and output, leaves
// the room and deletes it. Deletion failures are logged only.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn, track, rec, cancel := t.conn, t.track, t.rec, t.cancel
	micStarted, timer := t.micStarted, t.speakTimer
	provisioned, name := t.provisioned, t.name
	t.track = nil
	t.pending = nil
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if rec != nil {
		rec.Close()
	}
	if cancel != nil {
		cancel()
	}
	if track != nil {
		if err := track.Unpublish(); err != nil {
			t.logger.Debug("unpublish failed", "error", err)
		}
	}
	if micStarted {
		t.cfg.Source.Stop()
	}
	if t.player != nil {
		t.player.Detach()
	}

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if provisioned {
		t.deleteRoom(name)
	}
	t.logger.Info("room transport released", "room", name)
	return err
}

func (t *Transport) deleteRoom(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DeleteTimeout)
	defer cancel()
	if err := t.cfg.Provisioner.DeleteRoom(ctx, name); err != nil {
		t.logger.Warn("room deletion failed", "room", name, "error", err)
	}
}

var _ session.Transport = (*Transport)(nil)
