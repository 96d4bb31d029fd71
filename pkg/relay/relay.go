// Package relay implements the local voice transport: a raw socket to the
// voice backend with speech recognition and synthesis done on this machine.
//
// Finalized utterances are sent as user_message envelopes. Each
// assistant_response is added to the transcript and spoken once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-sitevoice/pkg/protocol"
	"github.com/teslashibe/go-sitevoice/pkg/session"
	"github.com/teslashibe/go-sitevoice/pkg/speech"
)

// Transport is a session.Transport over the relay socket.
type Transport struct {
	cfg    *Config
	logger *slog.Logger

	mu      sync.Mutex
	host    session.Host
	conn    *websocket.Conn
	rec     *speech.Recognizer
	synth   *speech.Synthesizer
	cancel  context.CancelFunc
	open    bool
	closing bool

	// writeMu serializes writers on conn.
	writeMu sync.Mutex
}

// New creates a relay transport. Each session start needs a fresh one.
func New(opts ...Option) (*Transport, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "relay"),
	}, nil
}

// Kind returns session.KindLocal.
func (t *Transport) Kind() session.Kind {
	return session.KindLocal
}

// Connect dials the relay, reports connected and enables recognition.
func (t *Transport) Connect(ctx context.Context, host session.Host) error {
	if t.cfg.Engine == nil {
		return &session.ConnectError{Reason: "speech recognition unsupported", Cause: ErrNoEngine}
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return &session.ConnectError{Reason: "dial relay", Cause: err}
	}

	logger := host.Logger().With("component", "relay")
	lctx, cancel := context.WithCancel(context.Background())

	var synth *speech.Synthesizer
	if t.cfg.Voice != nil {
		synth = speech.NewSynthesizer(t.cfg.Voice,
			speech.WithSynthesizerLogger(logger),
			speech.WithSpeakingHooks(
				func() { host.RemoteSpeaking(true) },
				func() { host.RemoteSpeaking(false) },
			),
			speech.WithSynthesisErrors(func(err error) {
				host.Warning(fmt.Errorf("speech synthesis failed: %w", err))
			}),
		)
	}
	rec := speech.NewRecognizer(t.cfg.Engine,
		speech.WithRecognizerLogger(logger),
		speech.WithRestartPolicy(host.Live),
		speech.WithResumePolicy(host.Online),
		speech.WithFinal(t.handleFinal),
		speech.WithErrors(func(err error) {
			host.Error(recognitionError(err))
		}),
	)

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		cancel()
		conn.Close()
		if synth != nil {
			synth.Close()
		}
		return &session.ConnectError{Reason: "disconnected while connecting"}
	}
	t.host = host
	t.conn = conn
	t.rec = rec
	t.synth = synth
	t.cancel = cancel
	t.open = true
	t.mu.Unlock()

	pongWait := 2 * t.cfg.PingInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go t.readLoop(conn, host, synth, pongWait)
	go t.keepAlive(lctx, conn)

	logger.Info("relay connected", "url", t.cfg.URL)
	host.Connected()

	if err := rec.Start(lctx); err != nil {
		host.Error(recognitionError(err))
	}
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn, host session.Host, synth *speech.Synthesizer, pongWait time.Duration) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closing := t.closing
			t.open = false
			t.mu.Unlock()
			if !closing {
				host.Disconnected(&session.TransportClosedError{Cause: err})
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			t.logger.Debug("ignoring malformed relay message", "error", err)
			continue
		}

		switch env.Type {
		case protocol.TypeAssistantResponse:
			host.Transcript(session.SpeakerAssistant, env.Text)
			if synth != nil {
				synth.Speak(env.Text)
			}
		case protocol.TypeError:
			msg := env.Text
			if msg == "" {
				msg = "relay reported an error"
			}
			host.Error(errors.New(msg))
		default:
			t.logger.Debug("ignoring relay message", "type", env.Type)
		}
	}
}

func (t *Transport) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

// handleFinal forwards a finalized utterance. Nothing is sent before the
// socket is open or after it closed.
func (t *Transport) handleFinal(text string) {
	t.mu.Lock()
	open := t.open && !t.closing
	host := t.host
	t.mu.Unlock()
	if !open {
		return
	}

	host.Transcript(session.SpeakerUser, text)
	if err := t.send(protocol.NewUserMessage(text)); err != nil {
		host.Warning(fmt.Errorf("send utterance: %w", err))
	}
}

// SendUtterance forwards typed user text.
func (t *Transport) SendUtterance(ctx context.Context, text string) error {
	t.mu.Lock()
	open := t.open && !t.closing
	t.mu.Unlock()
	if !open {
		return session.ErrNotConnected
	}
	return t.send(protocol.NewUserMessage(text))
}

func (t *Transport) send(env protocol.Envelope) error {
	data, err := env.Bytes()
	if err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return session.ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// AudioPrimitive returns nil: the relay has no outbound audio track.
func (t *Transport) AudioPrimitive() (session.AudioPrimitive, error) {
	return nil, nil
}

// Recognition returns the recognizer, or nil before Connect.
func (t *Transport) Recognition() session.RecognitionControl {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rec == nil {
		return nil
	}
	return t.rec
}

// Disconnect stops recognition, cancels synthesis and closes the socket.
// It may run concurrently with Connect.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.open = false
	conn, rec, synth, cancel := t.conn, t.rec, t.synth, t.cancel
	t.mu.Unlock()

	if rec != nil {
		rec.Close()
	}
	if synth != nil {
		synth.Close()
	}
	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	t.logger.Info("relay disconnected")
	return conn.Close()
}

func recognitionError(err error) error {
	return &session.RecognitionError{Code: string(speech.CodeOf(err)), Cause: err}
}

var _ session.Transport = (*Transport)(nil)
