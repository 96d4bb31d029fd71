package backend

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/teslashibe/go-sitevoice/pkg/protocol"
)

// RelayConnection is one connected relay client.
type RelayConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send writes an envelope to the client.
func (r *RelayConnection) Send(env protocol.Envelope) error {
	data, err := env.Bytes()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Conn.WriteMessage(websocket.TextMessage, data)
}

func (r *RelayConnection) touch() {
	r.mu.Lock()
	r.LastSeen = time.Now()
	r.mu.Unlock()
}

// Relay answers user_message envelopes on /ws/voice through an Assistant.
type Relay struct {
	assistant Assistant
	timeout   time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	conns map[string]*RelayConnection

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
}

// NewRelay creates a relay. timeout bounds each answer.
func NewRelay(assistant Assistant, timeout time.Duration, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		assistant: assistant,
		timeout:   timeout,
		logger:    logger.With("component", "backend.relay"),
		conns:     make(map[string]*RelayConnection),
	}
}

// handle serves one relay connection. Messages are answered in order.
func (r *Relay) handle(c *websocket.Conn) {
	conn := &RelayConnection{
		ID:        uuid.NewString(),
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	count := len(r.conns)
	r.mu.Unlock()
	r.logger.Info("relay client connected", "conn", conn.ID, "clients", count)

	defer func() {
		r.mu.Lock()
		delete(r.conns, conn.ID)
		count := len(r.conns)
		r.mu.Unlock()
		r.logger.Info("relay client disconnected", "conn", conn.ID, "clients", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			r.logger.Debug("relay read ended", "conn", conn.ID, "error", err)
			return
		}
		conn.touch()
		r.messagesReceived.Add(1)

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			r.reply(conn, protocol.NewError("invalid message"))
			continue
		}
		if env.Type != protocol.TypeUserMessage {
			r.logger.Debug("ignoring envelope", "conn", conn.ID, "type", env.Type)
			continue
		}
		r.reply(conn, r.answer(env.Text))
	}
}

func (r *Relay) answer(question string) protocol.Envelope {
	if r.assistant == nil {
		return protocol.NewError("No assistant is configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	text, err := r.assistant.Answer(ctx, question)
	if err != nil {
		r.logger.Warn("assistant failed", "error", err)
		return protocol.NewError("I'm sorry, I encountered an error while processing your question. Could you please try again?")
	}
	return protocol.NewAssistantResponse(text)
}

func (r *Relay) reply(conn *RelayConnection, env protocol.Envelope) {
	if err := conn.Send(env); err != nil {
		r.logger.Debug("relay write failed", "conn", conn.ID, "error", err)
		return
	}
	r.messagesSent.Add(1)
}

// RelayStats contains relay statistics.
type RelayStats struct {
	Clients          int    `json:"clients"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
}

// Stats returns relay statistics.
func (r *Relay) Stats() RelayStats {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return RelayStats{
		Clients:          n,
		MessagesReceived: r.messagesReceived.Load(),
		MessagesSent:     r.messagesSent.Load(),
	}
}
