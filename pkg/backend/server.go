// Package backend is the voice backend: managed room provisioning, the
// backend status endpoint, and the /ws/voice relay answering typed or
// locally recognized questions.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/teslashibe/go-sitevoice/pkg/protocol"
)

// Config holds backend configuration.
type Config struct {
	// Rooms provisions managed rooms. Nil disables voice rooms.
	Rooms RoomService

	// Assistant answers relay questions.
	Assistant Assistant

	// AnswerTimeout bounds one relay answer.
	AnswerTimeout time.Duration

	// RequestTimeout bounds room service calls.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AnswerTimeout:  60 * time.Second,
		RequestTimeout: 15 * time.Second,
		Logger:         slog.Default(),
	}
}

// Option configures the backend.
type Option func(*Config)

// WithRooms sets the room service.
func WithRooms(r RoomService) Option {
	return func(c *Config) {
		c.Rooms = r
	}
}

// WithAssistant sets the assistant.
func WithAssistant(a Assistant) Option {
	return func(c *Config) {
		c.Assistant = a
	}
}

// WithAnswerTimeout sets the relay answer timeout.
func WithAnswerTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.AnswerTimeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Server is the voice backend HTTP server.
type Server struct {
	cfg    *Config
	app    *fiber.App
	relay  *Relay
	logger *slog.Logger
}

// NewServer creates the backend.
func NewServer(opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		relay:  NewRelay(cfg.Assistant, cfg.AnswerTimeout, cfg.Logger),
		logger: cfg.Logger.With("component", "backend"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "SiteVoice Backend",
		DisableStartupMessage: true,
		UnescapePath:          true,
	})
	app.Use(cors.New())

	app.Get("/status", s.handleStatus)
	app.Post("/voice/create-room", s.handleCreateRoom)
	app.Delete("/voice/room/:name", s.handleDeleteRoom)
	app.Get("/relay/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.relay.Stats())
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/voice", websocket.New(s.relay.handle))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("voice backend listening", "addr", addr, "voice_enabled", s.cfg.Rooms != nil)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) hasContent(ctx context.Context) (bool, error) {
	cr, ok := s.cfg.Assistant.(ContentReporter)
	if !ok {
		return s.cfg.Assistant != nil, nil
	}
	return cr.HasContent(ctx)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.RequestTimeout)
	defer cancel()
	has, err := s.hasContent(ctx)
	if err != nil {
		s.logger.Warn("content check failed", "error", err)
	}
	return c.JSON(protocol.Status{VoiceEnabled: s.cfg.Rooms != nil, HasContent: has})
}

func fail(c *fiber.Ctx, code int, msg string) error {
	return c.Status(code).JSON(protocol.CreateRoomResponse{Success: false, Error: msg})
}

func (s *Server) handleCreateRoom(c *fiber.Ctx) error {
	if s.cfg.Rooms == nil {
		return fail(c, fiber.StatusServiceUnavailable,
			"Voice features are not configured. Please set LIVEKIT_API_KEY, LIVEKIT_API_SECRET, and LIVEKIT_URL.")
	}

	var req protocol.CreateRoomRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.RoomName) == "" {
		return fail(c, fiber.StatusBadRequest, "room_name is required")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.RequestTimeout)
	defer cancel()

	has, err := s.hasContent(ctx)
	if err != nil {
		s.logger.Warn("content check failed", "error", err)
	}
	if !has {
		return fail(c, fiber.StatusBadRequest, "No website content available. Please scrape a website first.")
	}

	if err := s.cfg.Rooms.CreateRoom(ctx, req.RoomName); err != nil {
		s.logger.Error("room creation failed", "room", req.RoomName, "error", err)
		return fail(c, fiber.StatusInternalServerError, fmt.Sprintf("Voice room creation failed: %v", err))
	}
	token, err := s.cfg.Rooms.Token(req.RoomName, "user")
	if err != nil {
		s.logger.Error("token generation failed", "room", req.RoomName, "error", err)
		return fail(c, fiber.StatusInternalServerError, "Failed to generate access token")
	}

	s.logger.Info("voice room created", "room", req.RoomName)
	return c.JSON(protocol.CreateRoomResponse{
		Success:  true,
		RoomName: req.RoomName,
		URL:      s.cfg.Rooms.URL(),
		Token:    token,
	})
}

// handleDeleteRoom always answers 200; failures are reported in the body.
func (s *Server) handleDeleteRoom(c *fiber.Ctx) error {
	if s.cfg.Rooms == nil {
		return c.JSON(protocol.DeleteRoomResponse{Success: false, Error: ErrVoiceDisabled.Error()})
	}
	name := c.Params("name")
	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.RequestTimeout)
	defer cancel()

	if err := s.cfg.Rooms.DeleteRoom(ctx, name); err != nil {
		s.logger.Warn("room deletion failed", "room", name, "error", err)
		return c.JSON(protocol.DeleteRoomResponse{Success: false, Error: err.Error()})
	}
	s.logger.Info("voice room deleted", "room", name)
	return c.JSON(protocol.DeleteRoomResponse{Success: true})
}
