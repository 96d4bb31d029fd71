// Package web serves the local voice dashboard: the session snapshot and
// transcript over REST, session controls, and a websocket status feed.
package web

import (
	"context"
	"embed"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-sitevoice/pkg/hub"
	"github.com/teslashibe/go-sitevoice/pkg/session"
)

//go:embed static
var static embed.FS

// Controller is the part of the session the dashboard drives.
type Controller interface {
	Start(ctx context.Context) error
	End()
	ToggleMute() error
	SubmitUserUtterance(ctx context.Context, text string) error
	Snapshot() session.Snapshot
	OnChange(fn func(session.Snapshot)) (cancel func())
}

// Server is the dashboard server.
type Server struct {
	app    *fiber.App
	ctrl   Controller
	logger *slog.Logger

	// StartTimeout bounds POST /api/start.
	StartTimeout time.Duration

	statusHub *hub.Hub
	unwatch   func()
}

// NewServer creates a dashboard over ctrl.
func NewServer(ctrl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctrl:         ctrl,
		logger:       logger.With("component", "web"),
		StartTimeout: 45 * time.Second,
		statusHub:    hub.New("status", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "SiteVoice Dashboard",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleTranscript)
	api.Post("/start", s.handleStart)
	api.Post("/end", s.handleEnd)
	api.Post("/mute", s.handleMute)
	api.Post("/say", s.handleSay)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	app.Use("/", filesystem.New(filesystem.Config{
		Root:       http.FS(static),
		PathPrefix: "static",
		Index:      "index.html",
	}))

	s.app = app
	go s.statusHub.Run()
	s.unwatch = ctrl.OnChange(func(snap session.Snapshot) {
		if err := s.statusHub.BroadcastJSON(snap); err != nil {
			s.logger.Warn("encode snapshot", "error", err)
		}
	})
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("dashboard listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the server and disconnects websocket clients.
func (s *Server) Shutdown() error {
	if s.unwatch != nil {
		s.unwatch()
	}
	s.statusHub.Stop()
	return s.app.Shutdown()
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{"success": false, "error": err.Error()})
}
