package web

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-sitevoice/pkg/hub"
	"github.com/teslashibe/go-sitevoice/pkg/session"
)

// SayRequest is the body of POST /api/say.
type SayRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Snapshot())
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	entries := s.ctrl.Snapshot().Transcript
	if entries == nil {
		entries = []session.TranscriptEntry{}
	}
	return c.JSON(entries)
}

// handleStart reports connect failures in the body; the snapshot carries
// the same message.
func (s *Server) handleStart(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.StartTimeout)
	defer cancel()
	if err := s.ctrl.Start(ctx); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"status":  s.ctrl.Snapshot(),
		})
	}
	return c.JSON(fiber.Map{"success": true, "status": s.ctrl.Snapshot()})
}

func (s *Server) handleEnd(c *fiber.Ctx) error {
	s.ctrl.End()
	return c.JSON(fiber.Map{"success": true, "status": s.ctrl.Snapshot()})
}

func (s *Server) handleMute(c *fiber.Ctx) error {
	if err := s.ctrl.ToggleMute(); err != nil {
		code := fiber.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrNotConnected):
			code = fiber.StatusConflict
		case errors.Is(err, session.ErrMuteUnsupported):
			code = fiber.StatusUnprocessableEntity
		}
		return fiber.NewError(code, err.Error())
	}
	snap := s.ctrl.Snapshot()
	return c.JSON(fiber.Map{"success": true, "muted": snap.Microphone.Muted})
}

func (s *Server) handleSay(c *fiber.Ctx) error {
	var req SayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}
	if err := s.ctrl.SubmitUserUtterance(c.UserContext(), text); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

// handleStatusWS sends the current snapshot, then every change.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	greeting, err := hub.EncodeJSON(s.ctrl.Snapshot())
	if err != nil {
		s.logger.Warn("encode snapshot", "error", err)
		return
	}
	hub.NewClient(s.statusHub, c, greeting).Run()
}
