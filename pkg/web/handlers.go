package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-tutor/pkg/hub"
	"github.com/teslashibe/go-tutor/pkg/session"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleStatus returns the current session state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.State())
}

// handleGetConversation returns the conversation log
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	s.conversationMu.RLock()
	entries := append([]session.Entry{}, s.conversation...)
	s.conversationMu.RUnlock()
	return c.JSON(entries)
}

// handleReset starts the session over
func (s *Server) handleReset(c *fiber.Ctx) error {
	if s.controls == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "session not attached")
	}
	if err := s.controls.Reset(); err != nil {
		return controlError(c, err)
	}
	return c.JSON(fiber.Map{"status": "reset"})
}

// SayRequest is the request body for a typed turn
type SayRequest struct {
	Text string `json:"text"`
}

// handleSay sends a typed turn
func (s *Server) handleSay(c *fiber.Ctx) error {
	if s.controls == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "session not attached")
	}

	var req SayRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := s.controls.SendText(req.Text); err != nil {
		return controlError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "sent"})
}

func controlError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrEmptyText):
		status = fiber.StatusBadRequest
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrNotConnected):
		status = fiber.StatusConflict
	case errors.Is(err, session.ErrStopped):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// handleStatusWS streams session events, starting with the current state
func (s *Server) handleStatusWS(c *websocket.Conn) {
	client := hub.NewClient(s.statusHub, c)
	if client == nil {
		c.Close()
		return
	}

	initial, err := hub.Encode(hub.Event{Type: "state", Data: s.State(), At: time.Now()})
	if err != nil {
		s.logger.Warn("encode initial state", "error", err)
		initial = nil
	}
	client.Run(initial)
}
