package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/studio-agent/internal/conversation"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

// createSession handles POST /api/chat/sessions.
func (s *Server) createSession(c *fiber.Ctx) error {
	var in conversation.CreateSessionInput
	if len(c.Body()) > 0 {
		if err := parseBody(c, &in); err != nil {
			return err
		}
	}
	sess, err := s.deps.Conversation.CreateSession(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

// listSessions handles GET /api/chat/sessions.
func (s *Server) listSessions(c *fiber.Ctx) error {
	list, err := s.deps.Conversation.ListSessions(c.UserContext(), conversation.SessionFilter{
		ProjectID: c.Query("project_id"),
		Status:    conversation.SessionStatus(c.Query("status")),
		Limit:     c.QueryInt("limit", 20),
		Offset:    c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	return c.JSON(items(list))
}

// getSession handles GET /api/chat/sessions/:id.
func (s *Server) getSession(c *fiber.Ctx) error {
	sess, err := s.deps.Conversation.GetSession(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(sess)
}

// listMessages handles GET /api/chat/sessions/:id/messages.
func (s *Server) listMessages(c *fiber.Ctx) error {
	list, err := s.deps.Conversation.ListMessages(c.UserContext(), c.Params("id"),
		c.QueryInt("limit", 100), c.QueryInt("offset", 0))
	if err != nil {
		return err
	}
	return c.JSON(items(list))
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// sendMessage handles POST /api/chat/sessions/:id/messages.
func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	turn, err := s.deps.Conversation.SendMessage(c.UserContext(), c.Params("id"), req.Content)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(turn)
}

// listEvents handles GET /api/chat/sessions/:id/events.
func (s *Server) listEvents(c *fiber.Ctx) error {
	after := c.QueryInt("after", 0)
	if after < 0 {
		return serrors.Invalid("after", "must not be negative")
	}
	list, err := s.deps.Conversation.ListEvents(c.UserContext(), c.Params("id"),
		int64(after), c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	return c.JSON(items(list))
}
