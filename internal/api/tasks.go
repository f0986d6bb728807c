package api

import (
	"github.com/gofiber/fiber/v2"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

// runKeyframeTask handles POST /api/tasks/generate-keyframe, the delivery
// target of the remote task queue.
func (s *Server) runKeyframeTask(c *fiber.Ctx) error {
	if s.deps.Tasks == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "task worker not configured")
	}
	payload := map[string]any{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}
	if len(payload) == 0 {
		return serrors.Invalid("body", "must be a JSON object")
	}
	res, err := s.deps.Tasks.Handle(c.UserContext(), payload)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
