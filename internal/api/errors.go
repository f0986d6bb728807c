package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Field     string `json:"field,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:      errType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  c.Path(),
		RequestID: requestID(c),
	})
}

// classify maps a service error onto an HTTP status and problem type.
func classify(err error) (int, string, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, "http_error", fe.Message
	case errors.Is(err, serrors.ErrInvalidInput):
		return fiber.StatusBadRequest, "invalid_input", "Bad Request"
	case errors.Is(err, serrors.ErrNotFound):
		return fiber.StatusNotFound, "not_found", "Not Found"
	case errors.Is(err, serrors.ErrConflict):
		return fiber.StatusConflict, "conflict", "Conflict"
	case errors.Is(err, serrors.ErrRateLimit):
		return fiber.StatusTooManyRequests, "rate_limit_exceeded", "Too Many Requests"
	case errors.Is(err, serrors.ErrUnavailable), errors.Is(err, serrors.ErrTimeout):
		return fiber.StatusServiceUnavailable, "backend_unavailable", "Service Unavailable"
	}
	return fiber.StatusInternalServerError, "internal_error", "Internal Server Error"
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, errType, title := classify(err)

		ev := logger.Warn()
		if code >= fiber.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Str("request_id", requestID(c)).
			Msg("Request failed")

		p := ProblemDetail{
			Type:      errType,
			Title:     title,
			Status:    code,
			Detail:    err.Error(),
			Instance:  c.Path(),
			RequestID: requestID(c),
		}
		var ve *serrors.ValidationError
		if errors.As(err, &ve) {
			p.Field = ve.Field
			p.Detail = ve.Reason
		}
		if code == fiber.StatusInternalServerError {
			p.Detail = "An internal error occurred"
		}
		return c.Status(code).JSON(p)
	}
}
