package handlers

import (
	"errors"

	"savegame-system/models"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidArgument):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrDuplicateEntry), errors.Is(err, models.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrExternalService):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error, message string) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": message,
		"cause": err.Error(),
	})
}
