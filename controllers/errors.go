package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"scholars-backend/results"
)

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var transition *results.InvalidTransitionError
	switch {
	case results.IsInputError(err):
		return fiber.StatusBadRequest
	case errors.As(err, &transition):
		return fiber.StatusConflict
	case errors.Is(err, results.ErrConflictsPresent),
		errors.Is(err, results.ErrTransactionConflict),
		errors.Is(err, results.ErrAlreadyRolledBack):
		return fiber.StatusConflict
	case errors.Is(err, results.ErrNothingToPublish):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, results.ErrNothingToRollback):
		return fiber.StatusNotFound
	case errors.Is(err, results.ErrStorageUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
