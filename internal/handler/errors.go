package handler

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/codequery/internal/port"
)

// writeError maps service errors onto a status and a stable code.
func writeError(c fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, port.ErrInvalidRequest), errors.Is(err, port.ErrInvalidReference):
		status, code = fiber.StatusBadRequest, "invalid_request"
	case errors.Is(err, port.ErrConflict):
		status, code = fiber.StatusConflict, "conflict"
	case errors.Is(err, port.ErrNotReady):
		status, code = fiber.StatusTooEarly, "not_ready"
	case errors.Is(err, port.ErrJobNotFound):
		status, code = fiber.StatusNotFound, "not_found"
	}

	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		msg = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg, "code": code})
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "code": "invalid_request"})
}
