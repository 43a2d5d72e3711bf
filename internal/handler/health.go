package handler

import (
	"github.com/gofiber/fiber/v2"

	"canvas-backend/internal/session"
)

// HealthHandler exposes liveness plus a live-session gauge.
type HealthHandler struct {
	registry *session.Registry
}

func NewHealthHandler(registry *session.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":        "ok",
		"live_sessions": h.registry.Count(),
	})
}
