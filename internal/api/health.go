package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/netsblox/cloud/internal/httputil"
)

// Pinger is anything that can report liveness of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health check endpoint.
type HealthHandler struct {
	Mongo Pinger
	Redis Pinger
}

// Health pings MongoDB and Redis, returning component status.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	mongoStatus := "ok"
	if err := h.Mongo.Ping(ctx); err != nil {
		mongoStatus = "unavailable"
	}

	redisStatus := "ok"
	if err := h.Redis.Ping(ctx); err != nil {
		redisStatus = "unavailable"
	}

	overall := "ok"
	status := fiber.StatusOK
	if mongoStatus != "ok" || redisStatus != "ok" {
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"status":  overall,
		"mongodb": mongoStatus,
		"redis":   redisStatus,
	})
}
