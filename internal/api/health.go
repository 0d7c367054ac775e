package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/codecollab/hub/internal/httputil"
)

// HealthHandler serves the liveness endpoint, spec.md §6.1.
type HealthHandler struct {
	DB    *pgxpool.Pool
	Cache *redis.Client
}

// Health handles GET /health, the one unauthenticated endpoint.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	pgStatus := "ok"
	if err := h.DB.Ping(ctx); err != nil {
		pgStatus = "unavailable"
	}

	cacheStatus := "ok"
	if err := h.Cache.Ping(ctx).Err(); err != nil {
		cacheStatus = "unavailable"
	}

	overall := "ok"
	status := fiber.StatusOK
	if pgStatus != "ok" || cacheStatus != "ok" {
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"status":   overall,
		"postgres": pgStatus,
		"valkey":   cacheStatus,
	})
}
