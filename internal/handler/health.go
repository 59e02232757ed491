package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GatewayReporter exposes the Discord connection state for health checks.
type GatewayReporter interface {
	GatewayStatus() (user string, latency time.Duration, err error)
}

type HealthHandler struct {
	pool    *pgxpool.Pool
	gateway GatewayReporter
}

func NewHealthHandler(pool *pgxpool.Pool, gateway GatewayReporter) *HealthHandler {
	return &HealthHandler{pool: pool, gateway: gateway}
}

// Health reports liveness plus the bot's view of its gateway connection.
// The process is alive either way, so this never returns non-200.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	gw := fiber.Map{"connected": false}
	if user, latency, err := h.gateway.GatewayStatus(); err == nil {
		gw["connected"] = true
		gw["user"] = user
		gw["heartbeat_latency_ms"] = latency.Milliseconds()
	}
	return c.JSON(fiber.Map{"status": "ok", "gateway": gw})
}

// Ready requires both collaborators the bot cannot work without: the
// database and the Discord gateway.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.pool.Ping(ctx); err != nil {
		return c.Status(503).JSON(fiber.Map{"status": "not ready", "error": "database unreachable"})
	}
	if _, _, err := h.gateway.GatewayStatus(); err != nil {
		return c.Status(503).JSON(fiber.Map{"status": "not ready", "error": "discord gateway disconnected"})
	}

	return c.JSON(fiber.Map{"status": "ready"})
}
