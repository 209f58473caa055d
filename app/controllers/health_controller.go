package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

// HealthController answers liveness probes for the database and Redis.
type HealthController struct {
	db        *gorm.DB
	pingCache func(timeout time.Duration) error
}

// NewHealthController creates a health controller. pingCache may be nil when
// the process runs without a queue.
func NewHealthController(db *gorm.DB, pingCache func(timeout time.Duration) error) *HealthController {
	return &HealthController{db: db, pingCache: pingCache}
}

func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	checks := fiber.Map{"database": "ok", "cache": "ok"}
	healthy := true

	if err := hc.pingDatabase(c.UserContext()); err != nil {
		log.Warnf("[Health] Database check failed: %v", err)
		checks["database"] = "unavailable"
		healthy = false
	}
	if hc.pingCache == nil {
		checks["cache"] = "disabled"
	} else if err := hc.pingCache(healthTimeout); err != nil {
		log.Warnf("[Health] Cache check failed: %v", err)
		checks["cache"] = "unavailable"
		healthy = false
	}

	status := fiber.StatusOK
	checks["status"] = "ok"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		checks["status"] = "degraded"
	}
	return c.Status(status).JSON(checks)
}

func (hc *HealthController) pingDatabase(parent context.Context) error {
	sqlDB, err := hc.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, healthTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
