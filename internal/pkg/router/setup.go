package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries everything the routers hand to controllers.
type Dependencies struct {
	Service        *billing.Service
	Repos          *repository.Repositories
	DB             *gorm.DB
	AdminTokenHash string
	// StatusLimiter guards the polling endpoints. Nil disables limiting.
	StatusLimiter fiber.Handler
	// PingCache checks Redis for /health. Nil reports the cache as disabled.
	PingCache func(timeout time.Duration) error
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
