package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/billingsync/app/controllers"
)

// HttpRouter installs the provider-facing and polling routes.
type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	h.registerPublicRoutes(app)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func passThrough(c *fiber.Ctx) error {
	return c.Next()
}

func (h HttpRouter) statusLimiter() fiber.Handler {
	if h.deps.StatusLimiter == nil {
		return passThrough
	}
	return h.deps.StatusLimiter
}

func (h HttpRouter) newBillingController() *controllers.BillingController {
	return controllers.NewBillingController(h.deps.Service, h.deps.Repos.Subscription, h.deps.Repos.Order)
}
