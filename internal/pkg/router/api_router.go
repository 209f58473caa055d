package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/billingsync/app/controllers"
	"github.com/ManuelReschke/billingsync/internal/pkg/middleware"
)

// ApiRouter installs the token protected admin API.
type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	admin := controllers.NewAdminBillingController(h.deps.Service, h.deps.Repos)
	queue := controllers.NewAdminQueueController(h.deps.Repos.Queue)

	api := app.Group("/admin/api", middleware.AdminTokenAuth(h.deps.AdminTokenHash))

	events := api.Group("/webhook-events")
	events.Get("/", admin.HandleListEvents)
	events.Get("/stats", admin.HandleEventStats)
	events.Post("/retry", admin.HandleRetryEvents)
	events.Get("/:id", admin.HandleShowEvent)
	events.Post("/:id/retry", admin.HandleRetryEvent)
	events.Delete("/:id", admin.HandleDeleteEvent)

	api.Post("/recover-stale", admin.HandleRecoverStale)

	api.Get("/subscriptions", admin.HandleListSubscriptions)
	api.Post("/subscriptions/:id/plan-change", admin.HandlePlanChange)
	api.Get("/orders", admin.HandleListOrders)

	api.Get("/queue", queue.HandleQueueStats)
	api.Delete("/queue/stats", queue.HandleQueueStatsReset)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
