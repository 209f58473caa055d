package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/billingsync/app/controllers"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	billingController := h.newBillingController()
	healthController := controllers.NewHealthController(h.deps.DB, h.deps.PingCache)

	app.Get("/health", healthController.HandleHealth)

	// Provider webhooks (signature-verified in the billing service)
	app.Post("/webhooks/:provider", billingController.HandleWebhook)

	// Checkout return pages poll these until the webhook has been reconciled
	status := app.Group("/billing/status", h.statusLimiter())
	status.Get("/subscription", billingController.HandleSubscriptionStatus)
	status.Get("/order/:reference", billingController.HandleOrderStatus)
}
