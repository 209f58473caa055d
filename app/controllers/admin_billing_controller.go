package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
)

const adminTimeout = 30 * time.Second

// AdminBillingController exposes webhook event, subscription and order
// administration as a JSON API.
type AdminBillingController struct {
	svc      *billing.Service
	events   repository.WebhookEventRepository
	subs     repository.SubscriptionRepository
	orders   repository.OrderRepository
	validate *validator.Validate
}

func NewAdminBillingController(svc *billing.Service, repos *repository.Repositories) *AdminBillingController {
	return &AdminBillingController{
		svc:      svc,
		events:   repos.WebhookEvent,
		subs:     repos.Subscription,
		orders:   repos.Order,
		validate: validator.New(),
	}
}

type retryEventsRequest struct {
	IDs      []uint `json:"ids" validate:"omitempty,max=500,dive,gt=0"`
	Status   string `json:"status" validate:"omitempty,oneof=failed"`
	Provider string `json:"provider" validate:"omitempty,max=20"`
	Limit    int    `json:"limit" validate:"omitempty,min=1,max=1000"`
}

type planChangeRequest struct {
	PriceKey string `json:"price_key" validate:"required,max=100"`
}

// HandleListEvents lists stored webhook events without payloads.
func (ac *AdminBillingController) HandleListEvents(c *fiber.Ctx) error {
	page := pageFromQuery(c)
	events, total, err := ac.events.List(repository.WebhookEventFilter{
		Status:   c.Query("status"),
		Provider: c.Query("provider"),
		Type:     c.Query("type"),
		Page:     page,
	})
	if err != nil {
		log.Errorf("[Admin] Failed to list webhook events: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Listing webhook events failed")
	}
	return listResponse(c, events, total, page)
}

// HandleEventStats counts webhook events per status.
func (ac *AdminBillingController) HandleEventStats(c *fiber.Ctx) error {
	counts, err := ac.events.CountByStatus()
	if err != nil {
		log.Errorf("[Admin] Failed to count webhook events: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Counting webhook events failed")
	}
	return c.JSON(fiber.Map{"by_status": counts})
}

// HandleShowEvent returns one event including its raw payload.
func (ac *AdminBillingController) HandleShowEvent(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid webhook event id")
	}
	ev, err := ac.events.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Webhook event not found")
		}
		log.Errorf("[Admin] Failed to load webhook event %d: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Loading webhook event failed")
	}
	return c.JSON(ev)
}

// HandleRetryEvent resets one event and puts it back on the queue.
func (ac *AdminBillingController) HandleRetryEvent(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid webhook event id")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), adminTimeout)
	defer cancel()

	outcome, err := ac.svc.Retry(ctx, id)
	if err != nil {
		log.Errorf("[Admin] Retry of webhook event %d failed: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "retry_failed", "Retry failed")
	}
	status := fiber.StatusOK
	switch outcome {
	case billing.RetryNotFound:
		status = fiber.StatusNotFound
	case billing.RetryInFlight:
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{"id": id, "outcome": outcome})
}

// HandleRetryEvents retries either the listed ids or every failed event.
func (ac *AdminBillingController) HandleRetryEvents(c *fiber.Ctx) error {
	var req retryEventsRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}
	if err := ac.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}
	if len(req.IDs) == 0 && req.Status == "" {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", `Either "ids" or "status" is required`)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), adminTimeout)
	defer cancel()

	if len(req.IDs) > 0 {
		outcomes, err := ac.svc.RetryMany(ctx, req.IDs)
		if err != nil {
			log.Errorf("[Admin] Bulk retry failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":    "retry_failed",
				"message":  "Bulk retry stopped early",
				"outcomes": outcomes,
			})
		}
		return c.JSON(fiber.Map{"outcomes": outcomes})
	}

	requeued, err := ac.svc.RetryFailed(ctx, strings.ToLower(strings.TrimSpace(req.Provider)), req.Limit)
	if err != nil {
		log.Errorf("[Admin] Retry of failed events stopped after %d: %v", requeued, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":    "retry_failed",
			"message":  "Retry of failed events stopped early",
			"requeued": requeued,
		})
	}
	return c.JSON(fiber.Map{"requeued": requeued})
}

// HandleDeleteEvent removes a stored event.
func (ac *AdminBillingController) HandleDeleteEvent(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid webhook event id")
	}
	deleted, err := ac.events.Delete(id)
	if err != nil {
		log.Errorf("[Admin] Failed to delete webhook event %d: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Deleting webhook event failed")
	}
	if !deleted {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Webhook event not found")
	}
	log.Infof("[Admin] Webhook event %d deleted", id)
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleRecoverStale runs one recovery sweep immediately.
func (ac *AdminBillingController) HandleRecoverStale(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), adminTimeout)
	defer cancel()

	report, err := ac.svc.RecoverStale(ctx)
	if err != nil {
		log.Errorf("[Admin] Recovery sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "recovery_failed",
			"report": report,
		})
	}
	return c.JSON(report)
}

func (ac *AdminBillingController) HandleListSubscriptions(c *fiber.Ctx) error {
	userID, ok := queryUint(c, "user_id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_user_id", "user_id must be numeric")
	}
	page := pageFromQuery(c)
	subs, total, err := ac.subs.List(repository.SubscriptionFilter{
		UserID:   userID,
		Provider: c.Query("provider"),
		Status:   c.Query("status"),
		PlanKey:  c.Query("plan_key"),
		Page:     page,
	})
	if err != nil {
		log.Errorf("[Admin] Failed to list subscriptions: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Listing subscriptions failed")
	}
	return listResponse(c, subs, total, page)
}

func (ac *AdminBillingController) HandleListOrders(c *fiber.Ctx) error {
	userID, ok := queryUint(c, "user_id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_user_id", "user_id must be numeric")
	}
	page := pageFromQuery(c)
	orders, total, err := ac.orders.List(repository.OrderFilter{
		UserID:   userID,
		Provider: c.Query("provider"),
		Status:   c.Query("status"),
		Page:     page,
	})
	if err != nil {
		log.Errorf("[Admin] Failed to list orders: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Listing orders failed")
	}
	return listResponse(c, orders, total, page)
}

// HandlePlanChange records a pending plan change on a subscription.
func (ac *AdminBillingController) HandlePlanChange(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid subscription id")
	}
	var req planChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}
	if err := ac.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), adminTimeout)
	defer cancel()

	sub, err := ac.svc.RequestPlanChange(ctx, id, req.PriceKey)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrSubscriptionNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "Subscription not found")
		case errors.Is(err, billing.ErrSubscriptionEnded):
			return jsonError(c, fiber.StatusConflict, "subscription_ended", err.Error())
		case errors.Is(err, billing.ErrPriceNotFound), errors.Is(err, billing.ErrPriceNotMapped):
			return jsonError(c, fiber.StatusUnprocessableEntity, "invalid_price", err.Error())
		default:
			log.Errorf("[Admin] Plan change for subscription %d failed: %v", id, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Plan change failed")
		}
	}
	return c.JSON(fiber.Map{
		"subscription":     sub,
		"pending_plan_key": sub.MetaString(models.MetaPendingPlanKey),
	})
}
