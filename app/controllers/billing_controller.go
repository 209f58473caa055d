package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/entitlements"
)

const (
	webhookTimeout = 15 * time.Second

	// StateProcessing is reported while the provider's webhook has not been
	// reconciled into a local row yet.
	StateProcessing = "processing"
	StateActive     = "active"
	StateInactive   = "inactive"
)

// BillingController serves the provider webhook endpoint and the polling
// endpoints a checkout return page uses.
type BillingController struct {
	svc    *billing.Service
	subs   repository.SubscriptionRepository
	orders repository.OrderRepository
	now    func() time.Time
}

func NewBillingController(svc *billing.Service, subs repository.SubscriptionRepository, orders repository.OrderRepository) *BillingController {
	return &BillingController{
		svc:    svc,
		subs:   subs,
		orders: orders,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandleWebhook accepts one provider delivery. Only failures that make the
// delivery unusable, or failing to persist it, are answered with a non-2xx
// status; everything else is acknowledged and processed asynchronously.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	provider := strings.ToLower(strings.TrimSpace(c.Params("provider")))
	adapter, err := bc.svc.Adapters().Get(provider)
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "unknown_provider", "Unknown billing provider")
	}

	payload := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(adapter.SignatureHeader()))

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	result, err := bc.svc.Ingest(ctx, provider, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownProvider), errors.Is(err, billing.ErrProviderInactive):
			return jsonError(c, fiber.StatusNotFound, "unknown_provider", "Unknown or inactive billing provider")
		case errors.Is(err, billing.ErrInvalidSignature):
			log.Warnf("[Webhook] Rejected %s delivery: invalid signature", provider)
			return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "Invalid webhook signature")
		case errors.Is(err, billing.ErrMalformedPayload):
			log.Warnf("[Webhook] Rejected %s delivery: %v", provider, err)
			return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Malformed webhook payload")
		default:
			log.Errorf("[Webhook] Failed to store %s delivery: %v", provider, err)
			return jsonError(c, fiber.StatusInternalServerError, "webhook_persist_failed", "Webhook could not be stored")
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":       true,
		"outcome":  result.Outcome,
		"event_id": result.Event.EventID,
	})
}

// HandleSubscriptionStatus reports a user's effective access.
func (bc *BillingController) HandleSubscriptionStatus(c *fiber.Ctx) error {
	userID, ok := queryUint(c, "user_id")
	if !ok || userID == 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_user_id", "user_id is required")
	}

	subs, err := bc.subs.ListByUserID(userID)
	if err != nil {
		log.Errorf("[Billing] Failed to load subscriptions for user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Subscription lookup failed")
	}
	orders, _, err := bc.orders.List(repository.OrderFilter{
		UserID: userID,
		Status: models.OrderStatusPaid,
		Page:   repository.Page{PerPage: repository.MaxPerPage},
	})
	if err != nil {
		log.Errorf("[Billing] Failed to load orders for user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Order lookup failed")
	}

	access := entitlements.Resolve(subs, orders, bc.now())
	state := StateInactive
	switch {
	case len(subs) == 0 && len(orders) == 0:
		state = StateProcessing
	case access.HasAccess:
		state = StateActive
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"state":   state,
		"access":  access,
	})
}

// HandleOrderStatus reports the state of a checkout by session, transaction
// or payment reference.
func (bc *BillingController) HandleOrderStatus(c *fiber.Ctx) error {
	reference := strings.TrimSpace(c.Params("reference"))
	if reference == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_reference", "reference is required")
	}

	order, err := bc.orders.GetByReference(reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"reference": reference, "state": StateProcessing})
		}
		log.Errorf("[Billing] Failed to load order %q: %v", reference, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Order lookup failed")
	}

	return c.JSON(fiber.Map{
		"reference": reference,
		"state":     order.Status,
		"plan_key":  order.PlanKey,
		"amount":    order.Amount,
		"currency":  order.Currency,
		"paid_at":   formatTimePtr(order.PaidAt),
	})
}

// formatTimePtr renders an optional timestamp as RFC3339 in UTC.
func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
