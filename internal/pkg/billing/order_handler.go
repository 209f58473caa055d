package billing

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/billingsync/app/models"
)

// applyOrder upserts a one-time purchase. Events that only know the payment
// (async payment results, refunds) merge into the row found by payment
// reference instead of creating a second order.
func (h *handlerRun) applyOrder(ev *CanonicalEvent) error {
	var existing *models.Order
	var err error
	if ev.ProviderEntityID != "" {
		if existing, err = h.repo.FindOrderByProviderID(ev.Provider, ev.ProviderEntityID); err != nil {
			return err
		}
	}
	if existing == nil && ev.PaymentReference != "" {
		if existing, err = h.repo.FindOrderByPaymentReference(ev.Provider, ev.PaymentReference); err != nil {
			return err
		}
	}
	if existing == nil && ev.ProviderEntityID == "" {
		log.Infof("[Billing] %s for unknown %s payment %s, nothing to update", ev.EventType, ev.Provider, ev.PaymentReference)
		return nil
	}

	var existingUserID uint
	if existing != nil {
		existingUserID = existing.UserID
	}
	userID, err := h.resolveUser(ev, existingUserID)
	if err != nil {
		return err
	}
	plan, err := resolvePlan(h.repo, ev.Provider, ev.PriceIDs, PlanHints{PlanKey: ev.PlanKeyHint, PriceKey: ev.PriceKeyHint})
	if err != nil {
		return err
	}

	next := nextOrderState(existing, ev, plan, userID, h.now)
	if existing == nil {
		created, err := h.repo.CreateOrder(&next)
		if err != nil {
			return fmt.Errorf("create order %s: %w", ev.ProviderEntityID, err)
		}
		if !created {
			return fmt.Errorf("order %s/%s was created concurrently", ev.Provider, ev.ProviderEntityID)
		}
	} else {
		if existing.Status != next.Status {
			log.Infof("[Billing] Order %d %s -> %s", existing.ID, existing.Status, next.Status)
		}
		if err := h.repo.UpdateOrder(&next); err != nil {
			return fmt.Errorf("update order %d: %w", next.ID, err)
		}
	}

	if next.Status != models.OrderStatusPaid || next.PaymentSuccessEmailSentAt != nil {
		return nil
	}
	won, err := h.repo.ClaimOrderGuard(next.ID, GuardPaymentSuccessEmail, h.now)
	if err != nil {
		return fmt.Errorf("claim payment notice for order %d: %w", next.ID, err)
	}
	if won {
		h.notify(Notice{
			Type:          models.NotificationPaymentSucceeded,
			UserID:        next.UserID,
			ReferenceType: "order",
			ReferenceID:   next.ID,
			PlanKey:       next.PlanKey,
			Amount:        next.Amount,
			Currency:      next.Currency,
		})
	}
	return nil
}

// nextOrderState never lets status move down the rank
// pending < failed < paid < refunded, so late events cannot regress a row.
func nextOrderState(existing *models.Order, ev *CanonicalEvent, plan PlanResolution, userID uint, now time.Time) models.Order {
	var next models.Order
	if existing != nil {
		next = *existing
	} else {
		next = models.Order{
			Provider:   ev.Provider,
			ProviderID: ev.ProviderEntityID,
			Status:     models.OrderStatusPending,
			CreatedAt:  now,
		}
	}

	next.UserID = userID
	if next.PaymentReference == "" && ev.PaymentReference != "" {
		next.PaymentReference = ev.PaymentReference
	}
	if ev.ProviderCustomerID != "" {
		next.ProviderCustomerID = ev.ProviderCustomerID
	}
	if ev.AmountMinor > 0 {
		next.Amount = ev.AmountMinor
	}
	if ev.Currency != "" {
		next.Currency = ev.Currency
	}

	meta := datatypes.JSONMap{}
	for k, v := range next.Metadata {
		meta[k] = v
	}
	if !plan.IsEmpty() {
		next.PlanKey = plan.PlanKey
		if plan.PriceKey != "" {
			meta[models.MetaPriceKey] = plan.PriceKey
		}
		if plan.ProviderPriceID != "" {
			meta["provider_price_id"] = plan.ProviderPriceID
		}
	}
	next.Metadata = meta

	if ev.Status != "" && models.OrderStatusRank(ev.Status) > models.OrderStatusRank(next.Status) {
		next.Status = ev.Status
	}
	if next.PaidAt == nil && (next.Status == models.OrderStatusPaid || next.Status == models.OrderStatusRefunded) {
		if ev.PaidAt != nil {
			next.PaidAt = ev.PaidAt
		} else if next.Status == models.OrderStatusPaid {
			next.PaidAt = timePtr(now)
		}
	}
	next.UpdatedAt = now
	return next
}
