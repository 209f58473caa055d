package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/billingsync/app/models"
)

var pendingPlanChangeKeys = []string{
	models.MetaPendingPlanKey,
	models.MetaPendingPriceKey,
	models.MetaPendingProviderPriceID,
	models.MetaPendingPlanChangeRequestedAt,
}

func (h *handlerRun) applySubscription(ev *CanonicalEvent) error {
	if ev.ProviderEntityID == "" {
		return malformed("%s subscription event without id", ev.Provider)
	}
	existing, err := h.repo.FindSubscriptionByProviderID(ev.Provider, ev.ProviderEntityID)
	if err != nil {
		return err
	}
	if existing != nil && existing.ProviderEventAt != nil && ev.OccurredAt.Before(*existing.ProviderEventAt) {
		log.Infof("[Billing] Skipping out-of-order %s for subscription %s (event at %s, applied %s)",
			ev.EventType, ev.ProviderEntityID, ev.OccurredAt.Format(time.RFC3339), existing.ProviderEventAt.Format(time.RFC3339))
		return nil
	}

	var existingUserID uint
	pending := ""
	if existing != nil {
		existingUserID = existing.UserID
		pending = existing.PendingProviderPriceID()
	}
	userID, err := h.resolveUser(ev, existingUserID)
	if err != nil {
		if errors.Is(err, ErrUserNotResolved) && ev.ProviderCustomerID != "" {
			// Stripe often sends the subscription before the checkout that
			// names the user.
			return fmt.Errorf("%w: %s subscription %s %s", ErrCustomerNotLinked, ev.Provider, ev.ProviderEntityID, customerRef(ev.ProviderCustomerID))
		}
		return err
	}

	confirmed := pending != "" && containsString(ev.PriceIDs, pending)
	priceIDs := ev.PriceIDs
	if confirmed {
		priceIDs = prioritize(priceIDs, pending)
	}
	plan, err := resolvePlan(h.repo, ev.Provider, priceIDs, PlanHints{PlanKey: ev.PlanKeyHint, PriceKey: ev.PriceKeyHint})
	if err != nil {
		return err
	}
	if plan.IsEmpty() {
		if existing == nil || existing.PlanKey == "" {
			return malformed("no plan for %s subscription %s (price ids %v)", ev.Provider, ev.ProviderEntityID, ev.PriceIDs)
		}
		plan = PlanResolution{PlanKey: existing.PlanKey, PriceKey: existing.PriceKey, ProviderPriceID: existing.ProviderPriceID}
	}

	next := nextSubscriptionState(existing, ev, plan, userID, confirmed, h.now)
	if existing == nil {
		created, err := h.repo.CreateSubscription(&next)
		if err != nil {
			return fmt.Errorf("create subscription %s: %w", ev.ProviderEntityID, err)
		}
		if !created {
			return fmt.Errorf("subscription %s/%s was created concurrently", ev.Provider, ev.ProviderEntityID)
		}
	} else if err := h.repo.UpdateSubscription(&next); err != nil {
		return fmt.Errorf("update subscription %d: %w", next.ID, err)
	}
	if confirmed {
		log.Infof("[Billing] Plan change confirmed for subscription %d: %s/%s", next.ID, next.PlanKey, next.PriceKey)
	}

	wantStarted, wantCancelled := subscriptionNotifications(&next, h.now)
	if wantStarted {
		if err := h.claimSubscriptionNotice(&next, GuardWelcomeEmail, models.NotificationSubscriptionStarted); err != nil {
			return err
		}
	}
	if wantCancelled {
		if err := h.claimSubscriptionNotice(&next, GuardCancellationEmail, models.NotificationSubscriptionCancelled); err != nil {
			return err
		}
	}
	return nil
}

func (h *handlerRun) claimSubscriptionNotice(sub *models.Subscription, guard, noticeType string) error {
	won, err := h.repo.ClaimSubscriptionGuard(sub.ID, guard, h.now)
	if err != nil {
		return fmt.Errorf("claim %s for subscription %d: %w", guard, sub.ID, err)
	}
	if !won {
		return nil
	}
	h.notify(Notice{
		Type:          noticeType,
		UserID:        sub.UserID,
		ReferenceType: "subscription",
		ReferenceID:   sub.ID,
		PlanKey:       sub.PlanKey,
		EndsAt:        sub.EndsAt,
	})
	return nil
}

// nextSubscriptionState computes the row after applying ev. It is a pure
// function of the current row and the event so the transitions can be tested
// without a database.
func nextSubscriptionState(existing *models.Subscription, ev *CanonicalEvent, plan PlanResolution, userID uint, planChangeConfirmed bool, now time.Time) models.Subscription {
	var next models.Subscription
	if existing != nil {
		next = *existing
	} else {
		next = models.Subscription{
			Provider:   ev.Provider,
			ProviderID: ev.ProviderEntityID,
			CreatedAt:  now,
		}
	}

	next.UserID = userID
	if ev.ProviderCustomerID != "" {
		next.ProviderCustomerID = ev.ProviderCustomerID
	}
	next.PlanKey = plan.PlanKey
	next.PriceKey = plan.PriceKey
	if plan.ProviderPriceID != "" {
		next.ProviderPriceID = plan.ProviderPriceID
	}
	if ev.Quantity > 0 {
		next.Quantity = ev.Quantity
	} else if next.Quantity == 0 {
		next.Quantity = 1
	}
	if ev.TrialEndsAt != nil {
		next.TrialEndsAt = ev.TrialEndsAt
	}

	meta := datatypes.JSONMap{}
	for k, v := range next.Metadata {
		meta[k] = v
	}
	if plan.PlanKey != "" {
		meta[models.MetaPlanKey] = plan.PlanKey
	}
	if plan.PriceKey != "" {
		meta[models.MetaPriceKey] = plan.PriceKey
	}
	if planChangeConfirmed {
		for _, k := range pendingPlanChangeKeys {
			delete(meta, k)
		}
	}
	next.Metadata = meta

	switch {
	case ev.Status == models.SubscriptionStatusCanceled || ev.Status == models.SubscriptionStatusExpired:
		next.Status = ev.Status
		next.RenewsAt = nil
		endsAt := ev.EndedAt
		if endsAt == nil && ev.ScheduledChange != nil {
			endsAt = ev.ScheduledChange.EffectiveAt
		}
		if endsAt == nil {
			endsAt = next.EndsAt
		}
		if endsAt == nil {
			endsAt = timePtr(now)
		}
		next.EndsAt = endsAt
		if ev.Status == models.SubscriptionStatusCanceled && next.CanceledAt == nil {
			if ev.CanceledAt != nil {
				next.CanceledAt = ev.CanceledAt
			} else {
				next.CanceledAt = timePtr(now)
			}
		}

	case ev.ScheduledChange.IsCancellation():
		// Scheduled cancellation: status stays, access runs until ends_at.
		next.Status = ev.Status
		next.RenewsAt = nil
		if next.CanceledAt == nil {
			next.CanceledAt = timePtr(now)
		}
		next.EndsAt = ev.ScheduledChange.EffectiveAt

	default:
		next.Status = ev.Status
		next.CanceledAt = nil
		next.EndsAt = nil
		if models.IsEntitlingStatus(ev.Status) {
			next.RenewsAt = ev.CurrentPeriodEnd
		} else {
			next.RenewsAt = nil
		}
	}

	if next.ProviderEventAt == nil || ev.OccurredAt.After(*next.ProviderEventAt) {
		next.ProviderEventAt = timePtr(ev.OccurredAt)
	}
	next.UpdatedAt = now
	return next
}

// subscriptionNotifications decides which lifecycle notices the new state
// calls for. The guard columns are re-checked atomically when claimed.
func subscriptionNotifications(sub *models.Subscription, now time.Time) (started, cancelled bool) {
	started = sub.WelcomeEmailSentAt == nil &&
		(sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusTrialing)
	cancelled = sub.CancellationEmailSentAt == nil &&
		(sub.Status == models.SubscriptionStatusCanceled || sub.IsPendingCancellation(now))
	return started, cancelled
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// prioritize moves first to the front of list.
func prioritize(list []string, first string) []string {
	out := make([]string, 0, len(list))
	out = append(out, first)
	for _, s := range list {
		if s != first {
			out = append(out, s)
		}
	}
	return out
}
