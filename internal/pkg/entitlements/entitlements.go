package entitlements

import (
	"time"

	"github.com/ManuelReschke/billingsync/app/models"
)

// Access sources.
const (
	SourceNone         = "none"
	SourceSubscription = "subscription"
	SourceOrder        = "order"
)

// Access is the effective billing state of a user as seen by the product.
type Access struct {
	HasAccess           bool       `json:"has_access"`
	Source              string     `json:"source"`
	PlanKey             string     `json:"plan_key,omitempty"`
	Status              string     `json:"status,omitempty"`
	SubscriptionID      uint       `json:"subscription_id,omitempty"`
	OrderID             uint       `json:"order_id,omitempty"`
	PendingCancellation bool       `json:"pending_cancellation"`
	PendingPlanKey      string     `json:"pending_plan_key,omitempty"`
	RenewsAt            *time.Time `json:"renews_at,omitempty"`
	EndsAt              *time.Time `json:"ends_at,omitempty"`
}

// Resolve picks the access-granting record for a user. A subscription in an
// entitling status beats one that is canceled but still inside its paid
// period; a paid one-time order only counts when no subscription grants access.
func Resolve(subs []models.Subscription, orders []models.Order, now time.Time) Access {
	var best *models.Subscription
	for i := range subs {
		sub := &subs[i]
		if !sub.HasAccess(now) {
			continue
		}
		if best == nil || subscriptionRank(sub) > subscriptionRank(best) ||
			(subscriptionRank(sub) == subscriptionRank(best) && sub.UpdatedAt.After(best.UpdatedAt)) {
			best = sub
		}
	}
	if best != nil {
		return Access{
			HasAccess:           true,
			Source:              SourceSubscription,
			PlanKey:             best.PlanKey,
			Status:              best.Status,
			SubscriptionID:      best.ID,
			PendingCancellation: best.IsPendingCancellation(now),
			PendingPlanKey:      best.MetaString(models.MetaPendingPlanKey),
			RenewsAt:            best.RenewsAt,
			EndsAt:              best.EndsAt,
		}
	}

	var paid *models.Order
	for i := range orders {
		o := &orders[i]
		if o.Status != models.OrderStatusPaid {
			continue
		}
		if paid == nil || o.UpdatedAt.After(paid.UpdatedAt) {
			paid = o
		}
	}
	if paid != nil {
		return Access{
			HasAccess: true,
			Source:    SourceOrder,
			PlanKey:   paid.PlanKey,
			Status:    paid.Status,
			OrderID:   paid.ID,
		}
	}
	return Access{Source: SourceNone}
}

func subscriptionRank(sub *models.Subscription) int {
	switch sub.Status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing:
		return 2
	case models.SubscriptionStatusPastDue:
		return 1
	default:
		return 0
	}
}
