package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusPaused     = "paused"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusExpired    = "expired"
)

// Metadata keys used to track a locally requested plan change until the
// provider confirms the new price.
const (
	MetaPendingPlanKey               = "pending_plan_key"
	MetaPendingPriceKey              = "pending_price_key"
	MetaPendingProviderPriceID       = "pending_provider_price_id"
	MetaPendingPlanChangeRequestedAt = "pending_plan_change_requested_at"
	MetaPlanKey                      = "plan_key"
	MetaPriceKey                     = "price_key"
)

// Subscription mirrors a provider subscription. Identity is (provider, provider_id).
type Subscription struct {
	ID                      uint              `gorm:"primaryKey" json:"id"`
	UserID                  uint              `gorm:"not null;index" json:"user_id"`
	Provider                string            `gorm:"type:varchar(20);not null;index:ux_subscriptions_provider_id,unique,priority:1;index:idx_subscriptions_provider_status,priority:1" json:"provider"`
	ProviderID              string            `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_id,unique,priority:2" json:"provider_id"`
	ProviderCustomerID      string            `gorm:"type:varchar(191);default:'';index" json:"provider_customer_id"`
	PlanKey                 string            `gorm:"type:varchar(100);not null;default:'';index" json:"plan_key"`
	PriceKey                string            `gorm:"type:varchar(100);not null;default:''" json:"price_key"`
	ProviderPriceID         string            `gorm:"type:varchar(191);not null;default:''" json:"provider_price_id"`
	Status                  string            `gorm:"type:varchar(32);not null;default:'active';index:idx_subscriptions_provider_status,priority:2" json:"status"`
	Quantity                int               `gorm:"not null;default:1" json:"quantity"`
	TrialEndsAt             *time.Time        `gorm:"type:datetime(6);default:null" json:"trial_ends_at,omitempty"`
	RenewsAt                *time.Time        `gorm:"type:datetime(6);default:null" json:"renews_at,omitempty"`
	EndsAt                  *time.Time        `gorm:"type:datetime(6);default:null" json:"ends_at,omitempty"`
	CanceledAt              *time.Time        `gorm:"type:datetime(6);default:null" json:"canceled_at,omitempty"`
	Metadata                datatypes.JSONMap `json:"metadata"`
	WelcomeEmailSentAt      *time.Time        `gorm:"type:datetime(6);default:null" json:"welcome_email_sent_at,omitempty"`
	CancellationEmailSentAt *time.Time        `gorm:"type:datetime(6);default:null" json:"cancellation_email_sent_at,omitempty"`
	ProviderEventAt         *time.Time        `gorm:"type:datetime(6);default:null" json:"provider_event_at,omitempty"`
	CreatedAt               time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// IsEntitlingStatus reports whether a status grants access.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// IsPendingCancellation is true while a cancellation is scheduled but access
// continues until EndsAt.
func (s *Subscription) IsPendingCancellation(now time.Time) bool {
	if s.CanceledAt == nil || s.EndsAt == nil || !s.EndsAt.After(now) {
		return false
	}
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// HasAccess reports whether the subscription currently grants access.
func (s *Subscription) HasAccess(now time.Time) bool {
	if IsEntitlingStatus(s.Status) {
		return true
	}
	return s.Status == SubscriptionStatusCanceled && s.EndsAt != nil && s.EndsAt.After(now)
}

// MetaString reads a string value from the metadata bag.
func (s *Subscription) MetaString(key string) string {
	if s.Metadata == nil {
		return ""
	}
	v, ok := s.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	str, _ := v.(string)
	return strings.TrimSpace(str)
}

// PendingProviderPriceID returns the provider price id a local plan change is waiting for.
func (s *Subscription) PendingProviderPriceID() string {
	return s.MetaString(MetaPendingProviderPriceID)
}

// HasPendingPlanChange reports whether a requested plan change is unconfirmed.
func (s *Subscription) HasPendingPlanChange() bool {
	return s.PendingProviderPriceID() != ""
}
