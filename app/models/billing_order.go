package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OrderStatusPending  = "pending"
	OrderStatusFailed   = "failed"
	OrderStatusPaid     = "paid"
	OrderStatusRefunded = "refunded"
)

// Order is a one-time purchase. Identity is (provider, provider_id); the
// payment reference (payment intent / transaction id) merges late events
// that only carry the payment id into the same row.
type Order struct {
	ID                        uint              `gorm:"primaryKey" json:"id"`
	UserID                    uint              `gorm:"not null;index" json:"user_id"`
	Provider                  string            `gorm:"type:varchar(20);not null;index:ux_orders_provider_id,unique,priority:1;index:idx_orders_provider_payment_ref,priority:1" json:"provider"`
	ProviderID                string            `gorm:"type:varchar(191);not null;index:ux_orders_provider_id,unique,priority:2" json:"provider_id"`
	PaymentReference          string            `gorm:"type:varchar(191);not null;default:'';index:idx_orders_provider_payment_ref,priority:2" json:"payment_reference"`
	ProviderCustomerID        string            `gorm:"type:varchar(191);default:''" json:"provider_customer_id"`
	PlanKey                   string            `gorm:"type:varchar(100);not null;default:''" json:"plan_key"`
	Status                    string            `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Amount                    int64             `gorm:"not null;default:0" json:"amount"`
	Currency                  string            `gorm:"type:varchar(3);not null;default:''" json:"currency"`
	PaidAt                    *time.Time        `gorm:"type:datetime(6);default:null" json:"paid_at,omitempty"`
	Metadata                  datatypes.JSONMap `json:"metadata"`
	PaymentSuccessEmailSentAt *time.Time        `gorm:"type:datetime(6);default:null" json:"payment_success_email_sent_at,omitempty"`
	CreatedAt                 time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderStatusRank orders statuses so that a late event never regresses a row:
// pending < failed < paid < refunded.
func OrderStatusRank(status string) int {
	switch status {
	case OrderStatusRefunded:
		return 3
	case OrderStatusPaid:
		return 2
	case OrderStatusFailed:
		return 1
	default:
		return 0
	}
}
