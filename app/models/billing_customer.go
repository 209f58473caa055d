package models

import "time"

// BillingCustomer links a provider customer id to a local user.
type BillingCustomer struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             uint      `gorm:"not null;index" json:"user_id"`
	Provider           string    `gorm:"type:varchar(20);not null;index:ux_billing_customers_provider_customer,unique,priority:1" json:"provider"`
	ProviderCustomerID string    `gorm:"type:varchar(191);not null;index:ux_billing_customers_provider_customer,unique,priority:2" json:"provider_customer_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
