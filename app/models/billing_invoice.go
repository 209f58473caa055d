package models

import "time"

// Invoice is a read-mostly mirror of a provider invoice / billed transaction.
type Invoice struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_invoices_provider_id,unique,priority:1" json:"provider"`
	ProviderID             string     `gorm:"type:varchar(191);not null;index:ux_invoices_provider_id,unique,priority:2" json:"provider_id"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_subscription_id"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);not null;default:''" json:"provider_customer_id"`
	Number                 string     `gorm:"type:varchar(100);not null;default:''" json:"number"`
	Status                 string     `gorm:"type:varchar(32);not null;default:''" json:"status"`
	Currency               string     `gorm:"type:varchar(3);not null;default:''" json:"currency"`
	AmountDue              int64      `gorm:"not null;default:0" json:"amount_due"`
	AmountPaid             int64      `gorm:"not null;default:0" json:"amount_paid"`
	IssuedAt               *time.Time `gorm:"type:datetime(6);default:null" json:"issued_at,omitempty"`
	PaidAt                 *time.Time `gorm:"type:datetime(6);default:null" json:"paid_at,omitempty"`
	HostedURL              string     `gorm:"type:varchar(500);not null;default:''" json:"hosted_url"`
	PDFURL                 string     `gorm:"type:varchar(500);not null;default:''" json:"pdf_url"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}
