package models

import "time"

// Product is a sellable plan; its Key is the plan_key stored on subscriptions and orders.
type Product struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"key"`
	Name      string    `gorm:"type:varchar(200);not null;default:''" json:"name"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Price is a purchasable price point of a product.
type Price struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProductID uint      `gorm:"not null;index" json:"product_id"`
	Product   Product   `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Key       string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"key"`
	Interval  string    `gorm:"type:varchar(16);not null;default:'once'" json:"interval"`
	Amount    int64     `gorm:"not null;default:0" json:"amount"`
	Currency  string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PriceProviderMapping maps a provider-specific price id to a local Price.
type PriceProviderMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PriceID         uint      `gorm:"not null;index" json:"price_id"`
	Price           Price     `gorm:"foreignKey:PriceID" json:"price,omitempty"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_price_provider_mappings_ref,unique,priority:1" json:"provider"`
	ProviderPriceID string    `gorm:"type:varchar(191);not null;index:ux_price_provider_mappings_ref,unique,priority:2" json:"provider_price_id"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
