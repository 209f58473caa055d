package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Billing provider slugs.
const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
)

// PaymentProvider is the admin-configured provider row. Configuration holds
// secrets (webhook_secret, secret_key, api_base_url) that override env values.
type PaymentProvider struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	Slug          string            `gorm:"type:varchar(20);not null;uniqueIndex" json:"slug"`
	Name          string            `gorm:"type:varchar(100);not null;default:''" json:"name"`
	IsActive      bool              `gorm:"default:true" json:"is_active"`
	Configuration datatypes.JSONMap `json:"-"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// ConfigString returns a trimmed string value from the configuration bag.
func (p *PaymentProvider) ConfigString(key string) string {
	if p == nil || p.Configuration == nil {
		return ""
	}
	v, ok := p.Configuration[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
