package models

import "time"

// Webhook event processing states.
const (
	WebhookStatusReceived   = "received"
	WebhookStatusProcessing = "processing"
	WebhookStatusProcessed  = "processed"
	WebhookStatusFailed     = "failed"
)

// WebhookEvent stores every inbound provider webhook. The (provider, event_id)
// pair is the de-duplication key; the payload is never rewritten once stored.
type WebhookEvent struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Provider     string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	EventID      string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"event_id"`
	Type         string     `gorm:"type:varchar(100);not null;index" json:"type"`
	Payload      string     `gorm:"type:longtext;not null" json:"payload"`
	Status       string     `gorm:"type:varchar(20);not null;default:'received';index:idx_webhook_events_status_updated,priority:1" json:"status"`
	ErrorMessage *string    `gorm:"type:text" json:"error_message,omitempty"`
	Attempts     int        `gorm:"not null;default:0" json:"attempts"`
	ReceivedAt   time.Time  `gorm:"type:datetime(6);not null" json:"received_at"`
	ProcessedAt  *time.Time `gorm:"type:datetime(6);default:null" json:"processed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime;index:idx_webhook_events_status_updated,priority:2" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// IsStale reports whether the row has not been touched for longer than threshold.
func (e *WebhookEvent) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(e.UpdatedAt) > threshold
}

// Error returns the stored error message or an empty string.
func (e *WebhookEvent) Error() string {
	if e.ErrorMessage == nil {
		return ""
	}
	return *e.ErrorMessage
}
