package models

import (
	"time"

	"gorm.io/gorm"
)

// Billing notification types.
const (
	NotificationSubscriptionStarted   = "subscription_started"
	NotificationSubscriptionCancelled = "subscription_cancelled"
	NotificationPaymentSucceeded      = "payment_succeeded"
)

type Notification struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"index" json:"user_id"`
	Type          string    `gorm:"type:varchar(50)" json:"type" validate:"oneof=subscription_started subscription_cancelled payment_succeeded"`
	Content       string    `gorm:"type:text" json:"content"`
	IsRead        bool      `gorm:"default:false" json:"is_read"`
	ReferenceType string    `gorm:"type:varchar(50);default:''" json:"reference_type"` // subscription | order
	ReferenceID   uint      `json:"reference_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// MarkAsRead marks the notification as read
func (n *Notification) MarkAsRead(db *gorm.DB) error {
	n.IsRead = true
	return db.Model(n).Update("is_read", true).Error
}

// CreateNotification stores a new inbox notification for a user
func CreateNotification(db *gorm.DB, userID uint, notificationType, content, referenceType string, referenceID uint) (*Notification, error) {
	notification := Notification{
		UserID:        userID,
		Type:          notificationType,
		Content:       content,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		IsRead:        false,
	}

	if err := db.Create(&notification).Error; err != nil {
		return nil, err
	}
	return &notification, nil
}
