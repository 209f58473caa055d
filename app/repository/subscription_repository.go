package repository

import (
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) List(filter SubscriptionFilter) ([]models.Subscription, int64, error) {
	q := r.db.Model(&models.Subscription{})
	if filter.UserID > 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if p := strings.ToLower(strings.TrimSpace(filter.Provider)); p != "" {
		q = q.Where("provider = ?", p)
	}
	if s := strings.TrimSpace(filter.Status); s != "" {
		q = q.Where("status = ?", s)
	}
	if k := strings.TrimSpace(filter.PlanKey); k != "" {
		q = q.Where("plan_key = ?", k)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page := filter.Page.Normalize()
	var subs []models.Subscription
	if err := q.Order("id DESC").Offset(page.Offset()).Limit(page.PerPage).Find(&subs).Error; err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

// ListByUserID returns all subscriptions of a user, most recently updated first
func (r *subscriptionRepository) ListByUserID(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("user_id = ?", userID).Order("updated_at DESC, id DESC").Find(&subs).Error
	return subs, err
}
