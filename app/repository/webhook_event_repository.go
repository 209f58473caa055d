package repository

import (
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// GetByID retrieves one stored event including its payload
func (r *webhookEventRepository) GetByID(id uint) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	if err := r.db.First(&ev, id).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// List returns events newest first. Payloads are omitted from listings.
func (r *webhookEventRepository) List(filter WebhookEventFilter) ([]models.WebhookEvent, int64, error) {
	q := r.db.Model(&models.WebhookEvent{})
	if s := strings.TrimSpace(filter.Status); s != "" {
		q = q.Where("status = ?", s)
	}
	if p := strings.ToLower(strings.TrimSpace(filter.Provider)); p != "" {
		q = q.Where("provider = ?", p)
	}
	if t := strings.TrimSpace(filter.Type); t != "" {
		q = q.Where("type = ?", t)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page.Normalize()
	var events []models.WebhookEvent
	err := q.Omit("payload").
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.PerPage).
		Find(&events).Error
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// CountByStatus groups stored events by status
func (r *webhookEventRepository) CountByStatus() (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.Model(&models.WebhookEvent{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{
		models.WebhookStatusReceived:   0,
		models.WebhookStatusProcessing: 0,
		models.WebhookStatusProcessed:  0,
		models.WebhookStatusFailed:     0,
	}
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// Delete removes an event row. Only the admin API deletes events.
func (r *webhookEventRepository) Delete(id uint) (bool, error) {
	res := r.db.Delete(&models.WebhookEvent{}, id)
	return res.RowsAffected > 0, res.Error
}
