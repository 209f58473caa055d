package repository

import (
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
)

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) GetByID(id uint) (*models.Order, error) {
	var o models.Order
	if err := r.db.First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// GetByReference finds an order by checkout session / transaction id or by
// payment reference.
func (r *orderRepository) GetByReference(reference string) (*models.Order, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var o models.Order
	err := r.db.Where("provider_id = ? OR payment_reference = ?", ref, ref).
		Order("id ASC").
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepository) List(filter OrderFilter) ([]models.Order, int64, error) {
	q := r.db.Model(&models.Order{})
	if filter.UserID > 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if p := strings.ToLower(strings.TrimSpace(filter.Provider)); p != "" {
		q = q.Where("provider = ?", p)
	}
	if s := strings.TrimSpace(filter.Status); s != "" {
		q = q.Where("status = ?", s)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page := filter.Page.Normalize()
	var orders []models.Order
	if err := q.Order("id DESC").Offset(page.Offset()).Limit(page.PerPage).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
