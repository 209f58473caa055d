package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/billingsync/app/models"
)

// Guard columns that can be claimed with ClaimSubscriptionGuard / ClaimOrderGuard.
const (
	GuardWelcomeEmail        = "welcome_email_sent_at"
	GuardCancellationEmail   = "cancellation_email_sent_at"
	GuardPaymentSuccessEmail = "payment_success_email_sent_at"
)

var subscriptionSyncColumns = []string{
	"user_id",
	"provider_customer_id",
	"plan_key",
	"price_key",
	"provider_price_id",
	"status",
	"quantity",
	"trial_ends_at",
	"renews_at",
	"ends_at",
	"canceled_at",
	"metadata",
	"provider_event_at",
	"updated_at",
}

var orderSyncColumns = []string{
	"user_id",
	"payment_reference",
	"provider_customer_id",
	"plan_key",
	"status",
	"amount",
	"currency",
	"paid_at",
	"metadata",
	"updated_at",
}

var invoiceSyncColumns = []string{
	"user_id",
	"provider_subscription_id",
	"provider_customer_id",
	"number",
	"status",
	"currency",
	"amount_due",
	"amount_paid",
	"issued_at",
	"paid_at",
	"hosted_url",
	"pdf_url",
	"updated_at",
}

// Repository provides DB operations used by the billing service. Find*
// methods return (nil, nil) when nothing matches.
type Repository interface {
	WithContext(ctx context.Context) Repository
	Transaction(ctx context.Context, fn func(Repository) error) error

	FindProvider(slug string) (*models.PaymentProvider, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetWebhookEvent(id uint) (*models.WebhookEvent, error)
	ResetWebhookEvent(id uint, from string, staleBefore *time.Time, resetAttempts bool, now time.Time) (bool, error)
	ClaimWebhookEvent(id uint, staleBefore, now time.Time) (bool, error)
	MarkWebhookProcessed(id uint, now time.Time) error
	MarkWebhookFailed(id uint, message string, now time.Time) error
	ListWebhookEventIDs(status string, updatedBefore *time.Time, provider string, limit int) ([]uint, error)
	ListWebhookEventIDsAwaitingCustomer(provider, customerID string, limit int) ([]uint, error)

	FindActivePriceMapping(provider, providerPriceID string) (*models.PriceProviderMapping, error)
	FindPriceByKey(key string) (*models.Price, error)
	FindPriceMappingForPrice(priceID uint, provider string) (*models.PriceProviderMapping, error)

	FindCustomerUserID(provider, providerCustomerID string) (uint, error)
	UpsertCustomer(customer *models.BillingCustomer) error

	GetSubscription(id uint) (*models.Subscription, error)
	FindSubscriptionByProviderID(provider, providerID string) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) (bool, error)
	UpdateSubscription(sub *models.Subscription) error
	UpdateSubscriptionMetadata(id uint, metadata map[string]interface{}, now time.Time) error
	ClaimSubscriptionGuard(id uint, guard string, now time.Time) (bool, error)

	FindOrderByProviderID(provider, providerID string) (*models.Order, error)
	FindOrderByPaymentReference(provider, reference string) (*models.Order, error)
	CreateOrder(order *models.Order) (bool, error)
	UpdateOrder(order *models.Order) error
	ClaimOrderGuard(id uint, guard string, now time.Time) (bool, error)

	FindInvoiceByProviderID(provider, providerID string) (*models.Invoice, error)
	CreateInvoice(invoice *models.Invoice) (bool, error)
	UpdateInvoice(invoice *models.Invoice) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// WithContext returns a repository whose queries are bound to ctx.
func (r *gormRepository) WithContext(ctx context.Context) Repository {
	return &gormRepository{db: r.db.WithContext(ctx)}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) FindProvider(slug string) (*models.PaymentProvider, error) {
	var p models.PaymentProvider
	return firstOrNil(r.db.Where("slug = ?", slug).First(&p), &p)
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND event_id = ?", event.Provider, event.EventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(id uint) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	if err := r.db.First(&ev, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// ResetWebhookEvent moves a row from status `from` back to received. With
// staleBefore set, only rows untouched since then qualify. The status check
// in the WHERE clause is what keeps two callers from both winning.
func (r *gormRepository) ResetWebhookEvent(id uint, from string, staleBefore *time.Time, resetAttempts bool, now time.Time) (bool, error) {
	q := r.db.Model(&models.WebhookEvent{}).Where("id = ? AND status = ?", id, from)
	if staleBefore != nil {
		q = q.Where("updated_at < ?", *staleBefore)
	}
	updates := map[string]interface{}{
		"status":        models.WebhookStatusReceived,
		"error_message": nil,
		"updated_at":    now,
	}
	if resetAttempts {
		updates["attempts"] = 0
	}
	res := q.Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// ClaimWebhookEvent flips received (or stale processing) to processing.
func (r *gormRepository) ClaimWebhookEvent(id uint, staleBefore, now time.Time) (bool, error) {
	res := r.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND (status = ? OR (status = ? AND updated_at < ?))",
			id, models.WebhookStatusReceived, models.WebhookStatusProcessing, staleBefore).
		Updates(map[string]interface{}{
			"status":     models.WebhookStatusProcessing,
			"updated_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *gormRepository) MarkWebhookProcessed(id uint, now time.Time) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        models.WebhookStatusProcessed,
		"processed_at":  now,
		"error_message": nil,
		"updated_at":    now,
	}).Error
}

func (r *gormRepository) MarkWebhookFailed(id uint, message string, now time.Time) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        models.WebhookStatusFailed,
		"error_message": message,
		"attempts":      gorm.Expr("attempts + 1"),
		"updated_at":    now,
	}).Error
}

func (r *gormRepository) ListWebhookEventIDs(status string, updatedBefore *time.Time, provider string, limit int) ([]uint, error) {
	q := r.db.Model(&models.WebhookEvent{}).Where("status = ?", status)
	if updatedBefore != nil {
		q = q.Where("updated_at < ?", *updatedBefore)
	}
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []uint
	err := q.Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// ListWebhookEventIDsAwaitingCustomer returns failed events of a provider
// whose last error was the given customer not being linked yet.
func (r *gormRepository) ListWebhookEventIDsAwaitingCustomer(provider, customerID string, limit int) ([]uint, error) {
	pattern := "%" + likeEscaper.Replace(ErrCustomerNotLinked.Error()) + "%" + likeEscaper.Replace(customerRef(customerID)) + "%"
	q := r.db.Model(&models.WebhookEvent{}).
		Where("status = ? AND provider = ?", models.WebhookStatusFailed, provider).
		Where("error_message LIKE ? ESCAPE '!'", pattern)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []uint
	err := q.Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

func (r *gormRepository) FindActivePriceMapping(provider, providerPriceID string) (*models.PriceProviderMapping, error) {
	var m models.PriceProviderMapping
	return firstOrNil(r.db.Preload("Price.Product").
		Where("provider = ? AND provider_price_id = ? AND is_active = ?", provider, providerPriceID, true).
		First(&m), &m)
}

func (r *gormRepository) FindPriceByKey(key string) (*models.Price, error) {
	var p models.Price
	return firstOrNil(r.db.Preload("Product").Where("`key` = ?", key).First(&p), &p)
}

func (r *gormRepository) FindPriceMappingForPrice(priceID uint, provider string) (*models.PriceProviderMapping, error) {
	var m models.PriceProviderMapping
	return firstOrNil(r.db.Where("price_id = ? AND provider = ? AND is_active = ?", priceID, provider, true).
		Order("id DESC").First(&m), &m)
}

func (r *gormRepository) FindCustomerUserID(provider, providerCustomerID string) (uint, error) {
	var c models.BillingCustomer
	found, err := firstOrNil(r.db.Where("provider = ? AND provider_customer_id = ?", provider, providerCustomerID).First(&c), &c)
	if err != nil || found == nil {
		return 0, err
	}
	return found.UserID, nil
}

func (r *gormRepository) UpsertCustomer(customer *models.BillingCustomer) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_customer_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "updated_at"}),
	}).Create(customer).Error
}

func (r *gormRepository) GetSubscription(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	found, err := firstOrNil(r.db.First(&sub, id), &sub)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrSubscriptionNotFound
	}
	return found, nil
}

func (r *gormRepository) FindSubscriptionByProviderID(provider, providerID string) (*models.Subscription, error) {
	var sub models.Subscription
	return firstOrNil(r.db.Where("provider = ? AND provider_id = ?", provider, providerID).First(&sub), &sub)
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) (bool, error) {
	return createIfAbsent(r.db, sub, "provider", "provider_id")
}

func (r *gormRepository) UpdateSubscription(sub *models.Subscription) error {
	return r.db.Model(sub).Select(subscriptionSyncColumns).Updates(sub).Error
}

func (r *gormRepository) UpdateSubscriptionMetadata(id uint, metadata map[string]interface{}, now time.Time) error {
	sub := models.Subscription{ID: id, Metadata: metadata, UpdatedAt: now}
	return r.db.Model(&sub).Select("metadata", "updated_at").Updates(&sub).Error
}

func (r *gormRepository) ClaimSubscriptionGuard(id uint, guard string, now time.Time) (bool, error) {
	if guard != GuardWelcomeEmail && guard != GuardCancellationEmail {
		return false, fmt.Errorf("unknown subscription guard %q", guard)
	}
	return claimGuard(r.db.Model(&models.Subscription{}), id, guard, now)
}

func (r *gormRepository) FindOrderByProviderID(provider, providerID string) (*models.Order, error) {
	var o models.Order
	return firstOrNil(r.db.Where("provider = ? AND provider_id = ?", provider, providerID).First(&o), &o)
}

func (r *gormRepository) FindOrderByPaymentReference(provider, reference string) (*models.Order, error) {
	var o models.Order
	return firstOrNil(r.db.Where("provider = ? AND payment_reference = ?", provider, reference).
		Order("id ASC").First(&o), &o)
}

func (r *gormRepository) CreateOrder(order *models.Order) (bool, error) {
	return createIfAbsent(r.db, order, "provider", "provider_id")
}

func (r *gormRepository) UpdateOrder(order *models.Order) error {
	return r.db.Model(order).Select(orderSyncColumns).Updates(order).Error
}

func (r *gormRepository) ClaimOrderGuard(id uint, guard string, now time.Time) (bool, error) {
	if guard != GuardPaymentSuccessEmail {
		return false, fmt.Errorf("unknown order guard %q", guard)
	}
	return claimGuard(r.db.Model(&models.Order{}), id, guard, now)
}

func (r *gormRepository) FindInvoiceByProviderID(provider, providerID string) (*models.Invoice, error) {
	var inv models.Invoice
	return firstOrNil(r.db.Where("provider = ? AND provider_id = ?", provider, providerID).First(&inv), &inv)
}

func (r *gormRepository) CreateInvoice(invoice *models.Invoice) (bool, error) {
	return createIfAbsent(r.db, invoice, "provider", "provider_id")
}

func (r *gormRepository) UpdateInvoice(invoice *models.Invoice) error {
	return r.db.Model(invoice).Select(invoiceSyncColumns).Updates(invoice).Error
}

func firstOrNil[T any](tx *gorm.DB, out *T) (*T, error) {
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, tx.Error
	}
	return out, nil
}

// createIfAbsent inserts row unless its identity already exists. A false
// result means a concurrent writer created it first.
func createIfAbsent(db *gorm.DB, row interface{}, identity ...string) (bool, error) {
	cols := make([]clause.Column, 0, len(identity))
	for _, name := range identity {
		cols = append(cols, clause.Column{Name: name})
	}
	tx := db.Clauses(clause.OnConflict{Columns: cols, DoNothing: true}).Create(row)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// claimGuard sets a set-once timestamp column. Only the caller whose UPDATE
// matched the NULL row may send the guarded notification.
func claimGuard(q *gorm.DB, id uint, guard string, now time.Time) (bool, error) {
	res := q.Where("id = ?", id).Where(guard+" IS NULL").Update(guard, now)
	return res.RowsAffected > 0, res.Error
}
