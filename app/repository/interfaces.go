package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
)

// Pagination bounds for admin listings.
const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

// Page selects one page of a listing. Page is 1-based.
type Page struct {
	Page    int
	PerPage int
}

// Normalize clamps the page into valid bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PerPage
}

// WebhookEventFilter narrows admin webhook event listings.
type WebhookEventFilter struct {
	Status   string
	Provider string
	Type     string
	Page
}

// SubscriptionFilter narrows admin subscription listings.
type SubscriptionFilter struct {
	UserID   uint
	Provider string
	Status   string
	PlanKey  string
	Page
}

// OrderFilter narrows admin order listings.
type OrderFilter struct {
	UserID   uint
	Provider string
	Status   string
	Page
}

// UserRepository defines the user lookups billing needs
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	Exists(id uint) (bool, error)
}

// WebhookEventRepository defines the read and admin operations on stored webhook events
type WebhookEventRepository interface {
	GetByID(id uint) (*models.WebhookEvent, error)
	List(filter WebhookEventFilter) ([]models.WebhookEvent, int64, error)
	CountByStatus() (map[string]int64, error)
	Delete(id uint) (bool, error)
}

// SubscriptionRepository defines read operations on subscriptions
type SubscriptionRepository interface {
	GetByID(id uint) (*models.Subscription, error)
	List(filter SubscriptionFilter) ([]models.Subscription, int64, error)
	ListByUserID(userID uint) ([]models.Subscription, error)
}

// OrderRepository defines read operations on orders
type OrderRepository interface {
	GetByID(id uint) (*models.Order, error)
	GetByReference(reference string) (*models.Order, error)
	List(filter OrderFilter) ([]models.Order, int64, error)
}

// SettingRepository reads and changes the runtime tunables
type SettingRepository interface {
	Current() (*models.AppSettings, error)
	Update(key string, value int) (*models.AppSettings, error)
	Reset() (*models.AppSettings, error)
}

// QueueRepository defines the interface for job queue inspection in Redis
type QueueRepository interface {
	GetListLength(key string) (int64, error)
	GetSortedSetSize(key string) (int64, error)
	GetHash(key string) (map[string]string, error)
	FindKeysByPatterns(patterns []string) ([]string, error)
	DeleteKeys(keys []string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	WebhookEvent WebhookEventRepository
	Subscription SubscriptionRepository
	Order        OrderRepository
	Setting      SettingRepository
	Queue        QueueRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Order:        NewOrderRepository(db),
		Setting:      NewSettingRepository(db),
		Queue:        NewQueueRepository(),
	}
}
