package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

// Enqueuer hands a stored webhook event to the job queue.
type Enqueuer interface {
	EnqueueWebhookEvent(ctx context.Context, webhookEventID uint) error
}

// Notifier dispatches lifecycle notifications. Errors are logged by the
// caller and never fail the event.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Service ingests, processes and recovers billing webhook events.
type Service struct {
	repo      Repository
	adapters  *Registry
	queue     Enqueuer
	notifier  Notifier
	lookupEnv EnvLookup
	tunables  func() Tunables
	now       func() time.Time
}

type Option func(*Service)

// WithClock replaces the UTC wall clock; all timestamps the service writes come from it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithEnvLookup(lookup EnvLookup) Option {
	return func(s *Service) { s.lookupEnv = lookup }
}

func WithTunables(fn func() Tunables) Option {
	return func(s *Service) { s.tunables = fn }
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, adapters *Registry, queue Enqueuer, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		adapters:  adapters,
		queue:     queue,
		notifier:  notifier,
		lookupEnv: env.GetEnv,
		tunables:  tunablesFromSettings,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.adapters == nil {
		s.adapters = NewDefaultRegistry(nil)
	}
	if s.queue == nil {
		s.queue = noopEnqueuer{}
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, adapters *Registry, queue Enqueuer, notifier Notifier, opts ...Option) *Service {
	return NewService(NewRepository(db), adapters, queue, notifier, opts...)
}

// Adapters exposes the registry, e.g. for signature header lookup.
func (s *Service) Adapters() *Registry {
	return s.adapters
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) currentTunables() Tunables {
	t := s.tunables()
	defaults := models.DefaultAppSettings()
	if t.StaleAfter <= 0 {
		t.StaleAfter = defaults.GetWebhookStaleAfter()
	}
	if t.ReleaseDelay <= 0 {
		t.ReleaseDelay = defaults.GetWebhookReleaseDelay()
	}
	return t
}

func tunablesFromSettings() Tunables {
	settings := models.GetAppSettings()
	if settings == nil {
		settings = models.DefaultAppSettings()
	}
	return Tunables{
		StaleAfter:   settings.GetWebhookStaleAfter(),
		ReleaseDelay: settings.GetWebhookReleaseDelay(),
	}
}

// BillingContext loads the provider row and merges its credentials. Ingestion
// requires the provider to be active; processing of already accepted events
// does not.
func (s *Service) BillingContext(ctx context.Context, provider string, requireActive bool) (*BillingContext, error) {
	slug := strings.ToLower(strings.TrimSpace(provider))
	p, err := s.repo.WithContext(ctx).FindProvider(slug)
	if err != nil {
		return nil, fmt.Errorf("load provider %s: %w", slug, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, slug)
	}
	if requireActive && !p.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrProviderInactive, slug)
	}
	creds, err := ResolveCredentials(p, s.lookupEnv)
	if err != nil {
		return nil, err
	}
	return &BillingContext{Provider: p, Credentials: creds}, nil
}

type noopEnqueuer struct{}

func (noopEnqueuer) EnqueueWebhookEvent(context.Context, uint) error { return nil }

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notice) error { return nil }
