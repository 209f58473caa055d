package billing

import (
	"time"

	"github.com/ManuelReschke/billingsync/app/models"
)

// Entity kinds a canonical event can target.
const (
	EntitySubscription = "subscription"
	EntityOrder        = "order"
	EntityInvoice      = "invoice"
	EntityCustomer     = "customer"
	EntityIgnored      = "ignored"
)

// Canonical scheduled-change actions.
const (
	ScheduledActionCancel = "cancel"
	ScheduledActionPause  = "pause"
)

// Envelope is the provider-independent header of a webhook payload. It is all
// the ingestion path needs to de-duplicate a delivery.
type Envelope struct {
	EventID    string
	EventType  string
	OccurredAt time.Time
}

// ScheduledChange is a provider-announced future change, e.g. a cancellation
// at period end.
type ScheduledChange struct {
	Action      string
	EffectiveAt *time.Time
}

// IsCancellation reports whether the change is a dated cancellation. The date
// may already have passed when the event is processed late.
func (c *ScheduledChange) IsCancellation() bool {
	return c != nil && c.Action == ScheduledActionCancel && c.EffectiveAt != nil
}

// CanonicalEvent is the provider-agnostic representation of a webhook
// payload produced by an Adapter.
type CanonicalEvent struct {
	Provider   string
	EventType  string
	Entity     string
	OccurredAt time.Time

	ProviderEntityID       string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	// PaymentReference is the payment intent / transaction id used to merge
	// events that refer to the same purchase by payment rather than by entity.
	PaymentReference string

	// UserID comes from provider metadata (client_reference_id, custom_data.user_id).
	UserID uint

	// Status is already mapped onto the local enum of the target entity.
	Status   string
	PriceIDs []string
	Quantity int

	Currency    string
	AmountMinor int64
	AmountDue   int64
	AmountPaid  int64

	// Plan hints from payload metadata. Only used when no price id maps.
	PlanKeyHint  string
	PriceKeyHint string

	TrialEndsAt      *time.Time
	CurrentPeriodEnd *time.Time
	CanceledAt       *time.Time
	EndedAt          *time.Time
	ScheduledChange  *ScheduledChange

	Number    string
	IssuedAt  *time.Time
	PaidAt    *time.Time
	HostedURL string
	PDFURL    string
}

// BillingContext is passed explicitly into adapters and handlers instead of
// reading configuration globally.
type BillingContext struct {
	Provider    *models.PaymentProvider
	Credentials ResolvedCredentials
}

// Tunables are the runtime knobs of ingestion and processing.
type Tunables struct {
	StaleAfter   time.Duration
	ReleaseDelay time.Duration
}

// Notice is a lifecycle notification emitted after a handler committed.
type Notice struct {
	Type          string
	UserID        uint
	ReferenceType string
	ReferenceID   uint
	PlanKey       string
	Amount        int64
	Currency      string
	EndsAt        *time.Time
}
