package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v83"

	"github.com/ManuelReschke/billingsync/app/models"
)

const stripeSignatureHeader = "Stripe-Signature"

// StripeAdapter parses Stripe webhook payloads.
type StripeAdapter struct {
	client LineItemFetcher
}

// NewStripeAdapter creates the adapter. client may be nil; checkout sessions
// then rely on metadata hints when line items are not embedded.
func NewStripeAdapter(client LineItemFetcher) *StripeAdapter {
	return &StripeAdapter{client: client}
}

func (a *StripeAdapter) Provider() string        { return models.ProviderStripe }
func (a *StripeAdapter) SignatureHeader() string { return stripeSignatureHeader }

func (a *StripeAdapter) VerifySignature(payload []byte, signature string, creds ResolvedCredentials, _ time.Time) error {
	if !VerifyStripeWebhookSignature(payload, signature, creds.WebhookSecret) {
		return ErrInvalidSignature
	}
	return nil
}

func (a *StripeAdapter) ParseEnvelope(payload []byte) (Envelope, error) {
	evt, err := decodeStripeEvent(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:    evt.ID,
		EventType:  string(evt.Type),
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
	}, nil
}

func (a *StripeAdapter) Parse(ctx context.Context, bc *BillingContext, eventType string, payload []byte) (*CanonicalEvent, error) {
	evt, err := decodeStripeEvent(payload)
	if err != nil {
		return nil, err
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, malformed("stripe event %s has no data.object", evt.ID)
	}

	base := &CanonicalEvent{
		Provider:   models.ProviderStripe,
		EventType:  eventType,
		Entity:     EntityIgnored,
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
	}

	switch eventType {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed",
		"customer.subscription.trial_will_end":
		return a.parseSubscription(base, evt.Data.Raw)
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed":
		return a.parseCheckoutSession(ctx, bc, base, evt.Data.Raw)
	case "invoice.created",
		"invoice.finalized",
		"invoice.updated",
		"invoice.paid",
		"invoice.payment_succeeded",
		"invoice.payment_failed",
		"invoice.voided",
		"invoice.marked_uncollectible":
		return a.parseInvoice(base, evt.Data.Raw)
	case "charge.refunded":
		return a.parseChargeRefunded(base, evt.Data.Raw)
	default:
		return base, nil
	}
}

func decodeStripeEvent(payload []byte) (*stripe.Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, malformed("invalid stripe event json: %v", err)
	}
	if strings.TrimSpace(evt.ID) == "" {
		return nil, malformed("stripe event is missing id")
	}
	if strings.TrimSpace(string(evt.Type)) == "" {
		return nil, malformed("stripe event %s is missing type", evt.ID)
	}
	return &evt, nil
}

func (a *StripeAdapter) parseSubscription(ev *CanonicalEvent, raw json.RawMessage) (*CanonicalEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, malformed("invalid stripe subscription: %v", err)
	}
	if sub.ID == "" {
		return nil, malformed("stripe subscription is missing id")
	}

	ev.Entity = EntitySubscription
	ev.ProviderEntityID = sub.ID
	ev.ProviderSubscriptionID = sub.ID
	if sub.Customer != nil {
		ev.ProviderCustomerID = sub.Customer.ID
	}
	ev.Status = stripeSubscriptionStatus(sub.Status)
	ev.Currency = strings.ToUpper(string(sub.Currency))
	ev.UserID = parseUserID(sub.Metadata["user_id"])
	ev.PlanKeyHint = sub.Metadata[models.MetaPlanKey]
	ev.PriceKeyHint = sub.Metadata[models.MetaPriceKey]
	ev.TrialEndsAt = unixTime(sub.TrialEnd)
	ev.CanceledAt = unixTime(sub.CanceledAt)
	ev.EndedAt = unixTime(sub.EndedAt)

	var periodEnd int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if item.Price != nil {
				ev.PriceIDs = appendUnique(ev.PriceIDs, item.Price.ID)
			}
			ev.Quantity += int(item.Quantity)
			if item.CurrentPeriodEnd > periodEnd {
				periodEnd = item.CurrentPeriodEnd
			}
		}
	}
	ev.CurrentPeriodEnd = unixTime(periodEnd)

	// cancel_at covers both "cancel at period end" and an explicit date.
	switch {
	case sub.CancelAt > 0:
		ev.ScheduledChange = &ScheduledChange{Action: ScheduledActionCancel, EffectiveAt: unixTime(sub.CancelAt)}
	case sub.CancelAtPeriodEnd && periodEnd > 0:
		ev.ScheduledChange = &ScheduledChange{Action: ScheduledActionCancel, EffectiveAt: unixTime(periodEnd)}
	}
	return ev, nil
}

func stripeSubscriptionStatus(status stripe.SubscriptionStatus) string {
	switch s := strings.ToLower(string(status)); s {
	case models.SubscriptionStatusTrialing,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusPaused,
		models.SubscriptionStatusIncomplete:
		return s
	case "unpaid":
		return models.SubscriptionStatusPastDue
	case "incomplete_expired":
		return models.SubscriptionStatusExpired
	default:
		return models.SubscriptionStatusIncomplete
	}
}

func (a *StripeAdapter) parseCheckoutSession(ctx context.Context, bc *BillingContext, ev *CanonicalEvent, raw json.RawMessage) (*CanonicalEvent, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, malformed("invalid stripe checkout session: %v", err)
	}
	if cs.ID == "" {
		return nil, malformed("stripe checkout session is missing id")
	}

	userID := parseUserID(cs.ClientReferenceID)
	if userID == 0 {
		userID = parseUserID(cs.Metadata["user_id"])
	}
	ev.UserID = userID
	if cs.Customer != nil {
		ev.ProviderCustomerID = cs.Customer.ID
	}

	// Subscription checkouts only link the customer; the subscription
	// itself is reconciled from customer.subscription.* events.
	if string(cs.Mode) != "payment" {
		ev.Entity = EntityCustomer
		if cs.Subscription != nil {
			ev.ProviderSubscriptionID = cs.Subscription.ID
		}
		return ev, nil
	}

	ev.Entity = EntityOrder
	ev.ProviderEntityID = cs.ID
	if cs.PaymentIntent != nil {
		ev.PaymentReference = cs.PaymentIntent.ID
	}
	ev.AmountMinor = cs.AmountTotal
	ev.Currency = strings.ToUpper(string(cs.Currency))
	ev.PlanKeyHint = cs.Metadata[models.MetaPlanKey]
	ev.PriceKeyHint = cs.Metadata[models.MetaPriceKey]

	switch ev.EventType {
	case "checkout.session.async_payment_succeeded":
		ev.Status = models.OrderStatusPaid
	case "checkout.session.async_payment_failed":
		ev.Status = models.OrderStatusFailed
	default:
		switch string(cs.PaymentStatus) {
		case "paid", "no_payment_required":
			ev.Status = models.OrderStatusPaid
		default:
			ev.Status = models.OrderStatusPending
		}
	}
	if ev.Status == models.OrderStatusPaid {
		paidAt := ev.OccurredAt
		ev.PaidAt = &paidAt
	}

	items := []*stripe.LineItem(nil)
	if cs.LineItems != nil {
		items = cs.LineItems.Data
	}
	if len(items) == 0 && a.client != nil && bc != nil && bc.Credentials.SecretKey != "" {
		fetched, err := a.client.FetchCheckoutLineItems(ctx, bc.Credentials, cs.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch line items for %s: %w", cs.ID, err)
		}
		items = fetched
	}
	if len(items) == 0 {
		log.Debugf("[Billing] stripe checkout %s has no line items, using metadata hints", cs.ID)
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		if item.Price != nil {
			ev.PriceIDs = appendUnique(ev.PriceIDs, item.Price.ID)
		}
		ev.Quantity += int(item.Quantity)
	}
	return ev, nil
}

// stripeInvoiceLinks holds the subscription reference, which moved from
// "subscription" to "parent.subscription_details" in newer API versions.
type stripeInvoiceLinks struct {
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (a *StripeAdapter) parseInvoice(ev *CanonicalEvent, raw json.RawMessage) (*CanonicalEvent, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, malformed("invalid stripe invoice: %v", err)
	}
	if inv.ID == "" {
		return nil, malformed("stripe invoice is missing id")
	}
	var links stripeInvoiceLinks
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, malformed("invalid stripe invoice links: %v", err)
	}

	ev.Entity = EntityInvoice
	ev.ProviderEntityID = inv.ID
	if inv.Customer != nil {
		ev.ProviderCustomerID = inv.Customer.ID
	}
	ev.ProviderSubscriptionID = expandableID(links.Subscription)
	ev.UserID = parseUserID(inv.Metadata["user_id"])
	if links.Parent != nil && links.Parent.SubscriptionDetails != nil {
		if ev.ProviderSubscriptionID == "" {
			ev.ProviderSubscriptionID = expandableID(links.Parent.SubscriptionDetails.Subscription)
		}
		if ev.UserID == 0 {
			ev.UserID = parseUserID(links.Parent.SubscriptionDetails.Metadata["user_id"])
		}
	}

	ev.Number = inv.Number
	ev.Status = strings.ToLower(string(inv.Status))
	ev.Currency = strings.ToUpper(string(inv.Currency))
	ev.AmountDue = inv.AmountDue
	ev.AmountPaid = inv.AmountPaid
	ev.IssuedAt = unixTime(inv.Created)
	if inv.StatusTransitions != nil {
		ev.PaidAt = unixTime(inv.StatusTransitions.PaidAt)
	}
	ev.HostedURL = inv.HostedInvoiceURL
	ev.PDFURL = inv.InvoicePDF
	return ev, nil
}

func (a *StripeAdapter) parseChargeRefunded(ev *CanonicalEvent, raw json.RawMessage) (*CanonicalEvent, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, malformed("invalid stripe charge: %v", err)
	}
	// Partial refunds leave the order paid.
	if !ch.Refunded || ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
		return ev, nil
	}
	ev.Entity = EntityOrder
	ev.PaymentReference = ch.PaymentIntent.ID
	ev.Status = models.OrderStatusRefunded
	ev.Currency = strings.ToUpper(string(ch.Currency))
	if ch.Customer != nil {
		ev.ProviderCustomerID = ch.Customer.ID
	}
	return ev, nil
}

// expandableID reads a Stripe expandable field that is either an id string
// or an object with an id.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}
