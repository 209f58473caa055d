package billing

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/billingsync/app/models"
)

const paddleSignatureHeader = "Paddle-Signature"

// PaddleAdapter parses Paddle Billing notifications.
type PaddleAdapter struct{}

func NewPaddleAdapter() *PaddleAdapter {
	return &PaddleAdapter{}
}

func (a *PaddleAdapter) Provider() string        { return models.ProviderPaddle }
func (a *PaddleAdapter) SignatureHeader() string { return paddleSignatureHeader }

func (a *PaddleAdapter) VerifySignature(payload []byte, signature string, creds ResolvedCredentials, now time.Time) error {
	if !VerifyPaddleWebhookSignature(payload, signature, creds.WebhookSecret, now) {
		return ErrInvalidSignature
	}
	return nil
}

type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddleItem struct {
	PriceID  string `json:"price_id"`
	Quantity int    `json:"quantity"`
	Price    *struct {
		ID string `json:"id"`
	} `json:"price"`
}

func (i paddleItem) priceID() string {
	if i.Price != nil && i.Price.ID != "" {
		return i.Price.ID
	}
	return i.PriceID
}

type paddlePeriod struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type paddleSubscription struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	CustomerID           string         `json:"customer_id"`
	CurrencyCode         string         `json:"currency_code"`
	CanceledAt           string         `json:"canceled_at"`
	NextBilledAt         string         `json:"next_billed_at"`
	CurrentBillingPeriod *paddlePeriod  `json:"current_billing_period"`
	CustomData           map[string]any `json:"custom_data"`
	Items                []paddleItem   `json:"items"`
	ScheduledChange      *struct {
		Action      string `json:"action"`
		EffectiveAt string `json:"effective_at"`
	} `json:"scheduled_change"`
}

type paddleTransaction struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	InvoiceNumber  string         `json:"invoice_number"`
	CurrencyCode   string         `json:"currency_code"`
	BilledAt       string         `json:"billed_at"`
	CreatedAt      string         `json:"created_at"`
	CustomData     map[string]any `json:"custom_data"`
	Items          []paddleItem   `json:"items"`
	Details        *struct {
		Totals *struct {
			Total      string `json:"total"`
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
	Payments []struct {
		Status     string `json:"status"`
		CapturedAt string `json:"captured_at"`
	} `json:"payments"`
}

type paddleAdjustment struct {
	ID            string `json:"id"`
	Action        string `json:"action"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	CustomerID    string `json:"customer_id"`
	CurrencyCode  string `json:"currency_code"`
	Type          string `json:"type"`
}

func (a *PaddleAdapter) ParseEnvelope(payload []byte) (Envelope, error) {
	env, err := decodePaddleEnvelope(payload)
	if err != nil {
		return Envelope{}, err
	}
	out := Envelope{EventID: env.EventID, EventType: env.EventType}
	if t := parsePaddleTime(env.OccurredAt); t != nil {
		out.OccurredAt = *t
	}
	return out, nil
}

func decodePaddleEnvelope(payload []byte) (*paddleEnvelope, error) {
	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, malformed("invalid paddle notification json: %v", err)
	}
	env.EventID = strings.TrimSpace(env.EventID)
	env.EventType = strings.TrimSpace(env.EventType)
	if env.EventID == "" {
		return nil, malformed("paddle notification is missing event_id")
	}
	if env.EventType == "" {
		return nil, malformed("paddle notification %s is missing event_type", env.EventID)
	}
	return &env, nil
}

func (a *PaddleAdapter) Parse(_ context.Context, _ *BillingContext, eventType string, payload []byte) (*CanonicalEvent, error) {
	env, err := decodePaddleEnvelope(payload)
	if err != nil {
		return nil, err
	}

	base := &CanonicalEvent{
		Provider:  models.ProviderPaddle,
		EventType: eventType,
		Entity:    EntityIgnored,
	}
	if t := parsePaddleTime(env.OccurredAt); t != nil {
		base.OccurredAt = *t
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, malformed("paddle notification %s has no data", env.EventID)
	}

	switch {
	case strings.HasPrefix(eventType, "subscription."):
		if eventType == "subscription.imported" {
			return base, nil
		}
		return a.parseSubscription(base, env.Data)
	case eventType == "transaction.completed",
		eventType == "transaction.paid",
		eventType == "transaction.payment_failed",
		eventType == "transaction.billed",
		eventType == "transaction.past_due",
		eventType == "transaction.canceled":
		return a.parseTransaction(base, env.Data)
	case eventType == "adjustment.created", eventType == "adjustment.updated":
		return a.parseAdjustment(base, env.Data)
	default:
		return base, nil
	}
}

func (a *PaddleAdapter) parseSubscription(ev *CanonicalEvent, raw json.RawMessage) (*CanonicalEvent, error) {
	var sub paddleSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, malformed("invalid paddle subscription: %v", err)
	}
	if sub.ID == "" {
		return nil, malformed("paddle subscription is missing id")
	}

	ev.Entity = EntitySubscription
	ev.ProviderEntityID = sub.ID
	ev.ProviderSubscriptionID = sub.ID
	ev.ProviderCustomerID = sub.CustomerID
	ev.Status = paddleSubscriptionStatus(sub.Status)
	ev.Currency = strings.ToUpper(sub.CurrencyCode)
	ev.UserID = customDataUserID(sub.CustomData)
	ev.PlanKeyHint = customDataString(sub.CustomData, models.MetaPlanKey)
	ev.PriceKeyHint = customDataString(sub.CustomData, models.MetaPriceKey)
	ev.CanceledAt = parsePaddleTime(sub.CanceledAt)

	for _, item := range sub.Items {
		ev.PriceIDs = appendUnique(ev.PriceIDs, item.priceID())
		ev.Quantity += item.Quantity
	}

	if sub.CurrentBillingPeriod != nil {
		ev.CurrentPeriodEnd = parsePaddleTime(sub.CurrentBillingPeriod.EndsAt)
	}
	if ev.CurrentPeriodEnd == nil {
		ev.CurrentPeriodEnd = parsePaddleTime(sub.NextBilledAt)
	}
	if ev.Status == models.SubscriptionStatusTrialing {
		ev.TrialEndsAt = ev.CurrentPeriodEnd
	}
	if ev.Status == models.SubscriptionStatusCanceled {
		ev.EndedAt = ev.CanceledAt
	}

	if sc := sub.ScheduledChange; sc != nil && sc.Action != "" {
		ev.ScheduledChange = &ScheduledChange{
			Action:      strings.ToLower(sc.Action),
			EffectiveAt: parsePaddleTime(sc.EffectiveAt),
		}
	}
	return ev, nil
}

func paddleSubscriptionStatus(status string) string {
	switch s := strings.ToLower(strings.TrimSpace(status)); s {
	case models.SubscriptionStatusTrialing,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusPaused,
		models.SubscriptionStatusCanceled:
		return s
	default:
		return models.SubscriptionStatusIncomplete
	}
}

// parseTransaction maps a transaction tied to a subscription onto an
// invoice and a standalone one onto an order.
func (a *PaddleAdapter) parseTransaction(ev *CanonicalEvent, raw json.RawMessage) (*CanonicalEvent, error) {
	var txn paddleTransaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		return nil, malformed("invalid paddle transaction: %v", err)
	}
	if txn.ID == "" {
		return nil, malformed("paddle transaction is missing id")
	}

	ev.ProviderCustomerID = txn.CustomerID
	ev.ProviderSubscriptionID = txn.SubscriptionID
	ev.Currency = strings.ToUpper(txn.CurrencyCode)
	ev.UserID = customDataUserID(txn.CustomData)
	ev.PlanKeyHint = customDataString(txn.CustomData, models.MetaPlanKey)
	ev.PriceKeyHint = customDataString(txn.CustomData, models.MetaPriceKey)
	for _, item := range txn.Items {
		ev.PriceIDs = appendUnique(ev.PriceIDs, item.priceID())
		ev.Quantity += item.Quantity
	}

	var total int64
	if txn.Details != nil && txn.Details.Totals != nil {
		raw := txn.Details.Totals.GrandTotal
		if raw == "" {
			raw = txn.Details.Totals.Total
		}
		if raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, malformed("paddle transaction %s has invalid total %q", txn.ID, raw)
			}
			total = n
		}
	}

	status := strings.ToLower(txn.Status)
	paid := status == "paid" || status == "completed" || ev.EventType == "transaction.completed" || ev.EventType == "transaction.paid"
	var paidAt *time.Time
	if paid {
		for _, p := range txn.Payments {
			if strings.EqualFold(p.Status, "captured") {
				paidAt = parsePaddleTime(p.CapturedAt)
				break
			}
		}
		if paidAt == nil {
			t := ev.OccurredAt
			paidAt = &t
		}
	}

	if txn.SubscriptionID != "" {
		ev.Entity = EntityInvoice
		ev.ProviderEntityID = txn.ID
		ev.Number = txn.InvoiceNumber
		ev.Status = paddleInvoiceStatus(status, paid)
		ev.AmountDue = total
		if paid {
			ev.AmountPaid = total
		}
		ev.IssuedAt = parsePaddleTime(txn.BilledAt)
		if ev.IssuedAt == nil {
			ev.IssuedAt = parsePaddleTime(txn.CreatedAt)
		}
		ev.PaidAt = paidAt
		return ev, nil
	}

	ev.Entity = EntityOrder
	ev.ProviderEntityID = txn.ID
	ev.PaymentReference = txn.ID
	ev.AmountMinor = total
	ev.PaidAt = paidAt
	switch {
	case paid:
		ev.Status = models.OrderStatusPaid
	case ev.EventType == "transaction.payment_failed", status == "canceled", status == "past_due":
		ev.Status = models.OrderStatusFailed
	default:
		ev.Status = models.OrderStatusPending
	}
	return ev, nil
}

func paddleInvoiceStatus(status string, paid bool) string {
	if paid {
		return "paid"
	}
	switch status {
	case "billed":
		return "open"
	case "canceled":
		return "void"
	case "past_due":
		return "past_due"
	default:
		return "draft"
	}
}

// parseAdjustment turns an approved full refund into an order refund.
func (a *PaddleAdapter) parseAdjustment(ev *CanonicalEvent, raw json.RawMessage) (*CanonicalEvent, error) {
	var adj paddleAdjustment
	if err := json.Unmarshal(raw, &adj); err != nil {
		return nil, malformed("invalid paddle adjustment: %v", err)
	}
	if !strings.EqualFold(adj.Action, "refund") || !strings.EqualFold(adj.Status, "approved") {
		return ev, nil
	}
	if adj.Type != "" && !strings.EqualFold(adj.Type, "full") {
		return ev, nil
	}
	if adj.TransactionID == "" {
		return nil, malformed("paddle adjustment %s is missing transaction_id", adj.ID)
	}
	ev.Entity = EntityOrder
	ev.PaymentReference = adj.TransactionID
	ev.ProviderCustomerID = adj.CustomerID
	ev.Currency = strings.ToUpper(adj.CurrencyCode)
	ev.Status = models.OrderStatusRefunded
	return ev, nil
}

func parsePaddleTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func customDataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func customDataUserID(data map[string]any) uint {
	return parseUserID(customDataString(data, "user_id"))
}
