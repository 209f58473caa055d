package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// LineItemFetcher loads the line items of a checkout session. Stripe does not
// embed them in checkout.session.* webhook payloads.
type LineItemFetcher interface {
	FetchCheckoutLineItems(ctx context.Context, creds ResolvedCredentials, sessionID string) ([]*stripe.LineItem, error)
}

// StripeClient performs the supplementary API reads the processor needs.
// Credentials are passed per call so a key rotated in the payment_providers
// row applies on the next job.
type StripeClient struct {
	HTTPClient *http.Client
}

func NewStripeClient() *StripeClient {
	return &StripeClient{
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *StripeClient) api(creds ResolvedCredentials, key string) *stripe.Client {
	cfg := &stripe.BackendConfig{
		HTTPClient: c.HTTPClient,
		// Failed jobs are retried by the queue.
		MaxNetworkRetries: stripe.Int64(0),
	}
	if base := strings.TrimSpace(creds.APIBaseURL); base != "" {
		cfg.URL = stripe.String(base)
	}
	return stripe.NewClient(key, stripe.WithBackends(stripe.NewBackendsWithConfig(cfg)))
}

func (c *StripeClient) FetchCheckoutLineItems(ctx context.Context, creds ResolvedCredentials, sessionID string) ([]*stripe.LineItem, error) {
	key := strings.TrimSpace(creds.SecretKey)
	if key == "" {
		return nil, errors.New("stripe secret key is not configured")
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, errors.New("checkout session id is required")
	}

	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(id)}
	params.Limit = stripe.Int64(100)

	var items []*stripe.LineItem
	for item, err := range c.api(creds, key).V1CheckoutSessions.ListLineItems(ctx, params) {
		if err != nil {
			return nil, fmt.Errorf("list line items of checkout session %s: %w", id, err)
		}
		items = append(items, item)
	}
	return items, nil
}
