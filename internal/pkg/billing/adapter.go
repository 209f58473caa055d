package billing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Adapter translates one provider's webhook payloads into canonical events.
type Adapter interface {
	Provider() string
	SignatureHeader() string
	VerifySignature(payload []byte, signature string, creds ResolvedCredentials, now time.Time) error
	ParseEnvelope(payload []byte) (Envelope, error)
	// Parse returns an event with Entity == EntityIgnored for types the
	// adapter does not reconcile.
	Parse(ctx context.Context, bc *BillingContext, eventType string, payload []byte) (*CanonicalEvent, error)
}

// Registry looks adapters up by provider slug.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// NewDefaultRegistry wires the Stripe and Paddle adapters.
func NewDefaultRegistry(stripeClient LineItemFetcher) *Registry {
	return NewRegistry(NewStripeAdapter(stripeClient), NewPaddleAdapter())
}

func (r *Registry) Get(provider string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return a, nil
}

// Providers returns the registered slugs in sorted order.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.adapters))
	for slug := range r.adapters {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func parseUserID(raw string) uint {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return uint(n)
}

func appendUnique(list []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
