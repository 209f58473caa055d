package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/testutil"
)

const (
	testStripeSecret = "whsec_test_secret"
	testPaddleSecret = "pdl_ntfset_test_secret"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []uint
	err error
}

func (q *fakeQueue) EnqueueWebhookEvent(_ context.Context, id uint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *fakeQueue) Enqueued() []uint {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uint(nil), q.ids...)
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (n *fakeNotifier) Notify(_ context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *fakeNotifier) OfType(typ string) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notice
	for _, notice := range n.notices {
		if notice.Type == typ {
			out = append(out, notice)
		}
	}
	return out
}

type testEnv struct {
	db       *gorm.DB
	svc      *Service
	queue    *fakeQueue
	notifier *fakeNotifier
	clock    *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	testutil.SeedProvider(t, db, models.ProviderStripe, map[string]interface{}{"webhook_secret": testStripeSecret})
	testutil.SeedProvider(t, db, models.ProviderPaddle, map[string]interface{}{"webhook_secret": testPaddleSecret})

	env := &testEnv{
		db:       db,
		queue:    &fakeQueue{},
		notifier: &fakeNotifier{},
		clock:    &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	env.svc = NewServiceFromDB(db, NewDefaultRegistry(nil), env.queue, env.notifier,
		WithClock(env.clock.Now),
		WithEnvLookup(func(_, def string) string { return def }),
		WithTunables(func() Tunables {
			return Tunables{StaleAfter: 10 * time.Minute, ReleaseDelay: 15 * time.Second}
		}),
	)
	return env
}

// ingestAndProcess stores a delivery and runs its job synchronously.
func (e *testEnv) ingestAndProcess(t *testing.T, provider string, payload []byte, signature string) *models.WebhookEvent {
	t.Helper()
	res, err := e.svc.Ingest(context.Background(), provider, payload, signature)
	require.NoError(t, err)
	err = e.svc.ProcessWebhookEvent(context.Background(), res.Event.ID)
	if err != nil && !IsPermanent(err) {
		var release *ReleaseError
		require.False(t, errors.As(err, &release), "unexpected release: %v", err)
	}
	return e.event(t, res.Event.ID)
}

func (e *testEnv) event(t *testing.T, id uint) *models.WebhookEvent {
	t.Helper()
	var ev models.WebhookEvent
	require.NoError(t, e.db.First(&ev, id).Error)
	return &ev
}

func (e *testEnv) subscription(t *testing.T, provider, providerID string) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, e.db.Where("provider = ? AND provider_id = ?", provider, providerID).First(&sub).Error)
	return &sub
}

func (e *testEnv) order(t *testing.T, provider, providerID string) *models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, e.db.Where("provider = ? AND provider_id = ?", provider, providerID).First(&o).Error)
	return &o
}

// backdate makes a row look untouched since at.
func (e *testEnv) backdate(t *testing.T, id uint, status string, at time.Time) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.WebhookEvent{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{"status": status, "updated_at": at}).Error)
}

func stripeEventPayload(t *testing.T, id, eventType string, created time.Time, object map[string]interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created.Unix(),
		"api_version": "2025-08-27.basil",
		"livemode":    false,
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return b
}

func signStripe(payload []byte) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func paddleEventPayload(t *testing.T, id, eventType string, occurred time.Time, data map[string]interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"event_id":    id,
		"event_type":  eventType,
		"occurred_at": occurred.Format(time.RFC3339Nano),
		"data":        data,
	})
	require.NoError(t, err)
	return b
}

func stripeSubscriptionObject(id, customer, status, priceID string, userID uint, periodEnd time.Time) map[string]interface{} {
	obj := map[string]interface{}{
		"id":                   id,
		"object":               "subscription",
		"customer":             customer,
		"status":               status,
		"currency":             "eur",
		"cancel_at_period_end": false,
		"items": map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{
					"id":                 "si_" + id,
					"object":             "subscription_item",
					"price":              map[string]interface{}{"id": priceID, "object": "price"},
					"quantity":           1,
					"current_period_end": periodEnd.Unix(),
				},
			},
		},
		"metadata": map[string]interface{}{},
	}
	if userID > 0 {
		obj["metadata"] = map[string]interface{}{"user_id": uintString(userID)}
	}
	return obj
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
