package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/testutil"
)

func TestSubscription_CreateFromMappedPrice(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	now := env.clock.Now()
	periodEnd := now.Add(30 * 24 * time.Hour).Truncate(time.Second)

	payload := stripeEventPayload(t, "evt_s1", "customer.subscription.created", now,
		stripeSubscriptionObject("sub_1", "cus_1", "active", "price_pro", user.ID, periodEnd))
	ev := env.ingestAndProcess(t, "stripe", payload, signStripe(payload))
	require.Equal(t, models.WebhookStatusProcessed, ev.Status, ev.Error())

	sub := env.subscription(t, "stripe", "sub_1")
	assert.Equal(t, user.ID, sub.UserID)
	assert.Equal(t, "pro", sub.PlanKey)
	assert.Equal(t, "pro_monthly", sub.PriceKey)
	assert.Equal(t, "price_pro", sub.ProviderPriceID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "cus_1", sub.ProviderCustomerID)
	require.NotNil(t, sub.RenewsAt)
	assert.True(t, sub.RenewsAt.Equal(periodEnd))
	assert.Nil(t, sub.EndsAt)
	assert.Nil(t, sub.CanceledAt)
	require.NotNil(t, sub.WelcomeEmailSentAt)

	started := env.notifier.OfType(models.NotificationSubscriptionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, user.ID, started[0].UserID)
	assert.Equal(t, sub.ID, started[0].ReferenceID)

	var customer models.BillingCustomer
	require.NoError(t, env.db.Where("provider = ? AND provider_customer_id = ?", "stripe", "cus_1").First(&customer).Error)
	assert.Equal(t, user.ID, customer.UserID)
}

func TestSubscription_MappedPriceBeatsStaleMetadata(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "starter", "starter_monthly", "price_starter")
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	now := env.clock.Now()

	obj := stripeSubscriptionObject("sub_meta", "cus_1", "active", "price_pro", user.ID, now.Add(time.Hour))
	obj["metadata"] = map[string]interface{}{
		"user_id":   uintString(user.ID),
		"plan_key":  "starter",
		"price_key": "starter_monthly",
	}
	payload := stripeEventPayload(t, "evt_meta", "customer.subscription.updated", now, obj)
	env.ingestAndProcess(t, "stripe", payload, signStripe(payload))

	sub := env.subscription(t, "stripe", "sub_meta")
	assert.Equal(t, "pro", sub.PlanKey)
	assert.Equal(t, "pro_monthly", sub.PriceKey)
	assert.Equal(t, "pro", sub.MetaString(models.MetaPlanKey))
}

func TestSubscription_UserResolvedThroughCustomerMapping(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	require.NoError(t, env.db.Create(&models.BillingCustomer{UserID: user.ID, Provider: "stripe", ProviderCustomerID: "cus_known"}).Error)

	payload := stripeEventPayload(t, "evt_cust", "customer.subscription.created", env.clock.Now(),
		stripeSubscriptionObject("sub_c", "cus_known", "trialing", "price_pro", 0, env.clock.Now().Add(time.Hour)))
	ev := env.ingestAndProcess(t, "stripe", payload, signStripe(payload))
	require.Equal(t, models.WebhookStatusProcessed, ev.Status, ev.Error())

	sub := env.subscription(t, "stripe", "sub_c")
	assert.Equal(t, user.ID, sub.UserID)
	assert.Equal(t, models.SubscriptionStatusTrialing, sub.Status)
}

func TestSubscription_PendingCancellationKeepsAccess(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	now := env.clock.Now()
	periodEnd := now.Add(20 * 24 * time.Hour).Truncate(time.Second)

	created := stripeEventPayload(t, "evt_pc1", "customer.subscription.created", now,
		stripeSubscriptionObject("sub_pc", "cus_1", "active", "price_pro", user.ID, periodEnd))
	env.ingestAndProcess(t, "stripe", created, signStripe(created))

	env.clock.Advance(time.Minute)
	obj := stripeSubscriptionObject("sub_pc", "cus_1", "active", "price_pro", user.ID, periodEnd)
	obj["cancel_at_period_end"] = true
	updated := stripeEventPayload(t, "evt_pc2", "customer.subscription.updated", env.clock.Now(), obj)
	env.ingestAndProcess(t, "stripe", updated, signStripe(updated))

	sub := env.subscription(t, "stripe", "sub_pc")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.EndsAt)
	assert.True(t, sub.EndsAt.Equal(periodEnd))
	assert.Nil(t, sub.RenewsAt)
	require.NotNil(t, sub.CanceledAt)
	assert.True(t, sub.IsPendingCancellation(env.clock.Now()))
	assert.True(t, sub.HasAccess(env.clock.Now()))
	require.NotNil(t, sub.CancellationEmailSentAt)
	assert.Len(t, env.notifier.OfType(models.NotificationSubscriptionCancelled), 1)

	// the final deletion does not send a second cancellation notice
	env.clock.Advance(time.Minute)
	deleted := stripeSubscriptionObject("sub_pc", "cus_1", "canceled", "price_pro", user.ID, periodEnd)
	deleted["ended_at"] = periodEnd.Unix()
	payload := stripeEventPayload(t, "evt_pc3", "customer.subscription.deleted", env.clock.Now(), deleted)
	env.ingestAndProcess(t, "stripe", payload, signStripe(payload))

	sub = env.subscription(t, "stripe", "sub_pc")
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.True(t, sub.EndsAt.Equal(periodEnd))
	assert.Len(t, env.notifier.OfType(models.NotificationSubscriptionCancelled), 1)
	assert.Len(t, env.notifier.OfType(models.NotificationSubscriptionStarted), 1)
}

func TestSubscription_LateScheduledCancellationIsKept(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	now := env.clock.Now()
	periodEnd := now.Add(time.Hour).Truncate(time.Second)

	created := stripeEventPayload(t, "evt_late1", "customer.subscription.created", now,
		stripeSubscriptionObject("sub_late", "cus_1", "active", "price_pro", user.ID, periodEnd))
	env.ingestAndProcess(t, "stripe", created, signStripe(created))

	// the cancellation was sent before period end but is processed after it
	obj := stripeSubscriptionObject("sub_late", "cus_1", "active", "price_pro", user.ID, periodEnd)
	obj["cancel_at_period_end"] = true
	updated := stripeEventPayload(t, "evt_late2", "customer.subscription.updated", now.Add(time.Minute), obj)
	env.clock.Advance(2 * time.Hour)
	ev := env.ingestAndProcess(t, "stripe", updated, signStripe(updated))
	require.Equal(t, models.WebhookStatusProcessed, ev.Status, ev.Error())

	sub := env.subscription(t, "stripe", "sub_late")
	require.NotNil(t, sub.CanceledAt)
	require.NotNil(t, sub.EndsAt)
	assert.True(t, sub.EndsAt.Equal(periodEnd))
	assert.Nil(t, sub.RenewsAt)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.False(t, sub.IsPendingCancellation(env.clock.Now()))
}

func TestSubscription_CheckoutAfterSubscriptionLinksAndRequeues(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	now := env.clock.Now()

	// subscription first, without user metadata and for an unknown customer
	subPayload := stripeEventPayload(t, "evt_order1", "customer.subscription.created", now,
		stripeSubscriptionObject("sub_x", "cus_x", "active", "price_pro", 0, now.Add(30*24*time.Hour)))
	res, err := env.svc.Ingest(context.Background(), "stripe", subPayload, signStripe(subPayload))
	require.NoError(t, err)
	subEventID := res.Event.ID

	err = env.svc.HandleQueuedEvent(context.Background(), subEventID, 0)
	require.Error(t, err, "the queue must keep the event for a retry")
	assert.Equal(t, models.WebhookStatusFailed, env.event(t, subEventID).Status)

	// the checkout names the user of cus_x
	checkout := stripeCheckoutObject("cs_x", "paid", "", "price_pro", user.ID)
	checkout["mode"] = "subscription"
	checkout["customer"] = "cus_x"
	checkout["subscription"] = "sub_x"
	delete(checkout, "payment_intent")
	env.clock.Advance(time.Second)
	checkoutPayload := stripeEventPayload(t, "evt_order2", "checkout.session.completed", env.clock.Now(), checkout)
	ev := env.ingestAndProcess(t, "stripe", checkoutPayload, signStripe(checkoutPayload))
	require.Equal(t, models.WebhookStatusProcessed, ev.Status, ev.Error())

	// linking the customer puts the parked subscription event back on the queue
	requeued := 0
	for _, id := range env.queue.Enqueued() {
		if id == subEventID {
			requeued++
		}
	}
	assert.Equal(t, 2, requeued, "once on ingest, once after the link")
	stored := env.event(t, subEventID)
	assert.Equal(t, models.WebhookStatusReceived, stored.Status)
	assert.Zero(t, stored.Attempts)

	require.NoError(t, env.svc.HandleQueuedEvent(context.Background(), subEventID, 0))
	assert.Equal(t, models.WebhookStatusProcessed, env.event(t, subEventID).Status)

	sub := env.subscription(t, "stripe", "sub_x")
	assert.Equal(t, user.ID, sub.UserID)
	assert.Equal(t, "pro", sub.PlanKey)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestSubscription_QueueRetryRecoversOnceCustomerIsLinked(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	now := env.clock.Now()

	payload := stripeEventPayload(t, "evt_qr1", "customer.subscription.created", now,
		stripeSubscriptionObject("sub_qr", "cus_qr", "trialing", "price_pro", 0, now.Add(time.Hour)))
	res, err := env.svc.Ingest(context.Background(), "stripe", payload, signStripe(payload))
	require.NoError(t, err)
	require.Error(t, env.svc.HandleQueuedEvent(context.Background(), res.Event.ID, 0))

	require.NoError(t, env.db.Create(&models.BillingCustomer{UserID: user.ID, Provider: "stripe", ProviderCustomerID: "cus_qr"}).Error)
	require.NoError(t, env.svc.HandleQueuedEvent(context.Background(), res.Event.ID, 1))

	sub := env.subscription(t, "stripe", "sub_qr")
	assert.Equal(t, user.ID, sub.UserID)
	assert.Equal(t, models.SubscriptionStatusTrialing, sub.Status)
}

func TestSubscription_ResumeClearsCancellation(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	periodEnd := env.clock.Now().Add(10 * 24 * time.Hour)

	obj := stripeSubscriptionObject("sub_r", "cus_1", "active", "price_pro", user.ID, periodEnd)
	obj["cancel_at_period_end"] = true
	p1 := stripeEventPayload(t, "evt_r1", "customer.subscription.updated", env.clock.Now(), obj)
	env.ingestAndProcess(t, "stripe", p1, signStripe(p1))
	require.NotNil(t, env.subscription(t, "stripe", "sub_r").EndsAt)

	env.clock.Advance(time.Minute)
	p2 := stripeEventPayload(t, "evt_r2", "customer.subscription.updated", env.clock.Now(),
		stripeSubscriptionObject("sub_r", "cus_1", "active", "price_pro", user.ID, periodEnd))
	env.ingestAndProcess(t, "stripe", p2, signStripe(p2))

	sub := env.subscription(t, "stripe", "sub_r")
	assert.Nil(t, sub.EndsAt)
	assert.Nil(t, sub.CanceledAt)
	assert.NotNil(t, sub.RenewsAt)
}

func TestSubscription_OutOfOrderEventIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	newer := env.clock.Now()
	older := newer.Add(-time.Hour)

	canceled := stripeSubscriptionObject("sub_o", "cus_1", "canceled", "price_pro", user.ID, newer)
	canceled["ended_at"] = newer.Unix()
	p1 := stripeEventPayload(t, "evt_o2", "customer.subscription.deleted", newer, canceled)
	env.ingestAndProcess(t, "stripe", p1, signStripe(p1))

	p2 := stripeEventPayload(t, "evt_o1", "customer.subscription.updated", older,
		stripeSubscriptionObject("sub_o", "cus_1", "active", "price_pro", user.ID, newer.Add(time.Hour)))
	ev := env.ingestAndProcess(t, "stripe", p2, signStripe(p2))

	assert.Equal(t, models.WebhookStatusProcessed, ev.Status)
	sub := env.subscription(t, "stripe", "sub_o")
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Empty(t, env.notifier.OfType(models.NotificationSubscriptionStarted))
}

func TestSubscription_PlanChangeConfirmedByWebhook(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "starter", "starter_monthly", "price_starter")
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	periodEnd := env.clock.Now().Add(30 * 24 * time.Hour)

	p1 := stripeEventPayload(t, "evt_pc_a", "customer.subscription.created", env.clock.Now(),
		stripeSubscriptionObject("sub_up", "cus_1", "active", "price_starter", user.ID, periodEnd))
	env.ingestAndProcess(t, "stripe", p1, signStripe(p1))
	sub := env.subscription(t, "stripe", "sub_up")
	require.Equal(t, "starter", sub.PlanKey)

	requested, err := env.svc.RequestPlanChange(context.Background(), sub.ID, "pro_monthly")
	require.NoError(t, err)
	assert.Equal(t, "starter", requested.PlanKey, "plan stays until confirmed")
	assert.Equal(t, "price_pro", requested.PendingProviderPriceID())
	assert.Equal(t, "pro", requested.MetaString(models.MetaPendingPlanKey))

	// an unrelated update keeps the pending change
	env.clock.Advance(time.Minute)
	p2 := stripeEventPayload(t, "evt_pc_b", "customer.subscription.updated", env.clock.Now(),
		stripeSubscriptionObject("sub_up", "cus_1", "active", "price_starter", user.ID, periodEnd))
	env.ingestAndProcess(t, "stripe", p2, signStripe(p2))
	sub = env.subscription(t, "stripe", "sub_up")
	assert.Equal(t, "starter", sub.PlanKey)
	assert.True(t, sub.HasPendingPlanChange())

	// during the swap both items are present; the pending price wins
	env.clock.Advance(time.Minute)
	obj := stripeSubscriptionObject("sub_up", "cus_1", "active", "price_starter", user.ID, periodEnd)
	items := obj["items"].(map[string]interface{})
	items["data"] = append(items["data"].([]interface{}), map[string]interface{}{
		"id":                 "si_new",
		"object":             "subscription_item",
		"price":              map[string]interface{}{"id": "price_pro", "object": "price"},
		"quantity":           1,
		"current_period_end": periodEnd.Unix(),
	})
	p3 := stripeEventPayload(t, "evt_pc_c", "customer.subscription.updated", env.clock.Now(), obj)
	env.ingestAndProcess(t, "stripe", p3, signStripe(p3))

	sub = env.subscription(t, "stripe", "sub_up")
	assert.Equal(t, "pro", sub.PlanKey)
	assert.Equal(t, "pro_monthly", sub.PriceKey)
	assert.Equal(t, "price_pro", sub.ProviderPriceID)
	assert.False(t, sub.HasPendingPlanChange())
	assert.Empty(t, sub.MetaString(models.MetaPendingPlanKey))
	assert.Empty(t, sub.MetaString(models.MetaPendingPlanChangeRequestedAt))
}

func TestRequestPlanChange_Errors(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")
	testutil.SeedPrice(t, env.db, "paddle", "team", "team_monthly", "pri_team")

	sub := &models.Subscription{UserID: user.ID, Provider: "stripe", ProviderID: "sub_e", PlanKey: "pro", Status: models.SubscriptionStatusActive}
	require.NoError(t, env.db.Create(sub).Error)

	_, err := env.svc.RequestPlanChange(context.Background(), sub.ID, "missing")
	assert.ErrorIs(t, err, ErrPriceNotFound)

	_, err = env.svc.RequestPlanChange(context.Background(), sub.ID, "team_monthly")
	assert.ErrorIs(t, err, ErrPriceNotMapped)

	_, err = env.svc.RequestPlanChange(context.Background(), 999, "pro_monthly")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	require.NoError(t, env.db.Model(sub).Update("status", models.SubscriptionStatusCanceled).Error)
	_, err = env.svc.RequestPlanChange(context.Background(), sub.ID, "pro_monthly")
	assert.ErrorIs(t, err, ErrSubscriptionEnded)
}

func TestSubscription_ReplayedEventNotifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.SeedUser(t, env.db)
	testutil.SeedPrice(t, env.db, "stripe", "pro", "pro_monthly", "price_pro")

	payload := stripeEventPayload(t, "evt_once", "customer.subscription.created", env.clock.Now(),
		stripeSubscriptionObject("sub_once", "cus_1", "active", "price_pro", user.ID, env.clock.Now().Add(time.Hour)))
	ev := env.ingestAndProcess(t, "stripe", payload, signStripe(payload))

	// an operator retry replays the same payload
	outcome, err := env.svc.Retry(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, RetryAlreadyProcessed, outcome)

	require.NoError(t, env.db.Model(&models.WebhookEvent{}).Where("id = ?", ev.ID).Update("status", models.WebhookStatusReceived).Error)
	require.NoError(t, env.svc.ProcessWebhookEvent(context.Background(), ev.ID))

	assert.Len(t, env.notifier.OfType(models.NotificationSubscriptionStarted), 1)
}

func TestNextSubscriptionState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	periodEnd := now.Add(30 * 24 * time.Hour)
	plan := PlanResolution{PlanKey: "pro", PriceKey: "pro_monthly", ProviderPriceID: "price_pro"}

	t.Run("canceled without end date ends now", func(t *testing.T) {
		ev := &CanonicalEvent{Provider: "stripe", ProviderEntityID: "sub_1", Status: models.SubscriptionStatusCanceled, OccurredAt: now}
		next := nextSubscriptionState(nil, ev, plan, 1, false, now)
		assert.Equal(t, models.SubscriptionStatusCanceled, next.Status)
		require.NotNil(t, next.EndsAt)
		assert.True(t, next.EndsAt.Equal(now))
		require.NotNil(t, next.CanceledAt)
		assert.Nil(t, next.RenewsAt)
	})

	t.Run("expired keeps its status", func(t *testing.T) {
		ev := &CanonicalEvent{Provider: "stripe", ProviderEntityID: "sub_1", Status: models.SubscriptionStatusExpired, OccurredAt: now}
		next := nextSubscriptionState(nil, ev, plan, 1, false, now)
		assert.Equal(t, models.SubscriptionStatusExpired, next.Status)
		assert.Nil(t, next.CanceledAt)
	})

	t.Run("pending cancellation keeps existing canceled_at", func(t *testing.T) {
		earlier := now.Add(-time.Hour)
		existing := &models.Subscription{ID: 3, Status: models.SubscriptionStatusActive, CanceledAt: &earlier}
		ev := &CanonicalEvent{
			Provider:        "stripe",
			Status:          models.SubscriptionStatusActive,
			OccurredAt:      now,
			ScheduledChange: &ScheduledChange{Action: ScheduledActionCancel, EffectiveAt: &periodEnd},
		}
		next := nextSubscriptionState(existing, ev, plan, 1, false, now)
		assert.True(t, next.CanceledAt.Equal(earlier))
		assert.True(t, next.EndsAt.Equal(periodEnd))
		assert.True(t, next.IsPendingCancellation(now))
	})

	t.Run("scheduled cancellation already past is still recorded", func(t *testing.T) {
		past := now.Add(-time.Hour)
		existing := &models.Subscription{ID: 4, Status: models.SubscriptionStatusActive, RenewsAt: &past}
		ev := &CanonicalEvent{
			Provider:         "stripe",
			Status:           models.SubscriptionStatusActive,
			OccurredAt:       now,
			CurrentPeriodEnd: &past,
			ScheduledChange:  &ScheduledChange{Action: ScheduledActionCancel, EffectiveAt: &past},
		}
		next := nextSubscriptionState(existing, ev, plan, 1, false, now)
		require.NotNil(t, next.CanceledAt)
		require.NotNil(t, next.EndsAt)
		assert.True(t, next.EndsAt.Equal(past))
		assert.Nil(t, next.RenewsAt)
		assert.False(t, next.IsPendingCancellation(now))
	})

	t.Run("scheduled pause is not a cancellation", func(t *testing.T) {
		ev := &CanonicalEvent{
			Provider:         "paddle",
			Status:           models.SubscriptionStatusActive,
			OccurredAt:       now,
			CurrentPeriodEnd: &periodEnd,
			ScheduledChange:  &ScheduledChange{Action: ScheduledActionPause, EffectiveAt: &periodEnd},
		}
		next := nextSubscriptionState(nil, ev, plan, 1, false, now)
		assert.Nil(t, next.EndsAt)
		assert.True(t, next.RenewsAt.Equal(periodEnd))
	})

	t.Run("quantity defaults to one", func(t *testing.T) {
		ev := &CanonicalEvent{Provider: "stripe", Status: models.SubscriptionStatusActive, OccurredAt: now}
		next := nextSubscriptionState(nil, ev, plan, 1, false, now)
		assert.Equal(t, 1, next.Quantity)
	})
}

func TestSubscriptionNotifications(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	sent := now.Add(-time.Hour)

	started, cancelled := subscriptionNotifications(&models.Subscription{Status: models.SubscriptionStatusActive}, now)
	assert.True(t, started)
	assert.False(t, cancelled)

	started, _ = subscriptionNotifications(&models.Subscription{Status: models.SubscriptionStatusActive, WelcomeEmailSentAt: &sent}, now)
	assert.False(t, started)

	_, cancelled = subscriptionNotifications(&models.Subscription{Status: models.SubscriptionStatusActive, CanceledAt: &now, EndsAt: &later}, now)
	assert.True(t, cancelled)

	started, cancelled = subscriptionNotifications(&models.Subscription{Status: models.SubscriptionStatusPastDue}, now)
	assert.False(t, started)
	assert.False(t, cancelled)
}
