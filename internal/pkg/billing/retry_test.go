package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingsync/app/models"
)

func TestRetry_Outcomes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ingest := func(id string) *models.WebhookEvent {
		return ingestOnly(t, env, stripeEventPayload(t, id, "customer.created", env.clock.Now(), map[string]interface{}{"id": "cus_" + id}))
	}

	outcome, err := env.svc.Retry(ctx, 4242)
	require.NoError(t, err)
	assert.Equal(t, RetryNotFound, outcome)

	processed := ingest("evt_r_done")
	require.NoError(t, env.svc.ProcessWebhookEvent(ctx, processed.ID))
	outcome, err = env.svc.Retry(ctx, processed.ID)
	require.NoError(t, err)
	assert.Equal(t, RetryAlreadyProcessed, outcome)

	fresh := ingest("evt_r_fresh")
	outcome, err = env.svc.Retry(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, RetryInFlight, outcome)

	failed := ingest("evt_r_failed")
	require.NoError(t, env.svc.repo.MarkWebhookFailed(failed.ID, "boom", env.clock.Now()))
	require.NoError(t, env.svc.repo.MarkWebhookFailed(failed.ID, "boom again", env.clock.Now()))
	before := len(env.queue.Enqueued())
	outcome, err = env.svc.Retry(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, RetryRequeued, outcome)
	stored := env.event(t, failed.ID)
	assert.Equal(t, models.WebhookStatusReceived, stored.Status)
	assert.Zero(t, stored.Attempts, "operator retries start over")
	assert.Empty(t, stored.Error())
	assert.Len(t, env.queue.Enqueued(), before+1)

	stuck := ingest("evt_r_stuck")
	env.backdate(t, stuck.ID, models.WebhookStatusProcessing, env.clock.Now().Add(-time.Hour))
	outcome, err = env.svc.Retry(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, RetryRequeued, outcome)
	assert.Equal(t, models.WebhookStatusReceived, env.event(t, stuck.ID).Status)
}

func TestRetry_EnqueueFailureIsReturned(t *testing.T) {
	env := newTestEnv(t)
	ev := ingestOnly(t, env, stripeEventPayload(t, "evt_r_q", "customer.created", env.clock.Now(), map[string]interface{}{"id": "cus_1"}))
	require.NoError(t, env.svc.repo.MarkWebhookFailed(ev.ID, "boom", env.clock.Now()))
	env.queue.err = errors.New("redis down")

	_, err := env.svc.Retry(context.Background(), ev.ID)
	require.Error(t, err)
	assert.Equal(t, models.WebhookStatusReceived, env.event(t, ev.ID).Status, "the sweeper recovers it later")
}

func TestRetryMany(t *testing.T) {
	env := newTestEnv(t)
	a := ingestOnly(t, env, stripeEventPayload(t, "evt_m1", "customer.created", env.clock.Now(), map[string]interface{}{"id": "cus_1"}))
	b := ingestOnly(t, env, stripeEventPayload(t, "evt_m2", "customer.created", env.clock.Now(), map[string]interface{}{"id": "cus_2"}))
	require.NoError(t, env.svc.repo.MarkWebhookFailed(a.ID, "boom", env.clock.Now()))

	outcomes, err := env.svc.RetryMany(context.Background(), []uint{a.ID, b.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, map[uint]RetryOutcome{
		a.ID: RetryRequeued,
		b.ID: RetryInFlight,
		999:  RetryNotFound,
	}, outcomes)
}

func TestRetryFailed(t *testing.T) {
	env := newTestEnv(t)
	stripeEv := ingestOnly(t, env, stripeEventPayload(t, "evt_rf_s", "customer.created", env.clock.Now(), map[string]interface{}{"id": "cus_1"}))
	paddlePayload := paddleEventPayload(t, "ntf_rf_p", "customer.created", env.clock.Now(), map[string]interface{}{"id": "ctm_1"})
	paddleRes, err := env.svc.Ingest(context.Background(), "paddle", paddlePayload, SignPaddlePayload(paddlePayload, testPaddleSecret, env.clock.Now()))
	require.NoError(t, err)
	require.NoError(t, env.svc.repo.MarkWebhookFailed(stripeEv.ID, "boom", env.clock.Now()))
	require.NoError(t, env.svc.repo.MarkWebhookFailed(paddleRes.Event.ID, "boom", env.clock.Now()))

	n, err := env.svc.RetryFailed(context.Background(), "paddle", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.WebhookStatusFailed, env.event(t, stripeEv.ID).Status)
	assert.Equal(t, models.WebhookStatusReceived, env.event(t, paddleRes.Event.ID).Status)

	n, err = env.svc.RetryFailed(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecoverStale(t *testing.T) {
	env := newTestEnv(t)
	ingest := func(id string) *models.WebhookEvent {
		return ingestOnly(t, env, stripeEventPayload(t, id, "customer.created", env.clock.Now(), map[string]interface{}{"id": "cus_" + id}))
	}
	stuck := ingest("evt_s1")
	lost := ingest("evt_s2")
	fresh := ingest("evt_s3")
	done := ingest("evt_s4")
	require.NoError(t, env.svc.ProcessWebhookEvent(context.Background(), done.ID))

	env.backdate(t, stuck.ID, models.WebhookStatusProcessing, env.clock.Now().Add(-20*time.Minute))
	env.backdate(t, lost.ID, models.WebhookStatusReceived, env.clock.Now().Add(-20*time.Minute))
	env.backdate(t, fresh.ID, models.WebhookStatusProcessing, env.clock.Now().Add(-time.Minute))
	before := len(env.queue.Enqueued())

	report, err := env.svc.RecoverStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{StaleProcessing: 1, StaleReceived: 1}, report)

	enqueued := env.queue.Enqueued()[before:]
	assert.ElementsMatch(t, []uint{stuck.ID, lost.ID}, enqueued)
	assert.Equal(t, models.WebhookStatusReceived, env.event(t, stuck.ID).Status)
	assert.Equal(t, models.WebhookStatusProcessing, env.event(t, fresh.ID).Status)
	assert.Equal(t, models.WebhookStatusProcessed, env.event(t, done.ID).Status)

	// the reset rows are fresh again
	report, err = env.svc.RecoverStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{}, report)
}
