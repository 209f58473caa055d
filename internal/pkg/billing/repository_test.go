package billing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingsync/app/models"
)

func TestListWebhookEventIDsAwaitingCustomer(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()

	store := func(eventID, provider, status, message string) uint {
		ev := &models.WebhookEvent{
			Provider:   provider,
			EventID:    eventID,
			Type:       "customer.subscription.created",
			Payload:    "{}",
			Status:     status,
			ReceivedAt: now,
		}
		if message != "" {
			ev.ErrorMessage = &message
		}
		require.NoError(t, env.db.Create(ev).Error)
		return ev.ID
	}
	awaiting := func(customerID string) string {
		return fmt.Sprintf("%v: stripe subscription sub_1 %s", ErrCustomerNotLinked, customerRef(customerID))
	}

	match := store("evt_a1", "stripe", models.WebhookStatusFailed, awaiting("cus_a"))
	store("evt_a2", "stripe", models.WebhookStatusFailed, awaiting("cusXa"))
	store("evt_a3", "stripe", models.WebhookStatusFailed, "malformed webhook payload: (customer \"cus_a\")")
	store("evt_a4", "stripe", models.WebhookStatusProcessed, awaiting("cus_a"))
	store("evt_a5", "paddle", models.WebhookStatusFailed, awaiting("cus_a"))
	store("evt_a6", "stripe", models.WebhookStatusFailed, awaiting("cus_ab"))

	ids, err := env.svc.repo.ListWebhookEventIDsAwaitingCustomer("stripe", "cus_a", 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{match}, ids)

	ids, err = env.svc.repo.ListWebhookEventIDsAwaitingCustomer("stripe", "cus_unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
