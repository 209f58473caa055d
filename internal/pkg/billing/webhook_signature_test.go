package billing

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v83/webhook"
)

func TestVerifyStripeWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{}}}`)

	assert.True(t, VerifyStripeWebhookSignature(payload, signStripe(payload), testStripeSecret))
	assert.True(t, VerifyStripeWebhookSignature(payload, "  "+signStripe(payload)+" ", " "+testStripeSecret+" "))

	assert.False(t, VerifyStripeWebhookSignature(payload, signStripe(payload), "whsec_other"))
	assert.False(t, VerifyStripeWebhookSignature([]byte(`{"id":"evt_2"}`), signStripe(payload), testStripeSecret))
	assert.False(t, VerifyStripeWebhookSignature(payload, "", testStripeSecret))
	assert.False(t, VerifyStripeWebhookSignature(payload, signStripe(payload), ""))

	old := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeSecret,
		Timestamp: time.Now().Add(-time.Hour),
	})
	assert.False(t, VerifyStripeWebhookSignature(payload, old.Header, testStripeSecret), "outside tolerance")
}

func TestVerifyPaddleWebhookSignature(t *testing.T) {
	payload := []byte(`{"event_id":"ntf_1","event_type":"subscription.updated","data":{}}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	header := SignPaddlePayload(payload, testPaddleSecret, now)
	ts := "ts=" + strconv.FormatInt(now.Unix(), 10)
	validH1 := strings.TrimPrefix(header, ts+";")

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		now     time.Time
		want    bool
	}{
		{"valid", payload, header, testPaddleSecret, now, true},
		{"within tolerance", payload, header, testPaddleSecret, now.Add(4 * time.Minute), true},
		{"too old", payload, header, testPaddleSecret, now.Add(6 * time.Minute), false},
		{"from the future", payload, header, testPaddleSecret, now.Add(-6 * time.Minute), false},
		{"wrong secret", payload, header, "other", now, false},
		{"tampered body", []byte(`{"event_id":"ntf_2"}`), header, testPaddleSecret, now, false},
		{"empty header", payload, "", testPaddleSecret, now, false},
		{"empty secret", payload, header, "", now, false},
		{"missing h1", payload, ts, testPaddleSecret, now, false},
		{"missing ts", payload, "h1=abcdef", testPaddleSecret, now, false},
		{"bad ts", payload, "ts=yesterday;h1=abcdef", testPaddleSecret, now, false},
		{"rotated secret second h1", payload, header + ";h1=00ff", testPaddleSecret, now, true},
		{"rotated secret first h1", payload, ts + ";h1=zz;" + validH1, testPaddleSecret, now, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyPaddleWebhookSignature(tt.payload, tt.header, tt.secret, tt.now))
		})
	}
}

func TestAdapterVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	creds := ResolvedCredentials{WebhookSecret: testStripeSecret}

	assert.NoError(t, NewStripeAdapter(nil).VerifySignature(payload, signStripe(payload), creds, time.Now()))
	assert.ErrorIs(t, NewStripeAdapter(nil).VerifySignature(payload, "t=1,v1=00", creds, time.Now()), ErrInvalidSignature)

	now := time.Now()
	paddleCreds := ResolvedCredentials{WebhookSecret: testPaddleSecret}
	assert.NoError(t, NewPaddleAdapter().VerifySignature(payload, SignPaddlePayload(payload, testPaddleSecret, now), paddleCreds, now))
	assert.ErrorIs(t, NewPaddleAdapter().VerifySignature(payload, "ts=1;h1=00", paddleCreds, now), ErrInvalidSignature)
}
