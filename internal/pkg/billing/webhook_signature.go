package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"
)

// signatureTolerance bounds how old a signed timestamp may be.
const signatureTolerance = 5 * time.Minute

// VerifyStripeWebhookSignature checks the Stripe-Signature header. API version
// mismatches are ignored; payloads are decoded field by field downstream.
func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}
	_, err := webhook.ConstructEventWithOptions(payload, sig, secret, webhook.ConstructEventOptions{
		Tolerance:                signatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	return err == nil
}

// VerifyPaddleWebhookSignature checks a Paddle-Signature header of the form
// "ts=<unix>;h1=<hex>[;h1=<hex>]". The signed message is "<ts>:<body>".
func VerifyPaddleWebhookSignature(payload []byte, signatureHeader, webhookSecret string, now time.Time) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	var ts string
	var candidates []string
	for _, part := range strings.Split(sig, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "h1":
			candidates = append(candidates, v)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return false
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	signedAt := time.Unix(unix, 0)
	if now.Sub(signedAt) > signatureTolerance || signedAt.Sub(now) > signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte(":"))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, c := range candidates {
		decoded, err := hex.DecodeString(strings.ToLower(c))
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}

// SignPaddlePayload builds a Paddle-Signature header value. Used by tests and
// the local replay tooling.
func SignPaddlePayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":"))
	mac.Write(payload)
	return "ts=" + ts + ";h1=" + hex.EncodeToString(mac.Sum(nil))
}
