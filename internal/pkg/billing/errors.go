package billing

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownProvider  = errors.New("unknown billing provider")
	ErrProviderInactive = errors.New("billing provider is inactive")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrEventNotFound    = errors.New("webhook event not found")

	// Permanent: retrying the same payload cannot succeed.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrUserNotResolved  = errors.New("unable to resolve user for billing event")

	// Transient: a later event links the customer and requeues the row.
	ErrCustomerNotLinked = errors.New("billing customer not linked to a user yet")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPriceNotFound        = errors.New("price not found")
	ErrPriceNotMapped       = errors.New("price has no active mapping for provider")
	ErrSubscriptionEnded    = errors.New("subscription is no longer active")
)

// ReleaseError is returned by the processor when another worker holds a fresh
// claim on the event. The queue re-enqueues the job after Delay without
// counting it as a failed attempt.
type ReleaseError struct {
	EventID uint
	Delay   time.Duration
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("webhook event %d is being processed elsewhere, release for %s", e.EventID, e.Delay)
}

// IsPermanent reports whether err will fail again on replay.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrUserNotResolved) || errors.Is(err, ErrUnknownProvider)
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}
