package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/metrics/billingmetrics"
)

// RetryOutcome is the result of a retry request for one event.
type RetryOutcome string

const (
	RetryRequeued         RetryOutcome = "requeued"
	RetryAlreadyProcessed RetryOutcome = "already_processed"
	RetryInFlight         RetryOutcome = "in_flight"
	RetryNotFound         RetryOutcome = "not_found"
)

// RecoveryReport summarises one RecoverStale sweep.
type RecoveryReport struct {
	StaleProcessing int `json:"stale_processing"`
	StaleReceived   int `json:"stale_received"`
	EnqueueFailures int `json:"enqueue_failures"`
}

const recoveryBatchSize = 500

// Retry resets an event (status, error, attempts) and re-enqueues it.
// Processed events are left alone, and so are events whose job is plausibly
// still alive (received or processing, not stale).
func (s *Service) Retry(ctx context.Context, webhookEventID uint) (RetryOutcome, error) {
	ev, err := s.repo.GetWebhookEvent(webhookEventID)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return RetryNotFound, nil
		}
		return "", err
	}

	now := s.clock()
	staleAfter := s.currentTunables().StaleAfter
	cutoff := now.Add(-staleAfter)

	var ok bool
	switch ev.Status {
	case models.WebhookStatusProcessed:
		return RetryAlreadyProcessed, nil
	case models.WebhookStatusFailed:
		ok, err = s.repo.ResetWebhookEvent(ev.ID, models.WebhookStatusFailed, nil, true, now)
	case models.WebhookStatusProcessing, models.WebhookStatusReceived:
		if !ev.IsStale(now, staleAfter) {
			return RetryInFlight, nil
		}
		ok, err = s.repo.ResetWebhookEvent(ev.ID, ev.Status, &cutoff, true, now)
	default:
		return "", fmt.Errorf("webhook event %d has unknown status %q", ev.ID, ev.Status)
	}
	if err != nil {
		return "", fmt.Errorf("reset webhook event %d: %w", ev.ID, err)
	}
	if !ok {
		return RetryInFlight, nil
	}

	if err := s.queue.EnqueueWebhookEvent(ctx, ev.ID); err != nil {
		billingmetrics.EnqueueFailuresTotal.WithLabelValues(ev.Provider).Inc()
		return "", fmt.Errorf("enqueue webhook event %d: %w", ev.ID, err)
	}
	billingmetrics.EventsRecoveredTotal.WithLabelValues("retry").Inc()
	log.Infof("[Billing] Webhook event %s/%s (id=%d) reset from %s and re-enqueued", ev.Provider, ev.EventID, ev.ID, ev.Status)
	return RetryRequeued, nil
}

// RetryMany retries each id and reports per-id outcomes. It stops at the
// first infrastructure error.
func (s *Service) RetryMany(ctx context.Context, ids []uint) (map[uint]RetryOutcome, error) {
	out := make(map[uint]RetryOutcome, len(ids))
	for _, id := range ids {
		outcome, err := s.Retry(ctx, id)
		if err != nil {
			return out, err
		}
		out[id] = outcome
	}
	return out, nil
}

// RetryFailed retries every failed event, optionally limited to one provider.
func (s *Service) RetryFailed(ctx context.Context, provider string, limit int) (int, error) {
	ids, err := s.repo.ListWebhookEventIDs(models.WebhookStatusFailed, nil, provider, limit)
	if err != nil {
		return 0, err
	}
	outcomes, err := s.RetryMany(ctx, ids)
	requeued := 0
	for _, o := range outcomes {
		if o == RetryRequeued {
			requeued++
		}
	}
	return requeued, err
}

// RecoverStale resets events stuck in processing past the staleness
// threshold and re-enqueues received events whose enqueue was lost.
func (s *Service) RecoverStale(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	now := s.clock()
	cutoff := now.Add(-s.currentTunables().StaleAfter)

	for _, status := range []string{models.WebhookStatusProcessing, models.WebhookStatusReceived} {
		ids, err := s.repo.ListWebhookEventIDs(status, &cutoff, "", recoveryBatchSize)
		if err != nil {
			return report, fmt.Errorf("list stale %s events: %w", status, err)
		}
		for _, id := range ids {
			ok, err := s.repo.ResetWebhookEvent(id, status, &cutoff, false, now)
			if err != nil {
				return report, fmt.Errorf("reset stale event %d: %w", id, err)
			}
			if !ok {
				continue
			}
			if err := s.queue.EnqueueWebhookEvent(ctx, id); err != nil {
				report.EnqueueFailures++
				log.Errorf("[Billing] Recovery could not enqueue webhook event %d: %v", id, err)
				continue
			}
			if status == models.WebhookStatusProcessing {
				report.StaleProcessing++
			} else {
				report.StaleReceived++
			}
		}
	}

	if n := report.StaleProcessing + report.StaleReceived; n > 0 {
		billingmetrics.EventsRecoveredTotal.WithLabelValues("sweeper").Add(float64(n))
		log.Warnf("[Billing] Recovered %d stale processing and %d stale received webhook events",
			report.StaleProcessing, report.StaleReceived)
	}
	return report, nil
}
