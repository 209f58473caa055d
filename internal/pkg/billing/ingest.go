package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/metrics/billingmetrics"
)

// IngestOutcome describes what ingestion did with a delivery.
type IngestOutcome string

const (
	OutcomeCreated        IngestOutcome = "created"
	OutcomeDuplicate      IngestOutcome = "duplicate"
	OutcomeRequeuedFailed IngestOutcome = "requeued_failed"
	OutcomeRequeuedStale  IngestOutcome = "requeued_stale"
	OutcomeInFlight       IngestOutcome = "in_flight"
	OutcomePending        IngestOutcome = "pending"
)

// IngestResult is returned for every accepted delivery, including duplicates.
type IngestResult struct {
	Event    *models.WebhookEvent
	Outcome  IngestOutcome
	Enqueued bool
}

// Ingest verifies, de-duplicates and stores a webhook delivery, then hands it
// to the queue. It never runs handler logic. Errors returned here are the only
// reasons to answer the provider with a non-2xx status; a failed enqueue is
// logged and left to the recovery sweeper.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, signature string) (*IngestResult, error) {
	slug := strings.ToLower(strings.TrimSpace(provider))
	adapter, err := s.adapters.Get(slug)
	if err != nil {
		billingmetrics.WebhooksRejectedTotal.WithLabelValues("unknown", "unknown_provider").Inc()
		return nil, err
	}
	bc, err := s.BillingContext(ctx, slug, true)
	if err != nil {
		billingmetrics.WebhooksRejectedTotal.WithLabelValues(slug, "provider").Inc()
		return nil, err
	}

	now := s.clock()
	if err := adapter.VerifySignature(payload, signature, bc.Credentials, now); err != nil {
		billingmetrics.WebhooksRejectedTotal.WithLabelValues(slug, "signature").Inc()
		return nil, err
	}
	envelope, err := adapter.ParseEnvelope(payload)
	if err != nil {
		billingmetrics.WebhooksRejectedTotal.WithLabelValues(slug, "envelope").Inc()
		return nil, err
	}

	event := &models.WebhookEvent{
		Provider:   slug,
		EventID:    envelope.EventID,
		Type:       envelope.EventType,
		Payload:    string(payload),
		Status:     models.WebhookStatusReceived,
		ReceivedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, stored, err := s.repo.CreateWebhookEventIfNotExists(event)
	if err != nil {
		return nil, fmt.Errorf("store webhook event %s/%s: %w", slug, envelope.EventID, err)
	}

	result := &IngestResult{Event: stored}
	if created {
		result.Outcome = OutcomeCreated
		result.Enqueued = s.enqueue(ctx, stored)
		billingmetrics.WebhooksReceivedTotal.WithLabelValues(slug, string(result.Outcome)).Inc()
		return result, nil
	}

	if err := s.redeliver(ctx, result); err != nil {
		return nil, err
	}
	billingmetrics.WebhooksReceivedTotal.WithLabelValues(slug, string(result.Outcome)).Inc()
	return result, nil
}

// redeliver decides what a repeated delivery of a stored event does.
func (s *Service) redeliver(ctx context.Context, result *IngestResult) error {
	ev := result.Event
	now := s.clock()
	cutoff := now.Add(-s.currentTunables().StaleAfter)

	switch ev.Status {
	case models.WebhookStatusProcessed:
		result.Outcome = OutcomeDuplicate
		return nil

	case models.WebhookStatusFailed:
		ok, err := s.repo.ResetWebhookEvent(ev.ID, models.WebhookStatusFailed, nil, false, now)
		if err != nil {
			return fmt.Errorf("reset failed webhook event %d: %w", ev.ID, err)
		}
		if !ok {
			// Someone else reset it first; their enqueue covers this delivery.
			result.Outcome = OutcomeInFlight
			return nil
		}
		log.Infof("[Webhook] Redelivery of failed event %s/%s (id=%d), re-enqueueing", ev.Provider, ev.EventID, ev.ID)
		result.Outcome = OutcomeRequeuedFailed
		result.Enqueued = s.enqueue(ctx, ev)
		return nil

	case models.WebhookStatusProcessing, models.WebhookStatusReceived:
		if !ev.IsStale(now, s.currentTunables().StaleAfter) {
			if ev.Status == models.WebhookStatusProcessing {
				result.Outcome = OutcomeInFlight
			} else {
				result.Outcome = OutcomePending
			}
			return nil
		}
		ok, err := s.repo.ResetWebhookEvent(ev.ID, ev.Status, &cutoff, false, now)
		if err != nil {
			return fmt.Errorf("reset stale webhook event %d: %w", ev.ID, err)
		}
		if !ok {
			result.Outcome = OutcomeInFlight
			return nil
		}
		log.Warnf("[Webhook] Event %s/%s (id=%d) stuck in %s since %s, re-enqueueing",
			ev.Provider, ev.EventID, ev.ID, ev.Status, ev.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
		result.Outcome = OutcomeRequeuedStale
		result.Enqueued = s.enqueue(ctx, ev)
		return nil

	default:
		return errors.New("webhook event has unknown status " + ev.Status)
	}
}

func (s *Service) enqueue(ctx context.Context, ev *models.WebhookEvent) bool {
	if err := s.queue.EnqueueWebhookEvent(ctx, ev.ID); err != nil {
		billingmetrics.EnqueueFailuresTotal.WithLabelValues(ev.Provider).Inc()
		log.Errorf("[Webhook] Failed to enqueue event %s/%s (id=%d): %v", ev.Provider, ev.EventID, ev.ID, err)
		return false
	}
	return true
}
