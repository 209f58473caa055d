package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/metrics/billingmetrics"
)

// ProcessWebhookEvent runs one stored event through its adapter and handler.
//
// Only a row that is received (or processing but stale, i.e. its worker
// crashed) can be claimed. A fresh processing row yields a *ReleaseError so
// the queue retries later instead of running the handler twice. Handler
// errors are stored on the row (status failed) and returned.
func (s *Service) ProcessWebhookEvent(ctx context.Context, webhookEventID uint) error {
	ev, err := s.repo.GetWebhookEvent(webhookEventID)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			log.Warnf("[Billing] Webhook event %d no longer exists, skipping", webhookEventID)
			return nil
		}
		return err
	}

	tun := s.currentTunables()
	now := s.clock()

	switch ev.Status {
	case models.WebhookStatusProcessed, models.WebhookStatusFailed:
		log.Debugf("[Billing] Webhook event %d is %s, skipping", ev.ID, ev.Status)
		return nil
	case models.WebhookStatusProcessing:
		if !ev.IsStale(now, tun.StaleAfter) {
			return s.release(ev, tun.ReleaseDelay)
		}
		log.Warnf("[Billing] Webhook event %d stuck in processing since %s, taking over", ev.ID, ev.UpdatedAt.Format(time.RFC3339))
	}

	claimed, err := s.repo.ClaimWebhookEvent(ev.ID, now.Add(-tun.StaleAfter), now)
	if err != nil {
		return fmt.Errorf("claim webhook event %d: %w", ev.ID, err)
	}
	if !claimed {
		current, err := s.repo.GetWebhookEvent(ev.ID)
		if err != nil {
			if errors.Is(err, ErrEventNotFound) {
				return nil
			}
			return err
		}
		if current.Status == models.WebhookStatusProcessing {
			return s.release(current, tun.ReleaseDelay)
		}
		return nil
	}

	started := time.Now()
	entity, err := s.handle(ctx, ev)
	billingmetrics.ProcessingLatency.WithLabelValues(ev.Provider).Observe(time.Since(started).Seconds())
	if err != nil {
		billingmetrics.EventsProcessedTotal.WithLabelValues(ev.Provider, entity, "failed").Inc()
		log.Errorf("[Billing] Webhook event %s/%s (id=%d, type=%s) failed: %v", ev.Provider, ev.EventID, ev.ID, ev.Type, err)
		if markErr := s.repo.MarkWebhookFailed(ev.ID, truncateError(err), s.clock()); markErr != nil {
			log.Errorf("[Billing] Failed to mark webhook event %d as failed: %v", ev.ID, markErr)
		}
		return err
	}

	if err := s.repo.MarkWebhookProcessed(ev.ID, s.clock()); err != nil {
		return fmt.Errorf("mark webhook event %d processed: %w", ev.ID, err)
	}
	billingmetrics.EventsProcessedTotal.WithLabelValues(ev.Provider, entity, "processed").Inc()
	log.Infof("[Billing] Processed webhook event %s/%s (id=%d, type=%s, entity=%s)", ev.Provider, ev.EventID, ev.ID, ev.Type, entity)
	return nil
}

// HandleQueuedEvent is the queue entry point. On a queue-level retry
// (attempt > 0) the row left failed by the previous attempt is moved back to
// received first. Permanent failures stay failed and are not retried.
func (s *Service) HandleQueuedEvent(ctx context.Context, webhookEventID uint, attempt int) error {
	if attempt > 0 {
		if _, err := s.repo.ResetWebhookEvent(webhookEventID, models.WebhookStatusFailed, nil, false, s.clock()); err != nil {
			return fmt.Errorf("reset webhook event %d for retry: %w", webhookEventID, err)
		}
	}
	err := s.ProcessWebhookEvent(ctx, webhookEventID)
	if err != nil && IsPermanent(err) {
		return nil
	}
	return err
}

func (s *Service) release(ev *models.WebhookEvent, delay time.Duration) error {
	billingmetrics.EventsReleasedTotal.WithLabelValues(ev.Provider).Inc()
	log.Debugf("[Billing] Webhook event %d is processing elsewhere, releasing for %s", ev.ID, delay)
	return &ReleaseError{EventID: ev.ID, Delay: delay}
}

// handle parses the event and applies it inside one transaction.
// Notifications go out only after the commit.
func (s *Service) handle(ctx context.Context, ev *models.WebhookEvent) (string, error) {
	adapter, err := s.adapters.Get(ev.Provider)
	if err != nil {
		return EntityIgnored, err
	}
	bc, err := s.BillingContext(ctx, ev.Provider, false)
	if err != nil {
		return EntityIgnored, err
	}

	canonical, err := adapter.Parse(ctx, bc, ev.Type, []byte(ev.Payload))
	if err != nil {
		return EntityIgnored, err
	}
	if canonical.Entity == EntityIgnored {
		log.Debugf("[Billing] No handler for %s event type %s, marking processed", ev.Provider, ev.Type)
		return EntityIgnored, nil
	}
	if canonical.OccurredAt.IsZero() {
		canonical.OccurredAt = ev.ReceivedAt
	}

	var (
		notices []Notice
		linked  []string
	)
	err = s.repo.Transaction(ctx, func(repo Repository) error {
		h := &handlerRun{repo: repo, bc: bc, now: s.clock()}
		var err error
		switch canonical.Entity {
		case EntitySubscription:
			err = h.applySubscription(canonical)
		case EntityOrder:
			err = h.applyOrder(canonical)
		case EntityInvoice:
			err = h.applyInvoice(canonical)
		case EntityCustomer:
			err = h.applyCustomer(canonical)
		default:
			err = malformed("unsupported entity %q", canonical.Entity)
		}
		notices = h.notices
		linked = h.linked
		return err
	})
	if err != nil {
		return canonical.Entity, err
	}

	s.dispatch(ctx, notices)
	s.requeueAwaitingCustomers(ctx, ev.Provider, linked)
	return canonical.Entity, nil
}

// requeueAwaitingCustomers retries failed events that were parked until one
// of the just linked customers had a user.
func (s *Service) requeueAwaitingCustomers(ctx context.Context, provider string, customerIDs []string) {
	seen := make(map[string]struct{}, len(customerIDs))
	for _, customerID := range customerIDs {
		if _, ok := seen[customerID]; ok {
			continue
		}
		seen[customerID] = struct{}{}

		ids, err := s.repo.ListWebhookEventIDsAwaitingCustomer(provider, customerID, recoveryBatchSize)
		if err != nil {
			log.Errorf("[Billing] Failed to look up events awaiting %s customer %s: %v", provider, customerID, err)
			continue
		}
		for _, id := range ids {
			outcome, err := s.Retry(ctx, id)
			if err != nil {
				log.Errorf("[Billing] Failed to requeue webhook event %d after linking customer %s: %v", id, customerID, err)
				continue
			}
			log.Infof("[Billing] Webhook event %d awaiting customer %s: %s", id, customerID, outcome)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, notices []Notice) {
	for _, n := range notices {
		if err := s.notifier.Notify(ctx, n); err != nil {
			log.Errorf("[Notify] Failed to dispatch %s for user %d (%s %d): %v", n.Type, n.UserID, n.ReferenceType, n.ReferenceID, err)
			continue
		}
		billingmetrics.NotificationsSentTotal.WithLabelValues(n.Type).Inc()
	}
}

func truncateError(err error) string {
	msg := err.Error()
	const maxLen = 2000
	if len(msg) > maxLen {
		return strings.ToValidUTF8(msg[:maxLen], "")
	}
	return msg
}
