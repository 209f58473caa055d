package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
)

// WebhookEventRunner is the part of the billing service a worker needs.
type WebhookEventRunner interface {
	HandleQueuedEvent(ctx context.Context, webhookEventID uint, attempt int) error
}

// WebhookEnqueuer implements billing.Enqueuer on top of the Redis queue.
type WebhookEnqueuer struct {
	queue *Queue
}

var _ billing.Enqueuer = (*WebhookEnqueuer)(nil)

func NewWebhookEnqueuer(queue *Queue) *WebhookEnqueuer {
	return &WebhookEnqueuer{queue: queue}
}

// EnqueueWebhookEvent schedules processing of a stored webhook event.
func (e *WebhookEnqueuer) EnqueueWebhookEvent(ctx context.Context, webhookEventID uint) error {
	payload := ProcessWebhookEventJobPayload{WebhookEventID: webhookEventID}
	job, err := e.queue.EnqueueJob(ctx, JobTypeProcessWebhookEvent, payload.ToMap())
	if err != nil {
		return fmt.Errorf("enqueue webhook event %d: %w", webhookEventID, err)
	}
	log.Debugf("[JobQueue] Webhook event %d queued as job %s", webhookEventID, job.ID)
	return nil
}

// NewWebhookEventHandler adapts the billing service to a queue handler.
// RetryCount is passed as the attempt so a queue-level retry can move the
// row out of failed before it is claimed again.
func NewWebhookEventHandler(runner WebhookEventRunner) HandlerFunc {
	return func(ctx context.Context, job *Job) error {
		payload, err := ProcessWebhookEventJobPayloadFromMap(job.Payload)
		if err != nil {
			// Nothing to retry on a broken payload
			log.Errorf("[JobQueue] Job %s has an invalid payload: %v", job.ID, err)
			return nil
		}
		return runner.HandleQueuedEvent(ctx, payload.WebhookEventID, job.RetryCount)
	}
}

// RegisterWebhookHandler wires webhook processing into the queue.
func (q *Queue) RegisterWebhookHandler(runner WebhookEventRunner) {
	q.RegisterHandler(JobTypeProcessWebhookEvent, NewWebhookEventHandler(runner))
}
