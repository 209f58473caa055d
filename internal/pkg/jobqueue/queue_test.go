package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
)

// TestNewQueue tests the queue constructor
func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueueWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.NotNil(t, queue.stopCh)
			assert.False(t, queue.running)
			assert.Equal(t, DefaultMaxRetries, queue.maxRetries())
			assert.Equal(t, DefaultRetryBackoff, queue.retryBackoff)
		})
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_delayed", JobDelayedKey)
	assert.Equal(t, "job_stats", JobStatsKey)

	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func TestQueue_Settings(t *testing.T) {
	queue := NewQueueWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 1)

	queue.SetMaxRetries(func() int { return 7 })
	assert.Equal(t, 7, queue.maxRetries())
	queue.SetMaxRetries(nil)
	assert.Equal(t, 7, queue.maxRetries(), "nil keeps the previous function")

	queue.SetRetryBackoff(5 * time.Second)
	assert.Equal(t, 5*time.Second, queue.retryBackoff)
	queue.SetRetryBackoff(0)
	assert.Equal(t, 5*time.Second, queue.retryBackoff)
}

func TestQueue_RegisterHandler(t *testing.T) {
	queue := NewQueueWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 1)

	_, ok := queue.handler(JobTypeProcessWebhookEvent)
	assert.False(t, ok)

	queue.RegisterHandler(JobTypeProcessWebhookEvent, func(ctx context.Context, job *Job) error { return nil })
	_, ok = queue.handler(JobTypeProcessWebhookEvent)
	assert.True(t, ok)
}

func TestQueue_EnqueueJob_PipelineError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:0",
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
		PoolTimeout:  100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	queue := NewQueueWithClient(client, 1)

	job, err := queue.EnqueueJob(context.Background(), JobTypeProcessWebhookEvent, map[string]interface{}{"webhook_event_id": 1})
	require.Error(t, err)
	assert.Nil(t, job)

	err = NewWebhookEnqueuer(queue).EnqueueWebhookEvent(context.Background(), 1)
	assert.Error(t, err)
}

type fakeRunner struct {
	ids      []uint
	attempts []int
	err      error
}

func (f *fakeRunner) HandleQueuedEvent(ctx context.Context, webhookEventID uint, attempt int) error {
	f.ids = append(f.ids, webhookEventID)
	f.attempts = append(f.attempts, attempt)
	return f.err
}

func TestNewWebhookEventHandler(t *testing.T) {
	runner := &fakeRunner{}
	handler := NewWebhookEventHandler(runner)

	job := &Job{ID: "j1", Payload: ProcessWebhookEventJobPayload{WebhookEventID: 12}.ToMap(), RetryCount: 2}
	require.NoError(t, handler(context.Background(), job))
	assert.Equal(t, []uint{12}, runner.ids)
	assert.Equal(t, []int{2}, runner.attempts)

	runner.err = &billing.ReleaseError{EventID: 12, Delay: time.Second}
	err := handler(context.Background(), job)
	var release *billing.ReleaseError
	assert.True(t, errors.As(err, &release))

	// broken payloads are dropped, not retried
	runner.err = nil
	assert.NoError(t, handler(context.Background(), &Job{ID: "j2", Payload: map[string]interface{}{}}))
	assert.Len(t, runner.ids, 2)
}
