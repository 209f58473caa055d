package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType(t *testing.T) {
	assert.Equal(t, "process_webhook_event", string(JobTypeProcessWebhookEvent))
}

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{"Pending", JobStatusPending, "pending"},
		{"Processing", JobStatusProcessing, "processing"},
		{"Completed", JobStatusCompleted, "completed"},
		{"Failed", JobStatusFailed, "failed"},
		{"Retrying", JobStatusRetrying, "retrying"},
		{"Delayed", JobStatusDelayed, "delayed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.status))
		})
	}
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name       string
		status     JobStatus
		retryCount int
		maxRetries int
		expected   bool
	}{
		{"Failed with retries left", JobStatusFailed, 1, 3, true},
		{"Failed at max retries", JobStatusFailed, 3, 3, false},
		{"Failed with zero max", JobStatusFailed, 0, 0, false},
		{"Pending job", JobStatusPending, 0, 3, false},
		{"Completed job", JobStatusCompleted, 0, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{Status: tt.status, RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
			assert.Equal(t, tt.expected, job.IsRetryable())
		})
	}
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 3}
	before := time.Now()

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.UpdatedAt.Before(before))

	job.MarkAsFailed("boom")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "boom", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsDelayed("held elsewhere")
	assert.Equal(t, JobStatusDelayed, job.Status)
	assert.Equal(t, 1, job.Releases)
	assert.Equal(t, 1, job.RetryCount, "a release is not a failed attempt")

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
}

func TestProcessWebhookEventJobPayload_ToMap(t *testing.T) {
	payload := ProcessWebhookEventJobPayload{WebhookEventID: 42}
	assert.Equal(t, map[string]interface{}{"webhook_event_id": uint(42)}, payload.ToMap())
}

func TestProcessWebhookEventJobPayloadFromMap(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]interface{}
		want    uint
		wantErr bool
	}{
		{"uint", map[string]interface{}{"webhook_event_id": uint(7)}, 7, false},
		{"float after JSON", map[string]interface{}{"webhook_event_id": float64(7)}, 7, false},
		{"string", map[string]interface{}{"webhook_event_id": "7"}, 7, false},
		{"missing", map[string]interface{}{}, 0, true},
		{"zero", map[string]interface{}{"webhook_event_id": 0}, 0, true},
		{"negative", map[string]interface{}{"webhook_event_id": -3}, 0, true},
		{"fraction", map[string]interface{}{"webhook_event_id": 1.5}, 0, true},
		{"wrong type", map[string]interface{}{"webhook_event_id": true}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ProcessWebhookEventJobPayloadFromMap(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.WebhookEventID)
		})
	}
}

func TestJobJSONSerialization(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	job := &Job{
		ID:         "job-1",
		Type:       JobTypeProcessWebhookEvent,
		Status:     JobStatusPending,
		Payload:    ProcessWebhookEventJobPayload{WebhookEventID: 9}.ToMap(),
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: 5,
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.Type, decoded.Type)
	assert.Equal(t, 5, decoded.MaxRetries)

	payload, err := ProcessWebhookEventJobPayloadFromMap(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint(9), payload.WebhookEventID)
}
