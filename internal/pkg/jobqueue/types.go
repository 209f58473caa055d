package jobqueue

import (
	"fmt"
	"strconv"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeProcessWebhookEvent JobType = "process_webhook_event"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusDelayed    JobStatus = "delayed"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
	Releases    int                    `json:"releases,omitempty"`
}

// ProcessWebhookEventJobPayload points a job at one stored webhook event.
// The payload is re-read from the database; the job never carries it.
type ProcessWebhookEventJobPayload struct {
	WebhookEventID uint `json:"webhook_event_id"`
}

// ToMap converts the payload to a map for storage in Job.Payload
func (p ProcessWebhookEventJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"webhook_event_id": p.WebhookEventID,
	}
}

// ProcessWebhookEventJobPayloadFromMap reads the payload back from Job.Payload.
// Values arrive as float64 after a JSON round trip through Redis.
func ProcessWebhookEventJobPayloadFromMap(data map[string]interface{}) (*ProcessWebhookEventJobPayload, error) {
	raw, ok := data["webhook_event_id"]
	if !ok {
		return nil, fmt.Errorf("webhook_event_id missing from job payload")
	}
	id, err := toUint(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook_event_id: %w", err)
	}
	if id == 0 {
		return nil, fmt.Errorf("webhook_event_id must be positive")
	}
	return &ProcessWebhookEventJobPayload{WebhookEventID: id}, nil
}

func toUint(v interface{}) (uint, error) {
	switch n := v.(type) {
	case uint:
		return n, nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint(n), nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint(n), nil
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, fmt.Errorf("not an unsigned integer: %v", n)
		}
		return uint(n), nil
	case string:
		parsed, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

// MarkAsDelayed parks the job without counting a failed attempt.
func (j *Job) MarkAsDelayed(reason string) {
	j.Status = JobStatusDelayed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = reason
	j.Releases++
}
