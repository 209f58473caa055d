package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/cache"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobDelayedKey    = "job_delayed"
	JobStatsKey      = "job_stats"

	// Job settings
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Minute
	JobTTL              = 24 * time.Hour // Jobs expire after 24 hours

	promoteBatchSize = 100
)

// HandlerFunc runs one job. Returning a *billing.ReleaseError parks the job
// in the delayed set without counting a failed attempt.
type HandlerFunc func(ctx context.Context, job *Job) error

// Queue manages background jobs using Redis
type Queue struct {
	client       *redis.Client
	workers      int
	workerPool   chan struct{}
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
	handlersMu   sync.RWMutex
	handlers     map[JobType]HandlerFunc
	maxRetries   func() int
	retryBackoff time.Duration
}

// NewQueue creates a new job queue on the shared cache client
func NewQueue(workers int) *Queue {
	return NewQueueWithClient(cache.GetClient(), workers)
}

// NewQueueWithClient creates a job queue on an explicit Redis client
func NewQueueWithClient(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = 3 // Default number of workers
	}

	return &Queue{
		client:       client,
		workers:      workers,
		workerPool:   make(chan struct{}, workers),
		stopCh:       make(chan struct{}),
		handlers:     make(map[JobType]HandlerFunc),
		maxRetries:   func() int { return DefaultMaxRetries },
		retryBackoff: DefaultRetryBackoff,
	}
}

// RegisterHandler binds a job type to the function that runs it
func (q *Queue) RegisterHandler(jobType JobType, fn HandlerFunc) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[jobType] = fn
}

// SetMaxRetries makes the retry cap for newly enqueued jobs dynamic
func (q *Queue) SetMaxRetries(fn func() int) {
	if fn != nil {
		q.maxRetries = fn
	}
}

// SetRetryBackoff sets the base delay; attempt n waits n times this value
func (q *Queue) SetRetryBackoff(d time.Duration) {
	if d > 0 {
		q.retryBackoff = d
	}
}

func (q *Queue) handler(jobType JobType) (HandlerFunc, bool) {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	fn, ok := q.handlers[jobType]
	return fn, ok
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	// Initialize worker pool
	for len(q.workerPool) < q.workers {
		q.workerPool <- struct{}{}
	}

	// Start workers
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	// Delayed jobs (releases and retries) move back to the pending list when due
	q.wg.Add(1)
	go q.delayedPromoter(time.Second)

	// Start stuck-processing sweeper (recovers jobs stuck in processing due to crashes)
	q.wg.Add(1)
	go q.stuckSweeper(10*time.Minute, 1*time.Minute)
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// delayedPromoter periodically pushes due entries of the delayed set onto the queue
func (q *Queue) delayedPromoter(interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			log.Info("[JobQueue] Delayed promoter stopping")
			return
		case <-ticker.C:
			if _, err := q.promoteDue(ctx, time.Now()); err != nil {
				log.Errorf("[JobQueue] Delayed promote error: %v", err)
			}
		}
	}
}

// promoteDue moves every delayed job whose due time is <= now back to the
// pending list. ZRem decides ownership so two promoters never push twice.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, JobDelayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatchSize,
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, JobDelayedKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Delayed job %s unreadable: %v", id, err)
			}
			continue
		}
		job.Status = JobStatusPending
		job.UpdatedAt = now
		q.updateJob(ctx, job)
		if err := q.client.LPush(ctx, JobQueueKey, id).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote job %s: %w", id, err)
		}
		promoted++
	}
	return promoted, nil
}

// stuckSweeper periodically scans the processing list and requeues jobs stuck for longer than maxAge
func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Stuck sweeper running (maxAge=%s, interval=%s)", maxAge, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			log.Info("[JobQueue] Stuck sweeper stopping")
			return
		case <-ticker.C:
			q.sweepStuck(ctx, time.Now(), maxAge)
		}
	}
}

func (q *Queue) sweepStuck(ctx context.Context, now time.Time, maxAge time.Duration) int {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Sweeper LRange error: %v", err)
		return 0
	}
	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			// Job data missing; remove from processing list
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Sweeper read error for %s: %v", id, err)
			}
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			// Clean up stray entry
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		// Determine when processing started
		started := job.UpdatedAt
		if job.ProcessedAt != nil && !job.ProcessedAt.IsZero() {
			started = *job.ProcessedAt
		}
		if started.IsZero() {
			started = job.CreatedAt
		}
		if now.Sub(started) > maxAge {
			log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, now.Sub(started))
			job.Status = JobStatusPending
			job.ErrorMsg = "recovered by sweeper"
			job.UpdatedAt = now
			if err := q.requeueJob(ctx, job); err == nil {
				recovered++
			}
		}
	}
	return recovered
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
			// Acquire worker slot
			<-q.workerPool

			// Try to get a job from the queue
			job, err := q.dequeueJob(ctx)
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
					time.Sleep(time.Second)
				}
				q.workerPool <- struct{}{}
				continue
			}

			if job != nil {
				log.Debugf("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
				q.processJob(ctx, job)
			}

			// Release worker slot
			q.workerPool <- struct{}{}
		}
	}
}

// EnqueueJob adds a new job to the queue
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		RetryCount: 0,
		MaxRetries: q.maxRetries(),
	}

	// Store job data
	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	jobKey := JobKeyPrefix + job.ID

	// Use a pipeline for atomic operations
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey, jobData, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Debugf("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

// dequeueJob gets the next job from the queue
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	// Move job from pending queue to processing queue atomically
	jobID, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		// Job data missing or invalid, remove from processing queue
		q.removeFromProcessing(ctx, jobID)
		return nil, fmt.Errorf("job data unavailable for ID %s: %w", jobID, err)
	}

	return job, nil
}

// processJob processes a single job
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	var err error
	if fn, ok := q.handler(job.Type); ok {
		err = fn(ctx, job)
	} else {
		err = fmt.Errorf("unknown job type: %s", job.Type)
		job.MaxRetries = 0
	}

	var release *billing.ReleaseError
	switch {
	case err == nil:
		log.Debugf("[JobQueue] Job %s completed successfully", job.ID)
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		// Remove completed job from Redis entirely
		q.removeCompletedJob(ctx, job.ID)
		q.removeFromProcessing(ctx, job.ID)
	case errors.As(err, &release):
		job.MarkAsDelayed(err.Error())
		if derr := q.delayJob(ctx, job, release.Delay); derr != nil {
			log.Errorf("[JobQueue] Failed to delay job %s: %v", job.ID, derr)
		}
	default:
		log.Errorf("[JobQueue] Job %s failed: %v", job.ID, err)
		job.MarkAsFailed(err.Error())

		// Check if job can be retried
		if job.IsRetryable() {
			backoff := q.retryBackoff * time.Duration(job.RetryCount)
			log.Infof("[JobQueue] Retrying job %s in %s (Attempt %d/%d)", job.ID, backoff, job.RetryCount, job.MaxRetries)
			job.MarkAsRetrying()
			if derr := q.delayJob(ctx, job, backoff); derr != nil {
				log.Errorf("[JobQueue] Failed to schedule retry for job %s: %v", job.ID, derr)
			}
			return
		}
		log.Errorf("[JobQueue] Job %s permanently failed after %d attempts", job.ID, job.RetryCount)
		q.updateJobStats(ctx, JobStatusFailed, 1)
		q.updateJob(ctx, job)
		q.removeFromProcessing(ctx, job.ID)
	}
}

// delayJob parks a job in the delayed set until now+delay
func (q *Queue) delayJob(ctx context.Context, job *Job, delay time.Duration) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	due := time.Now().Add(delay)

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
	pipe.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
	pipe.LRem(ctx, JobProcessingKey, 1, job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}

	jobKey := JobKeyPrefix + job.ID
	if err := q.client.Set(ctx, jobKey, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

// requeueJob moves a job back to the pending queue and resets its status
func (q *Queue) requeueJob(ctx context.Context, job *Job) error {
	job.Status = JobStatusPending
	job.UpdatedAt = time.Now()
	q.updateJob(ctx, job)
	// Remove from processing list and push to the end of the queue
	if err := q.client.LRem(ctx, JobProcessingKey, 1, job.ID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing: %v", job.ID, err)
	}
	if err := q.client.RPush(ctx, JobQueueKey, job.ID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to requeue job %s: %v", job.ID, err)
		return err
	}
	return nil
}

// removeFromProcessing removes a job from the processing queue
func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

// removeCompletedJob completely removes a completed job from Redis
func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	jobKey := JobKeyPrefix + jobID
	if err := q.client.Del(ctx, jobKey).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove completed job %s from Redis: %v", jobID, err)
	}
}

// updateJobStats updates job statistics
func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobKey := JobKeyPrefix + jobID
	jobData, err := q.client.Get(ctx, jobKey).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if countInt, err := strconv.ParseInt(count, 10, 64); err == nil {
			result[JobStatus(status)] = countInt
		}
	}

	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}

// GetDelayedSize returns the number of released or backing-off jobs
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, JobDelayedKey).Result()
}
