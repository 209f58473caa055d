package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/jobqueue"
)

// AdminQueueController reports on the Redis job queue using repository pattern
type AdminQueueController struct {
	queueRepo repository.QueueRepository
}

// NewAdminQueueController creates a new admin queue controller with repository
func NewAdminQueueController(queueRepo repository.QueueRepository) *AdminQueueController {
	return &AdminQueueController{
		queueRepo: queueRepo,
	}
}

// QueueStats is the queue snapshot returned to the admin API
type QueueStats struct {
	Pending    int64            `json:"pending"`
	Processing int64            `json:"processing"`
	Delayed    int64            `json:"delayed"`
	StoredJobs int              `json:"stored_jobs"`
	Counters   map[string]int64 `json:"counters"`
}

// HandleQueueStats returns list sizes and the job status counters
func (aqc *AdminQueueController) HandleQueueStats(c *fiber.Ctx) error {
	stats, err := aqc.collectStats()
	if err != nil {
		log.Errorf("[Admin] Failed to read queue stats: %v", err)
		return jsonError(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Queue statistics unavailable")
	}
	return c.JSON(stats)
}

// HandleQueueStatsReset clears the job status counters. Queued jobs are untouched.
func (aqc *AdminQueueController) HandleQueueStatsReset(c *fiber.Ctx) error {
	deleted, err := aqc.queueRepo.DeleteKeys([]string{jobqueue.JobStatsKey})
	if err != nil {
		log.Errorf("[Admin] Failed to reset queue stats: %v", err)
		return jsonError(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Queue statistics unavailable")
	}
	return c.JSON(fiber.Map{"reset": deleted > 0})
}

func (aqc *AdminQueueController) collectStats() (*QueueStats, error) {
	pending, err := aqc.queueRepo.GetListLength(jobqueue.JobQueueKey)
	if err != nil {
		return nil, err
	}
	processing, err := aqc.queueRepo.GetListLength(jobqueue.JobProcessingKey)
	if err != nil {
		return nil, err
	}
	delayed, err := aqc.queueRepo.GetSortedSetSize(jobqueue.JobDelayedKey)
	if err != nil {
		return nil, err
	}
	jobKeys, err := aqc.queueRepo.FindKeysByPatterns([]string{jobqueue.JobKeyPrefix + "*"})
	if err != nil {
		return nil, err
	}
	raw, err := aqc.queueRepo.GetHash(jobqueue.JobStatsKey)
	if err != nil {
		return nil, err
	}

	counters := make(map[string]int64, len(raw))
	for status, value := range raw {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			counters[status] = n
		}
	}

	return &QueueStats{
		Pending:    pending,
		Processing: processing,
		Delayed:    delayed,
		StoredJobs: len(jobKeys),
		Counters:   counters,
	}, nil
}
