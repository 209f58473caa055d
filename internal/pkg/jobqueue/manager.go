package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
)

// StaleRecoverer is the recovery sweep the manager runs on a timer.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context) (billing.RecoveryReport, error)
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue          *Queue
	recoverer      StaleRecoverer
	recoveryTicker *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		// Get worker count from settings, fallback to 5 if not available
		workerCount := 5
		if settings := getAppSettings(); settings != nil {
			workerCount = settings.GetJobQueueWorkerCount()
		}

		queue := NewQueue(workerCount)
		queue.SetMaxRetries(func() int {
			if settings := getAppSettings(); settings != nil {
				return settings.GetWebhookMaxAttempts()
			}
			return DefaultMaxRetries
		})

		globalManager = &Manager{
			queue:  queue,
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// SetRecoverer installs the periodic recovery sweep. Must be called before Start.
func (m *Manager) SetRecoverer(r StaleRecoverer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverer = r
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.recoverer != nil {
		interval := 5 * time.Minute // Default fallback
		if settings := getAppSettings(); settings != nil {
			interval = settings.GetRecoverySweepInterval()
		}
		m.recoveryTicker = time.NewTicker(interval)
		m.wg.Add(1)
		go m.recoveryWorker(interval)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.recoveryTicker != nil {
		m.recoveryTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// recoveryWorker resets stale processing rows and re-enqueues lost events
func (m *Manager) recoveryWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started recovery worker (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Recovery worker stopping")
			return
		case <-m.recoveryTicker.C:
			m.RunRecoveryOnce(context.Background())
		}
	}
}

// RunRecoveryOnce exposes a manual trigger for a single recovery sweep (admin use).
func (m *Manager) RunRecoveryOnce(ctx context.Context) (billing.RecoveryReport, error) {
	if m.recoverer == nil {
		return billing.RecoveryReport{}, nil
	}
	report, err := m.recoverer.RecoverStale(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Recovery sweep error: %v", err)
		return report, err
	}
	if report.StaleProcessing > 0 || report.StaleReceived > 0 {
		log.Infof("[JobQueue Manager] Recovery sweep re-enqueued %d stale processing and %d stale received events",
			report.StaleProcessing, report.StaleReceived)
	}
	return report, nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// getAppSettings safely returns the current app settings
func getAppSettings() *models.AppSettings {
	return models.GetAppSettings()
}
