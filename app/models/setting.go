package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer, float
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tunable setting keys
const (
	SettingWebhookStaleAfterMinutes     = "webhook_stale_after_minutes"
	SettingWebhookReleaseDelaySeconds   = "webhook_release_delay_seconds"
	SettingWebhookMaxAttempts           = "webhook_max_attempts"
	SettingJobQueueWorkerCount          = "job_queue_worker_count"
	SettingRecoverySweepIntervalMinutes = "recovery_sweep_interval_minutes"
)

// ErrUnknownSetting is returned for keys AppSettings does not carry.
var ErrUnknownSetting = errors.New("unknown setting")

// AppSettings holds the runtime tunables of the billing service
type AppSettings struct {
	WebhookStaleAfterMinutes     int `json:"webhook_stale_after_minutes" validate:"min=1,max=1440"`
	WebhookReleaseDelaySeconds   int `json:"webhook_release_delay_seconds" validate:"min=1,max=600"`
	WebhookMaxAttempts           int `json:"webhook_max_attempts" validate:"min=1,max=50"`
	JobQueueWorkerCount          int `json:"job_queue_worker_count" validate:"min=1,max=64"`
	RecoverySweepIntervalMinutes int `json:"recovery_sweep_interval_minutes" validate:"min=1,max=1440"`
	mu                           sync.RWMutex
}

// Global settings instance
var (
	appSettings *AppSettings
	settingsMu  sync.RWMutex
)

// DefaultAppSettings returns the settings used when the table has no overrides
func DefaultAppSettings() *AppSettings {
	return &AppSettings{
		WebhookStaleAfterMinutes:     10,
		WebhookReleaseDelaySeconds:   15,
		WebhookMaxAttempts:           5,
		JobQueueWorkerCount:          5,
		RecoverySweepIntervalMinutes: 5,
	}
}

func (s *AppSettings) fields() map[string]*int {
	return map[string]*int{
		SettingWebhookStaleAfterMinutes:     &s.WebhookStaleAfterMinutes,
		SettingWebhookReleaseDelaySeconds:   &s.WebhookReleaseDelaySeconds,
		SettingWebhookMaxAttempts:           &s.WebhookMaxAttempts,
		SettingJobQueueWorkerCount:          &s.JobQueueWorkerCount,
		SettingRecoverySweepIntervalMinutes: &s.RecoverySweepIntervalMinutes,
	}
}

// SettingKeys returns the tunable keys in a stable order.
func SettingKeys() []string {
	keys := make([]string, 0, 5)
	for key := range DefaultAppSettings().fields() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Values returns the tunables keyed by their setting key.
func (s *AppSettings) Values() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, 5)
	for key, ptr := range s.fields() {
		out[key] = *ptr
	}
	return out
}

// Clone returns an independent copy.
func (s *AppSettings) Clone() *AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &AppSettings{
		WebhookStaleAfterMinutes:     s.WebhookStaleAfterMinutes,
		WebhookReleaseDelaySeconds:   s.WebhookReleaseDelaySeconds,
		WebhookMaxAttempts:           s.WebhookMaxAttempts,
		JobQueueWorkerCount:          s.JobQueueWorkerCount,
		RecoverySweepIntervalMinutes: s.RecoverySweepIntervalMinutes,
	}
}

// Set assigns one tunable. The result is not validated.
func (s *AppSettings) Set(key string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptr, ok := s.fields()[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	*ptr = value
	return nil
}

// GetAppSettings returns the current application settings
func GetAppSettings() *AppSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return appSettings
}

// LoadSettings loads settings from database into memory
func LoadSettings(db *gorm.DB) error {
	loaded := DefaultAppSettings()

	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Unknown keys and unparsable values keep the default
	for _, setting := range settings {
		n, err := strconv.Atoi(setting.Value)
		if err != nil {
			continue
		}
		_ = loaded.Set(setting.Key, n)
	}

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid settings in database: %w", err)
	}

	settingsMu.Lock()
	appSettings = loaded
	settingsMu.Unlock()
	return nil
}

// SaveSettings validates and upserts every tunable, then publishes the
// snapshot to the running process.
func SaveSettings(db *gorm.DB, settings *AppSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	values := settings.Values()
	rows := make([]Setting, 0, len(values))
	for _, key := range SettingKeys() {
		rows = append(rows, Setting{Key: key, Value: strconv.Itoa(values[key]), Type: "integer"})
	}

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "type", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	settingsMu.Lock()
	appSettings = settings.Clone()
	settingsMu.Unlock()
	return nil
}

// Validate validates the settings
func (s *AppSettings) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return validator.New().Struct(s)
}

// ToJSON converts settings to JSON
func (s *AppSettings) ToJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// GetWebhookStaleAfter returns the staleness threshold for processing events
func (s *AppSettings) GetWebhookStaleAfter() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.WebhookStaleAfterMinutes) * time.Minute
}

// GetWebhookReleaseDelay returns the delay used when a job is released back to the queue
func (s *AppSettings) GetWebhookReleaseDelay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.WebhookReleaseDelaySeconds) * time.Second
}

// GetWebhookMaxAttempts returns the queue-level retry cap for a single event
func (s *AppSettings) GetWebhookMaxAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WebhookMaxAttempts
}

// GetJobQueueWorkerCount returns the number of job queue workers
func (s *AppSettings) GetJobQueueWorkerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.JobQueueWorkerCount
}

// GetRecoverySweepInterval returns how often stale webhook events are swept
func (s *AppSettings) GetRecoverySweepInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.RecoverySweepIntervalMinutes) * time.Minute
}
