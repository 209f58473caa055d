package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
)

type settingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

// Current returns the tunables as stored, falling back to defaults for
// missing rows. The process-wide snapshot is refreshed as a side effect.
func (r *settingRepository) Current() (*models.AppSettings, error) {
	if err := models.LoadSettings(r.db); err != nil {
		return nil, err
	}
	return models.GetAppSettings().Clone(), nil
}

// Update changes one tunable, validates the whole set and persists it.
func (r *settingRepository) Update(key string, value int) (*models.AppSettings, error) {
	settings, err := r.Current()
	if err != nil {
		return nil, err
	}
	if err := settings.Set(key, value); err != nil {
		return nil, err
	}
	if err := models.SaveSettings(r.db, settings); err != nil {
		return nil, fmt.Errorf("update %s: %w", key, err)
	}
	return settings, nil
}

// Reset writes the defaults back.
func (r *settingRepository) Reset() (*models.AppSettings, error) {
	settings := models.DefaultAppSettings()
	if err := models.SaveSettings(r.db, settings); err != nil {
		return nil, err
	}
	return settings, nil
}
