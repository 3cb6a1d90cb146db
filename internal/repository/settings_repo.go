package repository

import (
	"context"
	"time"

	"github.com/timmy/scrapewatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsRepository handles per-user notification settings.
type SettingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Save creates or replaces the settings of settings.UserID. A non-positive
// threshold is stored as domain.DefaultAlertThreshold.
func (r *SettingsRepository) Save(ctx context.Context, settings *domain.NotificationSettings) error {
	if settings.AlertThreshold <= 0 {
		settings.AlertThreshold = domain.DefaultAlertThreshold
	}
	settings.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"telegram_chat_id", "notification_email", "alert_threshold", "updated_at"}),
	}).Create(settings).Error
}

// Get returns the settings of userID.
// Returns:
//   - error: domain.ErrNotFound if the user never saved settings.
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*domain.NotificationSettings, error) {
	var settings domain.NotificationSettings
	if err := r.db.WithContext(ctx).First(&settings, "user_id = ?", userID).Error; err != nil {
		return nil, translate(err)
	}
	return &settings, nil
}
