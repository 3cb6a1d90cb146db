package domain

import "time"

// DefaultAlertThreshold is used when a user saves settings without a threshold.
const DefaultAlertThreshold = 5

// NotificationSettings holds a user's delivery channels. AlertThreshold is
// the number of change events per run from which alerts are batched into a
// single summary instead of being sent one by one.
type NotificationSettings struct {
	UserID            string    `gorm:"type:text;primaryKey" json:"user_id"`
	TelegramChatID    string    `gorm:"type:text" json:"telegram_chat_id,omitempty"`
	NotificationEmail string    `gorm:"type:text" json:"notification_email,omitempty"`
	AlertThreshold    int       `gorm:"not null;default:5" json:"alert_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name for NotificationSettings.
func (NotificationSettings) TableName() string {
	return "notification_settings"
}

// HasChannel reports whether at least one delivery channel is configured.
func (s *NotificationSettings) HasChannel() bool {
	return s != nil && (s.TelegramChatID != "" || s.NotificationEmail != "")
}

// Notification is the payload handed to the dispatcher. Batched
// notifications carry Total and a sample of Events; single notifications
// carry exactly one event.
type Notification struct {
	UserID         string        `json:"user_id"`
	InstructionID  string        `json:"instruction_id"`
	SiteURL        string        `json:"site_url"`
	Batched        bool          `json:"batched"`
	Total          int           `json:"total"`
	Events         []ChangeEvent `json:"events"`
	TelegramChatID string        `json:"-"`
	Email          string        `json:"-"`
}
