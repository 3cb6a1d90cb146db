package domain

import "time"

// Site is a target URL. Only Title may change after creation.
type Site struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	URL       string    `gorm:"type:text;not null;uniqueIndex:idx_sites_url" json:"url"`
	Title     string    `gorm:"type:text" json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Site.
func (Site) TableName() string {
	return "sites"
}

// PendingTask is a synthesized candidate awaiting human review. It is a
// queue entry: created once, then either approved (converted into an
// Instruction) or rejected, and deleted in both cases.
type PendingTask struct {
	ID                    string           `gorm:"type:text;primaryKey" json:"id"`
	SiteID                string           `gorm:"type:text;not null;index" json:"site_id"`
	UserID                string           `gorm:"type:text;not null;index:idx_pending_user" json:"user_id"`
	SiteURL               string           `gorm:"type:text;not null" json:"site_url"`
	InstructionText       string           `gorm:"type:text;not null" json:"instruction_text"`
	ScheduleIntervalHours int              `gorm:"not null" json:"schedule_interval_hours"`
	CandidateSchema       ExtractionSchema `gorm:"type:text" json:"candidate_schema"`
	ValidationResult      ValidationReport `gorm:"type:text" json:"validation_result"`
	CreatedAt             time.Time        `json:"created_at"`
}

// TableName returns the database table name for PendingTask.
func (PendingTask) TableName() string {
	return "pending_tasks"
}

// InstructionStatus is the scheduling state of an approved instruction.
type InstructionStatus string

const (
	InstructionActive  InstructionStatus = "active"
	InstructionPaused  InstructionStatus = "paused"
	InstructionDeleted InstructionStatus = "deleted"
)

// Instruction is an approved scraping task tied to one site.
type Instruction struct {
	ID                    string            `gorm:"type:text;primaryKey" json:"id"`
	SiteID                string            `gorm:"type:text;not null;index" json:"site_id"`
	UserID                string            `gorm:"type:text;not null;index:idx_instructions_user" json:"user_id"`
	SiteURL               string            `gorm:"type:text;not null" json:"site_url"`
	Text                  string            `gorm:"type:text;not null" json:"text"`
	Schema                ExtractionSchema  `gorm:"type:text" json:"schema"`
	ScheduleIntervalHours int               `gorm:"not null" json:"schedule_interval_hours"`
	Status                InstructionStatus `gorm:"type:text;not null;index:idx_instructions_due,priority:1" json:"status"`
	NextRunAt             time.Time         `gorm:"index:idx_instructions_due,priority:2" json:"next_run_at"`
	LastRunAt             *time.Time        `json:"last_run_at,omitempty"`
	LastError             string            `gorm:"type:text" json:"last_error,omitempty"`
	ConsecutiveFailures   int               `gorm:"default:0" json:"consecutive_failures"`
	// RunningSince is set while some process holds the run claim.
	RunningSince          *time.Time        `json:"running_since,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Instruction.
func (Instruction) TableName() string {
	return "instructions"
}

// Interval returns the schedule interval as a duration.
func (i *Instruction) Interval() time.Duration {
	return time.Duration(i.ScheduleIntervalHours) * time.Hour
}

// DueAt returns the moment the instruction becomes eligible to run. An
// instruction that never ran is due from its creation.
func (i *Instruction) DueAt() time.Time {
	if i.LastRunAt == nil {
		return i.CreatedAt
	}
	return i.LastRunAt.Add(i.Interval())
}

// IsDue reports whether an active instruction should run at now.
func (i *Instruction) IsDue(now time.Time) bool {
	return i.Status == InstructionActive && !i.DueAt().After(now)
}

// Overdue returns how long past its due time the instruction is at now.
func (i *Instruction) Overdue(now time.Time) time.Duration {
	return now.Sub(i.DueAt())
}
