package domain

import (
	"database/sql/driver"
	"time"
)

// ExtractedRecord is one item pulled from a page. RecordKey is a stable
// identity used to align records across runs, since extraction order is not
// guaranteed to be stable.
type ExtractedRecord struct {
	Fields    FieldMap `json:"fields"`
	RecordKey string   `json:"recordKey"`
}

// RecordList is a custom type for storing extracted records as JSON in the database.
type RecordList []ExtractedRecord

// Value implements the driver.Valuer interface for database serialization.
func (l RecordList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalColumn(l)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (l *RecordList) Scan(value interface{}) error {
	if value == nil {
		*l = RecordList{}
		return nil
	}
	return scanColumn(value, l, "RecordList")
}

// RunResult is one execution's extracted records. Rows are append-only and
// never updated once written.
type RunResult struct {
	ID            string     `gorm:"type:text;primaryKey" json:"id"`
	Seq           int64      `gorm:"not null;uniqueIndex:idx_runs_instruction,priority:2" json:"seq"`
	InstructionID string     `gorm:"type:text;not null;uniqueIndex:idx_runs_instruction,priority:1" json:"instruction_id"`
	Records       RecordList `gorm:"type:text" json:"records"`
	RecordCount   int        `json:"record_count"`
	SnapshotKey   string     `gorm:"type:text" json:"snapshot_key,omitempty"`
	FetchedAt     time.Time  `gorm:"not null" json:"fetched_at"`
}

// TableName returns the database table name for RunResult.
func (RunResult) TableName() string {
	return "run_results"
}

// ChangeType classifies a detected difference between two runs.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// ChangeEvent is a difference between two consecutive RunResults of the same
// instruction. It is derived by the diff engine and never edited.
type ChangeEvent struct {
	ID            string     `gorm:"type:text;primaryKey" json:"id"`
	InstructionID string     `gorm:"type:text;not null;index:idx_changes_instruction" json:"instruction_id"`
	RunResultID   string     `gorm:"type:text;not null;index" json:"run_result_id"`
	ChangeType    ChangeType `gorm:"type:text;not null" json:"change_type"`
	RecordKey     string     `gorm:"type:text;not null" json:"record_key"`
	PreviousValue FieldMap   `gorm:"type:text" json:"previous_value,omitempty"`
	NewValue      FieldMap   `gorm:"type:text" json:"new_value,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TableName returns the database table name for ChangeEvent.
func (ChangeEvent) TableName() string {
	return "change_events"
}

// RunCompletion is published by the scheduler after a RunResult has been
// persisted. Previous is nil for the first run of an instruction.
type RunCompletion struct {
	Instruction Instruction
	Previous    *RunResult
	Current     *RunResult
}
