package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/scrapewatch/internal/domain"
	"gorm.io/gorm"
)

// RunRepository handles the append-only run history and change events.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Record appends a run result, assigning the next sequence number of its
// instruction. Callers must not record two runs of one instruction
// concurrently; the scheduler's in-flight set guarantees that.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - run: the result to store; ID and FetchedAt are filled when empty.
// Returns:
//   - error: non-nil if the insert fails.
func (r *RunRepository) Record(ctx context.Context, run *domain.RunResult) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.FetchedAt.IsZero() {
		run.FetchedAt = time.Now()
	}
	run.FetchedAt = run.FetchedAt.UTC()
	run.RecordCount = len(run.Records)
	if run.Records == nil {
		run.Records = domain.RecordList{}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&domain.RunResult{}).
			Where("instruction_id = ?", run.InstructionID).
			Select("COALESCE(MAX(seq), 0)").
			Row().
			Scan(&maxSeq); err != nil {
			return err
		}
		run.Seq = maxSeq + 1
		return tx.Create(run).Error
	})
}

// Latest returns the most recent run of an instruction, or nil when it has
// never run.
func (r *RunRepository) Latest(ctx context.Context, instructionID string) (*domain.RunResult, error) {
	var run domain.RunResult
	err := r.db.WithContext(ctx).
		Where("instruction_id = ?", instructionID).
		Order("seq DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns an instruction's runs, newest first.
func (r *RunRepository) List(ctx context.Context, instructionID string, limit int) ([]domain.RunResult, error) {
	q := r.db.WithContext(ctx).Where("instruction_id = ?", instructionID).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []domain.RunResult
	err := q.Find(&runs).Error
	return runs, err
}

// SaveChanges stores the change events derived from one run.
func (r *RunRepository) SaveChanges(ctx context.Context, events []domain.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		if events[i].CreatedAt.IsZero() {
			events[i].CreatedAt = now
		}
	}
	return r.db.WithContext(ctx).CreateInBatches(events, 100).Error
}

// ListChanges returns an instruction's change events, newest first.
func (r *RunRepository) ListChanges(ctx context.Context, instructionID string, limit int) ([]domain.ChangeEvent, error) {
	q := r.db.WithContext(ctx).
		Where("instruction_id = ?", instructionID).
		Order("created_at DESC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var events []domain.ChangeEvent
	err := q.Find(&events).Error
	return events, err
}
