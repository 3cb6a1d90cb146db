package repository

import (
	"context"
	"time"

	"github.com/timmy/scrapewatch/internal/domain"
	"gorm.io/gorm"
)

// InstructionRepository handles approved instructions and their scheduling state.
type InstructionRepository struct {
	db *gorm.DB
}

// NewInstructionRepository creates a new InstructionRepository.
func NewInstructionRepository(db *gorm.DB) *InstructionRepository {
	return &InstructionRepository{db: db}
}

func (r *InstructionRepository) visible(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Where("status <> ?", domain.InstructionDeleted)
}

// Get retrieves a non-deleted instruction owned by userID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: instruction ID.
//   - userID: owner; other users get domain.ErrNotFound.
// Returns:
//   - *domain.Instruction: the instruction if found.
//   - error: domain.ErrNotFound if missing, deleted or not owned.
func (r *InstructionRepository) Get(ctx context.Context, id, userID string) (*domain.Instruction, error) {
	var ins domain.Instruction
	if err := r.visible(ctx).First(&ins, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, translate(err)
	}
	return &ins, nil
}

// GetByID retrieves a non-deleted instruction regardless of owner. Used by
// the scheduler, which acts for all users.
func (r *InstructionRepository) GetByID(ctx context.Context, id string) (*domain.Instruction, error) {
	var ins domain.Instruction
	if err := r.visible(ctx).First(&ins, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &ins, nil
}

// ListByUser returns a user's non-deleted instructions, newest first.
func (r *InstructionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Instruction, error) {
	var list []domain.Instruction
	err := r.visible(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// SetStatus changes the status of a non-deleted instruction owned by userID.
// Returns:
//   - error: domain.ErrNotFound if no such instruction.
func (r *InstructionRepository) SetStatus(ctx context.Context, id, userID string, status domain.InstructionStatus) error {
	res := r.visible(ctx).
		Model(&domain.Instruction{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListDue returns active instructions whose next run is at or before now,
// most overdue first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - now: reference time.
//   - limit: maximum rows; 0 means no limit.
// Returns:
//   - []domain.Instruction: due instructions ordered by next_run_at.
//   - error: non-nil if the query fails.
func (r *InstructionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Instruction, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND next_run_at <= ?", domain.InstructionActive, now.UTC()).
		Order("next_run_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var list []domain.Instruction
	err := q.Find(&list).Error
	return list, err
}

// Claim marks an instruction as running for the caller. The claim is shared
// by every process on the database, so a run started by one process is never
// duplicated by another. A claim older than ttl is treated as abandoned.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: instruction ID.
//   - now: claim time.
//   - ttl: age after which an unreleased claim may be taken over.
// Returns:
//   - bool: true if the caller now holds the claim.
//   - error: non-nil if the update fails.
func (r *InstructionRepository) Claim(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	return r.claim(r.visible(ctx).Where("id = ?", id), now, ttl)
}

// ClaimDue is Claim restricted to an active instruction that is still due at
// now. It fails once another run has moved next_run_at forward.
func (r *InstructionRepository) ClaimDue(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	q := r.db.WithContext(ctx).
		Where("id = ? AND status = ? AND next_run_at <= ?", id, domain.InstructionActive, now.UTC())
	return r.claim(q, now, ttl)
}

func (r *InstructionRepository) claim(q *gorm.DB, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	res := q.Model(&domain.Instruction{}).
		Where("(running_since IS NULL OR running_since <= ?)", now.Add(-ttl)).
		UpdateColumn("running_since", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release drops the run claim of an instruction.
func (r *InstructionRepository) Release(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Instruction{}).
		Where("id = ?", id).
		UpdateColumn("running_since", nil).Error
}

// RecordOutcome stores the result of one execution: the run time, the next
// due time, and the error state. A success clears the error and failure
// counter. When maxFailures is positive and the consecutive failure count
// reaches it, an active instruction is paused.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: instruction ID.
//   - ranAt: when the execution started.
//   - runErr: the execution error, nil on success.
//   - maxFailures: auto-pause threshold, 0 disables.
// Returns:
//   - bool: true if the instruction was auto-paused.
//   - error: non-nil if the update fails.
func (r *InstructionRepository) RecordOutcome(ctx context.Context, id string, ranAt time.Time, runErr error, maxFailures int) (bool, error) {
	paused := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ins domain.Instruction
		if err := tx.First(&ins, "id = ?", id).Error; err != nil {
			return translate(err)
		}

		ranAt = ranAt.UTC()
		updates := map[string]interface{}{
			"last_run_at": ranAt,
			"next_run_at": ranAt.Add(ins.Interval()),
			"updated_at":  time.Now().UTC(),
		}
		if runErr == nil {
			updates["last_error"] = ""
			updates["consecutive_failures"] = 0
		} else {
			failures := ins.ConsecutiveFailures + 1
			updates["last_error"] = runErr.Error()
			updates["consecutive_failures"] = failures
			if maxFailures > 0 && failures >= maxFailures && ins.Status == domain.InstructionActive {
				updates["status"] = domain.InstructionPaused
				paused = true
			}
		}

		return tx.Model(&domain.Instruction{}).Where("id = ?", id).Updates(updates).Error
	})
	return paused, err
}
