package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/scrapewatch/internal/domain"
	"gorm.io/gorm"
)

// PendingTaskRepository handles the review queue.
type PendingTaskRepository struct {
	db *gorm.DB
}

// NewPendingTaskRepository creates a new PendingTaskRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *PendingTaskRepository: repository instance bound to db.
func NewPendingTaskRepository(db *gorm.DB) *PendingTaskRepository {
	return &PendingTaskRepository{db: db}
}

// Create inserts a new pending task, assigning an ID if it has none.
func (r *PendingTaskRepository) Create(ctx context.Context, task *domain.PendingTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(task).Error
}

// Get retrieves a pending task owned by userID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: pending task ID.
//   - userID: owner; a task of another user is reported as not found.
// Returns:
//   - *domain.PendingTask: the task if found.
//   - error: domain.ErrNotFound if missing or not owned.
func (r *PendingTaskRepository) Get(ctx context.Context, id, userID string) (*domain.PendingTask, error) {
	var task domain.PendingTask
	if err := r.db.WithContext(ctx).First(&task, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

// ListByUser returns a user's pending tasks, newest first.
func (r *PendingTaskRepository) ListByUser(ctx context.Context, userID string) ([]domain.PendingTask, error) {
	var tasks []domain.PendingTask
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&tasks).Error
	return tasks, err
}

// Delete removes a pending task owned by userID.
// Returns:
//   - error: domain.ErrNotFound if no task was deleted.
func (r *PendingTaskRepository) Delete(ctx context.Context, id, userID string) error {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&domain.PendingTask{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Approve converts a pending task into an active instruction in one
// transaction: the instruction is inserted and the task deleted, or
// nothing changes. Two concurrent approvals of the same task cannot both
// succeed because only one delete can affect the row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: pending task ID.
//   - userID: owner of the task.
//   - now: approval time, which is also the first due time.
// Returns:
//   - *domain.Instruction: the created instruction.
//   - error: domain.ErrNotFound if the task is missing, not owned, or already resolved.
func (r *PendingTaskRepository) Approve(ctx context.Context, id, userID string, now time.Time) (*domain.Instruction, error) {
	var instruction *domain.Instruction

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task domain.PendingTask
		if err := tx.First(&task, "id = ? AND user_id = ?", id, userID).Error; err != nil {
			return translate(err)
		}

		now = now.UTC()
		instruction = &domain.Instruction{
			ID:                    uuid.NewString(),
			SiteID:                task.SiteID,
			UserID:                task.UserID,
			SiteURL:               task.SiteURL,
			Text:                  task.InstructionText,
			Schema:                task.CandidateSchema,
			ScheduleIntervalHours: task.ScheduleIntervalHours,
			Status:                domain.InstructionActive,
			NextRunAt:             now,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := tx.Create(instruction).Error; err != nil {
			return fmt.Errorf("failed to create instruction: %w", err)
		}

		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&domain.PendingTask{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete pending task: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instruction, nil
}
