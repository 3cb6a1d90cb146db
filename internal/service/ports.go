package service

import (
	"context"
	"time"

	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/extract"
)

// The narrow store contracts below are satisfied by the repository package.

type SiteStore interface {
	FindOrCreate(ctx context.Context, url string) (*domain.Site, error)
	SetTitle(ctx context.Context, id, title string) error
}

type PendingTaskStore interface {
	Create(ctx context.Context, task *domain.PendingTask) error
	Get(ctx context.Context, id, userID string) (*domain.PendingTask, error)
	ListByUser(ctx context.Context, userID string) ([]domain.PendingTask, error)
	Delete(ctx context.Context, id, userID string) error
	Approve(ctx context.Context, id, userID string, now time.Time) (*domain.Instruction, error)
}

type InstructionStore interface {
	Get(ctx context.Context, id, userID string) (*domain.Instruction, error)
	GetByID(ctx context.Context, id string) (*domain.Instruction, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Instruction, error)
	SetStatus(ctx context.Context, id, userID string, status domain.InstructionStatus) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Instruction, error)
	RecordOutcome(ctx context.Context, id string, ranAt time.Time, runErr error, maxFailures int) (bool, error)
	Claim(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error)
	ClaimDue(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id string) error
}

type RunStore interface {
	Record(ctx context.Context, run *domain.RunResult) error
	Latest(ctx context.Context, instructionID string) (*domain.RunResult, error)
	List(ctx context.Context, instructionID string, limit int) ([]domain.RunResult, error)
	SaveChanges(ctx context.Context, events []domain.ChangeEvent) error
	ListChanges(ctx context.Context, instructionID string, limit int) ([]domain.ChangeEvent, error)
}

type SettingsStore interface {
	Save(ctx context.Context, settings *domain.NotificationSettings) error
	Get(ctx context.Context, userID string) (*domain.NotificationSettings, error)
}

// PageRenderer fetches a page and returns the rendered document.
type PageRenderer interface {
	Render(ctx context.Context, pageURL string) (*extract.Document, error)
}

// SnapshotArchiver stores the rendered HTML of a run.
type SnapshotArchiver interface {
	Archive(ctx context.Context, instructionID, runID string, html []byte) (string, error)
}

// Notifier delivers one notification over the channels it names.
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification) error
}
