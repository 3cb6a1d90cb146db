package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/extract"
	"github.com/timmy/scrapewatch/internal/logger"
)

const (
	DefaultIntervalHours = 24
	MaxIntervalHours     = 720

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// TaskService drives the task lifecycle: submission for review, approval or
// rejection, and pause, resume and delete of approved instructions.
type TaskService struct {
	sites        SiteStore
	pending      PendingTaskStore
	instructions InstructionStore
	runs         RunStore
	synthesizer  SchemaSynthesizer
	renderer     PageRenderer
	logger       *logger.Logger
	now          func() time.Time
}

// NewTaskService creates a new TaskService.
// Parameters:
//   - sites, pending, instructions, runs: persistence.
//   - synthesizer: produces a candidate schema from the instruction text.
//   - renderer: fetches the live page the candidate is validated against.
//   - log: fallback logger.
// Returns:
//   - *TaskService: ready to use.
func NewTaskService(
	sites SiteStore,
	pending PendingTaskStore,
	instructions InstructionStore,
	runs RunStore,
	synthesizer SchemaSynthesizer,
	renderer PageRenderer,
	log *logger.Logger,
) *TaskService {
	return &TaskService{
		sites:        sites,
		pending:      pending,
		instructions: instructions,
		runs:         runs,
		synthesizer:  synthesizer,
		renderer:     renderer,
		logger:       log,
		now:          time.Now,
	}
}

func (s *TaskService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// SubmitRequest is the input of SubmitForReview.
type SubmitRequest struct {
	UserID        string
	SiteURL       string
	Instruction   string
	IntervalHours int
}

func (r *SubmitRequest) normalize() error {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return domain.NewValidationError("user_id", "is required")
	}

	r.SiteURL = strings.TrimSpace(r.SiteURL)
	u, err := url.Parse(r.SiteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.NewValidationError("site_url", "must be an absolute http or https URL")
	}

	r.Instruction = strings.TrimSpace(r.Instruction)
	if r.Instruction == "" {
		return domain.NewValidationError("instruction", "must not be empty")
	}

	if r.IntervalHours == 0 {
		r.IntervalHours = DefaultIntervalHours
	}
	if r.IntervalHours < 1 || r.IntervalHours > MaxIntervalHours {
		return domain.NewValidationError("schedule_interval_hours", "must be between 1 and %d", MaxIntervalHours)
	}
	return nil
}

// SubmitForReview synthesizes a candidate schema for the instruction,
// validates it against a fresh render of the page and queues the result for
// human review. Every failure is returned to the caller and nothing is
// queued in that case.
// Returns:
//   - *domain.PendingTask: the queued candidate with its diagnostics.
//   - error: ValidationError for bad input, SynthesisError, RenderError or
//     TimeoutError from the collaborators.
func (s *TaskService) SubmitForReview(ctx context.Context, req SubmitRequest) (*domain.PendingTask, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	ctx = logger.WithFields(ctx, logger.Fields{logger.FieldUserID: req.UserID, "site_url": req.SiteURL})
	start := time.Now()

	site, err := s.sites.FindOrCreate(ctx, req.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve site: %w", err)
	}

	schema, err := s.synthesizer.Synthesize(ctx, site.URL, req.Instruction)
	if err != nil {
		return nil, err
	}

	doc, err := s.renderer.Render(ctx, site.URL)
	if err != nil {
		return nil, err
	}

	report, err := extract.Validate(doc, schema)
	if err != nil {
		return nil, err
	}

	if title := doc.Title(); title != "" && site.Title == "" {
		if err := s.sites.SetTitle(ctx, site.ID, title); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to update site title")
		}
	}

	task := &domain.PendingTask{
		ID:                    uuid.NewString(),
		SiteID:                site.ID,
		UserID:                req.UserID,
		SiteURL:               site.URL,
		InstructionText:       req.Instruction,
		ScheduleIntervalHours: req.IntervalHours,
		CandidateSchema:       *schema,
		ValidationResult:      *report,
	}
	if err := s.pending.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to queue pending task: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldPendingTaskID: task.ID,
		"healthy":                 report.Healthy(),
	}).WithDuration(start).Info(ctx, "Task submitted for review")
	return task, nil
}

// Approve converts a pending task into an active instruction.
func (s *TaskService) Approve(ctx context.Context, pendingID, userID string) (*domain.Instruction, error) {
	ins, err := s.pending.Approve(ctx, pendingID, userID, s.now())
	if err != nil {
		return nil, err
	}
	s.log(ctx).WithFields(logger.Fields{
		logger.FieldPendingTaskID: pendingID,
		logger.FieldInstructionID: ins.ID,
	}).Info("Pending task approved")
	return ins, nil
}

// Reject discards a pending task.
func (s *TaskService) Reject(ctx context.Context, pendingID, userID string) error {
	if err := s.pending.Delete(ctx, pendingID, userID); err != nil {
		return err
	}
	s.log(ctx).WithField(logger.FieldPendingTaskID, pendingID).Info("Pending task rejected")
	return nil
}

// Pause stops scheduled runs. Pausing a paused instruction succeeds.
func (s *TaskService) Pause(ctx context.Context, instructionID, userID string) (*domain.Instruction, error) {
	return s.transition(ctx, instructionID, userID, domain.InstructionPaused)
}

// Resume re-enables scheduled runs. Resuming an active instruction succeeds.
func (s *TaskService) Resume(ctx context.Context, instructionID, userID string) (*domain.Instruction, error) {
	return s.transition(ctx, instructionID, userID, domain.InstructionActive)
}

func (s *TaskService) transition(ctx context.Context, instructionID, userID string, to domain.InstructionStatus) (*domain.Instruction, error) {
	ins, err := s.instructions.Get(ctx, instructionID, userID)
	if err != nil {
		return nil, err
	}
	if ins.Status == to {
		return ins, nil
	}
	if !canTransition(ins.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, ins.Status, to)
	}
	if err := s.instructions.SetStatus(ctx, instructionID, userID, to); err != nil {
		return nil, err
	}
	ins.Status = to

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldInstructionID: instructionID,
		logger.FieldStatus:        string(to),
	}).Info("Instruction status changed")
	return ins, nil
}

func canTransition(from, to domain.InstructionStatus) bool {
	switch from {
	case domain.InstructionActive:
		return to == domain.InstructionPaused || to == domain.InstructionDeleted
	case domain.InstructionPaused:
		return to == domain.InstructionActive || to == domain.InstructionDeleted
	}
	return false
}

// Delete retires an instruction for good. Its history is retained but no
// longer visible.
func (s *TaskService) Delete(ctx context.Context, instructionID, userID string) error {
	_, err := s.transition(ctx, instructionID, userID, domain.InstructionDeleted)
	return err
}

// ListPending returns the user's pending tasks.
func (s *TaskService) ListPending(ctx context.Context, userID string) ([]domain.PendingTask, error) {
	return s.pending.ListByUser(ctx, userID)
}

// GetPending returns one pending task owned by userID.
func (s *TaskService) GetPending(ctx context.Context, id, userID string) (*domain.PendingTask, error) {
	return s.pending.Get(ctx, id, userID)
}

// ListInstructions returns the user's visible instructions.
func (s *TaskService) ListInstructions(ctx context.Context, userID string) ([]domain.Instruction, error) {
	return s.instructions.ListByUser(ctx, userID)
}

// GetInstruction returns one visible instruction owned by userID.
func (s *TaskService) GetInstruction(ctx context.Context, id, userID string) (*domain.Instruction, error) {
	return s.instructions.Get(ctx, id, userID)
}

// ListRuns returns the newest runs of an instruction owned by userID.
func (s *TaskService) ListRuns(ctx context.Context, instructionID, userID string, limit int) ([]domain.RunResult, error) {
	if _, err := s.instructions.Get(ctx, instructionID, userID); err != nil {
		return nil, err
	}
	return s.runs.List(ctx, instructionID, clampLimit(limit))
}

// ListChanges returns the newest change events of an instruction owned by userID.
func (s *TaskService) ListChanges(ctx context.Context, instructionID, userID string, limit int) ([]domain.ChangeEvent, error) {
	if _, err := s.instructions.Get(ctx, instructionID, userID); err != nil {
		return nil, err
	}
	return s.runs.ListChanges(ctx, instructionID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// SettingsService manages per-user notification settings.
type SettingsService struct {
	store SettingsStore
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(store SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

// Get returns the user's settings, or defaults with no channels when the
// user never saved any.
func (s *SettingsService) Get(ctx context.Context, userID string) (*domain.NotificationSettings, error) {
	settings, err := s.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.NotificationSettings{UserID: userID, AlertThreshold: domain.DefaultAlertThreshold}, nil
	}
	return settings, err
}

// Save validates and upserts the user's settings.
func (s *SettingsService) Save(ctx context.Context, settings *domain.NotificationSettings) error {
	settings.TelegramChatID = strings.TrimSpace(settings.TelegramChatID)
	settings.NotificationEmail = strings.TrimSpace(settings.NotificationEmail)
	if settings.NotificationEmail != "" && !strings.Contains(settings.NotificationEmail, "@") {
		return domain.NewValidationError("notification_email", "is not an email address")
	}
	if settings.AlertThreshold < 0 {
		return domain.NewValidationError("alert_threshold", "must not be negative")
	}
	return s.store.Save(ctx, settings)
}
