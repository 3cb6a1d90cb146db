package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/extract"
	"github.com/timmy/scrapewatch/internal/logger"
)

// ExecutorConfig holds configuration for instruction execution.
type ExecutorConfig struct {
	Timeout      time.Duration
	RetryCount   int
	RetryBackoff time.Duration
	MaxPages     int
}

// Executor performs one run of an instruction: render, paginate, extract,
// persist. It must only be called while the caller holds the instruction's
// in-flight flag, so the previous run it reads is the immediate predecessor
// of the run it writes.
type Executor struct {
	renderer PageRenderer
	runs     RunStore
	archive  SnapshotArchiver
	logger   *logger.Logger
	cfg      ExecutorConfig
}

// NewExecutor creates a new Executor. archive may be nil to skip snapshots.
func NewExecutor(renderer PageRenderer, runs RunStore, archive SnapshotArchiver, log *logger.Logger, cfg *ExecutorConfig) *Executor {
	c := *cfg
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 1
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	return &Executor{renderer: renderer, runs: runs, archive: archive, logger: log, cfg: c}
}

func (e *Executor) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, e.logger)
}

// Execute runs ins once under the execution timeout. Transient failures are
// retried with exponential backoff. On success the new RunResult is stored
// and returned with its predecessor; on failure nothing is stored.
// Parameters:
//   - ctx: parent context; cancellation aborts the run.
//   - ins: the instruction to run.
// Returns:
//   - *domain.RunCompletion: the stored run and its predecessor.
//   - error: TimeoutError when the deadline hits, otherwise the last attempt's error.
func (e *Executor) Execute(ctx context.Context, ins *domain.Instruction) (*domain.RunCompletion, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	previous, err := e.runs.Latest(ctx, ins.ID)
	if err != nil {
		return nil, e.deadline(ctx, err)
	}

	var (
		records []domain.ExtractedRecord
		html    []byte
	)
	for attempt := 0; ; attempt++ {
		records, html, err = e.collect(ctx, ins)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, e.deadline(ctx, err)
		}
		if !domain.IsTransient(err) || attempt >= e.cfg.RetryCount {
			return nil, err
		}

		backoff := e.cfg.RetryBackoff << attempt
		e.log(ctx).WithField(logger.FieldAttempt, attempt+1).WithError(err).
			Warnf("Run attempt failed, retrying in %s", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, e.deadline(ctx, err)
		case <-timer.C:
		}
	}

	run := &domain.RunResult{
		ID:            uuid.NewString(),
		InstructionID: ins.ID,
		Records:       records,
		FetchedAt:     time.Now().UTC(),
	}

	if e.archive != nil && len(html) > 0 {
		key, err := e.archive.Archive(ctx, ins.ID, run.ID, html)
		if err != nil {
			e.log(ctx).WithError(err).Warn("Failed to archive snapshot")
		} else {
			run.SnapshotKey = key
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, e.deadline(ctx, err)
	}
	if err := e.runs.Record(ctx, run); err != nil {
		return nil, e.deadline(ctx, err)
	}

	return &domain.RunCompletion{Instruction: *ins, Previous: previous, Current: run}, nil
}

// collect renders the instruction's page and follows pagination up to
// MaxPages, returning the merged records and the first page's HTML.
func (e *Executor) collect(ctx context.Context, ins *domain.Instruction) ([]domain.ExtractedRecord, []byte, error) {
	var (
		pages [][]domain.ExtractedRecord
		first []byte
	)
	visited := make(map[string]struct{}, e.cfg.MaxPages)
	pageURL := ins.SiteURL

	for len(pages) < e.cfg.MaxPages && pageURL != "" {
		if _, seen := visited[pageURL]; seen {
			break
		}
		visited[pageURL] = struct{}{}

		doc, err := e.renderer.Render(ctx, pageURL)
		if err != nil {
			return nil, nil, err
		}
		records, err := extract.Extract(doc, &ins.Schema)
		if err != nil {
			return nil, nil, err
		}
		if first == nil {
			first = doc.HTML
		}
		pages = append(pages, records)
		pageURL = extract.NextPage(doc, &ins.Schema)
	}

	return extract.MergePages(pages...), first, nil
}

// deadline turns an error caused by the execution deadline into a TimeoutError.
func (e *Executor) deadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if kind, ok := domain.ExternalKindOf(err); ok && kind == domain.KindTimeout {
			return err
		}
		return domain.NewTimeoutError("execute", err)
	}
	return err
}
