// Package app wires configuration into the running components shared by the
// API server and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/timmy/scrapewatch/internal/config"
	"github.com/timmy/scrapewatch/internal/logger"
	"github.com/timmy/scrapewatch/internal/notifier"
	"github.com/timmy/scrapewatch/internal/ratelimit"
	"github.com/timmy/scrapewatch/internal/render"
	"github.com/timmy/scrapewatch/internal/repository"
	"github.com/timmy/scrapewatch/internal/service"
	"github.com/timmy/scrapewatch/internal/storage"
)

// App holds the initialized components.
type App struct {
	Config    *config.Config
	Logger    *logger.Logger
	Store     *repository.Store
	Renderer  render.Renderer
	Archive   *storage.SnapshotArchive
	Executor  *service.Executor
	Scheduler *service.Scheduler
	Processor *service.ChangeProcessor
	Tasks     *service.TaskService
	Settings  *service.SettingsService
	Limiter   *ratelimit.Limiter
}

// NewLogger builds the process logger from the log section and installs it
// as the default.
func NewLogger(cfg *config.LogConfig, service string) *logger.Logger {
	l := logger.New(&logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		ServiceName: service,
		Environment: cfg.Environment,
		LogFile:     cfg.File,
		MaxSize:     100,
		MaxBackups:  5,
		MaxAge:      14,
		Compress:    true,
	})
	logger.SetDefaultLogger(l)
	return l
}

// New initializes every component described by cfg.
// Parameters:
//   - ctx: used for startup checks such as ensuring the snapshot bucket.
//   - cfg: loaded configuration.
//   - log: process logger.
// Returns:
//   - *App: wired components; call Close when done.
//   - error: non-nil if a component cannot be created.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	store := repository.NewStore(db)

	renderer, err := render.New(&cfg.Render)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize renderer: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		Store:    store,
		Renderer: renderer,
	}

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	var archive service.SnapshotArchiver
	if objectStorage != nil {
		if b, ok := objectStorage.(interface{ EnsureBucket(context.Context) error }); ok {
			if err := b.EnsureBucket(ctx); err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to ensure snapshot bucket: %w", err)
			}
		}
		a.Archive = storage.NewSnapshotArchive(objectStorage, cfg.Storage.Prefix)
		archive = a.Archive
		log.WithField("bucket", cfg.Storage.Bucket).Info("Snapshot archive enabled")
	}

	a.Executor = service.NewExecutor(renderer, store.Runs, archive, log, &service.ExecutorConfig{
		Timeout:      cfg.Scheduler.ExecutionTimeout,
		RetryCount:   cfg.Scheduler.RetryCount,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
		MaxPages:     cfg.Scheduler.MaxPages,
	})

	a.Scheduler = service.NewScheduler(store.Instructions, a.Executor, service.NewInflightSet(), log, &service.SchedulerConfig{
		TickInterval:           cfg.Scheduler.TickInterval,
		Workers:                cfg.Scheduler.Workers,
		MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
		DueBatchSize:           cfg.Scheduler.DueBatchSize,
		CompletionBuffer:       cfg.Scheduler.CompletionBuffer,
		ClaimTTL:               cfg.Scheduler.ClaimTTL,
	})

	a.Processor = service.NewChangeProcessor(store.Runs, store.Settings, newDispatcher(&cfg.Notify, log), log, &service.NotifyConfig{
		BatchSamples: cfg.Notify.BatchSamples,
	})

	synthesizer := service.NewLLMSynthesizer(&service.SynthesizerConfig{
		Model:     cfg.Synthesizer.Model,
		APIKey:    cfg.Synthesizer.APIKey,
		BaseURL:   cfg.Synthesizer.BaseURL,
		MaxTokens: cfg.Synthesizer.MaxTokens,
		Timeout:   cfg.Synthesizer.Timeout,
	}, log)

	a.Tasks = service.NewTaskService(store.Sites, store.PendingTasks, store.Instructions, store.Runs, synthesizer, renderer, log)
	a.Settings = service.NewSettingsService(store.Settings)
	a.Limiter = ratelimit.New(ratelimit.Config{
		Interval:      cfg.RateLimit.Interval,
		Limit:         cfg.RateLimit.Limit,
		MaxIdentities: cfg.RateLimit.MaxIdentities,
	})

	return a, nil
}

// newDispatcher returns nil when no channel is configured so that change
// events are still stored without delivery attempts.
func newDispatcher(cfg *config.NotifyConfig, log *logger.Logger) service.Notifier {
	var telegram, email notifier.Channel
	if cfg.Telegram.BotToken != "" {
		telegram = notifier.NewTelegram(cfg.Telegram.APIURL, cfg.Telegram.BotToken)
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.From != "" {
		email = notifier.NewEmail(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	}
	if telegram == nil && email == nil {
		log.Warn("No notification channel configured; change events are stored only")
		return nil
	}
	return notifier.NewDispatcher(telegram, email)
}

// Close releases the renderer and the database.
func (a *App) Close() error {
	var firstErr error
	if a.Renderer != nil {
		if err := a.Renderer.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
