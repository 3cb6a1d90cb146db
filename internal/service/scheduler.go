package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/logger"
	"github.com/timmy/scrapewatch/internal/metrics"
)

// ErrSchedulerStopped is returned by TriggerNow after shutdown began.
var ErrSchedulerStopped = errors.New("scheduler stopped")

const (
	triggerSchedule = "schedule"
	triggerManual   = "manual"
	triggerCLI      = "cli"
)

// RunExecutor performs a single run of an instruction.
type RunExecutor interface {
	Execute(ctx context.Context, ins *domain.Instruction) (*domain.RunCompletion, error)
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	TickInterval           time.Duration
	Workers                int
	MaxConsecutiveFailures int
	DueBatchSize           int
	CompletionBuffer       int
	// ClaimTTL is how long a run claim is honoured before another process
	// may take it over.
	ClaimTTL time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

func (c *SchedulerConfig) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.DueBatchSize <= 0 {
		c.DueBatchSize = 100
	}
	if c.CompletionBuffer <= 0 {
		c.CompletionBuffer = 64
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 30 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Scheduler dispatches due instructions into a bounded pool of worker
// slots. A run never blocks the tick: when every slot is taken, remaining
// due instructions wait for a later tick. Finished runs are published on
// Completions.
//
// Exclusion is two-level: the InflightSet serialises runs inside this
// process, and the database run claim serialises them across every process
// sharing the store.
type Scheduler struct {
	instructions InstructionStore
	executor     RunExecutor
	inflight     *InflightSet
	logger       *logger.Logger
	cfg          SchedulerConfig

	slots       chan struct{}
	completions chan domain.RunCompletion

	// runCtx outlives request contexts so manual runs survive the HTTP call.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a new Scheduler.
// Parameters:
//   - instructions: store used to find due instructions and record outcomes.
//   - executor: performs one run.
//   - inflight: shared set of executing instructions.
//   - log: fallback logger.
//   - cfg: tick, pool size and failure policy.
// Returns:
//   - *Scheduler: stopped scheduler; call Run to start ticking.
func NewScheduler(instructions InstructionStore, executor RunExecutor, inflight *InflightSet, log *logger.Logger, cfg *SchedulerConfig) *Scheduler {
	c := *cfg
	c.defaults()
	if log == nil {
		log = logger.GetDefault()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		instructions: instructions,
		executor:     executor,
		inflight:     inflight,
		logger:       log,
		cfg:          c,
		slots:        make(chan struct{}, c.Workers),
		completions:  make(chan domain.RunCompletion, c.CompletionBuffer),
		runCtx:       logger.SetComponent(log.WithContext(runCtx), "scheduler"),
		cancelRun:    cancel,
	}
}

func (s *Scheduler) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// Completions returns the channel of finished runs. It is closed after Run
// returns and every execution has finished.
func (s *Scheduler) Completions() <-chan domain.RunCompletion {
	return s.completions
}

// Run ticks until ctx is cancelled, then waits for in-flight executions and
// closes the completion channel.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log(s.runCtx).WithFields(logger.Fields{
		"tick_interval": s.cfg.TickInterval.String(),
		"workers":       s.cfg.Workers,
	}).Info("Scheduler started")

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop rejects new work, waits for running executions and closes the
// completion channel. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.wg.Wait()
	s.cancelRun()
	close(s.completions)
	s.log(s.runCtx).Info("Scheduler stopped")
}

// Tick dispatches the due instructions that fit into free worker slots and
// returns how many were dispatched.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.instructions.ListDue(ctx, s.cfg.Now(), s.cfg.DueBatchSize)
	if err != nil {
		s.log(ctx).WithError(err).Error("Failed to list due instructions")
		return 0
	}

	dispatched := 0
	for i := range due {
		ins := due[i]
		if !s.inflight.TryAcquire(ins.ID) {
			continue
		}
		select {
		case s.slots <- struct{}{}:
		default:
			// Pool is full; the rest waits for a later tick.
			s.inflight.Release(ins.ID)
			s.log(ctx).WithField(logger.FieldCount, len(due)-dispatched).Debug("Worker pool full, deferring due instructions")
			return dispatched
		}
		// The due list may be stale: a run that finished since ListDue has
		// already moved next_run_at, and another process may hold the claim.
		claimed, err := s.instructions.ClaimDue(ctx, ins.ID, s.cfg.Now(), s.cfg.ClaimTTL)
		if err != nil || !claimed {
			if err != nil {
				s.log(ctx).WithError(err).WithField(logger.FieldInstructionID, ins.ID).Error("Failed to claim instruction")
			}
			<-s.slots
			s.inflight.Release(ins.ID)
			continue
		}
		if !s.spawn(func() { s.execute(&ins, triggerSchedule) }) {
			<-s.slots
			s.release(ins.ID)
			return dispatched
		}
		dispatched++
	}
	return dispatched
}

// TriggerNow starts an immediate run of an instruction owned by userID,
// bypassing the due check. It returns as soon as the run is accepted; the
// run waits for a free worker slot in the background.
// Returns:
//   - error: domain.ErrNotFound when the instruction is missing or not
//     owned, domain.ErrRunInProgress when it is already executing here or
//     in another process.
func (s *Scheduler) TriggerNow(ctx context.Context, instructionID, userID string) error {
	ins, err := s.instructions.Get(ctx, instructionID, userID)
	if err != nil {
		return err
	}
	if err := s.claim(ctx, ins.ID); err != nil {
		return err
	}

	accepted := s.spawn(func() {
		select {
		case s.slots <- struct{}{}:
		case <-s.runCtx.Done():
			s.release(ins.ID)
			return
		}
		s.execute(ins, triggerManual)
	})
	if !accepted {
		s.release(ins.ID)
		return ErrSchedulerStopped
	}

	s.log(ctx).WithField(logger.FieldInstructionID, ins.ID).Info("Manual run accepted")
	return nil
}

// RunNow executes ins synchronously on the caller's goroutine, outside the
// worker pool, and returns its completion without publishing it. It takes
// the same claims as scheduled runs.
// Returns:
//   - *domain.RunCompletion: the stored run and its predecessor.
//   - error: domain.ErrRunInProgress when the instruction is already
//     executing, or the execution error.
func (s *Scheduler) RunNow(ctx context.Context, ins *domain.Instruction) (*domain.RunCompletion, error) {
	if err := s.claim(ctx, ins.ID); err != nil {
		return nil, err
	}
	defer s.release(ins.ID)

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldInstructionID: ins.ID,
		logger.FieldUserID:        ins.UserID,
		logger.FieldTrigger:       triggerCLI,
	})
	return s.runOnce(ctx, ins, triggerCLI)
}

// claim takes the in-process flag and then the database claim of id.
func (s *Scheduler) claim(ctx context.Context, id string) error {
	if !s.inflight.TryAcquire(id) {
		return domain.ErrRunInProgress
	}
	claimed, err := s.instructions.Claim(ctx, id, s.cfg.Now(), s.cfg.ClaimTTL)
	if err != nil {
		s.inflight.Release(id)
		return fmt.Errorf("failed to claim instruction: %w", err)
	}
	if !claimed {
		s.inflight.Release(id)
		return domain.ErrRunInProgress
	}
	return nil
}

// release drops both claims of id. The database claim is released even when
// the run context is already cancelled.
func (s *Scheduler) release(id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.runCtx), 5*time.Second)
	defer cancel()
	if err := s.instructions.Release(ctx, id); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldInstructionID, id).Error("Failed to release instruction claim")
	}
	s.inflight.Release(id)
}

// spawn runs fn on a tracked goroutine unless the scheduler is stopping.
func (s *Scheduler) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// execute runs ins while holding a worker slot and its claims, then
// publishes the completion.
func (s *Scheduler) execute(ins *domain.Instruction, trigger string) {
	defer func() {
		<-s.slots
		s.release(ins.ID)
	}()

	ctx := logger.WithFields(s.runCtx, logger.Fields{
		logger.FieldInstructionID: ins.ID,
		logger.FieldUserID:        ins.UserID,
		logger.FieldTrigger:       trigger,
	})

	completion, err := s.runOnce(ctx, ins, trigger)
	if err != nil {
		return
	}
	s.completions <- *completion
}

// runOnce executes ins and records the outcome on the instruction.
func (s *Scheduler) runOnce(ctx context.Context, ins *domain.Instruction, trigger string) (*domain.RunCompletion, error) {
	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	start := time.Now()
	ranAt := s.cfg.Now()
	completion, runErr := s.executor.Execute(ctx, ins)

	paused, err := s.instructions.RecordOutcome(ctx, ins.ID, ranAt, runErr, s.cfg.MaxConsecutiveFailures)
	if err != nil {
		s.log(ctx).WithError(err).Error("Failed to record run outcome")
	}
	if paused {
		metrics.AutoPausedTotal.Inc()
		s.log(ctx).WithField("max_consecutive_failures", s.cfg.MaxConsecutiveFailures).Warn("Instruction auto-paused after repeated failures")
	}

	if runErr != nil {
		metrics.ObserveRun(trigger, "failed", start)
		logger.With(logger.Fields{logger.FieldStatus: "failed"}).WithDuration(start).
			Warn(ctx, "Run failed: %v", runErr)
		return nil, runErr
	}

	metrics.ObserveRun(trigger, "succeeded", start)
	logger.With(logger.Fields{
		logger.FieldRunID: completion.Current.ID,
		logger.FieldCount: completion.Current.RecordCount,
	}).WithStatus("succeeded").WithDuration(start).Info(ctx, "Run stored")
	return completion, nil
}
