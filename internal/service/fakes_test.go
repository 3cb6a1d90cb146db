package service

import (
	"context"
	"sync"
	"time"

	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/extract"
)

type fakeInstructions struct {
	mu       sync.Mutex
	byID     map[string]*domain.Instruction
	due      []domain.Instruction
	outcomes []error
	// running holds database run claims; set an id to simulate another
	// process running it.
	running  map[string]bool
	released int
}

func newFakeInstructions(list ...domain.Instruction) *fakeInstructions {
	f := &fakeInstructions{byID: make(map[string]*domain.Instruction), running: make(map[string]bool)}
	for i := range list {
		ins := list[i]
		f.byID[ins.ID] = &ins
	}
	return f
}

func (f *fakeInstructions) Get(ctx context.Context, id, userID string) (*domain.Instruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ins, ok := f.byID[id]
	if !ok || ins.UserID != userID || ins.Status == domain.InstructionDeleted {
		return nil, domain.ErrNotFound
	}
	cp := *ins
	return &cp, nil
}

func (f *fakeInstructions) GetByID(ctx context.Context, id string) (*domain.Instruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ins, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ins
	return &cp, nil
}

func (f *fakeInstructions) ListByUser(ctx context.Context, userID string) ([]domain.Instruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Instruction
	for _, ins := range f.byID {
		if ins.UserID == userID && ins.Status != domain.InstructionDeleted {
			out = append(out, *ins)
		}
	}
	return out, nil
}

func (f *fakeInstructions) SetStatus(ctx context.Context, id, userID string, status domain.InstructionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ins, ok := f.byID[id]
	if !ok || ins.UserID != userID || ins.Status == domain.InstructionDeleted {
		return domain.ErrNotFound
	}
	ins.Status = status
	return nil
}

func (f *fakeInstructions) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Instruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Instruction(nil), f.due...), nil
}

func (f *fakeInstructions) RecordOutcome(ctx context.Context, id string, ranAt time.Time, runErr error, maxFailures int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, runErr)
	if ins, ok := f.byID[id]; ok {
		t := ranAt
		ins.LastRunAt = &t
		ins.NextRunAt = ranAt.Add(ins.Interval())
	}
	return false, nil
}

func (f *fakeInstructions) Claim(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[id] {
		return false, nil
	}
	f.running[id] = true
	return true, nil
}

// ClaimDue checks due state only for instructions known by id; entries that
// exist only in the due list are always due.
func (f *fakeInstructions) ClaimDue(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ins, ok := f.byID[id]; ok && (ins.Status != domain.InstructionActive || ins.NextRunAt.After(now)) {
		return false, nil
	}
	if f.running[id] {
		return false, nil
	}
	f.running[id] = true
	return true, nil
}

func (f *fakeInstructions) Release(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	f.released++
	return nil
}

func (f *fakeInstructions) setRunning(id string) {
	f.mu.Lock()
	f.running[id] = true
	f.mu.Unlock()
}

func (f *fakeInstructions) isClaimed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id]
}

func (f *fakeInstructions) outcomeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outcomes)
}

type fakeRuns struct {
	mu       sync.Mutex
	latest   map[string]*domain.RunResult
	recorded []*domain.RunResult
	changes  []domain.ChangeEvent
	saveErr  error
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{latest: make(map[string]*domain.RunResult)}
}

func (f *fakeRuns) Record(ctx context.Context, run *domain.RunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.Seq = int64(len(f.recorded) + 1)
	run.RecordCount = len(run.Records)
	f.recorded = append(f.recorded, run)
	f.latest[run.InstructionID] = run
	return nil
}

func (f *fakeRuns) Latest(ctx context.Context, instructionID string) (*domain.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[instructionID], nil
}

func (f *fakeRuns) List(ctx context.Context, instructionID string, limit int) ([]domain.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RunResult
	for i := len(f.recorded) - 1; i >= 0 && len(out) < limit; i-- {
		if f.recorded[i].InstructionID == instructionID {
			out = append(out, *f.recorded[i])
		}
	}
	return out, nil
}

func (f *fakeRuns) SaveChanges(ctx context.Context, events []domain.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.changes = append(f.changes, events...)
	return nil
}

func (f *fakeRuns) ListChanges(ctx context.Context, instructionID string, limit int) ([]domain.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ChangeEvent
	for _, e := range f.changes {
		if e.InstructionID == instructionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRuns) recordedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

type fakeSettings struct {
	byUser map[string]*domain.NotificationSettings
}

func (f *fakeSettings) Save(ctx context.Context, s *domain.NotificationSettings) error {
	if f.byUser == nil {
		f.byUser = make(map[string]*domain.NotificationSettings)
	}
	cp := *s
	f.byUser[s.UserID] = &cp
	return nil
}

func (f *fakeSettings) Get(ctx context.Context, userID string) (*domain.NotificationSettings, error) {
	s, ok := f.byUser[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// fakeRenderer serves fixed pages by URL, or delegates to fn when set.
type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	fn    func(ctx context.Context, pageURL string) (*extract.Document, error)
	calls int
}

func (f *fakeRenderer) Render(ctx context.Context, pageURL string) (*extract.Document, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	body, ok := f.pages[pageURL]
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, pageURL)
	}
	if !ok {
		return nil, domain.NewRenderError("render", context.Canceled)
	}
	return extract.Parse(pageURL, []byte(body))
}

func (f *fakeRenderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchive struct {
	keys map[string][]byte
}

func (f *fakeArchive) Archive(ctx context.Context, instructionID, runID string, html []byte) (string, error) {
	if f.keys == nil {
		f.keys = make(map[string][]byte)
	}
	key := "snapshots/" + instructionID + "/" + runID + ".html"
	f.keys[key] = html
	return key, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	fail  int
	err   error // returned on every call when set
	calls int
	sent  []domain.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.fail > 0 {
		f.fail--
		return domain.NewRenderError("notify", context.DeadlineExceeded)
	}
	f.sent = append(f.sent, *n)
	return nil
}

type fakeSynthesizer struct {
	schema *domain.ExtractionSchema
	err    error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, pageURL, instruction string) (*domain.ExtractionSchema, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.schema
	return &cp, nil
}

type fakeSites struct {
	byURL map[string]*domain.Site
	title string
}

func (f *fakeSites) FindOrCreate(ctx context.Context, url string) (*domain.Site, error) {
	if f.byURL == nil {
		f.byURL = make(map[string]*domain.Site)
	}
	if s, ok := f.byURL[url]; ok {
		return s, nil
	}
	s := &domain.Site{ID: "site-" + url, URL: url}
	f.byURL[url] = s
	return s, nil
}

func (f *fakeSites) SetTitle(ctx context.Context, id, title string) error {
	f.title = title
	return nil
}

type fakePending struct {
	tasks map[string]*domain.PendingTask
}

func (f *fakePending) Create(ctx context.Context, task *domain.PendingTask) error {
	if f.tasks == nil {
		f.tasks = make(map[string]*domain.PendingTask)
	}
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakePending) Get(ctx context.Context, id, userID string) (*domain.PendingTask, error) {
	t, ok := f.tasks[id]
	if !ok || t.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakePending) ListByUser(ctx context.Context, userID string) ([]domain.PendingTask, error) {
	var out []domain.PendingTask
	for _, t := range f.tasks {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakePending) Delete(ctx context.Context, id, userID string) error {
	if _, err := f.Get(ctx, id, userID); err != nil {
		return err
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakePending) Approve(ctx context.Context, id, userID string, now time.Time) (*domain.Instruction, error) {
	t, err := f.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	delete(f.tasks, id)
	return &domain.Instruction{
		ID:                    "ins-" + id,
		UserID:                t.UserID,
		SiteURL:               t.SiteURL,
		Schema:                t.CandidateSchema,
		ScheduleIntervalHours: t.ScheduleIntervalHours,
		Status:                domain.InstructionActive,
		NextRunAt:             now,
	}, nil
}
