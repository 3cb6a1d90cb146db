package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/timmy/scrapewatch/internal/config"
	"github.com/timmy/scrapewatch/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		AutoMigrate: true,
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewStore(db)
}

func testSchema() domain.ExtractionSchema {
	return domain.ExtractionSchema{Selectors: []domain.FieldSelector{{Field: "title", Selector: ".title"}}}
}

func createPending(t *testing.T, s *Store, userID string) *domain.PendingTask {
	t.Helper()
	ctx := context.Background()
	site, err := s.Sites.FindOrCreate(ctx, "https://example.com")
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	task := &domain.PendingTask{
		SiteID:                site.ID,
		UserID:                userID,
		SiteURL:               site.URL,
		InstructionText:       "track titles",
		ScheduleIntervalHours: 3,
		CandidateSchema:       testSchema(),
		ValidationResult: domain.ValidationReport{
			Fields: map[string]domain.SelectorDiagnostic{"title": {Matched: true, MatchCount: 2}},
		},
	}
	if err := s.PendingTasks.Create(ctx, task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return task
}

func TestSiteFindOrCreateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Sites.FindOrCreate(ctx, "https://example.com")
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	b, err := s.Sites.FindOrCreate(ctx, "https://example.com")
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("expected same site, got %s and %s", a.ID, b.ID)
	}
}

func TestPendingTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	task := createPending(t, s, "u1")

	got, err := s.PendingTasks.Get(context.Background(), task.ID, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CandidateSchema.Selectors[0].Selector != ".title" {
		t.Errorf("schema not persisted: %+v", got.CandidateSchema)
	}
	if got.ValidationResult.Fields["title"].MatchCount != 2 {
		t.Errorf("validation result not persisted: %+v", got.ValidationResult)
	}

	if _, err := s.PendingTasks.Get(context.Background(), task.ID, "intruder"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestApproveIsAtomicAndExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := createPending(t, s, "u1")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.PendingTasks.Approve(ctx, task.ID, "intruder", now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-owner, got %v", err)
	}

	ins, err := s.PendingTasks.Approve(ctx, task.ID, "u1", now)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if ins.Status != domain.InstructionActive || !ins.NextRunAt.Equal(now) {
		t.Errorf("unexpected instruction %+v", ins)
	}
	if _, err := s.PendingTasks.Get(ctx, task.ID, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("pending task should be gone after approval")
	}

	// Resolved tasks cannot be approved or rejected again.
	if _, err := s.PendingTasks.Approve(ctx, task.ID, "u1", now); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second approve: expected ErrNotFound, got %v", err)
	}
	if err := s.PendingTasks.Delete(ctx, task.ID, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("reject after approve: expected ErrNotFound, got %v", err)
	}

	list, err := s.Instructions.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected exactly one instruction, got %d", len(list))
	}
}

func TestRejectThenApproveFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := createPending(t, s, "u1")

	if err := s.PendingTasks.Delete(ctx, task.ID, "u1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.PendingTasks.Approve(ctx, task.ID, "u1", time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	list, _ := s.Instructions.ListByUser(ctx, "u1")
	if len(list) != 0 {
		t.Errorf("rejected task must not produce an instruction")
	}
}

func TestConcurrentApproveCreatesOneInstruction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := createPending(t, s, "u1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.PendingTasks.Approve(ctx, task.ID, "u1", time.Now()); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("expected exactly one successful approval, got %d", succeeded)
	}
	list, _ := s.Instructions.ListByUser(ctx, "u1")
	if len(list) != 1 {
		t.Errorf("expected one instruction, got %d", len(list))
	}
}

func approveAt(t *testing.T, s *Store, userID string, at time.Time) *domain.Instruction {
	t.Helper()
	task := createPending(t, s, userID)
	ins, err := s.PendingTasks.Approve(context.Background(), task.ID, userID, at)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	return ins
}

func TestListDueOrdersMostOverdueFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Interval is 3h. Runs at T-5h and T-4h are due; T-1h is not.
	a := approveAt(t, s, "u1", now.Add(-6*time.Hour))
	b := approveAt(t, s, "u1", now.Add(-6*time.Hour))
	c := approveAt(t, s, "u1", now.Add(-6*time.Hour))
	for ins, ranAt := range map[string]time.Time{
		a.ID: now.Add(-4 * time.Hour),
		b.ID: now.Add(-5 * time.Hour),
		c.ID: now.Add(-1 * time.Hour),
	} {
		if _, err := s.Instructions.RecordOutcome(ctx, ins, ranAt, nil, 0); err != nil {
			t.Fatalf("RecordOutcome() error = %v", err)
		}
	}

	due, err := s.Instructions.ListDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due instructions, got %d", len(due))
	}
	if due[0].ID != b.ID || due[1].ID != a.ID {
		t.Errorf("expected order [%s %s], got [%s %s]", b.ID, a.ID, due[0].ID, due[1].ID)
	}
}

func TestPausedAndDeletedAreNotDue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	paused := approveAt(t, s, "u1", now.Add(-time.Hour))
	deleted := approveAt(t, s, "u1", now.Add(-time.Hour))
	active := approveAt(t, s, "u1", now.Add(-time.Hour))

	if err := s.Instructions.SetStatus(ctx, paused.ID, "u1", domain.InstructionPaused); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if err := s.Instructions.SetStatus(ctx, deleted.ID, "u1", domain.InstructionDeleted); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	due, err := s.Instructions.ListDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != active.ID {
		t.Errorf("expected only the active instruction to be due, got %+v", due)
	}

	if _, err := s.Instructions.Get(ctx, deleted.ID, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted instruction should be hidden, got %v", err)
	}
	if err := s.Instructions.SetStatus(ctx, deleted.ID, "u1", domain.InstructionActive); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted instruction cannot be resumed, got %v", err)
	}
}

func TestRecordOutcomeAutoPauses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ins := approveAt(t, s, "u1", time.Now())
	boom := errors.New("render failed")

	for i := 1; i <= 3; i++ {
		paused, err := s.Instructions.RecordOutcome(ctx, ins.ID, time.Now(), boom, 3)
		if err != nil {
			t.Fatalf("RecordOutcome() error = %v", err)
		}
		if paused != (i == 3) {
			t.Errorf("attempt %d: paused = %v", i, paused)
		}
	}

	got, err := s.Instructions.Get(ctx, ins.ID, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.InstructionPaused || got.ConsecutiveFailures != 3 || got.LastError != "render failed" {
		t.Errorf("unexpected state %+v", got)
	}

	if _, err := s.Instructions.RecordOutcome(ctx, ins.ID, time.Now(), nil, 3); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	got, _ = s.Instructions.Get(ctx, ins.ID, "u1")
	if got.ConsecutiveFailures != 0 || got.LastError != "" {
		t.Errorf("success should reset error state, got %+v", got)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ins := approveAt(t, s, "u1", now.Add(-time.Hour))
	ttl := 30 * time.Minute

	steps := []struct {
		name string
		at   time.Time
		due  bool
		want bool
	}{
		{"first claim wins", now, false, true},
		{"second claim loses", now, false, false},
		{"due claim loses while held", now, true, false},
		{"abandoned claim is taken over", now.Add(ttl), false, true},
	}
	for _, st := range steps {
		claim := s.Instructions.Claim
		if st.due {
			claim = s.Instructions.ClaimDue
		}
		got, err := claim(ctx, ins.ID, st.at, ttl)
		if err != nil {
			t.Fatalf("%s: error = %v", st.name, err)
		}
		if got != st.want {
			t.Errorf("%s: claimed = %v, want %v", st.name, got, st.want)
		}
	}

	if err := s.Instructions.Release(ctx, ins.ID); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got, _ := s.Instructions.Get(ctx, ins.ID, "u1"); got.RunningSince != nil {
		t.Errorf("running_since = %v after release", got.RunningSince)
	}
	if ok, err := s.Instructions.Claim(ctx, ins.ID, now, ttl); err != nil || !ok {
		t.Errorf("claim after release = %v, %v", ok, err)
	}
}

func TestClaimDueFailsOnceRunMovedForward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ins := approveAt(t, s, "u1", now.Add(-time.Hour))
	ttl := 30 * time.Minute

	// A run finished after the due list was read.
	if _, err := s.Instructions.RecordOutcome(ctx, ins.ID, now, nil, 0); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if ok, err := s.Instructions.ClaimDue(ctx, ins.ID, now, ttl); err != nil || ok {
		t.Errorf("ClaimDue() = %v, %v; want false for an instruction that is no longer due", ok, err)
	}
	// Manual runs do not depend on the due time.
	if ok, err := s.Instructions.Claim(ctx, ins.ID, now, ttl); err != nil || !ok {
		t.Errorf("Claim() = %v, %v; want true", ok, err)
	}

	deleted := approveAt(t, s, "u1", now.Add(-time.Hour))
	if err := s.Instructions.SetStatus(ctx, deleted.ID, "u1", domain.InstructionDeleted); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if ok, _ := s.Instructions.Claim(ctx, deleted.ID, now, ttl); ok {
		t.Error("deleted instruction must not be claimable")
	}
}

func TestRunSeqIsUniquePerInstruction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ins := approveAt(t, s, "u1", time.Now())

	first := &domain.RunResult{ID: "r1", Seq: 1, InstructionID: ins.ID, Records: domain.RecordList{}, FetchedAt: time.Now()}
	dup := &domain.RunResult{ID: "r2", Seq: 1, InstructionID: ins.ID, Records: domain.RecordList{}, FetchedAt: time.Now()}
	if err := s.db.WithContext(ctx).Create(first).Error; err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.db.WithContext(ctx).Create(dup).Error; err == nil {
		t.Error("expected a duplicate (instruction_id, seq) to be rejected")
	}
}

func TestRunHistoryIsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ins := approveAt(t, s, "u1", time.Now())

	if latest, err := s.Runs.Latest(ctx, ins.ID); err != nil || latest != nil {
		t.Fatalf("expected no previous run, got %v, %v", latest, err)
	}

	fetched := time.Now()
	for i := 0; i < 3; i++ {
		run := &domain.RunResult{
			InstructionID: ins.ID,
			Records:       domain.RecordList{{Fields: domain.FieldMap{"title": "a"}, RecordKey: "a"}},
			FetchedAt:     fetched, // identical timestamps are ordered by sequence
		}
		if err := s.Runs.Record(ctx, run); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if run.Seq != int64(i+1) {
			t.Errorf("run %d: seq = %d", i, run.Seq)
		}
	}

	latest, err := s.Runs.Latest(ctx, ins.ID)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Seq != 3 || latest.RecordCount != 1 || latest.Records[0].RecordKey != "a" {
		t.Errorf("unexpected latest run %+v", latest)
	}

	runs, err := s.Runs.List(ctx, ins.ID, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 || runs[0].Seq != 3 {
		t.Errorf("unexpected run list %+v", runs)
	}
}

func TestChangeEventsPersist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []domain.ChangeEvent{
		{InstructionID: "ins-1", RunResultID: "run-1", ChangeType: domain.ChangeAdded, RecordKey: "k1", NewValue: domain.FieldMap{"title": "x"}},
		{InstructionID: "ins-1", RunResultID: "run-1", ChangeType: domain.ChangeRemoved, RecordKey: "k2", PreviousValue: domain.FieldMap{"title": "y"}},
	}
	if err := s.Runs.SaveChanges(ctx, events); err != nil {
		t.Fatalf("SaveChanges() error = %v", err)
	}

	got, err := s.Runs.ListChanges(ctx, "ins-1", 0)
	if err != nil {
		t.Fatalf("ListChanges() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	for _, e := range got {
		if e.ChangeType == domain.ChangeRemoved && (e.PreviousValue["title"] != "y" || e.NewValue != nil) {
			t.Errorf("unexpected removed event %+v", e)
		}
	}
}

func TestSettingsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Settings.Get(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Settings.Save(ctx, &domain.NotificationSettings{UserID: "u1", TelegramChatID: "42"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Settings.Save(ctx, &domain.NotificationSettings{UserID: "u1", NotificationEmail: "a@example.com", AlertThreshold: 3}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Settings.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TelegramChatID != "" || got.NotificationEmail != "a@example.com" || got.AlertThreshold != 3 {
		t.Errorf("unexpected settings %+v", got)
	}
}
