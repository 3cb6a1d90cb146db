package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/extract"
)

func pagedInstruction() *domain.Instruction {
	return &domain.Instruction{
		ID:      "ins-1",
		UserID:  "u1",
		SiteURL: "https://example.com/p1",
		Schema: domain.ExtractionSchema{
			Selectors:          []domain.FieldSelector{{Field: "name", Selector: ".t"}},
			PaginationSelector: "a.next",
		},
	}
}

func TestExecutorFollowsPagination(t *testing.T) {
	renderer := &fakeRenderer{pages: map[string]string{
		"https://example.com/p1": `<p class="t">A</p><a class="next" href="/p2">next</a>`,
		"https://example.com/p2": `<p class="t">B</p><a class="next" href="/p1">back</a>`,
	}}
	runs := newFakeRuns()
	archive := &fakeArchive{}
	exec := NewExecutor(renderer, runs, archive, nil, &ExecutorConfig{MaxPages: 5})

	completion, err := exec.Execute(context.Background(), pagedInstruction())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := completion.Current.Records
	if len(got) != 2 || got[0].RecordKey != "A" || got[1].RecordKey != "B" {
		t.Fatalf("unexpected records %+v", got)
	}
	if renderer.callCount() != 2 {
		t.Errorf("rendered %d pages, want 2 (revisits are skipped)", renderer.callCount())
	}
	if completion.Previous != nil {
		t.Error("first run should have no predecessor")
	}
	if completion.Current.SnapshotKey == "" || len(archive.keys) != 1 {
		t.Errorf("expected one archived snapshot, got key %q", completion.Current.SnapshotKey)
	}
}

func TestExecutorPassesPredecessor(t *testing.T) {
	renderer := &fakeRenderer{pages: map[string]string{"https://example.com/p1": `<p class="t">A</p>`}}
	runs := newFakeRuns()
	exec := NewExecutor(renderer, runs, nil, nil, &ExecutorConfig{})
	ins := pagedInstruction()

	first, err := exec.Execute(context.Background(), ins)
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	second, err := exec.Execute(context.Background(), ins)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if second.Previous == nil || second.Previous.ID != first.Current.ID {
		t.Fatalf("second run should pair with the first, got %+v", second.Previous)
	}
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	var attempts int
	renderer := &fakeRenderer{}
	renderer.fn = func(ctx context.Context, pageURL string) (*extract.Document, error) {
		attempts++
		if attempts < 3 {
			return nil, domain.NewRenderError("render", errors.New("connection reset"))
		}
		return extract.Parse(pageURL, []byte(`<p class="t">A</p>`))
	}
	runs := newFakeRuns()
	exec := NewExecutor(renderer, runs, nil, nil, &ExecutorConfig{RetryCount: 2, RetryBackoff: time.Millisecond})

	if _, err := exec.Execute(context.Background(), pagedInstruction()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestExecutorGivesUpAfterRetries(t *testing.T) {
	renderer := &fakeRenderer{}
	renderer.fn = func(ctx context.Context, pageURL string) (*extract.Document, error) {
		return nil, domain.NewRenderError("render", errors.New("503"))
	}
	runs := newFakeRuns()
	exec := NewExecutor(renderer, runs, nil, nil, &ExecutorConfig{RetryCount: 1, RetryBackoff: time.Millisecond})

	_, err := exec.Execute(context.Background(), pagedInstruction())
	if kind, ok := domain.ExternalKindOf(err); !ok || kind != domain.KindRender {
		t.Fatalf("expected render error, got %v", err)
	}
	if renderer.callCount() != 2 {
		t.Errorf("calls = %d, want 2", renderer.callCount())
	}
	if runs.recordedCount() != 0 {
		t.Error("failed run must not be stored")
	}
}

func TestExecutorDoesNotRetryPermanentErrors(t *testing.T) {
	renderer := &fakeRenderer{}
	renderer.fn = func(ctx context.Context, pageURL string) (*extract.Document, error) {
		return nil, domain.NewValidationError("site_url", "unsupported")
	}
	exec := NewExecutor(renderer, newFakeRuns(), nil, nil, &ExecutorConfig{RetryCount: 3, RetryBackoff: time.Millisecond})

	_, err := exec.Execute(context.Background(), pagedInstruction())
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if renderer.callCount() != 1 {
		t.Errorf("calls = %d, want 1", renderer.callCount())
	}
}

func TestExecutorTimeoutDiscardsOutput(t *testing.T) {
	renderer := &fakeRenderer{}
	renderer.fn = func(ctx context.Context, pageURL string) (*extract.Document, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	runs := newFakeRuns()
	exec := NewExecutor(renderer, runs, nil, nil, &ExecutorConfig{Timeout: 20 * time.Millisecond, RetryCount: 2})

	_, err := exec.Execute(context.Background(), pagedInstruction())
	if kind, ok := domain.ExternalKindOf(err); !ok || kind != domain.KindTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if runs.recordedCount() != 0 {
		t.Error("timed out run must not be stored")
	}
}
