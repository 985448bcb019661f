package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"cardforge/internal/domain"
	"cardforge/internal/kv"
)

func newTestStore() *JobStore {
	return NewJobStore(kv.NewMemory())
}

func draftJob(id string, variation int) *domain.Job {
	return &domain.Job{
		ID:             id,
		Kind:           domain.JobKindDraft,
		BatchID:        "batch-1",
		VariationIndex: variation,
		Status:         domain.JobStatusProcessing,
		SubmittedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Context: domain.CardContext{
			FrontPrompt: "a watercolor fox holding balloons",
			Quality:     domain.QualityDraft,
		},
	}
}

func TestJobStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if err := s.Create(ctx, draftJob("j1", 2)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.VariationIndex != 2 || got.Kind != domain.JobKindDraft {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.Context.FrontPrompt != "a watercolor fox holding balloons" {
		t.Fatalf("context was not retained: %+v", got.Context)
	}

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get absent: got %v, want ErrNotFound", err)
	}
}

func TestJobStoreUpdateFlushesImmediately(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	s := NewJobStore(backend)

	if err := s.Create(ctx, draftJob("j1", 0)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Update(ctx, "j1", func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.Result = &domain.JobResult{ImageURLs: []string{"https://img.example/1.png"}}
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Re-read through a second store over the same backend to prove the
	// mutation hit the kv layer, not just memory.
	got, err := NewJobStore(backend).Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobStatusCompleted || got.Result == nil {
		t.Fatalf("update was not persisted: %+v", got)
	}
}

func TestJobStoreRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if err := s.Create(ctx, draftJob("j1", 0)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Remove(ctx, "j1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, "j1"); err != nil {
		t.Fatalf("second Remove should be a no-op: %v", err)
	}
	if _, err := s.Update(ctx, "j1", func(j *domain.Job) {}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update removed job: got %v, want ErrNotFound", err)
	}
}

func TestJobStoreListPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	pendingJob := draftJob("p1", 0)
	doneJob := draftJob("d1", 1)
	doneJob.Status = domain.JobStatusCompleted
	failedJob := draftJob("f1", 2)
	failedJob.Status = domain.JobStatusFailed

	for _, j := range []*domain.Job{pendingJob, doneJob, failedJob} {
		if err := s.Create(ctx, j); err != nil {
			t.Fatalf("Create %s: %v", j.ID, err)
		}
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "p1" {
		t.Fatalf("ListPending returned %+v", pending)
	}
}
