package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/site-evaluator/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRunStoreQueuedRunIsPromoted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewRunStore()
	id := uuid.New()

	if err := s.QueueRun(ctx, id, store.KindSite, "https://example.com/", t0); err != nil {
		t.Fatalf("QueueRun() error = %v", err)
	}
	if err := s.QueueRun(ctx, id, store.KindSite, "https://example.com/", t0); err == nil {
		t.Fatal("expected duplicate QueueRun to fail")
	}
	// A nested page run with the same id must not promote the site run.
	if err := s.StartRun(ctx, id, store.KindPage, "https://example.com/a", t0.Add(time.Second)); err != nil {
		t.Fatalf("StartRun(page) error = %v", err)
	}
	run, _ := s.GetRun(ctx, id)
	if run.Status != store.RunQueued {
		t.Fatalf("status = %s, want queued", run.Status)
	}

	if err := s.StartRun(ctx, id, store.KindSite, "https://example.com/", t0.Add(2*time.Second)); err != nil {
		t.Fatalf("StartRun(site) error = %v", err)
	}
	run, _ = s.GetRun(ctx, id)
	if run.Status != store.RunRunning || !run.StartedAt.Equal(t0.Add(2*time.Second)) {
		t.Fatalf("unexpected run after start: %+v", run)
	}
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewRunStore()
	id := uuid.New()

	if err := s.StartRun(ctx, id, store.KindSite, "https://example.com/", t0); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	_ = s.RecordPage(ctx, store.PageOutcome{RunID: id})
	_ = s.RecordPage(ctx, store.PageOutcome{RunID: id, Errored: true})
	// Kind mismatch is ignored.
	_ = s.CompleteRun(ctx, id, store.KindPage, t0, store.RunError, nil, nil, nil)

	rating := 71.5
	class := "Good"
	if err := s.CompleteRun(ctx, id, store.KindSite, t0.Add(time.Minute), store.RunSuccess, &rating, &class, nil); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	rating = 0

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != store.RunSuccess || run.PagesDone != 2 || run.PagesErrored != 1 {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.Rating == nil || *run.Rating != 71.5 {
		t.Fatalf("rating not copied: %v", run.Rating)
	}
	if run.FinishedAt == nil || !run.FinishedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("finished_at = %v", run.FinishedAt)
	}
}

func TestRunStoreGetRunNotFound(t *testing.T) {
	t.Parallel()
	_, err := NewRunStore().GetRun(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewRunStore()
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		if err := s.StartRun(ctx, ids[i], store.KindPage, "https://example.com/", t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("StartRun() error = %v", err)
		}
	}
	_ = s.CompleteRun(ctx, ids[0], store.KindPage, t0, store.RunError, nil, nil, nil)

	all, err := s.ListRuns(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Fatalf("runs not newest first: %+v", all)
	}

	running := store.RunRunning
	got, _ := s.ListRuns(ctx, &running, 1, 1)
	if len(got) != 1 || got[0].ID != ids[1] {
		t.Fatalf("paged filter = %+v", got)
	}

	got, _ = s.ListRuns(ctx, nil, 10, 5)
	if len(got) != 0 {
		t.Fatalf("offset past end returned %d runs", len(got))
	}
}
