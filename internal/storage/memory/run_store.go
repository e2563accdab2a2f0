package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/site-evaluator/internal/store"
)

const defaultListLimit = 50

// RunStore implements store.RunRepository in memory. It follows the same
// rules as the Postgres store so the runs API behaves identically without a
// database.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*store.Run
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore returns an empty store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]*store.Run)}
}

// QueueRun records a queued run. Queuing an existing id is an error.
func (s *RunStore) QueueRun(_ context.Context, runID uuid.UUID, kind store.RunKind, target string, queuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; ok {
		return fmt.Errorf("queue run %s: already exists", runID)
	}
	s.runs[runID] = &store.Run{ID: runID, Kind: kind, Target: target, StartedAt: queuedAt, Status: store.RunQueued}
	return nil
}

// StartRun inserts a running run or promotes a queued one of the same kind.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, kind store.RunKind, target string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		s.runs[runID] = &store.Run{ID: runID, Kind: kind, Target: target, StartedAt: startedAt, Status: store.RunRunning}
		return nil
	}
	if run.Status == store.RunQueued && run.Kind == kind {
		run.Status = store.RunRunning
		run.StartedAt = startedAt
	}
	return nil
}

// CompleteRun finishes the run when its kind matches.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	kind store.RunKind,
	finishedAt time.Time,
	status store.RunStatus,
	rating *float64,
	class, errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.Kind != kind {
		return nil
	}
	finished := finishedAt
	run.FinishedAt = &finished
	run.Status = status
	run.Rating = copyPtr(rating)
	run.Class = copyPtr(class)
	run.ErrorMessage = copyPtr(errMsg)
	return nil
}

// RecordPage bumps the page counters of a site run.
func (s *RunStore) RecordPage(_ context.Context, page store.PageOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[page.RunID]
	if !ok || run.Kind != store.KindSite {
		return nil
	}
	run.PagesDone++
	if page.Errored {
		run.PagesErrored++
	}
	return nil
}

// GetRun returns a copy of the run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, cloneRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRun(run *store.Run) store.Run {
	c := *run
	c.FinishedAt = copyPtr(run.FinishedAt)
	c.Rating = copyPtr(run.Rating)
	c.Class = copyPtr(run.Class)
	c.ErrorMessage = copyPtr(run.ErrorMessage)
	return c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
