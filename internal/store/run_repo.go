package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("evaluation run not found")

// RunKind distinguishes single-page runs from site crawls.
type RunKind string

// Run kinds.
const (
	KindPage RunKind = "page"
	KindSite RunKind = "site"
)

// RunStatus mirrors the evaluation_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one row of evaluation_runs.
type Run struct {
	ID           uuid.UUID
	Kind         RunKind
	Target       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	Rating       *float64
	Class        *string
	PagesDone    int64
	PagesErrored int64
	ErrorMessage *string
}

// PageOutcome is the per-page summary recorded against a run.
type PageOutcome struct {
	RunID   uuid.UUID
	URL     string
	Rating  float64
	Class   string
	Errored bool
	At      time.Time
}

// RunRepository persists evaluation run progress.
type RunRepository interface {
	// QueueRun records an accepted job that has not started yet.
	QueueRun(ctx context.Context, runID uuid.UUID, kind RunKind, target string, queuedAt time.Time) error
	// StartRun records a running row or promotes a queued run of the same
	// kind. Repeated calls for the same id are no-ops.
	StartRun(ctx context.Context, runID uuid.UUID, kind RunKind, target string, startedAt time.Time) error
	// CompleteRun finishes the run if it has the given kind.
	CompleteRun(ctx context.Context, runID uuid.UUID, kind RunKind, finishedAt time.Time, status RunStatus, rating *float64, class, errMsg *string) error
	// RecordPage bumps the run's page counters.
	RecordPage(ctx context.Context, page PageOutcome) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
