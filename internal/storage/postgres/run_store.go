package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-evaluator/internal/store"
)

const defaultListLimit = 50

// RunStore implements store.RunRepository.
type RunStore struct {
	db    DB
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps db. An empty table uses "evaluation_runs".
func NewRunStore(db DB, table string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "evaluation_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: table}, nil
}

// Close releases the underlying pool.
func (s *RunStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// QueueRun inserts a queued row for an accepted job.
func (s *RunStore) QueueRun(ctx context.Context, runID uuid.UUID, kind store.RunKind, target string, queuedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, kind, target, started_at, status, pages_done, pages_errored)
VALUES ($1, $2, $3, $4, $5, 0, 0)`, s.table)
	if _, err := s.db.Exec(ctx, query, runID, string(kind), target, queuedAt, string(store.RunQueued)); err != nil {
		return fmt.Errorf("queue run %s: %w", runID, err)
	}
	return nil
}

// StartRun inserts a running row. A queued row of the same kind is promoted;
// any other existing row is left untouched.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, kind store.RunKind, target string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, kind, target, started_at, status, pages_done, pages_errored)
VALUES ($1, $2, $3, $4, $5, 0, 0)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status, started_at = EXCLUDED.started_at
WHERE %[1]s.status = $6 AND %[1]s.kind = EXCLUDED.kind`, s.table)
	_, err := s.db.Exec(ctx, query, runID, string(kind), target, startedAt, string(store.RunRunning), string(store.RunQueued))
	if err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// CompleteRun finishes the run when its kind matches. A page run nested in a
// site crawl shares the crawl's id, so a kind mismatch updates nothing and is
// not an error.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	kind store.RunKind,
	finishedAt time.Time,
	status store.RunStatus,
	rating *float64,
	class, errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $3, status = $4, rating = $5, class = $6, error_message = $7
WHERE id = $1 AND kind = $2`, s.table)
	if _, err := s.db.Exec(ctx, query, runID, string(kind), finishedAt, string(status), rating, class, errMsg); err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	return nil
}

// RecordPage bumps pages_done and, for failed pages, pages_errored.
func (s *RunStore) RecordPage(ctx context.Context, page store.PageOutcome) error {
	errored := 0
	if page.Errored {
		errored = 1
	}
	query := fmt.Sprintf(`
UPDATE %s
SET pages_done = pages_done + 1, pages_errored = pages_errored + $2
WHERE id = $1 AND kind = $3`, s.table)
	if _, err := s.db.Exec(ctx, query, page.RunID, errored, string(store.KindSite)); err != nil {
		return fmt.Errorf("record page for run %s: %w", page.RunID, err)
	}
	return nil
}

const runColumns = `id, kind, target, started_at, finished_at, status, rating, class, pages_done, pages_errored, error_message`

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, s.table)
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`, runColumns, s.table)
		rows, err = s.db.Query(ctx, query, string(*status), limit, offset)
	} else {
		query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC LIMIT $1 OFFSET $2`, runColumns, s.table)
		rows, err = s.db.Query(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		kind   string
		status string
	)
	if err := row.Scan(
		&run.ID,
		&kind,
		&run.Target,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Rating,
		&run.Class,
		&run.PagesDone,
		&run.PagesErrored,
		&run.ErrorMessage,
	); err != nil {
		return store.Run{}, err
	}
	run.Kind = store.RunKind(kind)
	run.Status = store.RunStatus(status)
	return run, nil
}
