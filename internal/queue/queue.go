// Package queue defines the asynchronous evaluation job queue.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/site-evaluator/internal/store"
)

var (
	// ErrFull is returned when the queue has no room for another job.
	ErrFull = errors.New("job queue is full")
	// ErrClosed is returned once the queue is shut down and drained.
	ErrClosed = errors.New("job queue closed")
)

// Job is one accepted evaluation. MaxDepth and MaxSubpages only apply to
// site jobs.
type Job struct {
	RunID       uuid.UUID
	Kind        store.RunKind
	URL         string
	MaxDepth    int
	MaxSubpages int
	EnqueuedAt  time.Time
}

// Queue hands jobs from the API to the workers.
type Queue interface {
	// Enqueue adds job without blocking; it fails with ErrFull or ErrClosed.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks for the next job. After Close it drains the remaining
	// jobs and then returns ErrClosed.
	Dequeue(ctx context.Context) (Job, error)
	Len() int
	Close()
}
