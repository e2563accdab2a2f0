// Package memory provides an in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-evaluator/internal/queue"
)

// Queue is a bounded channel-backed queue.Queue.
type Queue struct {
	ch      chan queue.Job
	closeMu sync.RWMutex
	closed  bool
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue constructs a queue holding up to capacity jobs.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan queue.Job, capacity),
	}
}

// Enqueue adds job if there is room.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return queue.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return queue.ErrFull
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (queue.Job, error) {
	select {
	case <-ctx.Done():
		return queue.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return queue.Job{}, queue.ErrClosed
		}
		return job, nil
	}
}

// Len reports how many jobs are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake. Jobs already queued can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
