// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/queue"
	"github.com/JakeFAU/site-evaluator/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   q,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until every worker has stopped, either
// because ctx finished or because the queue was closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Start runs the workers in the background. Later calls do nothing.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		d.logger.Info("job workers started", zap.Int("workers", len(d.workers)))
		d.Run(runCtx)
	}()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job queue.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Shutdown stops intake and lets the workers drain the queue. When ctx
// expires first, in-flight jobs are canceled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.queue.Close()
	d.mu.Lock()
	done, cancel := d.done, d.cancel
	d.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
	}
	pending := d.queue.Len()
	cancel()
	<-done
	d.logger.Warn("job workers canceled before draining", zap.Int("abandoned_jobs", pending))
	return fmt.Errorf("drain job queue: %w", ctx.Err())
}
