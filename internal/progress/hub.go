package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the intake channel (default 1024).
//   - MaxBatchEvents: flush once this many events are queued (default 256).
//   - MaxBatchWait: flush a partial batch after this long (default 250ms).
//   - SinkTimeout: per-sink deadline for each flush (default 5s).
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub fans events out to sinks in batches. Emit is safe for concurrent use
// and never blocks.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	closed       atomic.Bool
	dropped      atomic.Int64
	unreported   atomic.Int64
	lastDropWarn atomic.Int64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger.Named("progress"),
	}
	go h.run()
	return h
}

// Emit queues evt. Invalid events are discarded; when the buffer is full the
// event is dropped and a rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.Category == "" {
		evt.Category = CategoryOf(evt.Type)
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.recordDrop(time.Now())
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) recordDrop(now time.Time) {
	h.dropped.Add(1)
	h.unreported.Add(1)
	last := h.lastDropWarn.Load()
	if now.UnixNano()-last < dropLogInterval.Nanoseconds() {
		return
	}
	if !h.lastDropWarn.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", h.unreported.Swap(0)))
}

// Close stops intake, drains queued events, flushes and closes the sinks.
// Later calls wait for the same shutdown.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

// batcher accumulates events and owns the partial-batch timer.
type batcher struct {
	max     int
	wait    time.Duration
	pending []Event
	timer   *time.Timer
	armed   bool
}

func newBatcher(max int, wait time.Duration) *batcher {
	t := time.NewTimer(wait)
	t.Stop()
	return &batcher{max: max, wait: wait, pending: make([]Event, 0, max), timer: t}
}

// add queues evt and returns a full batch when the size limit is reached.
func (b *batcher) add(evt Event) []Event {
	b.pending = append(b.pending, evt)
	if len(b.pending) >= b.max {
		b.disarm()
		return b.take()
	}
	if !b.armed {
		b.timer.Reset(b.wait)
		b.armed = true
	}
	return nil
}

func (b *batcher) take() []Event {
	if len(b.pending) == 0 {
		return nil
	}
	out := append([]Event(nil), b.pending...)
	b.pending = b.pending[:0]
	return out
}

func (b *batcher) disarm() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

func (h *Hub) run() {
	defer close(h.done)
	b := newBatcher(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	for {
		select {
		case evt := <-h.events:
			h.flush(b.add(evt))
		case <-b.timer.C:
			b.armed = false
			h.flush(b.take())
		case <-h.stop:
			b.disarm()
			h.drain(b)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(b *batcher) {
	for {
		select {
		case evt := <-h.events:
			h.flush(b.add(evt))
		default:
			b.disarm()
			h.flush(b.take())
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
