package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-evaluator/internal/progress"
)

// ChannelSink forwards events to an in-process consumer. Consume blocks until
// the consumer accepts each event or ctx expires.
type ChannelSink struct {
	mu     sync.RWMutex
	ch     chan progress.Event
	closed bool
}

// NewChannelSink creates a sink whose channel holds up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{ch: make(chan progress.Event, buffer)}
}

// Events returns the channel consumers drain. It is closed by Close.
func (s *ChannelSink) Events() <-chan progress.Event {
	return s.ch
}

// Consume forwards the batch in order.
func (s *ChannelSink) Consume(ctx context.Context, batch []progress.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	for i, evt := range batch {
		select {
		case s.ch <- evt:
		case <-ctx.Done():
			return fmt.Errorf("channel sink dropped %d events: %w", len(batch)-i, ctx.Err())
		}
	}
	return nil
}

// Close closes the event channel. It is safe to call more than once.
func (s *ChannelSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
