package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(TypePageStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(TypeCrawlStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubFillsCategoryAndDropsInvalid(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)

	hub.Emit(sampleEvent(TypeAnalyzerDone))
	hub.Emit(Event{Type: TypePageDone, URL: "https://example.com/"})
	bad := sampleEvent(TypeGroupDone)
	bad.Category = CategoryCrawl
	hub.Emit(bad)
	unknown := sampleEvent("mystery")
	hub.Emit(unknown)

	require.NoError(t, hub.Close(context.Background()))
	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	require.Equal(t, CategoryAnalyzer, batches[0][0].Category)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	for i := 0; i < 10; i++ {
		hub.Emit(sampleEvent(TypePageStart))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 10, hub.Dropped())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(TypePageDone))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent(TypePageDone))
	require.Len(t, sink.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	require.NotPanics(t, func() { hub.Emit(sampleEvent(TypePageStart)) })
	require.NoError(t, hub.Close(context.Background()))
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(204))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(404))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}

func TestEventPayloadAccessors(t *testing.T) {
	t.Parallel()

	evt := Event{Payload: map[string]any{"class": "Good", "rating": 81.5, "pages": 3}}
	require.Equal(t, "Good", evt.String("class"))
	require.Empty(t, evt.String("missing"))
	rating, ok := evt.Float("rating")
	require.True(t, ok)
	require.InDelta(t, 81.5, rating, 1e-9)
	pages, ok := evt.Float("pages")
	require.True(t, ok)
	require.InDelta(t, 3, pages, 1e-9)
	_, ok = evt.Float("class")
	require.False(t, ok)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(typ Type) Event {
	return Event{
		RunID: UUIDToBytes(uuid.New()),
		TS:    time.Now().UTC(),
		Type:  typ,
		URL:   "https://example.com/",
	}
}
