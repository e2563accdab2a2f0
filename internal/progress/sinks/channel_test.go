package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-evaluator/internal/progress"
)

func TestChannelSinkForwardsInOrder(t *testing.T) {
	t.Parallel()

	sink := NewChannelSink(4)
	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, Type: progress.TypePageStart},
		{RunID: runID, Type: progress.TypePageDone},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Close(context.Background()))

	var got []progress.Type
	for evt := range sink.Events() {
		got = append(got, evt.Type)
	}
	require.Equal(t, []progress.Type{progress.TypePageStart, progress.TypePageDone}, got)
	require.NoError(t, sink.Consume(context.Background(), batch))
}

func TestChannelSinkHonorsDeadline(t *testing.T) {
	t.Parallel()

	sink := NewChannelSink(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sink.Consume(ctx, []progress.Event{{Type: progress.TypePageStart}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelSinkWithHub(t *testing.T) {
	t.Parallel()

	sink := NewChannelSink(16)
	hub := progress.NewHub(progress.Config{MaxBatchEvents: 1}, sink)
	hub.Emit(progress.Event{
		RunID: progress.UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Type:  progress.TypeCrawlStart,
		URL:   "https://example.com/",
	})

	select {
	case evt := <-sink.Events():
		require.Equal(t, progress.CategoryCrawl, evt.Category)
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}
	require.NoError(t, hub.Close(context.Background()))
	_, open := <-sink.Events()
	require.False(t, open)
}
