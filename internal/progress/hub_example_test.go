package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type countingSink struct {
	byType map[Type]int
}

func (s *countingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		s.byType[evt.Type]++
	}
	return nil
}

func (s *countingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit emits the events of a single page evaluation and flushes
// them on Close.
func ExampleHub_Emit() {
	sink := &countingSink{byType: map[Type]int{}}
	hub := NewHub(Config{MaxBatchEvents: 16, MaxBatchWait: time.Second}, sink)

	run := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	for _, typ := range []Type{TypePageStart, TypeGroupStart, TypeAnalyzerDone, TypeAnalyzerDone, TypeGroupDone, TypePageDone} {
		hub.Emit(Event{RunID: run, TS: time.Unix(0, 0), Type: typ, URL: "https://example.com/"})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}
	fmt.Println(sink.byType[TypeAnalyzerDone], sink.byType[TypePageDone])
	// Output: 2 1
}
