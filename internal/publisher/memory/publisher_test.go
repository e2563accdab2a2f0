package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublisherRecordsEncodedMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if string(msgs[0].Data) != `{"k":"v"}` || string(msgs[1].Data) != `"payload"` {
		t.Fatalf("unexpected data: %s / %s", msgs[0].Data, msgs[1].Data)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic != "topic-a" {
		t.Fatal("Messages must return a copy")
	}
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("broker down")
	pub.FailWith(boom)
	if _, err := pub.Publish(context.Background(), "t", 1); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	pub.FailWith(nil)
	if _, err := pub.Publish(context.Background(), "t", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if len(pub.Messages()) != 0 {
		t.Fatal("failed publishes must not be recorded")
	}
}
