package events

import (
	"context"
	"testing"
	"time"
)

type testEvent struct {
	kind  string
	attrs map[string]string
}

func (e testEvent) EventType() string {
	return e.kind
}

func (e testEvent) Attributes() map[string]string {
	return e.attrs
}

func TestBusAssignsSequences(t *testing.T) {
	bus := NewBus(10)
	ch, cancel, backlog := bus.Subscribe(context.Background(), "")
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d entries", len(backlog))
	}

	bus.Emit(testEvent{kind: "vault.test", attrs: map[string]string{"k": "v"}})

	select {
	case env := <-ch:
		if env.Sequence != 11 {
			t.Fatalf("expected sequence 11, got %d", env.Sequence)
		}
		if env.Cursor != "11" {
			t.Fatalf("expected cursor \"11\", got %q", env.Cursor)
		}
		if env.Type != "vault.test" {
			t.Fatalf("unexpected type %q", env.Type)
		}
		if env.Attributes["k"] != "v" {
			t.Fatalf("attributes not carried: %#v", env.Attributes)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	if bus.Sequence() != 11 {
		t.Fatalf("expected bus sequence 11, got %d", bus.Sequence())
	}
}

func TestBusReplaysBacklogAfterCursor(t *testing.T) {
	bus := NewBus(0)
	for i := 0; i < 5; i++ {
		bus.Emit(testEvent{kind: "vault.test"})
	}

	_, cancel, backlog := bus.Subscribe(context.Background(), "2")
	defer cancel()

	if len(backlog) != 3 {
		t.Fatalf("expected 3 replayed events after cursor 2, got %d", len(backlog))
	}
	if backlog[0].Sequence != 3 || backlog[2].Sequence != 5 {
		t.Fatalf("unexpected backlog range %d..%d", backlog[0].Sequence, backlog[2].Sequence)
	}
}

func TestBusHonoursHistoryLimit(t *testing.T) {
	bus := NewBus(0)
	bus.SetHistoryLimit(3)
	for i := 0; i < 10; i++ {
		bus.Emit(testEvent{kind: "vault.test"})
	}

	_, cancel, backlog := bus.Subscribe(context.Background(), "")
	defer cancel()

	if len(backlog) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(backlog))
	}
	if backlog[0].Sequence != 8 {
		t.Fatalf("expected oldest retained sequence 8, got %d", backlog[0].Sequence)
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus(0)
	ch, cancel, _ := bus.Subscribe(context.Background(), "")
	cancel()

	bus.Emit(testEvent{kind: "vault.test"})

	if _, open := <-ch; open {
		t.Fatal("expected closed channel after cancel")
	}
}

func TestBusContextCancellation(t *testing.T) {
	bus := NewBus(0)
	ctx, stop := context.WithCancel(context.Background())
	ch, cancel, _ := bus.Subscribe(ctx, "")
	defer cancel()
	stop()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("subscription not released after context cancellation")
		}
	}
}

func TestBusDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus(0)
	// Subscriber never drains its channel; emits beyond the buffer must not hang.
	_, cancel, _ := bus.Subscribe(context.Background(), "")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Emit(testEvent{kind: "vault.test"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on slow subscriber")
	}
}
