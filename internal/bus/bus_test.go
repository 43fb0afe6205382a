package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSyncCompleted, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindSyncCompleted {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSyncCompleted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conflict.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSyncCompleted})
	b.Publish(Event{Kind: KindConflictDetected})

	select {
	case evt := <-ch:
		if evt.Kind != KindConflictDetected {
			t.Errorf("got kind %q, want %q", evt.Kind, KindConflictDetected)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure sync event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("net.", 10)
	unsub()

	b.Publish(Event{Kind: KindNetOnline})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: KindSyncCompleted})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: KindSyncFailed})

	evt := <-ch
	if evt.Kind != KindSyncCompleted {
		t.Errorf("got %q, want %q", evt.Kind, KindSyncCompleted)
	}
}
