package status

import (
	"testing"
	"time"

	"github.com/offlinehq/crmsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Syncing, Idle, Syncing, Error, Syncing, Idle}
	for _, to := range steps {
		if err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%s) error = %v", to, err)
		}
	}
	if m.Current() != Idle {
		t.Errorf("final state = %s, want IDLE", m.Current())
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)

	// A drain cannot fail without having started.
	if err := m.Transition(Error); err == nil {
		t.Error("Transition(Error) from Idle should fail")
	}
	if m.Current() != Idle {
		t.Errorf("state after failed transition = %s, want IDLE", m.Current())
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)

	ch, unsub := b.Subscribe(bus.KindSyncStatusChanged, 10)
	defer unsub()

	if err := m.Transition(Syncing); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Idle || change.To != Syncing {
			t.Errorf("change = %+v, want Idle -> Syncing", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}
