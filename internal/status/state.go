package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/offlinehq/crmsync/internal/bus"
)

// State represents the sync engine's runtime state.
type State string

const (
	Idle    State = "IDLE"
	Syncing State = "SYNCING"
	Error   State = "ERROR"
)

// validTransitions defines allowed state transitions. A drain moves
// Idle -> Syncing -> Idle on success or Syncing -> Error on a
// session-level failure; a later drain may recover from Error.
var validTransitions = map[State][]State{
	Idle:    {Syncing},
	Syncing: {Idle, Error},
	Error:   {Syncing, Idle},
}

// StatusChange is the payload published on sync.status_changed events.
type StatusChange struct {
	From State
	To   State
}

// Machine tracks and enforces sync engine state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSyncStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}
