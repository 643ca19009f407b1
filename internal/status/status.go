package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
)

// State represents the realtime connection state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Disconnected State = "DISCONNECTED"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting},
	Connecting:   {Connected, Disconnected, Failed, Idle},
	Connected:    {Disconnected, Idle},
	Disconnected: {Connecting, Failed, Idle},
	Failed:       {Connecting, Idle},
}

// Machine tracks and enforces connection state transitions. Every accepted
// transition is published on the bus and fanned out to watchers.
type Machine struct {
	mu       sync.RWMutex
	current  State
	bus      *bus.Bus
	watchers map[int]chan State
	nextID   int
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current:  Idle,
		bus:      b,
		watchers: make(map[int]chan State),
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to

	for _, ch := range m.watchers {
		select {
		case ch <- to:
		default:
		}
	}
	m.bus.Publish(bus.Event{
		Kind:      bus.ConnectionStateChanged,
		Timestamp: time.Now(),
		Payload:   StatusChange{From: from, To: to},
	})
	return nil
}

// Watch returns a channel receiving every subsequent state. The current
// state is delivered first. Slow watchers miss intermediate states.
func (m *Machine) Watch(buf int) (<-chan State, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan State, buf)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	ch <- m.current
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// StatusChange is the payload for connection state events.
type StatusChange struct {
	From State
	To   State
}
