package status

import (
	"testing"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connecting},
		{Connecting, Connected},
		{Connecting, Disconnected},
		{Connecting, Failed},
		{Connected, Disconnected},
		{Connected, Idle},
		{Disconnected, Connecting},
		{Disconnected, Failed},
		{Failed, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(IDLE -> CONNECTED) should fail")
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE (should not have changed)", m.Current())
	}
}

func TestSameStateIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("connection.", 10)
	defer unsub()

	m := NewMachine(b)
	walkTo(t, m, Connected)
	for len(ch) > 0 {
		<-ch
	}
	if err := m.Transition(Connected); err != nil {
		t.Fatalf("Transition(CONNECTED -> CONNECTED) error = %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %v for same-state transition", evt.Payload)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("connection.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.ConnectionStateChanged {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.ConnectionStateChanged)
		}
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Idle || change.To != Connecting {
			t.Errorf("change = %v -> %v, want IDLE -> CONNECTING", change.From, change.To)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatchReceivesCurrentThenChanges(t *testing.T) {
	m := NewMachine(nil)
	ch, stop := m.Watch(8)
	defer stop()

	walkTo(t, m, Connected)
	_ = m.Transition(Disconnected)

	want := []State{Idle, Connecting, Connected, Disconnected}
	for i, w := range want {
		select {
		case got := <-ch:
			if got != w {
				t.Errorf("state[%d] = %s, want %s", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for state[%d]", i)
		}
	}
}

func TestWatchStopClosesChannel(t *testing.T) {
	m := NewMachine(nil)
	ch, stop := m.Watch(1)
	<-ch
	stop()
	stop()
	if _, ok := <-ch; ok {
		t.Error("channel still open after stop")
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("Transition after stop: %v", err)
	}
}

// TestReconnectCycle walks the drop-and-recover loop:
// CONNECTED → DISCONNECTED → CONNECTING → CONNECTED
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	steps := []State{Disconnected, Connecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestFailedRequiresNewAttempt verifies FAILED cannot jump straight back to
// CONNECTED without passing through CONNECTING.
func TestFailedRequiresNewAttempt(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Failed)

	if err := m.Transition(Connected); err == nil {
		t.Fatal("Transition(FAILED -> CONNECTED) should fail")
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("FAILED -> CONNECTING: %v", err)
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:         {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		Disconnected: {Connecting, Connected, Disconnected},
		Failed:       {Connecting, Failed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
