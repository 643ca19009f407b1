package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/status"
)

func connectMemory(t *testing.T, b *Broker, userID string) (*Memory, <-chan status.State) {
	t.Helper()
	m := NewMemory(b, status.NewMachine(nil), 16)
	states, err := m.Connect(context.Background(), chat.Identity{UserID: userID, Nickname: userID})
	if err != nil {
		t.Fatalf("Connect(%s): %v", userID, err)
	}
	t.Cleanup(func() { _ = m.Disconnect() })
	return m, states
}

func recv(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func TestMemoryAttachIsIdempotent(t *testing.T) {
	m, _ := connectMemory(t, NewBroker(), "alice")
	a, err := m.AttachRoom(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.AttachRoom(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("second AttachRoom returned a different handle")
	}
}

func TestMemoryRoomDelivery(t *testing.T) {
	broker := NewBroker()
	alice, _ := connectMemory(t, broker, "alice")
	bob, _ := connectMemory(t, broker, "bob")

	ac, _ := alice.AttachRoom(context.Background(), "r1")
	bc, _ := bob.AttachRoom(context.Background(), "r1")

	env, _ := NewEnvelope(EventTyping, TypingUser{UserID: "alice", Nickname: "Alice"})
	if err := ac.PublishTyping(context.Background(), env); err != nil {
		t.Fatalf("PublishTyping: %v", err)
	}
	got := recv(t, bc.Events())
	if got.Channel != RoomTypingChannel("r1") {
		t.Errorf("channel = %q, want %q", got.Channel, RoomTypingChannel("r1"))
	}
	if got.ClientID != "alice" {
		t.Errorf("clientId = %q, want alice", got.ClientID)
	}
}

func TestMemoryDetachReleasesSubscription(t *testing.T) {
	broker := NewBroker()
	m, _ := connectMemory(t, broker, "alice")
	ch, _ := m.AttachRoom(context.Background(), "r1")

	m.DetachRoom("r1")
	m.DetachRoom("r1")

	if _, ok := <-ch.Events(); ok {
		t.Error("events channel still open after detach")
	}
	if !ch.Stale() {
		t.Error("handle not stale after detach")
	}
	if err := ch.Publish(context.Background(), Envelope{Name: EventMessage}); !errors.Is(err, ErrDetached) {
		t.Errorf("Publish after detach = %v, want ErrDetached", err)
	}
	if n := broker.Subscribers(RoomMessagesChannel("r1")); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
}

func TestMemoryDropInvalidatesRooms(t *testing.T) {
	m, states := connectMemory(t, NewBroker(), "alice")
	old, _ := m.AttachRoom(context.Background(), "r1")

	m.Drop()
	if _, ok := <-old.Events(); ok {
		t.Error("room channel survived a drop")
	}
	if _, err := m.AttachRoom(context.Background(), "r1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("AttachRoom while down = %v, want ErrNotConnected", err)
	}

	m.Restore()
	fresh, err := m.AttachRoom(context.Background(), "r1")
	if err != nil {
		t.Fatalf("AttachRoom after restore: %v", err)
	}
	if fresh == old {
		t.Error("restore reused a stale handle")
	}

	want := []status.State{status.Idle, status.Connecting, status.Connected, status.Disconnected, status.Connecting, status.Connected}
	for i, w := range want {
		select {
		case got := <-states:
			if got != w {
				t.Errorf("state[%d] = %s, want %s", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out on state[%d]", i)
		}
	}
}

func TestMemoryPresenceMembers(t *testing.T) {
	broker := NewBroker()
	alice, _ := connectMemory(t, broker, "alice")
	bob, _ := connectMemory(t, broker, "bob")

	enter, _ := NewEnvelope(EventEnter, PresencePayload{UserID: "alice", Nickname: "Alice"})
	if err := alice.PublishPresence(context.Background(), enter); err != nil {
		t.Fatal(err)
	}
	got := recv(t, bob.PresenceEvents())
	if got.Name != EventEnter {
		t.Errorf("event = %q, want enter", got.Name)
	}

	members, _ := bob.PresenceMembers(context.Background())
	if len(members) != 1 || members[0].UserID != "alice" {
		t.Errorf("members = %+v, want [alice]", members)
	}

	leave, _ := NewEnvelope(EventLeave, PresencePayload{UserID: "alice"})
	_ = alice.PublishPresence(context.Background(), leave)
	members, _ = bob.PresenceMembers(context.Background())
	if len(members) != 0 {
		t.Errorf("members after leave = %+v, want none", members)
	}
}

func TestMemoryUserChannel(t *testing.T) {
	broker := NewBroker()
	m, _ := connectMemory(t, broker, "alice")

	broker.Publish(UserChannel("bob"), Envelope{Name: EventNewNotification})
	broker.Publish(UserChannel("alice"), Envelope{Name: EventRoomCreated})

	got := recv(t, m.UserEvents())
	if got.Name != EventRoomCreated {
		t.Errorf("event = %q, want %q", got.Name, EventRoomCreated)
	}
}

func TestMemoryDisconnectClosesStreams(t *testing.T) {
	m := NewMemory(NewBroker(), status.NewMachine(nil), 4)
	if _, err := m.Connect(context.Background(), chat.Identity{UserID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if _, ok := <-m.UserEvents(); ok {
		t.Error("user events still open")
	}
	if _, err := m.Connect(context.Background(), chat.Identity{UserID: "alice"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Disconnect = %v, want ErrClosed", err)
	}
}
