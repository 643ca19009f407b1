package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/clock"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/roomlist"
	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	broker  *transport.Broker
	mem     *transport.Memory
	eng     *Engine
	clk     *clock.FakeClock
	bus     *bus.Bus
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		broker:  transport.NewBroker(),
		clk:     clock.NewFake(t0),
		bus:     bus.New(),
		metrics: metrics.New(),
	}
	machine := status.NewMachine(h.bus)
	h.mem = transport.NewMemory(h.broker, machine, 64)
	opts := Options{
		Identity:  chat.Identity{UserID: "alice", Nickname: "Alice"},
		Transport: h.mem,
		Machine:   machine,
		Bus:       h.bus,
		Clock:     h.clk,
		Metrics:   h.metrics,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	eng, err := New(opts)
	require.NoError(t, err)
	h.eng = eng
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)
	require.Eventually(t, func() bool { return eng.presence.IsOnline("alice") }, waitFor, tick, "initial presence sync")
	return h
}

func (h *harness) attach(t *testing.T, roomID string) {
	t.Helper()
	require.NoError(t, h.eng.AttachRoom(context.Background(), roomID))
	require.Eventually(t, func() bool { return h.eng.isAttached(roomID) }, waitFor, tick)
}

func (h *harness) publishMessage(t *testing.T, msg chat.Message) {
	t.Helper()
	env, err := transport.EncodeMessage(msg)
	require.NoError(t, err)
	h.broker.Publish(transport.RoomMessagesChannel(msg.RoomID), env)
}

func (h *harness) publish(t *testing.T, channel, name string, data any) {
	t.Helper()
	env, err := transport.NewEnvelope(name, data)
	require.NoError(t, err)
	h.broker.Publish(channel, env)
}

func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func fromBob(id, roomID, text string, at time.Time) chat.Message {
	return chat.Message{ID: id, RoomID: roomID, SenderID: "bob", Text: text, CreatedAt: at}
}

func TestInboundMessageCountsAndToasts(t *testing.T) {
	h := newHarness(t)
	h.eng.AddRoom(chat.RoomSummary{ID: "r1", Type: chat.RoomGroup, Name: "ops", CreatedAt: t0}, chat.Member{})
	h.attach(t, "r1")

	toasts, unsub := h.bus.Subscribe(bus.Toast, 8)
	defer unsub()

	h.publishMessage(t, fromBob("m1", "r1", "deploy done", t0.Add(time.Minute)))

	require.Eventually(t, func() bool { return h.eng.Unread("r1") == 1 }, waitFor, tick)
	msgs := h.eng.Messages("r1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "deploy done", msgs[0].Text)

	select {
	case evt := <-toasts:
		toast := evt.Payload.(Toast)
		assert.Equal(t, "r1", toast.RoomID)
		assert.Equal(t, "ops", toast.RoomName)
		assert.Equal(t, "m1", toast.MessageID)
	case <-time.After(waitFor):
		t.Fatal("no toast")
	}

	room, ok := h.eng.Rooms().Room("r1")
	require.True(t, ok)
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, "m1", room.LastMessage.ID)
}

func TestDuplicateDeliveryCountedOnce(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")

	msg := fromBob("m1", "r1", "hi", t0)
	h.publishMessage(t, msg)
	h.publishMessage(t, msg)
	h.publish(t, transport.UserChannel("alice"), transport.EventChatMessage, transport.ChatMessagePayload{RoomID: "r1", Message: msg})
	// A later message marks the point where the duplicates were processed.
	h.publishMessage(t, fromBob("m2", "r1", "there", t0.Add(time.Second)))

	require.Eventually(t, func() bool { return len(h.eng.Messages("r1")) == 2 }, waitFor, tick)
	assert.Equal(t, 2, h.eng.Unread("r1"))
}

func TestActiveRoomIsNotCounted(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")
	require.NoError(t, h.eng.SetActiveRoom(context.Background(), "r1"))

	toasts, unsub := h.bus.Subscribe(bus.Toast, 8)
	defer unsub()

	h.publishMessage(t, fromBob("m1", "r1", "hi", t0))
	require.Eventually(t, func() bool { return len(h.eng.Messages("r1")) == 1 }, waitFor, tick)
	assert.Equal(t, 0, h.eng.Unread("r1"))
	assert.Empty(t, toasts)
}

func TestChatMessageForDetachedRoom(t *testing.T) {
	h := newHarness(t)
	h.eng.AddRoom(chat.RoomSummary{ID: "r2", Type: chat.RoomDirect, PeerID: "bob", CreatedAt: t0}, chat.Member{Notify: chat.NotifyMute})

	toasts, unsub := h.bus.Subscribe(bus.Toast, 8)
	defer unsub()

	msg := fromBob("m7", "r2", "ping", t0.Add(time.Hour))
	h.publish(t, transport.UserChannel("alice"), transport.EventChatMessage, transport.ChatMessagePayload{RoomID: "r2", Message: msg})

	require.Eventually(t, func() bool { return h.eng.Unread("r2") == 1 }, waitFor, tick)
	assert.Empty(t, h.eng.Messages("r2"), "detached rooms keep no message list")
	assert.Empty(t, toasts, "muted room must not toast")
	room, _ := h.eng.Rooms().Room("r2")
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, "m7", room.LastMessage.ID)
}

func TestMentionsOnlySetting(t *testing.T) {
	h := newHarness(t)
	h.eng.AddRoom(chat.RoomSummary{ID: "r1", Type: chat.RoomChannel, CreatedAt: t0}, chat.Member{Notify: chat.NotifyMentions})
	h.attach(t, "r1")

	toasts, unsub := h.bus.Subscribe(bus.Toast, 8)
	defer unsub()

	h.publishMessage(t, fromBob("m1", "r1", "lunch?", t0))
	h.publishMessage(t, fromBob("m2", "r1", "@alice lunch?", t0.Add(time.Second)))

	select {
	case evt := <-toasts:
		assert.Equal(t, "m2", evt.Payload.(Toast).MessageID)
	case <-time.After(waitFor):
		t.Fatal("no toast for mention")
	}
	assert.Equal(t, 2, h.eng.Unread("r1"))
}

func TestEditAndDelete(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")
	h.publishMessage(t, fromBob("m1", "r1", "tpyo", t0))
	require.Eventually(t, func() bool { return len(h.eng.Messages("r1")) == 1 }, waitFor, tick)

	h.publish(t, transport.RoomMessagesChannel("r1"), transport.EventMessageEdited,
		transport.MessageEditedPayload{ID: "m1", Text: "typo", EditedAt: t0.Add(time.Minute)})
	require.Eventually(t, func() bool { return h.eng.Messages("r1")[0].Text == "typo" }, waitFor, tick)

	h.publish(t, transport.RoomMessagesChannel("r1"), transport.EventMessageDeleted,
		transport.MessageDeletedPayload{ID: "m1", DeletedAt: t0.Add(2 * time.Minute)})
	require.Eventually(t, func() bool { return h.eng.Messages("r1")[0].Deleted() }, waitFor, tick)

	// Mutations for unknown ids are no-ops.
	h.publish(t, transport.RoomMessagesChannel("r1"), transport.EventMessageEdited,
		transport.MessageEditedPayload{ID: "ghost", Text: "x", EditedAt: t0})
	h.publishMessage(t, fromBob("m2", "r1", "next", t0.Add(3*time.Minute)))
	require.Eventually(t, func() bool { return len(h.eng.Messages("r1")) == 2 }, waitFor, tick)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")

	h.broker.Publish(transport.RoomMessagesChannel("r1"), transport.Envelope{Name: transport.EventMessage, Data: []byte(`{"text":"x","metadata":"{not json"}`)})
	h.publish(t, transport.RoomMessagesChannel("r1"), transport.EventMessageEdited, map[string]string{"text": "no id"})
	h.publishMessage(t, fromBob("m1", "r1", "valid", t0))

	require.Eventually(t, func() bool { return len(h.eng.Messages("r1")) == 1 }, waitFor, tick)
	body := h.scrape(t)
	assert.Contains(t, body, `roomsync_malformed_events_total{source="room"} 2`)
	assert.Contains(t, body, `roomsync_events_applied_total{event="message"} 1`)
}

func TestSendMessageReconcilesAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")

	peer := transport.NewMemory(h.broker, status.NewMachine(nil), 16)
	_, err := peer.Connect(context.Background(), chat.Identity{UserID: "bob"})
	require.NoError(t, err)
	defer func() { _ = peer.Disconnect() }()
	pch, err := peer.AttachRoom(context.Background(), "r1")
	require.NoError(t, err)

	sent, err := h.eng.SendMessage(context.Background(), "r1", "hello", "")
	require.NoError(t, err)
	assert.False(t, sent.Pending())

	select {
	case env := <-pch.Events():
		got, err := transport.DecodeMessage(env)
		require.NoError(t, err)
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "alice", got.SenderID)
		assert.Equal(t, "alice", env.ClientID)
	case <-time.After(waitFor):
		t.Fatal("peer did not receive the message")
	}

	// Our own echo arrives too and must not duplicate or count.
	h.publishMessage(t, fromBob("m2", "r1", "ack", sent.CreatedAt.Add(time.Second)))
	require.Eventually(t, func() bool { return len(h.eng.Messages("r1")) == 2 }, waitFor, tick)
	assert.Equal(t, sent.ID, h.eng.Messages("r1")[0].ID)
	assert.Equal(t, 1, h.eng.Unread("r1"))
}

type failingAPI struct{}

func (failingAPI) CreateMessage(context.Context, chat.Message) (chat.Message, error) {
	return chat.Message{}, errors.New("validation failed")
}

func TestSendFailureRollsBack(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.API = failingAPI{} })
	h.attach(t, "r1")

	failures, unsub := h.bus.Subscribe(bus.MessageSendFailed, 4)
	defer unsub()

	_, err := h.eng.SendMessage(context.Background(), "r1", "nope", "")
	require.Error(t, err)
	assert.Empty(t, h.eng.Messages("r1"))
	select {
	case <-failures:
	case <-time.After(waitFor):
		t.Fatal("no send failure event")
	}
}

func TestSendRealtimeMessageRequiresAttachedRoom(t *testing.T) {
	h := newHarness(t)
	err := h.eng.SendRealtimeMessage(context.Background(), "r9", "hi", chat.Message{ID: "m1", SenderID: "alice", CreatedAt: t0})
	assert.ErrorIs(t, err, transport.ErrDetached)
	// Applied locally regardless.
	assert.Len(t, h.eng.Messages("r9"), 1)
}

func TestTypingIndicatorsExpire(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")

	h.publish(t, transport.RoomTypingChannel("r1"), transport.EventTyping, transport.TypingUser{UserID: "bob", Nickname: "Bob"})
	require.Eventually(t, func() bool { return h.eng.SidebarTyping("r1") }, waitFor, tick)
	typing := h.eng.Typing("r1")
	require.Len(t, typing, 1)
	assert.Equal(t, "Bob", typing[0].Nickname)

	h.clk.Advance(3 * time.Second)
	assert.False(t, h.eng.SidebarTyping("r1"))
	assert.Empty(t, h.eng.Typing("r1"))
}

func TestTypingSetReconciles(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")

	h.publish(t, transport.RoomMessagesChannel("r1"), transport.EventTyping, transport.TypingSetPayload{
		CurrentlyTyping: []transport.TypingUser{{UserID: "bob", Nickname: "Bob"}, {UserID: "alice"}, {UserID: "carol"}},
	})
	require.Eventually(t, func() bool { return len(h.eng.Typing("r1")) == 2 }, waitFor, tick, "self is filtered")

	h.publish(t, transport.RoomMessagesChannel("r1"), transport.EventTyping, transport.TypingSetPayload{
		CurrentlyTyping: []transport.TypingUser{{UserID: "carol"}},
	})
	require.Eventually(t, func() bool { return len(h.eng.Typing("r1")) == 1 }, waitFor, tick)
	assert.Equal(t, "carol", h.eng.Typing("r1")[0].UserID)
}

func TestStartTypingRespectsPrivacy(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")
	require.NoError(t, h.eng.SetActiveRoom(context.Background(), "r1"))

	peer := transport.NewMemory(h.broker, status.NewMachine(nil), 16)
	_, err := peer.Connect(context.Background(), chat.Identity{UserID: "bob"})
	require.NoError(t, err)
	defer func() { _ = peer.Disconnect() }()
	pch, err := peer.AttachRoom(context.Background(), "r1")
	require.NoError(t, err)

	require.NoError(t, h.eng.StartTyping(context.Background()))
	select {
	case env := <-pch.Events():
		assert.Equal(t, transport.EventTyping, env.Name)
		assert.Equal(t, transport.RoomTypingChannel("r1"), env.Channel)
	case <-time.After(waitFor):
		t.Fatal("peer saw no typing event")
	}

	// The local auto-stop fires after the timeout.
	h.clk.Advance(3 * time.Second)
	select {
	case env := <-pch.Events():
		assert.Equal(t, transport.EventStopTyping, env.Name)
	case <-time.After(waitFor):
		t.Fatal("peer saw no stop-typing event")
	}

	h.eng.SetTypingHidden(true)
	require.NoError(t, h.eng.StartTyping(context.Background()))
	select {
	case env := <-pch.Events():
		t.Fatalf("typing leaked while hidden: %s", env.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPresenceHiddenLeaves(t *testing.T) {
	h := newHarness(t)
	require.Len(t, h.broker.Members(), 1)

	h.eng.SetPresenceHidden(context.Background(), true)
	assert.Empty(t, h.broker.Members())

	h.eng.SetPresenceHidden(context.Background(), false)
	assert.Len(t, h.broker.Members(), 1)
	require.Eventually(t, func() bool { return h.eng.presence.IsOnline("alice") }, waitFor, tick)
}

func TestPresenceEventsFromOthers(t *testing.T) {
	h := newHarness(t)
	h.publish(t, transport.PresenceChannel, transport.EventEnter, transport.PresencePayload{UserID: "bob", Nickname: "Bob"})
	require.Eventually(t, func() bool { return len(h.eng.Online()) == 2 }, waitFor, tick)

	h.publish(t, transport.PresenceChannel, transport.EventLeave, transport.PresencePayload{UserID: "bob"})
	require.Eventually(t, func() bool { return len(h.eng.Online()) == 1 }, waitFor, tick)
}

func TestReconnectReattachesRooms(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")

	h.mem.Drop()
	require.Eventually(t, func() bool { return len(h.eng.Attached()) == 0 }, waitFor, tick)
	assert.Equal(t, status.Disconnected, h.eng.ConnState())

	// Someone else joined while we were away.
	peer := transport.NewMemory(h.broker, status.NewMachine(nil), 16)
	_, err := peer.Connect(context.Background(), chat.Identity{UserID: "bob"})
	require.NoError(t, err)
	defer func() { _ = peer.Disconnect() }()
	env, err := transport.NewEnvelope(transport.EventEnter, transport.PresencePayload{UserID: "bob", Nickname: "Bob"})
	require.NoError(t, err)
	require.NoError(t, peer.PublishPresence(context.Background(), env))

	h.mem.Restore()
	require.Eventually(t, func() bool { return len(h.eng.Attached()) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.eng.presence.IsOnline("bob") }, waitFor, tick, "full sync after reconnect")
	assert.Equal(t, status.Connected, h.eng.ConnState())
	assert.Equal(t, 1, h.broker.Subscribers(transport.RoomMessagesChannel("r1")))

	h.publishMessage(t, fromBob("m1", "r1", "back", t0))
	require.Eventually(t, func() bool { return len(h.eng.Messages("r1")) == 1 }, waitFor, tick)
}

func TestDetachRoomReleasesResources(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")
	h.publish(t, transport.RoomTypingChannel("r1"), transport.EventTyping, transport.TypingUser{UserID: "bob"})
	require.Eventually(t, func() bool { return h.eng.SidebarTyping("r1") }, waitFor, tick)

	h.eng.DetachRoom("r1")
	h.eng.DetachRoom("r1")
	assert.Equal(t, 0, h.broker.Subscribers(transport.RoomMessagesChannel("r1")))
	assert.Equal(t, 0, h.eng.typing.PendingTimers())
	assert.Equal(t, 0, h.eng.sidebar.PendingTimers())
	assert.Empty(t, h.eng.Attached())
}

func TestStopLeavesNoTimersOrSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.attach(t, "r1")
	h.attach(t, "r2")
	require.NoError(t, h.eng.SetActiveRoom(context.Background(), "r1"))
	require.NoError(t, h.eng.StartTyping(context.Background()))
	h.publish(t, transport.RoomTypingChannel("r2"), transport.EventTyping, transport.TypingUser{UserID: "bob"})
	require.Eventually(t, func() bool { return h.eng.SidebarTyping("r2") }, waitFor, tick)

	h.eng.Stop()
	h.eng.Stop()

	assert.Equal(t, 0, h.clk.Pending())
	for _, c := range []string{
		transport.RoomMessagesChannel("r1"), transport.RoomTypingChannel("r2"),
		transport.UserChannel("alice"), transport.PresenceChannel,
	} {
		assert.Equal(t, 0, h.broker.Subscribers(c), c)
	}
	assert.Empty(t, h.broker.Members(), "presence left on stop")
	assert.Equal(t, status.Idle, h.eng.ConnState())
	assert.ErrorIs(t, h.eng.AttachRoom(context.Background(), "r3"), ErrStopped)
}

type fakeDirectory struct {
	members []chat.Member
	err     error
}

func (d fakeDirectory) FetchMembers(context.Context, string) ([]chat.Member, error) {
	return d.members, d.err
}

func TestRoomCreatedFallsBackToEmbeddedMembers(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Directory = fakeDirectory{err: errors.New("unreachable")} })

	h.publish(t, transport.UserChannel("alice"), transport.EventRoomCreated, transport.RoomCreatedPayload{
		Room:    chat.RoomSummary{ID: "g1", Type: chat.RoomGroup, Name: "launch", CreatedAt: t0},
		Members: []chat.Member{{UserID: "alice", Role: chat.RoleOwner, Notify: chat.NotifyAll}},
	})
	require.Eventually(t, func() bool { _, ok := h.eng.Rooms().Room("g1"); return ok }, waitFor, tick)

	member, _ := h.eng.Rooms().Member("g1")
	assert.Equal(t, chat.RoleOwner, member.Role)

	var groups roomlist.CategoryView
	for _, c := range h.eng.Tree() {
		if c.ID == chat.CategoryGroups {
			groups = c
		}
	}
	require.Len(t, groups.Rooms, 1)
	assert.Equal(t, "g1", groups.Rooms[0].Room.ID)
}

func TestRoomCreatedPrefersDirectory(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Directory = fakeDirectory{members: []chat.Member{{UserID: "alice", Role: chat.RoleAdmin, Notify: chat.NotifyMute}}}
	})
	h.publish(t, transport.UserChannel("alice"), transport.EventRoomCreated, transport.RoomCreatedPayload{
		Room:    chat.RoomSummary{ID: "g2", Type: chat.RoomGroup, CreatedAt: t0},
		Members: []chat.Member{{UserID: "alice", Role: chat.RoleGuest}},
	})
	require.Eventually(t, func() bool { _, ok := h.eng.Rooms().Member("g2"); return ok }, waitFor, tick)
	member, _ := h.eng.Rooms().Member("g2")
	assert.Equal(t, chat.RoleAdmin, member.Role)
	assert.Equal(t, chat.NotifyMute, member.Notify)
}

func TestMemberAndRoomInfoUpdates(t *testing.T) {
	h := newHarness(t)
	h.eng.AddRoom(chat.RoomSummary{ID: "r1", Type: chat.RoomGroup, Name: "old", CreatedAt: t0}, chat.Member{Role: chat.RoleMember, Notify: chat.NotifyAll})

	updates, unsub := h.bus.Subscribe("room.", 16)
	defer unsub()

	h.publish(t, transport.UserChannel("alice"), transport.EventMemberRoleUpdated,
		transport.MemberRoleUpdatedPayload{RoomID: "r1", UserID: "alice", Role: chat.RoleAdmin, Notify: chat.NotifyMentions})
	h.publish(t, transport.UserChannel("alice"), transport.EventRoomInfoUpdated,
		transport.RoomInfoUpdatedPayload{RoomID: "r1", Name: "new"})

	kinds := map[string]bool{}
	require.Eventually(t, func() bool {
		for {
			select {
			case evt := <-updates:
				kinds[evt.Kind] = true
			default:
				return kinds[bus.MemberUpdated] && kinds[bus.RoomInfoUpdated]
			}
		}
	}, waitFor, tick)

	room, _ := h.eng.Rooms().Room("r1")
	assert.Equal(t, "new", room.Name)
	member, _ := h.eng.Rooms().Member("r1")
	assert.Equal(t, chat.RoleAdmin, member.Role)
	assert.Equal(t, chat.NotifyMentions, member.Notify)
}

func TestNotificationsInbox(t *testing.T) {
	h := newHarness(t)
	n := chat.Notification{ID: "n1", Kind: "room-invite", Title: "Invite", CreatedAt: t0}
	h.publish(t, transport.UserChannel("alice"), transport.EventNewNotification, n)
	h.publish(t, transport.UserChannel("alice"), transport.EventNewNotification, n)

	require.Eventually(t, func() bool { return len(h.eng.Notifications()) == 1 }, waitFor, tick)
	h.eng.MarkNotificationsSeen()
	assert.Equal(t, 0, h.eng.inbox.Unseen())
}

type pagedHistory struct {
	pages map[string][]chat.Message
}

func (p pagedHistory) FetchPage(_ context.Context, _ string, beforeID string) ([]chat.Message, error) {
	return p.pages[beforeID], nil
}

func TestLoadHistory(t *testing.T) {
	hist := pagedHistory{pages: map[string][]chat.Message{
		"":   {fromBob("m3", "r1", "c", t0.Add(3*time.Minute)), fromBob("m4", "r1", "d", t0.Add(4*time.Minute))},
		"m3": {fromBob("m1", "r1", "a", t0.Add(time.Minute)), fromBob("m2", "r1", "b", t0.Add(2*time.Minute))},
	}}
	h := newHarness(t, func(o *Options) { o.History = hist })
	h.eng.AddRoom(chat.RoomSummary{ID: "r1", Type: chat.RoomGroup, CreatedAt: t0}, chat.Member{})

	n, err := h.eng.LoadHistory(context.Background(), "r1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = h.eng.LoadOlder(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var ids []string
	for _, m := range h.eng.Messages("r1") {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids)

	room, _ := h.eng.Rooms().Room("r1")
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, "m4", room.LastMessage.ID)

	// The newest loaded message is where MarkRead reports to.
	assert.Equal(t, 0, h.eng.Unread("r1"))
}

type recordedReceipts struct {
	mu   sync.Mutex
	read map[string]string
}

func (r *recordedReceipts) MarkRead(_ context.Context, roomID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.read == nil {
		r.read = make(map[string]string)
	}
	r.read[roomID] = messageID
	return nil
}

func TestMarkReadReportsNewestMessage(t *testing.T) {
	rec := &recordedReceipts{}
	h := newHarness(t, func(o *Options) { o.Receipts = rec })
	h.eng.AddRoom(chat.RoomSummary{ID: "r1", Type: chat.RoomGroup, CreatedAt: t0}, chat.Member{})
	h.attach(t, "r1")

	h.publishMessage(t, fromBob("m2", "r1", "second", t0.Add(2*time.Minute)))
	h.publishMessage(t, fromBob("m1", "r1", "first", t0.Add(time.Minute)))
	require.Eventually(t, func() bool { return h.eng.Unread("r1") == 2 }, waitFor, tick)

	require.NoError(t, h.eng.MarkRead(context.Background(), "r1"))
	assert.Equal(t, 0, h.eng.Unread("r1"))
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "m2", rec.read["r1"])
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	machine := status.NewMachine(nil)
	_, err = New(Options{Transport: transport.NewMemory(transport.NewBroker(), machine, 1), Machine: machine})
	assert.Error(t, err, "user id is required")
}
