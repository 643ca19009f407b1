package transport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/clock"
	"github.com/matheus3301/roomsync/internal/status"
)

var fastOpts = RedisOptions{
	PingInterval: 20 * time.Millisecond,
	PingTimeout:  100 * time.Millisecond,
	BackoffMin:   10 * time.Millisecond,
	BackoffMax:   40 * time.Millisecond,
	Buffer:       32,
}

func newRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func connectRedis(t *testing.T, mr *miniredis.Miniredis, userID string, opts RedisOptions) (*Redis, <-chan status.State) {
	t.Helper()
	r := NewRedis(newRedisClient(t, mr), status.NewMachine(nil), clock.Real(), nil, zap.NewNop(), opts)
	states, err := r.Connect(context.Background(), chat.Identity{UserID: userID, Nickname: userID})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Disconnect() })
	return r, states
}

func waitState(t *testing.T, states <-chan status.State, want status.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestRedisConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	r, states := connectRedis(t, mr, "alice", fastOpts)

	waitState(t, states, status.Connected)
	assert.Equal(t, status.Connected, r.machine.Current())
}

func TestRedisAttachRoomIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	r, _ := connectRedis(t, mr, "alice", fastOpts)

	a, err := r.AttachRoom(context.Background(), "r1")
	require.NoError(t, err)
	b, err := r.AttachRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRedisRoomRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	alice, _ := connectRedis(t, mr, "alice", fastOpts)
	bob, _ := connectRedis(t, mr, "bob", fastOpts)

	ac, err := alice.AttachRoom(context.Background(), "r1")
	require.NoError(t, err)
	bc, err := bob.AttachRoom(context.Background(), "r1")
	require.NoError(t, err)

	env, err := EncodeMessage(chat.Message{ID: "m1", RoomID: "r1", SenderID: "alice", Text: "hello"})
	require.NoError(t, err)
	require.NoError(t, ac.Publish(context.Background(), env))

	select {
	case got := <-bc.Events():
		assert.Equal(t, RoomMessagesChannel("r1"), got.Channel)
		assert.Equal(t, "alice", got.ClientID)
		msg, err := DecodeMessage(got)
		require.NoError(t, err)
		assert.Equal(t, "hello", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("bob did not receive the message")
	}
}

func TestRedisMalformedEnvelopeDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	r, _ := connectRedis(t, mr, "alice", fastOpts)
	ch, err := r.AttachRoom(context.Background(), "r1")
	require.NoError(t, err)

	rdb := newRedisClient(t, mr)
	require.NoError(t, rdb.Publish(context.Background(), RoomTypingChannel("r1"), "not json").Err())
	require.NoError(t, rdb.Publish(context.Background(), RoomTypingChannel("r1"), `{"name":"stop-typing","data":{"userId":"bob"}}`).Err())

	select {
	case got := <-ch.Events():
		assert.Equal(t, EventStopTyping, got.Name)
	case <-time.After(time.Second):
		t.Fatal("valid envelope not delivered")
	}
}

func TestRedisDetach(t *testing.T) {
	mr := miniredis.RunT(t)
	r, _ := connectRedis(t, mr, "alice", fastOpts)
	ch, err := r.AttachRoom(context.Background(), "r1")
	require.NoError(t, err)

	r.DetachRoom("r1")
	r.DetachRoom("r1")

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, ch.Publish(context.Background(), Envelope{Name: EventMessage}), ErrDetached)
}

func TestRedisUserEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	r, _ := connectRedis(t, mr, "alice", fastOpts)

	rdb := newRedisClient(t, mr)
	require.NoError(t, rdb.Publish(context.Background(), UserChannel("alice"), `{"name":"new-notification","data":{"id":"n1","kind":"like"}}`).Err())

	select {
	case got := <-r.UserEvents():
		assert.Equal(t, EventNewNotification, got.Name)
		var n chat.Notification
		require.NoError(t, got.Decode(&n))
		assert.Equal(t, "n1", n.ID)
	case <-time.After(time.Second):
		t.Fatal("user event not delivered")
	}
}

func TestRedisPresence(t *testing.T) {
	mr := miniredis.RunT(t)
	alice, _ := connectRedis(t, mr, "alice", fastOpts)
	bob, _ := connectRedis(t, mr, "bob", fastOpts)
	ctx := context.Background()

	enter, err := NewEnvelope(EventEnter, PresencePayload{UserID: "alice", Nickname: "Alice"})
	require.NoError(t, err)
	require.NoError(t, alice.PublishPresence(ctx, enter))

	select {
	case got := <-bob.PresenceEvents():
		assert.Equal(t, EventEnter, got.Name)
	case <-time.After(time.Second):
		t.Fatal("presence enter not delivered")
	}

	members, err := bob.PresenceMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chat.PresenceEntry{{UserID: "alice", Nickname: "Alice"}}, members)

	leave, _ := NewEnvelope(EventLeave, PresencePayload{UserID: "alice"})
	require.NoError(t, alice.PublishPresence(ctx, leave))
	members, err = bob.PresenceMembers(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRedisDropAndReconnect(t *testing.T) {
	mr := miniredis.RunT(t)
	r, states := connectRedis(t, mr, "alice", fastOpts)
	waitState(t, states, status.Connected)

	old, err := r.AttachRoom(context.Background(), "r1")
	require.NoError(t, err)

	mr.Close()
	waitState(t, states, status.Disconnected)
	assert.True(t, old.Stale())

	require.NoError(t, mr.Restart())
	waitState(t, states, status.Connected)

	fresh, err := r.AttachRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
}

func TestRedisFailsAfterMaxAttempts(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := fastOpts
	opts.MaxAttempts = 2
	_, states := connectRedis(t, mr, "alice", opts)
	waitState(t, states, status.Connected)

	mr.Close()
	waitState(t, states, status.Failed)
}

func TestRedisDisconnect(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(newRedisClient(t, mr), status.NewMachine(nil), nil, nil, nil, fastOpts)
	_, err := r.Connect(context.Background(), chat.Identity{UserID: "alice"})
	require.NoError(t, err)

	require.NoError(t, r.Disconnect())
	require.NoError(t, r.Disconnect())
	_, ok := <-r.UserEvents()
	assert.False(t, ok)
	assert.Equal(t, status.Idle, r.machine.Current())

	_, err = r.AttachRoom(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrClosed)
}
