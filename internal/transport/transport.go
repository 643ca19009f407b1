// Package transport connects the engine to the realtime pub/sub backend.
//
// Each room has two channels: room:<id>:messages carries message, edit,
// delete and set-form typing events; room:<id>:typing carries the discrete
// typing/stop-typing signals. Each user has a notification channel and all
// users share one presence channel. Room channels are invalidated by a
// connection drop; the adapter does not replay missed events and callers
// attach again after reconnect.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/status"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrDetached     = errors.New("transport: room channel detached")
	ErrClosed       = errors.New("transport: closed")
)

const PresenceChannel = "presence"

// PresenceMembersKey is the Redis hash holding the full presence set.
const PresenceMembersKey = "presence:members"

func RoomMessagesChannel(roomID string) string { return "room:" + roomID + ":messages" }

func RoomTypingChannel(roomID string) string { return "room:" + roomID + ":typing" }

func UserChannel(userID string) string { return "user:" + userID + ":notifications" }

// Transport is the realtime connection used by the engine.
type Transport interface {
	// Connect establishes the connection for identity and returns the
	// connection state stream, starting with the current state.
	Connect(ctx context.Context, identity chat.Identity) (<-chan status.State, error)
	// AttachRoom subscribes to a room's channels. Attaching an attached
	// room returns the existing handle.
	AttachRoom(ctx context.Context, roomID string) (*RoomChannel, error)
	// DetachRoom releases a room's channels. Safe to call redundantly.
	DetachRoom(roomID string)
	// UserEvents delivers the local user's notification channel.
	UserEvents() <-chan Envelope
	// PresenceEvents delivers the shared presence channel.
	PresenceEvents() <-chan Envelope
	// PublishPresence records and broadcasts an enter, update or leave.
	PublishPresence(ctx context.Context, env Envelope) error
	// PresenceMembers returns the complete current presence set.
	PresenceMembers(ctx context.Context) ([]chat.PresenceEntry, error)
	Disconnect() error
}

type publishFunc func(ctx context.Context, channel string, env Envelope) error

// RoomChannel is the handle for one attached room. It becomes stale when the
// room is detached or the connection drops: Events is closed and Publish
// returns ErrDetached.
type RoomChannel struct {
	roomID   string
	clientID string
	events   chan Envelope
	publish  publishFunc
	release  func()
	closed   atomic.Bool
	once     sync.Once
}

func newRoomChannel(roomID, clientID string, buf int, publish publishFunc) *RoomChannel {
	return &RoomChannel{
		roomID:   roomID,
		clientID: clientID,
		events:   make(chan Envelope, buf),
		publish:  publish,
	}
}

func (c *RoomChannel) RoomID() string { return c.roomID }

// Events delivers envelopes from both room channels. Envelope.Channel tells
// them apart.
func (c *RoomChannel) Events() <-chan Envelope { return c.events }

// Stale reports whether the handle was invalidated.
func (c *RoomChannel) Stale() bool { return c.closed.Load() }

// Publish sends env on the room's message channel.
func (c *RoomChannel) Publish(ctx context.Context, env Envelope) error {
	return c.send(ctx, RoomMessagesChannel(c.roomID), env)
}

// PublishTyping sends env on the room's raw typing channel.
func (c *RoomChannel) PublishTyping(ctx context.Context, env Envelope) error {
	return c.send(ctx, RoomTypingChannel(c.roomID), env)
}

func (c *RoomChannel) send(ctx context.Context, channel string, env Envelope) error {
	if c.closed.Load() {
		return ErrDetached
	}
	if env.ClientID == "" {
		env.ClientID = c.clientID
	}
	return c.publish(ctx, channel, env)
}

func (c *RoomChannel) close() {
	c.once.Do(func() {
		c.closed.Store(true)
		if c.release != nil {
			c.release()
		}
	})
}
