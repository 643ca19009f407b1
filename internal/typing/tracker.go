// Package typing tracks who is typing in each room. Every entry owns exactly
// one eviction timer; refreshing an entry cancels and re-arms it.
package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/clock"
)

// DefaultTimeout is how long a typing signal stays valid without a refresh.
const DefaultTimeout = 3 * time.Second

// Scope distinguishes the in-room tracker from the sidebar tracker in bus
// events.
type Scope string

const (
	ScopeRoom    Scope = "room"
	ScopeSidebar Scope = "sidebar"
)

// Change is the bus payload published when a room's typing set changes.
type Change struct {
	Scope  Scope
	RoomID string
}

// User is a typist as carried by typing events.
type User struct {
	ID       string
	Nickname string
}

type entry struct {
	nickname string
	expiry   time.Time
	timer    *clock.Timer
	gen      uint64
}

// Tracker holds typing entries keyed by room then user.
type Tracker struct {
	clock   clock.Clock
	timeout time.Duration
	selfID  string
	scope   Scope
	bus     *bus.Bus

	mu    sync.Mutex
	rooms map[string]map[string]*entry
}

// NewTracker creates a tracker that ignores signals from selfID.
func NewTracker(clk clock.Clock, timeout time.Duration, selfID string, scope Scope, b *bus.Bus) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		clock:   clk,
		timeout: timeout,
		selfID:  selfID,
		scope:   scope,
		bus:     b,
		rooms:   make(map[string]map[string]*entry),
	}
}

// Signal creates or refreshes the entry for user in room.
func (t *Tracker) Signal(roomID, userID, nickname string) {
	if userID == "" || userID == t.selfID {
		return
	}
	t.mu.Lock()
	t.refreshLocked(roomID, userID, nickname)
	t.mu.Unlock()
	t.changed(roomID)
}

func (t *Tracker) refreshLocked(roomID, userID, nickname string) {
	room := t.rooms[roomID]
	if room == nil {
		room = make(map[string]*entry)
		t.rooms[roomID] = room
	}
	e := room[userID]
	if e == nil {
		e = &entry{}
		room[userID] = e
	} else {
		e.timer.Stop()
	}
	e.gen++
	e.nickname = nickname
	e.expiry = t.clock.Now().Add(t.timeout)
	gen := e.gen
	e.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(roomID, userID, gen) })
}

// Stop removes the entry for user in room immediately.
func (t *Tracker) Stop(roomID, userID string) {
	t.mu.Lock()
	removed := t.removeLocked(roomID, userID)
	t.mu.Unlock()
	if removed {
		t.changed(roomID)
	}
}

// ApplySet reconciles room against a full set of typists: listed users are
// refreshed and everyone else is removed.
func (t *Tracker) ApplySet(roomID string, users []User) {
	keep := make(map[string]struct{}, len(users))
	t.mu.Lock()
	for _, u := range users {
		if u.ID == "" || u.ID == t.selfID {
			continue
		}
		keep[u.ID] = struct{}{}
		t.refreshLocked(roomID, u.ID, u.Nickname)
	}
	for userID := range t.rooms[roomID] {
		if _, ok := keep[userID]; !ok {
			t.removeLocked(roomID, userID)
		}
	}
	t.mu.Unlock()
	t.changed(roomID)
}

func (t *Tracker) expire(roomID, userID string, gen uint64) {
	t.mu.Lock()
	e := t.rooms[roomID][userID]
	if e == nil || e.gen != gen {
		t.mu.Unlock()
		return
	}
	t.removeLocked(roomID, userID)
	t.mu.Unlock()
	t.changed(roomID)
}

func (t *Tracker) removeLocked(roomID, userID string) bool {
	room := t.rooms[roomID]
	e := room[userID]
	if e == nil {
		return false
	}
	e.timer.Stop()
	delete(room, userID)
	if len(room) == 0 {
		delete(t.rooms, roomID)
	}
	return true
}

// DetachRoom cancels every timer of room and forgets its entries.
func (t *Tracker) DetachRoom(roomID string) {
	t.mu.Lock()
	room := t.rooms[roomID]
	for _, e := range room {
		e.timer.Stop()
	}
	delete(t.rooms, roomID)
	t.mu.Unlock()
	if len(room) > 0 {
		t.changed(roomID)
	}
}

// Close cancels every timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, room := range t.rooms {
		for _, e := range room {
			e.timer.Stop()
		}
	}
	t.rooms = make(map[string]map[string]*entry)
}

// Typing returns the unexpired entries of room ordered by nickname.
func (t *Tracker) Typing(roomID string) []chat.TypingEntry {
	now := t.clock.Now()
	t.mu.Lock()
	out := make([]chat.TypingEntry, 0, len(t.rooms[roomID]))
	for userID, e := range t.rooms[roomID] {
		if !e.expiry.After(now) {
			continue
		}
		out = append(out, chat.TypingEntry{RoomID: roomID, UserID: userID, Nickname: e.nickname, Expiry: e.expiry})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Nickname != out[j].Nickname {
			return out[i].Nickname < out[j].Nickname
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Active reports whether anyone is typing in room.
func (t *Tracker) Active(roomID string) bool {
	return len(t.Typing(roomID)) > 0
}

// PendingTimers returns the number of armed eviction timers.
func (t *Tracker) PendingTimers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, room := range t.rooms {
		n += len(room)
	}
	return n
}

func (t *Tracker) changed(roomID string) {
	t.bus.Publish(bus.Event{Kind: bus.TypingChanged, Payload: Change{Scope: t.scope, RoomID: roomID}})
}
