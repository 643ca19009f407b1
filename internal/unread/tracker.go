// Package unread keeps per-room unread counters. A counter only grows while
// its room is not the active view and only drops by being cleared to zero.
package unread

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/roomsync/internal/bus"
)

// seenCapacity bounds how many message ids per room are remembered for
// duplicate suppression.
const seenCapacity = 256

// ReadReceipts is told when a room has been read up to a message.
type ReadReceipts interface {
	MarkRead(ctx context.Context, roomID, messageID string) error
}

// Persister stores counters so they survive a restart.
type Persister interface {
	SaveUnread(ctx context.Context, roomID string, count int) error
}

// Tracker holds the unread counters.
type Tracker struct {
	receipts ReadReceipts
	persist  Persister
	bus      *bus.Bus
	logger   *zap.Logger

	mu     sync.Mutex
	counts map[string]int
	latest map[string]readMark
	seen   map[string]*seenSet
	active string
}

func NewTracker(receipts ReadReceipts, persist Persister, b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		receipts: receipts,
		persist:  persist,
		bus:      b,
		logger:   logger,
		counts:   make(map[string]int),
		latest:   make(map[string]readMark),
		seen:     make(map[string]*seenSet),
	}
}

// Restore seeds counters loaded at startup.
func (t *Tracker) Restore(counts map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for roomID, n := range counts {
		if n > 0 && roomID != t.active {
			t.counts[roomID] = n
		}
	}
}

// OnInbound records an inbound message. The counter grows by one unless the
// room is active or the message id was already seen. It reports whether
// the counter changed.
func (t *Tracker) OnInbound(roomID, messageID string, isActive bool) bool {
	t.mu.Lock()
	if messageID != "" {
		s := t.seen[roomID]
		if s == nil {
			s = newSeenSet(seenCapacity)
			t.seen[roomID] = s
		}
		if !s.add(messageID) {
			t.mu.Unlock()
			return false
		}
	}
	if isActive || roomID == t.active {
		t.mu.Unlock()
		return false
	}
	t.counts[roomID]++
	n := t.counts[roomID]
	t.mu.Unlock()

	t.save(roomID, n)
	t.changed(roomID)
	return true
}

// readMark is the newest message known in a room.
type readMark struct {
	id string
	at time.Time
}

// newer orders marks by creation time, then id, so the result does not
// depend on the order messages arrived in.
func (m readMark) newer(than readMark) bool {
	if !m.at.Equal(than.at) {
		return m.at.After(than.at)
	}
	return m.id > than.id
}

// NoteLatest offers messageID, created at createdAt, as the room's read
// position. It is kept only if it is newer than the current one; Clear
// reports it to the read-receipt collaborator.
func (t *Tracker) NoteLatest(roomID, messageID string, createdAt time.Time) {
	if messageID == "" {
		return
	}
	mark := readMark{id: messageID, at: createdAt}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.latest[roomID]; !ok || mark.newer(cur) {
		t.latest[roomID] = mark
	}
}

// Clear zeroes the room's counter and reports the read position to the
// read-receipt collaborator.
func (t *Tracker) Clear(ctx context.Context, roomID string) error {
	t.mu.Lock()
	prev := t.counts[roomID]
	delete(t.counts, roomID)
	latest := t.latest[roomID].id
	t.mu.Unlock()

	if prev > 0 {
		t.save(roomID, 0)
		t.changed(roomID)
	}
	if t.receipts == nil || latest == "" {
		return nil
	}
	if err := t.receipts.MarkRead(ctx, roomID, latest); err != nil {
		t.logger.Warn("mark read failed", zap.String("room_id", roomID), zap.Error(err))
		return err
	}
	return nil
}

// SetActive makes roomID the active view and clears its counter. An empty
// roomID means no room is active.
func (t *Tracker) SetActive(ctx context.Context, roomID string) error {
	t.mu.Lock()
	t.active = roomID
	t.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return t.Clear(ctx, roomID)
}

func (t *Tracker) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Tracker) Count(roomID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[roomID]
}

// Counts returns a copy of every non-zero counter.
func (t *Tracker) Counts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// Forget drops the dedupe history of a room. The counter is kept.
func (t *Tracker) Forget(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, roomID)
}

func (t *Tracker) save(roomID string, n int) {
	if t.persist == nil {
		return
	}
	if err := t.persist.SaveUnread(context.Background(), roomID, n); err != nil {
		t.logger.Warn("persist unread counter", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (t *Tracker) changed(roomID string) {
	t.bus.Publish(bus.Event{Kind: bus.UnreadChanged, Payload: roomID})
}
