// Package presence tracks which users are online through the shared
// presence channel. Presence is best-effort: a missing entry does not prove
// a user is offline.
package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/privacy"
	"github.com/matheus3301/roomsync/internal/transport"
)

// Publisher is the transport surface the tracker needs.
type Publisher interface {
	PublishPresence(ctx context.Context, env transport.Envelope) error
	PresenceMembers(ctx context.Context) ([]chat.PresenceEntry, error)
}

// Tracker holds the local presence set.
type Tracker struct {
	pub    Publisher
	guard  *privacy.Guard
	self   chat.Identity
	bus    *bus.Bus
	logger *zap.Logger
	group  singleflight.Group

	mu        sync.RWMutex
	entries   map[string]chat.PresenceEntry
	needsSync bool
}

func NewTracker(pub Publisher, guard *privacy.Guard, self chat.Identity, b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		pub:     pub,
		guard:   guard,
		self:    self,
		bus:     b,
		logger:  logger,
		entries: make(map[string]chat.PresenceEntry),
	}
}

// Enter announces the local user. It does nothing while presence is hidden.
func (t *Tracker) Enter(ctx context.Context) error {
	_, err := t.guard.Do(privacy.Presence, func() error {
		return t.publish(ctx, transport.EventEnter)
	})
	if err != nil {
		t.logger.Warn("presence enter failed", zap.Error(err))
	}
	return err
}

// Leave withdraws the local user. Leaving is always allowed.
func (t *Tracker) Leave(ctx context.Context) error {
	err := t.publish(ctx, transport.EventLeave)
	if err != nil {
		t.logger.Warn("presence leave failed", zap.Error(err))
	}
	self := t.identity()
	if t.remove(self.UserID) {
		t.changed(self.UserID)
	}
	return err
}

// Update republishes the local user's record, for nickname or avatar changes.
func (t *Tracker) Update(ctx context.Context, self chat.Identity) error {
	t.mu.Lock()
	t.self = self
	t.mu.Unlock()
	_, err := t.guard.Do(privacy.Presence, func() error {
		return t.publish(ctx, transport.EventUpdate)
	})
	if err != nil {
		t.logger.Warn("presence update failed", zap.Error(err))
	}
	return err
}

func (t *Tracker) identity() chat.Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.self
}

func (t *Tracker) publish(ctx context.Context, name string) error {
	self := t.identity()
	env, err := transport.NewEnvelope(name, transport.PresencePayload{
		UserID:   self.UserID,
		Nickname: self.Nickname,
		Avatar:   self.Avatar,
	})
	if err != nil {
		return err
	}
	return t.pub.PublishPresence(ctx, env)
}

// SyncFull replaces the local set with the transport's complete presence
// set. Concurrent calls share one fetch.
func (t *Tracker) SyncFull(ctx context.Context) error {
	_, err, _ := t.group.Do("sync", func() (any, error) {
		members, err := t.pub.PresenceMembers(ctx)
		if err != nil {
			return nil, err
		}
		next := make(map[string]chat.PresenceEntry, len(members))
		for _, m := range members {
			next[m.UserID] = m
		}
		t.mu.Lock()
		t.entries = next
		t.needsSync = false
		t.mu.Unlock()
		t.changed("")
		return nil, nil
	})
	if err != nil {
		t.logger.Warn("presence sync failed", zap.Error(err))
		return fmt.Errorf("presence sync: %w", err)
	}
	return nil
}

// Apply merges one enter, update or leave event. Unknown event names are
// ignored. Applying the same event twice leaves the set unchanged.
func (t *Tracker) Apply(env transport.Envelope) error {
	var p transport.PresencePayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if p.UserID == "" {
		return fmt.Errorf("presence %s: missing userId: %w", env.Name, transport.ErrMalformed)
	}

	var changed bool
	switch env.Name {
	case transport.EventEnter, transport.EventUpdate:
		changed = t.put(p.Entry())
	case transport.EventLeave:
		changed = t.remove(p.UserID)
	default:
		return nil
	}
	if changed {
		t.changed(p.UserID)
	}
	return nil
}

// SetHidden toggles the presence opt-out. Hiding leaves; unhiding enters
// again and resyncs, deferring the resync to the next reconnect if it fails.
func (t *Tracker) SetHidden(ctx context.Context, hidden bool) {
	prev := t.guard.SetHidden(privacy.Presence, hidden)
	if prev == hidden {
		return
	}
	if hidden {
		_ = t.Leave(ctx)
		return
	}
	t.mu.Lock()
	t.needsSync = true
	t.mu.Unlock()
	if err := t.Enter(ctx); err != nil {
		return
	}
	_ = t.SyncFull(ctx)
}

// NeedsSync reports whether a full sync is owed since presence was unhidden.
func (t *Tracker) NeedsSync() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.needsSync
}

// Online returns the online users ordered by nickname.
func (t *Tracker) Online() []chat.PresenceEntry {
	t.mu.RLock()
	out := make([]chat.PresenceEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Nickname != out[j].Nickname {
			return out[i].Nickname < out[j].Nickname
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[userID]
	return ok
}

func (t *Tracker) put(e chat.PresenceEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.entries[e.UserID]; ok && cur == e {
		return false
	}
	t.entries[e.UserID] = e
	return true
}

func (t *Tracker) remove(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[userID]; !ok {
		return false
	}
	delete(t.entries, userID)
	return true
}

func (t *Tracker) changed(userID string) {
	t.bus.Publish(bus.Event{Kind: bus.PresenceChanged, Payload: userID})
}
