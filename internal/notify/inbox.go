package notify

import (
	"sort"
	"sync"

	"github.com/matheus3301/roomsync/internal/chat"
)

const defaultInboxSize = 100

// Inbox stores received notifications newest first, deduplicated by id and
// bounded in size.
type Inbox struct {
	mu     sync.RWMutex
	max    int
	items  []chat.Notification
	ids    map[string]struct{}
	unseen int
}

func NewInbox(max int) *Inbox {
	if max <= 0 {
		max = defaultInboxSize
	}
	return &Inbox{max: max, ids: make(map[string]struct{})}
}

// Add stores n and reports whether it was new.
func (b *Inbox) Add(n chat.Notification) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n.ID == "" {
		return false
	}
	if _, ok := b.ids[n.ID]; ok {
		return false
	}
	b.ids[n.ID] = struct{}{}
	b.items = append(b.items, n)
	sort.SliceStable(b.items, func(i, j int) bool {
		return b.items[i].CreatedAt.After(b.items[j].CreatedAt)
	})
	for len(b.items) > b.max {
		last := b.items[len(b.items)-1]
		delete(b.ids, last.ID)
		b.items = b.items[:len(b.items)-1]
	}
	if b.unseen < len(b.items) {
		b.unseen++
	}
	return true
}

// List returns the stored notifications, newest first.
func (b *Inbox) List() []chat.Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]chat.Notification(nil), b.items...)
}

// Unseen returns how many notifications arrived since MarkSeen.
func (b *Inbox) Unseen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.unseen
}

func (b *Inbox) MarkSeen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unseen = 0
}
