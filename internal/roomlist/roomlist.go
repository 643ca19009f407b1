// Package roomlist maintains the sidebar tree: categories in their persisted
// order, each holding rooms pinned-first then by latest activity.
package roomlist

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
)

var (
	ErrUnknownRoom     = errors.New("unknown room")
	ErrUnknownCategory = errors.New("unknown category")
	ErrFixedCategory   = errors.New("fixed category cannot be removed")
	ErrCategoryExists  = errors.New("category already exists")
	ErrInvalidOrder    = errors.New("reorder must list every category exactly once")
)

// Persister stores categories, including the rooms of user categories.
type Persister interface {
	SaveCategories(ctx context.Context, cats []chat.Category) error
}

type entry struct {
	room     chat.RoomSummary
	member   chat.Member
	category string
}

// List is the room list orchestrator.
type List struct {
	persist Persister
	bus     *bus.Bus
	logger  *zap.Logger

	mu         sync.RWMutex
	rooms      map[string]*entry
	categories map[string]*chat.Category
	assigned   map[string]string
}

func New(persist Persister, b *bus.Bus, logger *zap.Logger) *List {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &List{
		persist: persist,
		bus:     b,
		logger:  logger,
		rooms:   make(map[string]*entry),
		categories: map[string]*chat.Category{
			chat.CategoryDirect: {ID: chat.CategoryDirect, Title: "Direct messages", SortIndex: 0},
			chat.CategoryGroups: {ID: chat.CategoryGroups, Title: "Groups", SortIndex: 1},
		},
		assigned: make(map[string]string),
	}
}

// Restore loads persisted categories. Rooms listed in user categories are
// placed there when they are added.
func (l *List) Restore(cats []chat.Category) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range cats {
		cur, ok := l.categories[c.ID]
		if !ok {
			cur = &chat.Category{ID: c.ID}
			l.categories[c.ID] = cur
		}
		if c.Title != "" {
			cur.Title = c.Title
		}
		cur.SortIndex = c.SortIndex
		if chat.IsFixedCategory(c.ID) {
			continue
		}
		for _, roomID := range c.Items {
			l.assigned[roomID] = c.ID
		}
	}
}

// AddRoom inserts a room, classifying it by the member's category, a
// restored assignment, or its room type. An existing room is patched in
// place and keeps its category.
func (l *List) AddRoom(room chat.RoomSummary, member chat.Member) {
	l.mu.Lock()
	if e, ok := l.rooms[room.ID]; ok {
		e.room.Name, e.room.Avatar = room.Name, room.Avatar
		if room.LastMessage != nil && newer(room.LastMessage, e.room.LastMessage) {
			ref := *room.LastMessage
			e.room.LastMessage = &ref
		}
		member.CategoryID = e.member.CategoryID
		e.member = member
		l.sortLocked(e.category)
		l.mu.Unlock()
		l.changed(room.ID)
		return
	}

	cat := l.classifyLocked(room, member)
	if chat.IsFixedCategory(cat) {
		member.CategoryID = ""
	} else {
		member.CategoryID = cat
	}
	member.RoomID = room.ID
	if room.LastMessage != nil {
		ref := *room.LastMessage
		room.LastMessage = &ref
	}
	l.rooms[room.ID] = &entry{room: room, member: member, category: cat}
	c := l.categories[cat]
	c.Items = append(c.Items, room.ID)
	l.sortLocked(cat)
	l.mu.Unlock()
	l.changed(room.ID)
}

func (l *List) classifyLocked(room chat.RoomSummary, member chat.Member) string {
	if id := member.CategoryID; id != "" {
		if _, ok := l.categories[id]; ok {
			return id
		}
	}
	if id, ok := l.assigned[room.ID]; ok {
		if _, exists := l.categories[id]; exists {
			return id
		}
	}
	return typeCategory(room.Type)
}

func typeCategory(t chat.RoomType) string {
	if t == chat.RoomDirect {
		return chat.CategoryDirect
	}
	return chat.CategoryGroups
}

func newer(a, b *chat.MessageRef) bool {
	if b == nil {
		return true
	}
	if a.ID == b.ID {
		return a.Text != b.Text
	}
	return !a.CreatedAt.Before(b.CreatedAt)
}

// UpdateLastMessage records ref as the room's last message unless a newer
// one is already known.
func (l *List) UpdateLastMessage(roomID string, ref chat.MessageRef) bool {
	l.mu.Lock()
	e, ok := l.rooms[roomID]
	if !ok || !newer(&ref, e.room.LastMessage) {
		l.mu.Unlock()
		return false
	}
	e.room.LastMessage = &ref
	l.sortLocked(e.category)
	l.mu.Unlock()
	l.changed(roomID)
	return true
}

func (l *List) SetPinned(roomID string, pinned bool) error {
	return l.patch(roomID, func(e *entry) { e.member.Pinned = pinned })
}

// UpdateMember patches the local member's role and notification setting.
// An empty notify leaves the setting unchanged.
func (l *List) UpdateMember(roomID string, role chat.Role, notify chat.NotifySetting) error {
	return l.patch(roomID, func(e *entry) {
		if role != "" {
			e.member.Role = role
		}
		if notify != "" {
			e.member.Notify = notify
		}
	})
}

// UpdateRoomInfo patches name and avatar. Empty values are left unchanged.
func (l *List) UpdateRoomInfo(roomID, name, avatar string) error {
	return l.patch(roomID, func(e *entry) {
		if name != "" {
			e.room.Name = name
		}
		if avatar != "" {
			e.room.Avatar = avatar
		}
	})
}

func (l *List) patch(roomID string, fn func(*entry)) error {
	l.mu.Lock()
	e, ok := l.rooms[roomID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", roomID, ErrUnknownRoom)
	}
	fn(e)
	l.sortLocked(e.category)
	l.mu.Unlock()
	l.changed(roomID)
	return nil
}

// sortLocked orders a category's rooms pinned first, then by activity
// descending. The sort is stable so ties keep their previous order.
func (l *List) sortLocked(catID string) {
	c := l.categories[catID]
	if c == nil {
		return
	}
	slices.SortStableFunc(c.Items, func(x, y string) int {
		a, b := l.rooms[x], l.rooms[y]
		if a.member.Pinned != b.member.Pinned {
			if a.member.Pinned {
				return -1
			}
			return 1
		}
		return b.room.Activity().Compare(a.room.Activity())
	})
}

// AddCategory creates a user category at the end of the list.
func (l *List) AddCategory(ctx context.Context, id, title string) error {
	l.mu.Lock()
	if _, ok := l.categories[id]; ok || id == "" {
		l.mu.Unlock()
		return fmt.Errorf("%q: %w", id, ErrCategoryExists)
	}
	next := 0
	for _, c := range l.categories {
		if c.SortIndex >= next {
			next = c.SortIndex + 1
		}
	}
	l.categories[id] = &chat.Category{ID: id, Title: title, SortIndex: next}
	l.mu.Unlock()
	l.save(ctx)
	l.changed("")
	return nil
}

// RemoveCategory deletes a user category. Its rooms fall back to the fixed
// category of their room type.
func (l *List) RemoveCategory(ctx context.Context, id string) error {
	if chat.IsFixedCategory(id) {
		return ErrFixedCategory
	}
	l.mu.Lock()
	c, ok := l.categories[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrUnknownCategory)
	}
	delete(l.categories, id)
	touched := map[string]bool{}
	for _, roomID := range c.Items {
		e := l.rooms[roomID]
		e.category = typeCategory(e.room.Type)
		e.member.CategoryID = ""
		dst := l.categories[e.category]
		dst.Items = append(dst.Items, roomID)
		touched[e.category] = true
	}
	for roomID, cat := range l.assigned {
		if cat == id {
			delete(l.assigned, roomID)
		}
	}
	for cat := range touched {
		l.sortLocked(cat)
	}
	l.mu.Unlock()
	l.save(ctx)
	l.changed("")
	return nil
}

// MoveRoom reassigns a room to another category.
func (l *List) MoveRoom(ctx context.Context, roomID, categoryID string) error {
	l.mu.Lock()
	e, ok := l.rooms[roomID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", roomID, ErrUnknownRoom)
	}
	dst, ok := l.categories[categoryID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", categoryID, ErrUnknownCategory)
	}
	if e.category == categoryID {
		l.mu.Unlock()
		return nil
	}
	src := l.categories[e.category]
	src.Items = remove(src.Items, roomID)
	dst.Items = append(dst.Items, roomID)
	e.category = categoryID
	if chat.IsFixedCategory(categoryID) {
		e.member.CategoryID = ""
		delete(l.assigned, roomID)
	} else {
		e.member.CategoryID = categoryID
		l.assigned[roomID] = categoryID
	}
	l.sortLocked(categoryID)
	l.mu.Unlock()
	l.save(ctx)
	l.changed(roomID)
	return nil
}

func remove(items []string, id string) []string {
	for i, v := range items {
		if v == id {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}

// ReorderCategories sets the category order to ids, which must name every
// category exactly once.
func (l *List) ReorderCategories(ctx context.Context, ids []string) error {
	l.mu.Lock()
	if len(ids) != len(l.categories) {
		l.mu.Unlock()
		return ErrInvalidOrder
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := l.categories[id]; !ok || seen[id] {
			l.mu.Unlock()
			return ErrInvalidOrder
		}
		seen[id] = true
	}
	for i, id := range ids {
		l.categories[id].SortIndex = i
	}
	l.mu.Unlock()
	l.save(ctx)
	l.changed("")
	return nil
}

// Categories returns the categories in display order.
func (l *List) Categories() []chat.Category {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.categoriesLocked()
}

func (l *List) categoriesLocked() []chat.Category {
	out := make([]chat.Category, 0, len(l.categories))
	for _, c := range l.categories {
		cp := *c
		cp.Items = append([]string(nil), c.Items...)
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b chat.Category) int {
		return cmp.Or(cmp.Compare(a.SortIndex, b.SortIndex), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (l *List) Room(roomID string) (chat.RoomSummary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.rooms[roomID]
	if !ok {
		return chat.RoomSummary{}, false
	}
	return e.room, true
}

// Member returns the local user's membership of the room.
func (l *List) Member(roomID string) (chat.Member, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.rooms[roomID]
	if !ok {
		return chat.Member{}, false
	}
	return e.member, true
}

// RoomIDs returns every known room id.
func (l *List) RoomIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.rooms))
	for id := range l.rooms {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (l *List) save(ctx context.Context) {
	if l.persist == nil {
		return
	}
	l.mu.RLock()
	cats := l.categoriesLocked()
	l.mu.RUnlock()
	if err := l.persist.SaveCategories(ctx, cats); err != nil {
		l.logger.Warn("persist categories", zap.Error(err))
	}
}

func (l *List) changed(roomID string) {
	l.bus.Publish(bus.Event{Kind: bus.RoomUpdated, Payload: roomID})
}
