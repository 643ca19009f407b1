// Package model holds the TUI's navigation state on top of the engine.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/engine"
	"github.com/matheus3301/roomsync/internal/roomlist"
	"github.com/matheus3301/roomsync/internal/status"
)

// Engine is the part of *engine.Engine the TUI drives.
type Engine interface {
	ConnState() status.State
	Self() chat.Identity
	Tree() []roomlist.CategoryView
	Messages(roomID string) []chat.Message
	Typing(roomID string) []chat.TypingEntry
	Online() []chat.PresenceEntry
	Notifications() []chat.Notification
	MarkNotificationsSeen()
	AttachRoom(ctx context.Context, roomID string) error
	DetachRoom(roomID string)
	SetActiveRoom(ctx context.Context, roomID string) error
	LoadOlder(ctx context.Context, roomID string) (int, error)
	SendMessage(ctx context.Context, roomID, text, replyTo string) (chat.Message, error)
	StartTyping(ctx context.Context) error
	StopTyping(ctx context.Context) error
	SetPresenceHidden(ctx context.Context, hidden bool)
	SetTypingHidden(hidden bool)
	Hidden() (presenceHidden, typingHidden bool)
}

// ErrNoActiveRoom is returned by room operations when no room is open.
var ErrNoActiveRoom = errors.New("no room open")

// ViewModel tracks which room is on screen and keeps exactly that room
// attached.
type ViewModel struct {
	eng Engine

	mu     sync.RWMutex
	active string
	filter string
}

func NewViewModel(eng Engine) *ViewModel {
	return &ViewModel{eng: eng}
}

// Engine returns the underlying engine for read accessors.
func (vm *ViewModel) Engine() Engine { return vm.eng }

// ActiveRoom returns the open room id, or "".
func (vm *ViewModel) ActiveRoom() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// OpenRoom attaches roomID, detaching the previously open room, and loads
// its first page when nothing is cached yet.
func (vm *ViewModel) OpenRoom(ctx context.Context, roomID string) error {
	vm.mu.Lock()
	prev := vm.active
	vm.active = roomID
	vm.mu.Unlock()

	if prev != "" && prev != roomID {
		vm.eng.DetachRoom(prev)
	}
	if err := vm.eng.AttachRoom(ctx, roomID); err != nil {
		return fmt.Errorf("open %s: %w", roomID, err)
	}
	if err := vm.eng.SetActiveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("open %s: %w", roomID, err)
	}
	if len(vm.eng.Messages(roomID)) == 0 {
		if _, err := vm.eng.LoadOlder(ctx, roomID); err != nil && !errors.Is(err, engine.ErrNoHistory) {
			return err
		}
	}
	return nil
}

// CloseRoom detaches the open room.
func (vm *ViewModel) CloseRoom(ctx context.Context) {
	vm.mu.Lock()
	prev := vm.active
	vm.active = ""
	vm.mu.Unlock()
	if prev == "" {
		return
	}
	_ = vm.eng.SetActiveRoom(ctx, "")
	vm.eng.DetachRoom(prev)
}

// Send posts text to the open room.
func (vm *ViewModel) Send(ctx context.Context, text string) (chat.Message, error) {
	roomID := vm.ActiveRoom()
	if roomID == "" {
		return chat.Message{}, ErrNoActiveRoom
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, nil
	}
	return vm.eng.SendMessage(ctx, roomID, text, "")
}

// Keystroke signals typing in the open room.
func (vm *ViewModel) Keystroke(ctx context.Context) {
	if vm.ActiveRoom() == "" {
		return
	}
	_ = vm.eng.StartTyping(ctx)
}

// LoadOlder fetches the page before the oldest loaded message.
func (vm *ViewModel) LoadOlder(ctx context.Context) (int, error) {
	roomID := vm.ActiveRoom()
	if roomID == "" {
		return 0, ErrNoActiveRoom
	}
	return vm.eng.LoadOlder(ctx, roomID)
}

// SetFilter narrows Rooms to names containing s, case-insensitively.
func (vm *ViewModel) SetFilter(s string) {
	vm.mu.Lock()
	vm.filter = strings.ToLower(strings.TrimSpace(s))
	vm.mu.Unlock()
}

func (vm *ViewModel) Filter() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.filter
}

// Tree returns the sidebar with the filter applied. Categories left empty
// by the filter are dropped.
func (vm *ViewModel) Tree() []roomlist.CategoryView {
	tree := vm.eng.Tree()
	f := vm.Filter()
	if f == "" {
		return tree
	}
	out := tree[:0]
	for _, cat := range tree {
		rooms := cat.Rooms[:0]
		for _, r := range cat.Rooms {
			if strings.Contains(strings.ToLower(RoomTitle(r.Room)), f) {
				rooms = append(rooms, r)
			}
		}
		if len(rooms) > 0 {
			cat.Rooms = rooms
			out = append(out, cat)
		}
	}
	return out
}

// Rooms flattens Tree in display order.
func (vm *ViewModel) Rooms() []roomlist.RoomView {
	var out []roomlist.RoomView
	for _, cat := range vm.Tree() {
		out = append(out, cat.Rooms...)
	}
	return out
}

// Room returns the sidebar row for roomID, ignoring the filter.
func (vm *ViewModel) Room(roomID string) (roomlist.RoomView, bool) {
	for _, cat := range vm.eng.Tree() {
		for _, r := range cat.Rooms {
			if r.Room.ID == roomID {
				return r, true
			}
		}
	}
	return roomlist.RoomView{}, false
}

// FindRoom resolves a room by id, exact title or unique title prefix.
func (vm *ViewModel) FindRoom(query string) (string, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "", fmt.Errorf("room name required")
	}
	var prefix []string
	for _, cat := range vm.eng.Tree() {
		for _, r := range cat.Rooms {
			title := strings.ToLower(RoomTitle(r.Room))
			switch {
			case r.Room.ID == query || title == q:
				return r.Room.ID, nil
			case strings.HasPrefix(title, q):
				prefix = append(prefix, r.Room.ID)
			}
		}
	}
	switch len(prefix) {
	case 0:
		return "", fmt.Errorf("no room matches %q", query)
	case 1:
		return prefix[0], nil
	default:
		return "", fmt.Errorf("%d rooms match %q", len(prefix), query)
	}
}

// TogglePresence flips the presence-hidden flag and returns the new value.
func (vm *ViewModel) TogglePresence(ctx context.Context) bool {
	hidden, _ := vm.eng.Hidden()
	vm.eng.SetPresenceHidden(ctx, !hidden)
	return !hidden
}

// ToggleTyping flips the typing-hidden flag and returns the new value.
func (vm *ViewModel) ToggleTyping() bool {
	_, hidden := vm.eng.Hidden()
	vm.eng.SetTypingHidden(!hidden)
	return !hidden
}

// RoomTitle is the display name of a room.
func RoomTitle(r chat.RoomSummary) string {
	if r.Name != "" {
		return r.Name
	}
	if r.PeerID != "" {
		return "@" + r.PeerID
	}
	return r.ID
}

// TypingLine renders the typing indicator for a room, or "".
func TypingLine(entries []chat.TypingEntry) string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Nickname
		if n == "" {
			n = e.UserID
		}
		names = append(names, n)
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2:
		return names[0] + " and " + names[1] + " are typing..."
	default:
		return fmt.Sprintf("%s and %d others are typing...", names[0], len(names)-1)
	}
}
