package roomlist

import "github.com/matheus3301/roomsync/internal/chat"

// UnreadSource supplies unread badges.
type UnreadSource interface {
	Count(roomID string) int
}

// PresenceSource supplies online flags for direct-room peers.
type PresenceSource interface {
	IsOnline(userID string) bool
}

// TypingSource supplies the sidebar typing indicator.
type TypingSource interface {
	Active(roomID string) bool
}

// RoomView is one sidebar row.
type RoomView struct {
	Room       chat.RoomSummary
	Member     chat.Member
	Unread     int
	PeerOnline bool
	Typing     bool
}

// CategoryView is one sidebar section.
type CategoryView struct {
	ID     string
	Title  string
	Unread int
	Rooms  []RoomView
}

// Tree returns the ordered, badge-annotated sidebar. Any source may be nil.
func (l *List) Tree(unread UnreadSource, presence PresenceSource, typing TypingSource) []CategoryView {
	l.mu.RLock()
	cats := l.categoriesLocked()
	views := make([]CategoryView, len(cats))
	for i, c := range cats {
		v := CategoryView{ID: c.ID, Title: c.Title, Rooms: make([]RoomView, 0, len(c.Items))}
		for _, roomID := range c.Items {
			e := l.rooms[roomID]
			room := e.room
			if room.LastMessage != nil {
				ref := *room.LastMessage
				room.LastMessage = &ref
			}
			v.Rooms = append(v.Rooms, RoomView{Room: room, Member: e.member})
		}
		views[i] = v
	}
	l.mu.RUnlock()

	// Badge sources take their own locks; query them outside ours.
	for i := range views {
		for j := range views[i].Rooms {
			rv := &views[i].Rooms[j]
			if unread != nil {
				rv.Unread = unread.Count(rv.Room.ID)
				views[i].Unread += rv.Unread
			}
			if presence != nil && rv.Room.Type == chat.RoomDirect && rv.Room.PeerID != "" {
				rv.PeerOnline = presence.IsOnline(rv.Room.PeerID)
			}
			if typing != nil {
				rv.Typing = typing.Active(rv.Room.ID)
			}
		}
	}
	return views
}
