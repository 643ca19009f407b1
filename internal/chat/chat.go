// Package chat defines the records the sync engine reconciles: rooms,
// categories, members, messages, typing and presence entries.
package chat

import "time"

// RoomType classifies a room for the fixed sidebar categories.
type RoomType string

const (
	RoomDirect  RoomType = "direct"
	RoomGroup   RoomType = "group"
	RoomChannel RoomType = "channel"
)

// Role is a member's room-scoped role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

// NotifySetting is a member's per-room notification preference.
type NotifySetting string

const (
	NotifyAll      NotifySetting = "all"
	NotifyMentions NotifySetting = "mentions"
	NotifyMute     NotifySetting = "mute"
)

// Identity is the local user the engine runs as.
type Identity struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
}

// MessageRef is the denormalized last-message pointer kept on a room.
type MessageRef struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoomSummary is the sidebar view of a room.
type RoomSummary struct {
	ID          string      `json:"id"`
	Type        RoomType    `json:"type"`
	Name        string      `json:"name"`
	Avatar      string      `json:"avatar,omitempty"`
	PeerID      string      `json:"peerId,omitempty"`
	LastMessage *MessageRef `json:"lastMessage,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Activity returns the time used for recency ordering: the last message
// time when there is one, else the creation time.
func (r RoomSummary) Activity() time.Time {
	if r.LastMessage != nil && !r.LastMessage.CreatedAt.IsZero() {
		return r.LastMessage.CreatedAt
	}
	return r.CreatedAt
}

// Fixed category ids. They always exist and cannot be removed.
const (
	CategoryDirect = "direct"
	CategoryGroups = "groups"
)

// IsFixedCategory reports whether id names one of the built-in categories.
func IsFixedCategory(id string) bool {
	return id == CategoryDirect || id == CategoryGroups
}

// Category is an ordered group of rooms in the sidebar.
type Category struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	SortIndex int      `json:"sortIndex"`
	Items     []string `json:"items"`
}

// Member is a user's record within one room.
type Member struct {
	UserID     string        `json:"userId"`
	RoomID     string        `json:"roomId"`
	Nickname   string        `json:"nickname,omitempty"`
	Role       Role          `json:"role"`
	Notify     NotifySetting `json:"notify"`
	Pinned     bool          `json:"pinned"`
	CategoryID string        `json:"categoryId,omitempty"`
}

// Attachment is a file reference carried by a message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	MIME string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is a chat message. A pending message carries its temporary id
// in both ID and TempID until the confirmed record replaces it.
type Message struct {
	ID          string       `json:"id"`
	TempID      string       `json:"tempId,omitempty"`
	RoomID      string       `json:"roomId"`
	SenderID    string       `json:"senderId"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
	DeletedAt   *time.Time   `json:"deletedAt,omitempty"`
}

// Pending reports whether m is an unacknowledged optimistic message.
func (m Message) Pending() bool {
	return m.TempID != "" && m.ID == m.TempID
}

// Deleted reports whether m is a tombstone.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// Ref returns the last-message reference for m.
func (m Message) Ref() MessageRef {
	return MessageRef{ID: m.ID, SenderID: m.SenderID, Text: m.Text, CreatedAt: m.CreatedAt}
}

// Clone returns a copy of m that shares no slices or pointers with it.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		m.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		m.DeletedAt = &t
	}
	return m
}

// TypingEntry is one user typing in one room.
type TypingEntry struct {
	RoomID   string
	UserID   string
	Nickname string
	Expiry   time.Time
}

// PresenceEntry is an online user.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
}

// Notification is a server-side notification record (invite, like, comment).
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body,omitempty"`
	RoomID    string    `json:"roomId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
