package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
)

// Event names carried in Envelope.Name.
const (
	EventMessage           = "message"
	EventMessageEdited     = "message.edited"
	EventMessageDeleted    = "message.deleted"
	EventTyping            = "typing"
	EventStopTyping        = "stop-typing"
	EventRoomCreated       = "room-created"
	EventNewNotification   = "new-notification"
	EventChatMessage       = "chat-message"
	EventMemberRoleUpdated = "member-role-updated"
	EventRoomInfoUpdated   = "room-info-updated"
	EventEnter             = "enter"
	EventLeave             = "leave"
	EventUpdate            = "update"
)

// ErrMalformed marks a payload that could not be decoded.
var ErrMalformed = errors.New("malformed payload")

// Envelope is the JSON frame published on every channel.
type Envelope struct {
	Name     string          `json:"name"`
	ClientID string          `json:"clientId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`

	// Channel is the channel the envelope arrived on. Not serialized.
	Channel string `json:"-"`
}

// NewEnvelope encodes data as the envelope payload.
func NewEnvelope(name string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Envelope{Name: name, Data: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty data: %w", e.Name, ErrMalformed)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %v: %w", e.Name, err, ErrMalformed)
	}
	return nil
}

func parseEnvelope(channel string, payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("envelope on %s: %v: %w", channel, err, ErrMalformed)
	}
	if env.Name == "" {
		return Envelope{}, fmt.Errorf("envelope on %s: missing name: %w", channel, ErrMalformed)
	}
	env.Channel = channel
	return env, nil
}

// MessagePayload is the data of a room "message" event. Metadata holds the
// serialized canonical message.
type MessagePayload struct {
	Text     string `json:"text"`
	Metadata string `json:"metadata"`
}

// EncodeMessage builds a "message" envelope for msg.
func EncodeMessage(msg chat.Message) (Envelope, error) {
	meta, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode message metadata: %w", err)
	}
	return NewEnvelope(EventMessage, MessagePayload{Text: msg.Text, Metadata: string(meta)})
}

// DecodeMessage extracts the canonical message from a "message" envelope.
func DecodeMessage(env Envelope) (chat.Message, error) {
	var p MessagePayload
	if err := env.Decode(&p); err != nil {
		return chat.Message{}, err
	}
	if p.Metadata == "" {
		return chat.Message{}, fmt.Errorf("message: missing metadata: %w", ErrMalformed)
	}
	var msg chat.Message
	if err := json.Unmarshal([]byte(p.Metadata), &msg); err != nil {
		return chat.Message{}, fmt.Errorf("message metadata: %v: %w", err, ErrMalformed)
	}
	if err := validateMessage(msg); err != nil {
		return chat.Message{}, err
	}
	if msg.Text == "" {
		msg.Text = p.Text
	}
	return msg, nil
}

func validateMessage(msg chat.Message) error {
	if msg.ID == "" || msg.RoomID == "" {
		return fmt.Errorf("message: missing id or roomId: %w", ErrMalformed)
	}
	return nil
}

// TypingUser identifies a typist in typing payloads.
type TypingUser struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// TypingSetPayload is the set-form "typing" event on the message channel.
type TypingSetPayload struct {
	CurrentlyTyping []TypingUser `json:"currentlyTyping"`
}

// PresencePayload is the data of presence enter, update and leave events.
type PresencePayload struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
}

func (p PresencePayload) Entry() chat.PresenceEntry {
	return chat.PresenceEntry{UserID: p.UserID, Nickname: p.Nickname, Avatar: p.Avatar}
}

type MessageEditedPayload struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	EditedAt time.Time `json:"editedAt"`
}

type MessageDeletedPayload struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deletedAt"`
}

// RoomCreatedPayload announces a room the user was added to. Members is the
// fallback list used when the directory cannot be reached.
type RoomCreatedPayload struct {
	Room    chat.RoomSummary `json:"room"`
	Members []chat.Member    `json:"members"`
}

// ChatMessagePayload is the cross-room message signal on the user channel.
type ChatMessagePayload struct {
	RoomID  string       `json:"roomId"`
	Message chat.Message `json:"message"`
}

type MemberRoleUpdatedPayload struct {
	RoomID string             `json:"roomId"`
	UserID string             `json:"userId"`
	Role   chat.Role          `json:"role"`
	Notify chat.NotifySetting `json:"notify,omitempty"`
}

type RoomInfoUpdatedPayload struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}
