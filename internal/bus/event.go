package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds emitted by the engine. Subscribers filter by prefix, so
// "room." receives every room-scoped change.
const (
	ConnectionStateChanged = "connection.state_changed"

	RoomUpdated     = "room.updated"
	RoomInfoUpdated = "room.info_updated"
	MemberUpdated   = "room.member_updated"

	MessageUpserted   = "message.upserted"
	MessageSendAck    = "message.send_ack"
	MessageSendFailed = "message.send_failed"

	TypingChanged   = "typing.changed"
	PresenceChanged = "presence.changed"
	UnreadChanged   = "unread.changed"

	Toast                = "notify.toast"
	NotificationReceived = "notify.received"
)

// RoomRef is the payload of room-, message-, typing- and unread-scoped events.
type RoomRef struct {
	RoomID    string
	MessageID string
}
