package store

import "github.com/matheus3301/roomsync/internal/chat"

// RoomRecord is a cached sidebar row.
type RoomRecord struct {
	Room   chat.RoomSummary
	Member chat.Member
}

// OutboxStatus is the lifecycle state of an outbox entry.
type OutboxStatus string

const (
	OutboxQueued  OutboxStatus = "queued"
	OutboxSending OutboxStatus = "sending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxEntry is one outgoing message.
type OutboxEntry struct {
	ID           int64
	TempID       string
	RoomID       string
	Body         string
	Status       OutboxStatus
	ErrorMessage string
	ServerMsgID  string
	CreatedAt    int64
}
