package store

import (
	"context"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
)

// UpsertRoom caches a room and the local user's membership of it.
func (db *DB) UpsertRoom(ctx context.Context, room chat.RoomSummary, member chat.Member) error {
	var lastID, lastSender, lastText string
	var lastAt int64
	if lm := room.LastMessage; lm != nil {
		lastID, lastSender, lastText, lastAt = lm.ID, lm.SenderID, lm.Text, lm.CreatedAt.UnixMilli()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO rooms (id, type, name, avatar, peer_id, created_at,
			last_message_id, last_message_sender, last_message_text, last_message_at,
			role, notify, pinned, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			avatar = excluded.avatar,
			peer_id = excluded.peer_id,
			last_message_id = excluded.last_message_id,
			last_message_sender = excluded.last_message_sender,
			last_message_text = excluded.last_message_text,
			last_message_at = excluded.last_message_at,
			role = excluded.role,
			notify = excluded.notify,
			pinned = excluded.pinned,
			updated_at = excluded.updated_at`,
		room.ID, string(room.Type), room.Name, room.Avatar, room.PeerID, room.CreatedAt.UnixMilli(),
		lastID, lastSender, lastText, lastAt,
		string(member.Role), string(member.Notify), member.Pinned, time.Now().UnixMilli())
	return err
}

// ListRooms returns every cached room ordered by latest activity.
func (db *DB) ListRooms(ctx context.Context) ([]RoomRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, type, name, avatar, peer_id, created_at,
			last_message_id, last_message_sender, last_message_text, last_message_at,
			role, notify, pinned
		FROM rooms
		ORDER BY MAX(last_message_at, created_at) DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RoomRecord
	for rows.Next() {
		var r RoomRecord
		var typ, role, notify string
		var lastID, lastSender, lastText string
		var createdAt, lastAt int64
		if err := rows.Scan(&r.Room.ID, &typ, &r.Room.Name, &r.Room.Avatar, &r.Room.PeerID, &createdAt,
			&lastID, &lastSender, &lastText, &lastAt,
			&role, &notify, &r.Member.Pinned); err != nil {
			return nil, err
		}
		r.Room.Type = chat.RoomType(typ)
		r.Room.CreatedAt = time.UnixMilli(createdAt).UTC()
		if lastID != "" {
			r.Room.LastMessage = &chat.MessageRef{
				ID:        lastID,
				SenderID:  lastSender,
				Text:      lastText,
				CreatedAt: time.UnixMilli(lastAt).UTC(),
			}
		}
		r.Member.RoomID = r.Room.ID
		r.Member.Role = chat.Role(role)
		r.Member.Notify = chat.NotifySetting(notify)
		out = append(out, r)
	}
	return out, rows.Err()
}
