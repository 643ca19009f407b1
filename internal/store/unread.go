package store

import (
	"context"
	"time"
)

// SaveUnread stores a room's unread counter. A zero counter is removed.
func (db *DB) SaveUnread(ctx context.Context, roomID string, count int) error {
	if count <= 0 {
		_, err := db.ExecContext(ctx, `DELETE FROM unread_counters WHERE room_id = ?`, roomID)
		return err
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO unread_counters (room_id, count, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET count = excluded.count, updated_at = excluded.updated_at`,
		roomID, count, time.Now().UnixMilli())
	return err
}

// LoadUnread returns every stored non-zero counter.
func (db *DB) LoadUnread(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT room_id, count FROM unread_counters`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var roomID string
		var n int
		if err := rows.Scan(&roomID, &n); err != nil {
			return nil, err
		}
		out[roomID] = n
	}
	return out, rows.Err()
}
