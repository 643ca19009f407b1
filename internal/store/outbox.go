package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// QueueOutbox records an outgoing message before it is sent. Queuing the
// same temporary id twice is a no-op.
func (db *DB) QueueOutbox(ctx context.Context, tempID, roomID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO outbox (temp_id, room_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(temp_id) DO NOTHING`,
		tempID, roomID, body, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(ctx context.Context, tempID string) error {
	return db.setOutboxStatus(ctx, tempID, OutboxSending, "", "")
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(ctx context.Context, tempID, serverMsgID string) error {
	return db.setOutboxStatus(ctx, tempID, OutboxSent, "", serverMsgID)
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(ctx context.Context, tempID, errMsg string) error {
	return db.setOutboxStatus(ctx, tempID, OutboxFailed, errMsg, "")
}

func (db *DB) setOutboxStatus(ctx context.Context, tempID string, status OutboxStatus, errMsg, serverMsgID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, error_message = ?,
			server_msg_id = CASE WHEN ? = '' THEN server_msg_id ELSE ? END,
			updated_at = ?
		WHERE temp_id = ?`,
		string(status), errMsg, serverMsgID, serverMsgID, time.Now().UnixMilli(), tempID)
	return err
}

// OutboxByStatus returns entries in the given status, oldest first.
func (db *DB) OutboxByStatus(ctx context.Context, status OutboxStatus) ([]OutboxEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, temp_id, room_id, body, status, error_message, server_msg_id, created_at
		FROM outbox WHERE status = ? ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var st string
		if err := rows.Scan(&e.ID, &e.TempID, &e.RoomID, &e.Body, &st, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = OutboxStatus(st)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetOutbox returns the entry for tempID, or nil if there is none.
func (db *DB) GetOutbox(ctx context.Context, tempID string) (*OutboxEntry, error) {
	var e OutboxEntry
	var st string
	err := db.QueryRowContext(ctx, `
		SELECT id, temp_id, room_id, body, status, error_message, server_msg_id, created_at
		FROM outbox WHERE temp_id = ?`, tempID).
		Scan(&e.ID, &e.TempID, &e.RoomID, &e.Body, &st, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = OutboxStatus(st)
	return &e, nil
}

// PruneOutbox deletes sent entries older than before.
func (db *DB) PruneOutbox(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM outbox WHERE status = 'sent' AND updated_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
