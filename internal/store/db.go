// Package store persists the client's local state in SQLite: the room list
// cache, categories, unread counters and the send outbox.
package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the profile's state.db.
type DB struct {
	*sql.DB
	path string
}

// Open opens path in WAL mode with a busy timeout so that concurrent writers
// wait instead of failing with SQLITE_BUSY.
func Open(path string) (*DB, error) {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_synchronous", "NORMAL")

	db, err := sql.Open("sqlite3", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state db %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

func (db *DB) Path() string { return db.path }
