package store

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
)

// SaveCategories replaces the stored categories. Room assignments are kept
// for user categories only; fixed categories are derived from room type.
func (db *DB) SaveCategories(ctx context.Context, cats []chat.Category) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM category_rooms`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM categories`); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, c := range cats {
		fixed := chat.IsFixedCategory(c.ID)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO categories (id, title, sort_index, fixed, updated_at)
			VALUES (?, ?, ?, ?, ?)`, c.ID, c.Title, c.SortIndex, fixed, now); err != nil {
			return fmt.Errorf("insert category %s: %w", c.ID, err)
		}
		if fixed {
			continue
		}
		for pos, roomID := range c.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO category_rooms (room_id, category_id, position)
				VALUES (?, ?, ?)
				ON CONFLICT(room_id) DO UPDATE SET category_id = excluded.category_id, position = excluded.position`,
				roomID, c.ID, pos); err != nil {
				return fmt.Errorf("assign room %s: %w", roomID, err)
			}
		}
	}
	return tx.Commit()
}

// LoadCategories returns the stored categories by sort index, with the
// rooms assigned to each user category.
func (db *DB) LoadCategories(ctx context.Context) ([]chat.Category, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, title, sort_index FROM categories ORDER BY sort_index ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	var cats []chat.Category
	index := map[string]int{}
	for rows.Next() {
		var c chat.Category
		if err := rows.Scan(&c.ID, &c.Title, &c.SortIndex); err != nil {
			_ = rows.Close()
			return nil, err
		}
		index[c.ID] = len(cats)
		cats = append(cats, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT room_id, category_id FROM category_rooms ORDER BY category_id, position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var roomID, catID string
		if err := rows.Scan(&roomID, &catID); err != nil {
			return nil, err
		}
		if i, ok := index[catID]; ok {
			cats[i].Items = append(cats[i].Items, roomID)
		}
	}
	return cats, rows.Err()
}
