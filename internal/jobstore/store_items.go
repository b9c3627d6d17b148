package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertItems persists the pending items of a job and records its item count.
func (s *Store) InsertItems(ctx context.Context, jobID string, items []Item) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO items (job_id, position, name, input_urls, output_urls, failures, state, updated_at)
             VALUES (?, ?, ?, ?, '[]', '[]', ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare item insert: %w", err)
		}
		defer stmt.Close()

		now := formatTime(time.Now())
		for _, item := range items {
			inputs, err := encodeJSON(item.InputURLs)
			if err != nil {
				return fmt.Errorf("encode input urls: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, jobID, item.Position, item.Name, inputs, ItemPending, now); err != nil {
				return fmt.Errorf("insert item %d: %w", item.Position, err)
			}
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET item_count = ?, updated_at = ? WHERE id = ?`, len(items), now, jobID)
		if err != nil {
			return fmt.Errorf("update item count: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CompleteItem stores the outputs and failures of an item and marks it done.
func (s *Store) CompleteItem(ctx context.Context, item *Item) error {
	outputs, err := encodeJSON(item.OutputURLs)
	if err != nil {
		return fmt.Errorf("encode output urls: %w", err)
	}
	failures, err := encodeJSON(item.Failures)
	if err != nil {
		return fmt.Errorf("encode failures: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`UPDATE items SET output_urls = ?, failures = ?, state = ?, updated_at = ?
         WHERE job_id = ? AND position = ?`,
		outputs, failures, ItemDone, formatTime(now), item.JobID, item.Position,
	)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	item.State = ItemDone
	item.UpdatedAt = now
	return nil
}

// ListItems returns the items of a job in manifest order.
func (s *Store) ListItems(ctx context.Context, jobID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+itemColumns+` FROM items WHERE job_id = ? ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
