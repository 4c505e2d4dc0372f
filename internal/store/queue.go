package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reliefbase/fieldsync/internal/schema"
)

// queueTimeLayout is RFC 3339 with fixed-width nanoseconds, so the stored
// strings sort chronologically. RFC3339Nano trims trailing zeros, which
// would break the FIFO ORDER BY.
const queueTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// AddQueueItem appends a mutation to the sync queue. Exactly one queue item
// exists per logical mutation; the item id is client-generated and stable
// across retries.
func (s *Store) AddQueueItem(ctx context.Context, item *schema.QueueItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid queue item: %w", err)
	}

	query := `
	INSERT INTO sync_queue (id, entity_type, entity_id, action, data, status, retry_count, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		item.ID,
		item.EntityType,
		item.EntityID,
		string(item.Action),
		string(item.Data),
		string(item.Status),
		item.RetryCount,
		item.Error,
		item.CreatedAt.UTC().Format(queueTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to add queue item: %w", err)
	}
	return nil
}

// PendingQueueItems returns all pending items in FIFO order by creation.
// The push phase relies on this ordering: a create queued before an update
// of the same entity must be applied first.
func (s *Store) PendingQueueItems(ctx context.Context) ([]*schema.QueueItem, error) {
	return s.queueItemsByStatus(ctx, schema.QueueStatusPending)
}

// FailedQueueItems returns all items that exhausted their retries.
func (s *Store) FailedQueueItems(ctx context.Context) ([]*schema.QueueItem, error) {
	return s.queueItemsByStatus(ctx, schema.QueueStatusFailed)
}

func (s *Store) queueItemsByStatus(ctx context.Context, status schema.QueueStatus) ([]*schema.QueueItem, error) {
	query := `
	SELECT id, entity_type, entity_id, action, data, status, retry_count, error, created_at, synced_at
	FROM sync_queue
	WHERE status = ?
	ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// GetQueueItem retrieves a single queue item by id.
// Returns ErrNotFound if no row matches.
func (s *Store) GetQueueItem(ctx context.Context, id string) (*schema.QueueItem, error) {
	query := `
	SELECT id, entity_type, entity_id, action, data, status, retry_count, error, created_at, synced_at
	FROM sync_queue
	WHERE id = ?
	`

	rows, err := s.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue item: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// PendingQueueCount returns the live number of pending queue items.
func (s *Store) PendingQueueCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending queue items: %w", err)
	}
	return count, nil
}

// MarkQueueItemSynced transitions an item to its success terminal state.
func (s *Store) MarkQueueItemSynced(ctx context.Context, id string, syncedAt time.Time) error {
	query := `
	UPDATE sync_queue SET status = 'synced', error = '', synced_at = ?
	WHERE id = ?
	`
	if _, err := s.conn.ExecContext(ctx, query, syncedAt.UTC().Format(queueTimeLayout), id); err != nil {
		return fmt.Errorf("failed to mark queue item %s synced: %w", id, err)
	}
	return nil
}

// RecordQueueItemFailure records a failed attempt. Below the ceiling the
// item stays pending with an incremented retry count; at the ceiling it
// moves to the failed terminal state.
func (s *Store) RecordQueueItemFailure(ctx context.Context, id, errMsg string, maxRetries int) error {
	query := `
	UPDATE sync_queue SET
		retry_count = retry_count + 1,
		error = ?,
		status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'pending' END
	WHERE id = ? AND status = 'pending'
	`
	if _, err := s.conn.ExecContext(ctx, query, errMsg, maxRetries, id); err != nil {
		return fmt.Errorf("failed to record failure for queue item %s: %w", id, err)
	}
	return nil
}

// ResetFailedQueueItems returns every failed item to pending with a fresh
// retry budget. This is the explicit operator recovery path; failed items
// are never auto-resurrected.
func (s *Store) ResetFailedQueueItems(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'pending', retry_count = 0, error = '' WHERE status = 'failed'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed queue items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset queue items: %w", err)
	}
	return int(n), nil
}

// PurgeFailedQueueItems discards every failed item.
func (s *Store) PurgeFailedQueueItems(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = 'failed'`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge failed queue items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged queue items: %w", err)
	}
	return int(n), nil
}

// scanQueueItems is a helper to scan queue rows.
func scanQueueItems(rows *sql.Rows) ([]*schema.QueueItem, error) {
	var items []*schema.QueueItem

	for rows.Next() {
		var item schema.QueueItem
		var action, status, createdAt, data string
		var syncedAt sql.NullString

		err := rows.Scan(
			&item.ID,
			&item.EntityType,
			&item.EntityID,
			&action,
			&data,
			&status,
			&item.RetryCount,
			&item.Error,
			&createdAt,
			&syncedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}

		item.Action = schema.Action(action)
		item.Status = schema.QueueStatus(status)
		if data != "" {
			item.Data = json.RawMessage(data)
		}
		item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("queue item %s has corrupt created_at %q: %w", item.ID, createdAt, err)
		}
		if syncedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, syncedAt.String)
			if err != nil {
				return nil, fmt.Errorf("queue item %s has corrupt synced_at %q: %w", item.ID, syncedAt.String, err)
			}
			item.SyncedAt = &t
		}

		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}

	return items, nil
}
