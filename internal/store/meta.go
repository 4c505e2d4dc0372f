package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/reliefbase/fieldsync/internal/schema"
)

// lastSyncKey returns the sync_meta key holding a collection's watermark.
func lastSyncKey(collection schema.Collection) string {
	return "last_sync:" + string(collection)
}

// LastSync returns the last successful pull timestamp for a collection,
// or the zero time if the collection has never been pulled.
func (s *Store) LastSync(ctx context.Context, collection schema.Collection) (time.Time, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, lastSyncKey(collection)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last sync for %s: %w", collection, err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync for %s: %w", collection, err)
	}
	return t, nil
}

// SetLastSync advances a collection's watermark. The watermark is
// monotonically non-decreasing: an older timestamp than the stored one is
// ignored, so an interrupted or reordered pull can never move it backward.
func (s *Store) SetLastSync(ctx context.Context, collection schema.Collection, t time.Time) error {
	current, err := s.LastSync(ctx, collection)
	if err != nil {
		return err
	}
	if t.Before(current) {
		return nil
	}

	query := `
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, lastSyncKey(collection), t.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to set last sync for %s: %w", collection, err)
	}
	return nil
}

// GetMeta reads an arbitrary sync metadata value. Returns "" when the key
// is absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta writes an arbitrary sync metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}
