// Package store provides the embedded SQLite local store for fieldsync.
//
// The store is the single owner of persisted state and is split into four
// logical regions:
//   - cached entities: read-mostly mirrors of server records, one table per
//     collection, written only by the pull phase
//   - drafts: locally originated records not yet round-tripped to the server
//   - sync queue: the durable outbound mutation queue
//   - sync metadata: per-collection last-pull watermarks
//
// The database runs in embedded mode with WAL for concurrent reads.
// Storage-engine errors (quota, corruption) propagate to the caller; retry
// policy belongs to the sync engine, never to this layer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SchemaVersion is the current local schema version, recorded in
// PRAGMA user_version. Opening a database written by a newer build is an
// error rather than a silent downgrade.
const SchemaVersion = 1

// ErrSchemaTooNew is returned when the on-disk schema version is newer than
// this build understands.
var ErrSchemaTooNew = fmt.Errorf("local database schema is newer than this build (version > %d)", SchemaVersion)

// Store wraps the SQLite connection with fieldsync-specific functionality.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created along with the schema.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	// WAL mode for concurrent reads
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates or migrates the database schema.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates or migrates the database schema with context
// support. Idempotent: safe to call on every open.
//
// The schema version lives in PRAGMA user_version. A database written by a
// newer build is rejected with ErrSchemaTooNew; a version-0 (fresh or
// pre-versioning) database is bootstrapped to the current version.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > SchemaVersion {
		return ErrSchemaTooNew
	}

	if _, err := s.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if version < SchemaVersion {
		stmt := fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	return nil
}

const schemaSQL = `
-- Cached entities: verbatim server snapshots. Indexed columns are extracted
-- from the record for org-scoped and compound lookups; the full snapshot
-- lives in the data column.
CREATE TABLE IF NOT EXISTS beneficiaries (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	branch_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS households (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	office_id TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	project_id TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	data TEXT NOT NULL
);

-- Drafts: locally originated, keyed by client-generated local id.
CREATE TABLE IF NOT EXISTS distribution_drafts (
	local_id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	server_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft',
	updated_at TEXT NOT NULL,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS field_notes (
	local_id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	server_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft',
	updated_at TEXT NOT NULL,
	data TEXT NOT NULL
);

-- Outbound mutation queue. Append-only except for status, retry_count,
-- error, and synced_at.
CREATE TABLE IF NOT EXISTS sync_queue (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action TEXT NOT NULL,
	data TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	synced_at TEXT
);

-- Per-collection last-pull watermarks plus small key/value sync state.
CREATE TABLE IF NOT EXISTS sync_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

-- Indexes for the dominant UI access patterns: by org, and by org plus a
-- secondary scope key, without a full scan.
CREATE INDEX IF NOT EXISTS idx_beneficiaries_org ON beneficiaries(org_id);
CREATE INDEX IF NOT EXISTS idx_beneficiaries_org_branch ON beneficiaries(org_id, branch_id);
CREATE INDEX IF NOT EXISTS idx_beneficiaries_org_status ON beneficiaries(org_id, status);
CREATE INDEX IF NOT EXISTS idx_households_org ON households(org_id);
CREATE INDEX IF NOT EXISTS idx_households_org_office ON households(org_id, office_id);
CREATE INDEX IF NOT EXISTS idx_projects_org ON projects(org_id);
CREATE INDEX IF NOT EXISTS idx_projects_org_status ON projects(org_id, status);
CREATE INDEX IF NOT EXISTS idx_activities_org ON activities(org_id);
CREATE INDEX IF NOT EXISTS idx_activities_org_project ON activities(org_id, project_id);
CREATE INDEX IF NOT EXISTS idx_drafts_org_status ON distribution_drafts(org_id, status);
CREATE INDEX IF NOT EXISTS idx_notes_org_status ON field_notes(org_id, status);
CREATE INDEX IF NOT EXISTS idx_queue_status_created ON sync_queue(status, created_at);
`

// Stats reports row counts per region plus a live count of pending queue
// items, used for offline-readiness indicators.
type Stats struct {
	Beneficiaries      int `json:"beneficiaries"`
	Households         int `json:"households"`
	Projects           int `json:"projects"`
	Activities         int `json:"activities"`
	DistributionDrafts int `json:"distribution_drafts"`
	FieldNotes         int `json:"field_notes"`
	QueueItems         int `json:"queue_items"`
	PendingQueueItems  int `json:"pending_queue_items"`
}

// Stats returns row counts for every region.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM beneficiaries", &stats.Beneficiaries},
		{"SELECT COUNT(*) FROM households", &stats.Households},
		{"SELECT COUNT(*) FROM projects", &stats.Projects},
		{"SELECT COUNT(*) FROM activities", &stats.Activities},
		{"SELECT COUNT(*) FROM distribution_drafts", &stats.DistributionDrafts},
		{"SELECT COUNT(*) FROM field_notes", &stats.FieldNotes},
		{"SELECT COUNT(*) FROM sync_queue", &stats.QueueItems},
		{"SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'", &stats.PendingQueueItems},
	}

	for _, c := range counts {
		if err := s.conn.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
	}

	return stats, nil
}

// ClearCache wipes all cached-entity regions and sync metadata.
//
// The queue and drafts are deliberately never touched: clearing the cache
// on logout must not discard unsynced local work.
func (s *Store) ClearCache(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"beneficiaries", "households", "projects", "activities", "sync_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
