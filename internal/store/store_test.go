package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/reliefbase/fieldsync/internal/schema"
)

// testStore opens a schema-initialized store in a temp dir.
func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func beneficiaryJSON(id, orgID, branchID, status string, updatedAt time.Time) json.RawMessage {
	b := schema.Beneficiary{
		ID:        id,
		OrgID:     orgID,
		BranchID:  branchID,
		FirstName: "Test",
		LastName:  "Person",
		Status:    status,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	data, _ := json.Marshal(b)
	return data
}

// TestOpen_Success tests database creation and initialization.
func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

// TestInitSchema_Idempotent tests that schema initialization is idempotent.
func TestInitSchema_Idempotent(t *testing.T) {
	s := testStore(t)
	if err := s.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

// TestInitSchema_Tables tests that all region tables exist.
func TestInitSchema_Tables(t *testing.T) {
	s := testStore(t)

	tables := []string{
		"beneficiaries", "households", "projects", "activities",
		"distribution_drafts", "field_notes", "sync_queue", "sync_meta",
	}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := s.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

// TestInitSchema_VersionRecorded tests that user_version is set.
func TestInitSchema_VersionRecorded(t *testing.T) {
	s := testStore(t)

	var version int
	if err := s.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("Failed to read user_version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("user_version = %d, want %d", version, SchemaVersion)
	}
}

// TestInitSchema_RejectsNewerVersion tests the forward-compat guard.
func TestInitSchema_RejectsNewerVersion(t *testing.T) {
	s := testStore(t)

	stmt := fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion+1)
	if _, err := s.conn.Exec(stmt); err != nil {
		t.Fatalf("Failed to bump user_version: %v", err)
	}

	err := s.InitSchema()
	if !errors.Is(err, ErrSchemaTooNew) {
		t.Errorf("InitSchema() = %v, want ErrSchemaTooNew", err)
	}
}

// TestClearCache_PreservesQueueAndDrafts tests that clearing the cache on
// logout never discards unsynced local work.
func TestClearCache_PreservesQueueAndDrafts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Populate every region
	if _, err := s.BulkUpsertRecords(ctx, schema.CollectionBeneficiaries,
		[]json.RawMessage{beneficiaryJSON("b-1", "org-1", "br-1", "active", now)}); err != nil {
		t.Fatalf("BulkUpsertRecords() failed: %v", err)
	}
	if err := s.SetLastSync(ctx, schema.CollectionBeneficiaries, now); err != nil {
		t.Fatalf("SetLastSync() failed: %v", err)
	}

	draft := &schema.DistributionDraft{OrgID: "org-1", ProjectID: "p-1", Title: "Kits"}
	draft.SetDefaults()
	if err := s.PutDistributionDraft(ctx, draft); err != nil {
		t.Fatalf("PutDistributionDraft() failed: %v", err)
	}

	item := &schema.QueueItem{
		ID:         "q-1",
		EntityType: schema.EntityFieldNote,
		EntityID:   "n-1",
		Action:     schema.ActionCreate,
		Data:       json.RawMessage(`{"local_id":"n-1","org_id":"org-1","subject":"s","status":"ready_to_sync"}`),
		Status:     schema.QueueStatusPending,
		CreatedAt:  now,
	}
	if err := s.AddQueueItem(ctx, item); err != nil {
		t.Fatalf("AddQueueItem() failed: %v", err)
	}

	if err := s.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache() failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}

	if stats.Beneficiaries != 0 {
		t.Errorf("Beneficiaries = %d after clear, want 0", stats.Beneficiaries)
	}
	if stats.DistributionDrafts != 1 {
		t.Errorf("DistributionDrafts = %d after clear, want 1", stats.DistributionDrafts)
	}
	if stats.QueueItems != 1 {
		t.Errorf("QueueItems = %d after clear, want 1", stats.QueueItems)
	}

	// Watermark must be gone too
	last, err := s.LastSync(ctx, schema.CollectionBeneficiaries)
	if err != nil {
		t.Fatalf("LastSync() failed: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("LastSync = %v after clear, want zero", last)
	}
}

// TestStats_PendingCount tests the live pending counter.
func TestStats_PendingCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		item := &schema.QueueItem{
			ID:         fmt.Sprintf("q-%d", i),
			EntityType: schema.EntityProject,
			EntityID:   fmt.Sprintf("p-%d", i),
			Action:     schema.ActionDelete,
			Status:     schema.QueueStatusPending,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.AddQueueItem(ctx, item); err != nil {
			t.Fatalf("AddQueueItem() failed: %v", err)
		}
	}
	if err := s.MarkQueueItemSynced(ctx, "q-0", time.Now().UTC()); err != nil {
		t.Fatalf("MarkQueueItemSynced() failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.QueueItems != 3 {
		t.Errorf("QueueItems = %d, want 3", stats.QueueItems)
	}
	if stats.PendingQueueItems != 2 {
		t.Errorf("PendingQueueItems = %d, want 2", stats.PendingQueueItems)
	}
}
