package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/reliefbase/fieldsync/internal/schema"
)

func addPendingItem(t *testing.T, s *Store, id string, createdAt time.Time) {
	t.Helper()
	item := &schema.QueueItem{
		ID:         id,
		EntityType: schema.EntityFieldNote,
		EntityID:   "n-" + id,
		Action:     schema.ActionCreate,
		Data:       json.RawMessage(`{"local_id":"n-1","org_id":"org-1","subject":"s","status":"ready_to_sync"}`),
		Status:     schema.QueueStatusPending,
		CreatedAt:  createdAt,
	}
	if err := s.AddQueueItem(context.Background(), item); err != nil {
		t.Fatalf("AddQueueItem(%s) failed: %v", id, err)
	}
}

// TestPendingQueueItems_FIFO tests FIFO ordering by creation time even
// when items are inserted out of order.
func TestPendingQueueItems_FIFO(t *testing.T) {
	s := testStore(t)
	base := time.Now().UTC()

	// Insert newest first; the query must still return oldest first.
	addPendingItem(t, s, "q-3", base.Add(2*time.Second))
	addPendingItem(t, s, "q-1", base)
	addPendingItem(t, s, "q-2", base.Add(time.Second))

	items, err := s.PendingQueueItems(context.Background())
	if err != nil {
		t.Fatalf("PendingQueueItems() failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("pending = %d, want 3", len(items))
	}
	for i, want := range []string{"q-1", "q-2", "q-3"} {
		if items[i].ID != want {
			t.Errorf("items[%d].ID = %s, want %s", i, items[i].ID, want)
		}
	}
}

// TestPendingQueueItems_SubsecondOrdering tests that fractional-second
// timestamps sort chronologically (fixed-width storage format).
func TestPendingQueueItems_SubsecondOrdering(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

	addPendingItem(t, s, "q-half", base.Add(500*time.Millisecond))
	addPendingItem(t, s, "q-whole", base)

	items, err := s.PendingQueueItems(context.Background())
	if err != nil {
		t.Fatalf("PendingQueueItems() failed: %v", err)
	}
	if items[0].ID != "q-whole" || items[1].ID != "q-half" {
		t.Errorf("order = [%s %s], want [q-whole q-half]", items[0].ID, items[1].ID)
	}
}

// TestRecordQueueItemFailure_BelowCeiling tests that a failure below the
// ceiling keeps the item pending with an incremented retry count.
func TestRecordQueueItemFailure_BelowCeiling(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addPendingItem(t, s, "q-1", time.Now().UTC())

	if err := s.RecordQueueItemFailure(ctx, "q-1", "network timeout", 3); err != nil {
		t.Fatalf("RecordQueueItemFailure() failed: %v", err)
	}

	item, err := s.GetQueueItem(ctx, "q-1")
	if err != nil {
		t.Fatalf("GetQueueItem() failed: %v", err)
	}
	if item.Status != schema.QueueStatusPending {
		t.Errorf("Status = %s, want pending", item.Status)
	}
	if item.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", item.RetryCount)
	}
	if item.Error != "network timeout" {
		t.Errorf("Error = %q, want network timeout", item.Error)
	}
}

// TestRecordQueueItemFailure_AtCeiling tests the transition to failed
// after the configured number of attempts.
func TestRecordQueueItemFailure_AtCeiling(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addPendingItem(t, s, "q-1", time.Now().UTC())

	for i := 0; i < 3; i++ {
		if err := s.RecordQueueItemFailure(ctx, "q-1", "network timeout", 3); err != nil {
			t.Fatalf("RecordQueueItemFailure() attempt %d failed: %v", i+1, err)
		}
	}

	item, err := s.GetQueueItem(ctx, "q-1")
	if err != nil {
		t.Fatalf("GetQueueItem() failed: %v", err)
	}
	if item.Status != schema.QueueStatusFailed {
		t.Errorf("Status = %s, want failed", item.Status)
	}
	if item.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", item.RetryCount)
	}
	if item.Error != "network timeout" {
		t.Errorf("Error = %q, want network timeout", item.Error)
	}

	// Failed items are excluded from the pending pass
	pending, err := s.PendingQueueItems(ctx)
	if err != nil {
		t.Fatalf("PendingQueueItems() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

// TestResetFailedQueueItems tests the explicit operator recovery path.
func TestResetFailedQueueItems(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addPendingItem(t, s, "q-1", time.Now().UTC())

	for i := 0; i < 3; i++ {
		if err := s.RecordQueueItemFailure(ctx, "q-1", "network timeout", 3); err != nil {
			t.Fatalf("RecordQueueItemFailure() failed: %v", err)
		}
	}

	n, err := s.ResetFailedQueueItems(ctx)
	if err != nil {
		t.Fatalf("ResetFailedQueueItems() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reset count = %d, want 1", n)
	}

	item, err := s.GetQueueItem(ctx, "q-1")
	if err != nil {
		t.Fatalf("GetQueueItem() failed: %v", err)
	}
	if item.Status != schema.QueueStatusPending {
		t.Errorf("Status = %s, want pending", item.Status)
	}
	if item.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", item.RetryCount)
	}
	if item.Error != "" {
		t.Errorf("Error = %q, want empty", item.Error)
	}
}

// TestPurgeFailedQueueItems tests discarding failed items.
func TestPurgeFailedQueueItems(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addPendingItem(t, s, "q-1", time.Now().UTC())
	addPendingItem(t, s, "q-2", time.Now().UTC())

	for i := 0; i < 3; i++ {
		if err := s.RecordQueueItemFailure(ctx, "q-1", "rejected", 3); err != nil {
			t.Fatalf("RecordQueueItemFailure() failed: %v", err)
		}
	}

	n, err := s.PurgeFailedQueueItems(ctx)
	if err != nil {
		t.Fatalf("PurgeFailedQueueItems() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	count, err := s.PendingQueueCount(ctx)
	if err != nil {
		t.Fatalf("PendingQueueCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("pending = %d, want 1", count)
	}
}

// TestMarkQueueItemSynced tests the success terminal state.
func TestMarkQueueItemSynced(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	addPendingItem(t, s, "q-1", time.Now().UTC())

	syncedAt := time.Now().UTC()
	if err := s.MarkQueueItemSynced(ctx, "q-1", syncedAt); err != nil {
		t.Fatalf("MarkQueueItemSynced() failed: %v", err)
	}

	item, err := s.GetQueueItem(ctx, "q-1")
	if err != nil {
		t.Fatalf("GetQueueItem() failed: %v", err)
	}
	if item.Status != schema.QueueStatusSynced {
		t.Errorf("Status = %s, want synced", item.Status)
	}
	if item.SyncedAt == nil {
		t.Fatal("SyncedAt not recorded")
	}
	if item.SyncedAt.Sub(syncedAt).Abs() > time.Millisecond {
		t.Errorf("SyncedAt = %v, want ~%v", item.SyncedAt, syncedAt)
	}
}

// TestAddQueueItem_RejectsInvalid tests enqueue-time validation.
func TestAddQueueItem_RejectsInvalid(t *testing.T) {
	s := testStore(t)

	item := &schema.QueueItem{
		ID:         "q-1",
		EntityType: "mystery",
		EntityID:   "x-1",
		Action:     schema.ActionCreate,
		Data:       json.RawMessage(`{}`),
		Status:     schema.QueueStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.AddQueueItem(context.Background(), item); err == nil {
		t.Fatal("expected error for unknown entity type")
	}
}

// TestPendingQueueItems_CorruptTimestamp tests that an unparseable
// created_at surfaces as a storage fault instead of a zero timestamp.
func TestPendingQueueItems_CorruptTimestamp(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.RawDB().ExecContext(ctx, `
		INSERT INTO sync_queue (id, entity_type, entity_id, action, data, status, retry_count, error, created_at)
		VALUES ('q-1', 'field_note', 'n-1', 'create', '{}', 'pending', 0, '', 'not-a-timestamp')`)
	if err != nil {
		t.Fatalf("failed to insert corrupt row: %v", err)
	}

	if _, err := s.PendingQueueItems(ctx); err == nil {
		t.Fatal("expected error for corrupt created_at")
	}
}

// TestLastSync_Monotonic tests that the watermark never moves backward.
func TestLastSync_Monotonic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := s.SetLastSync(ctx, schema.CollectionProjects, now); err != nil {
		t.Fatalf("SetLastSync() failed: %v", err)
	}

	// An older timestamp is ignored
	if err := s.SetLastSync(ctx, schema.CollectionProjects, now.Add(-time.Hour)); err != nil {
		t.Fatalf("SetLastSync(older) failed: %v", err)
	}

	got, err := s.LastSync(ctx, schema.CollectionProjects)
	if err != nil {
		t.Fatalf("LastSync() failed: %v", err)
	}
	if got.Before(now.Add(-time.Second)) {
		t.Errorf("watermark moved backward: %v < %v", got, now)
	}

	// Watermarks are per collection
	other, err := s.LastSync(ctx, schema.CollectionHouseholds)
	if err != nil {
		t.Fatalf("LastSync(households) failed: %v", err)
	}
	if !other.IsZero() {
		t.Errorf("households watermark = %v, want zero", other)
	}
}

// TestGetQueueItem_NotFound tests the missing-item sentinel.
func TestGetQueueItem_NotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetQueueItem(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
