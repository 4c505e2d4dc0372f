package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/reliefbase/fieldsync/internal/remote"
	"github.com/reliefbase/fieldsync/internal/schema"
	"github.com/reliefbase/fieldsync/internal/store"
)

// OfflineMessage is the batch-level error reported when the queue is
// drained while the device is offline. Offline is a precondition not met,
// not a per-item delivery failure: no item is marked failed because of it.
const OfflineMessage = "device is offline"

// DefaultMaxRetries is the retry ceiling applied when Config leaves
// MaxRetries at zero.
const DefaultMaxRetries = 3

// Config tunes the engine.
type Config struct {
	// MaxRetries is the per-item retry ceiling before an item moves to
	// the failed state (default: DefaultMaxRetries).
	MaxRetries int

	// Logger for engine activity. If nil, a default logger writing to
	// stderr is used.
	Logger *log.Logger
}

// engine implements the Engine interface.
type engine struct {
	store        *store.Store
	client       remote.Client
	connectivity remote.ConnectivityProvider
	maxRetries   int
	logger       *log.Logger
}

// New creates a new Engine.
//
// The store must be opened and have its schema initialized before passing
// it in. The connectivity provider is consulted at every gate rather than
// cached, so the engine observes reconnects and disconnects as they happen.
//
// Example:
//
//	st, err := store.Open(".fieldsync/local.db")
//	if err != nil {
//	    return err
//	}
//	if err := st.InitSchema(); err != nil {
//	    return err
//	}
//	eng := sync.New(st, client, probe, sync.Config{})
func New(st *store.Store, client remote.Client, connectivity remote.ConnectivityProvider, cfg Config) Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &engine{
		store:        st,
		client:       client,
		connectivity: connectivity,
		maxRetries:   cfg.MaxRetries,
		logger:       cfg.Logger,
	}
}

// Online implements Engine.Online.
func (e *engine) Online() bool {
	return e.connectivity.Online()
}

// QueueForSync implements Engine.QueueForSync.
func (e *engine) QueueForSync(ctx context.Context, entityType, entityID string, action schema.Action, data json.RawMessage) error {
	item := &schema.QueueItem{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Data:       data,
		Status:     schema.QueueStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.store.AddQueueItem(ctx, item); err != nil {
		return fmt.Errorf("failed to queue %s %s: %w", action, entityType, err)
	}

	e.logger.Printf("Queued %s %s %s (item %s)", action, entityType, entityID, item.ID)
	return nil
}

// ProcessSyncQueue implements Engine.ProcessSyncQueue.
func (e *engine) ProcessSyncQueue(ctx context.Context) (*Result, error) {
	if !e.Online() {
		e.logger.Printf("Skipping queue drain: %s", OfflineMessage)
		return &Result{Success: false, Errors: []string{OfflineMessage}}, nil
	}

	items, err := e.store.PendingQueueItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending queue items: %w", err)
	}

	result := &Result{Errors: []string{}}
	if len(items) == 0 {
		result.Success = true
		return result, nil
	}

	e.logger.Printf("Draining queue: %d pending item(s)", len(items))

	// Strictly sequential, FIFO by creation. Ordering is a correctness
	// requirement: a create queued before an update of the same entity
	// must reach the server first.
	for _, item := range items {
		if err := e.applyItem(ctx, item); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.ID, err))

			if storeErr := e.store.RecordQueueItemFailure(ctx, item.ID, err.Error(), e.maxRetries); storeErr != nil {
				return nil, fmt.Errorf("failed to record failure for item %s: %w", item.ID, storeErr)
			}
			e.logger.Printf("Item %s failed (attempt %d/%d): %v", item.ID, item.RetryCount+1, e.maxRetries, err)
			continue
		}

		if storeErr := e.store.MarkQueueItemSynced(ctx, item.ID, time.Now().UTC()); storeErr != nil {
			return nil, fmt.Errorf("failed to mark item %s synced: %w", item.ID, storeErr)
		}
		result.Synced++
		e.logger.Printf("Item %s synced (%s %s %s)", item.ID, item.Action, item.EntityType, item.EntityID)
	}

	result.Success = result.Failed == 0
	e.logger.Printf("Queue drain complete: synced=%d failed=%d", result.Synced, result.Failed)
	return result, nil
}

// applyItem maps one queue item to the corresponding remote call.
func (e *engine) applyItem(ctx context.Context, item *schema.QueueItem) error {
	switch item.Action {
	case schema.ActionCreate:
		serverID, err := e.client.Create(ctx, item.EntityType, item.EntityID, item.Data)
		if err != nil {
			return err
		}
		e.reconcileDraft(ctx, item, serverID)
		return nil
	case schema.ActionUpdate:
		return e.client.Update(ctx, item.EntityType, item.EntityID, item.Data)
	case schema.ActionDelete:
		return e.client.Delete(ctx, item.EntityType, item.EntityID)
	}
	return fmt.Errorf("unknown action %q", item.Action)
}

// reconcileDraft records the server-assigned id on the originating draft
// after a successful create. The remote apply already succeeded, so a
// reconcile problem (the draft may have been deleted locally) is logged
// rather than counted as a sync failure.
func (e *engine) reconcileDraft(ctx context.Context, item *schema.QueueItem, serverID string) {
	if serverID == "" {
		return
	}

	var err error
	switch item.EntityType {
	case schema.EntityDistribution:
		err = e.store.AttachDistributionServerID(ctx, item.EntityID, serverID)
	case schema.EntityFieldNote:
		err = e.store.AttachFieldNoteServerID(ctx, item.EntityID, serverID)
	default:
		return
	}

	if err != nil {
		e.logger.Printf("Warning: could not reconcile draft %s with server id %s: %v", item.EntityID, serverID, err)
	}
}

// SyncFromServer implements Engine.SyncFromServer.
func (e *engine) SyncFromServer(ctx context.Context, orgID string) (*Result, error) {
	if orgID == "" {
		return nil, fmt.Errorf("org id cannot be empty")
	}
	if !e.Online() {
		e.logger.Printf("Skipping pull: %s", OfflineMessage)
		return &Result{Success: false, Errors: []string{OfflineMessage}}, nil
	}

	result := &Result{Errors: []string{}}

	for _, collection := range schema.Collections() {
		n, err := e.pullCollection(ctx, collection, orgID)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", collection, err))
			e.logger.Printf("Pull failed for %s: %v", collection, err)
			continue
		}
		result.Synced += n
	}

	result.Success = result.Failed == 0
	e.logger.Printf("Pull complete for org %s: synced=%d failed collections=%d", orgID, result.Synced, result.Failed)
	return result, nil
}

// pullCollection fetches one collection incrementally and advances its
// watermark. The watermark candidate is taken before the fetch, so records
// that change mid-fetch are re-fetched next time (a superset, never a gap).
func (e *engine) pullCollection(ctx context.Context, collection schema.Collection, orgID string) (int, error) {
	since, err := e.store.LastSync(ctx, collection)
	if err != nil {
		return 0, err
	}

	start := time.Now().UTC()

	records, err := e.client.FetchSince(ctx, collection, orgID, since)
	if err != nil {
		return 0, err
	}

	n, err := e.store.BulkUpsertRecords(ctx, collection, records)
	if err != nil {
		return 0, err
	}

	if err := e.store.SetLastSync(ctx, collection, start); err != nil {
		return 0, err
	}

	return n, nil
}

// PendingCount implements Engine.PendingCount.
func (e *engine) PendingCount(ctx context.Context) (int, error) {
	return e.store.PendingQueueCount(ctx)
}

// RetryFailed implements Engine.RetryFailed.
func (e *engine) RetryFailed(ctx context.Context) error {
	n, err := e.store.ResetFailedQueueItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to retry failed items: %w", err)
	}
	e.logger.Printf("Reset %d failed item(s) to pending", n)
	return nil
}

// ClearFailed implements Engine.ClearFailed.
func (e *engine) ClearFailed(ctx context.Context) error {
	n, err := e.store.PurgeFailedQueueItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear failed items: %w", err)
	}
	e.logger.Printf("Purged %d failed item(s)", n)
	return nil
}
