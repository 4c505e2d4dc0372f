// Package sync moves data between the local store and the remote backend.
//
// It orchestrates two independent, unidirectional flows: pull (incremental
// refresh of cached entities from the server) and push (draining the
// durable mutation queue to the server). It is the only component in the
// core permitted to perform network I/O.
package sync

import (
	"context"
	"encoding/json"

	"github.com/reliefbase/fieldsync/internal/schema"
)

// Result is the structured summary every batch operation returns. Batch
// operations report partial failure through Result rather than through an
// error; only local storage faults surface as errors.
type Result struct {
	Success bool     `json:"success"`
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// Engine is the sync API exposed to the application layer.
//
// The engine holds no persistent state of its own; everything durable lives
// in the local store. Pull and push are idempotent and resumable, so no
// cancellation token is needed beyond the context: an interrupted pull
// leaves the watermark at its prior value and an interrupted push leaves
// items pending for the next run.
type Engine interface {
	// QueueForSync records a mutation in the durable queue and returns.
	//
	// It is synchronous with respect to the caller and never blocks on
	// network state: "the user recorded a change" is decoupled from "the
	// change reached the server". The payload is validated against the
	// schema for entityType at enqueue time and snapshotted into the
	// queue item; later edits to the source draft do not change it.
	QueueForSync(ctx context.Context, entityType, entityID string, action schema.Action, data json.RawMessage) error

	// ProcessSyncQueue drains pending queue items.
	//
	// Offline it performs no work: no item is touched and the result
	// reports the connectivity precondition once at the batch level.
	// Online it applies pending items strictly sequentially in FIFO order
	// by creation, so a create queued before an update of the same entity
	// reaches the server first. One item's failure does not abort the
	// batch.
	ProcessSyncQueue(ctx context.Context) (*Result, error)

	// SyncFromServer incrementally refreshes every cached collection for
	// an org. Collections are isolated from each other: one collection's
	// fetch failure is reported in Errors but neither blocks nor rolls
	// back the others, and only non-failing collections advance their
	// watermark.
	SyncFromServer(ctx context.Context, orgID string) (*Result, error)

	// PendingCount returns the live number of pending queue items.
	PendingCount(ctx context.Context) (int, error)

	// RetryFailed returns every failed item to pending with a fresh retry
	// budget. Failed items are recovered only through this explicit call,
	// never automatically.
	RetryFailed(ctx context.Context) error

	// ClearFailed discards every failed item.
	ClearFailed(ctx context.Context) error

	// Online reports current connectivity, read from the injected
	// provider at call time.
	Online() bool
}
