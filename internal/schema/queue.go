package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Action is the remote operation a queue item maps to.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known queue action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// QueueStatus is the lifecycle state of a queue item.
//
// pending -> synced on a successful remote apply.
// pending -> pending (retry_count incremented) on failure below the ceiling.
// pending -> failed once retry_count reaches the ceiling.
//
// synced and failed are terminal; failed is recoverable only via an explicit
// operator retry, never auto-resurrected.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSynced  QueueStatus = "synced"
	QueueStatusFailed  QueueStatus = "failed"
)

// QueueItem is the atomic unit of outbound work. The data payload is a
// snapshot taken at enqueue time; later edits to the source draft do not
// retroactively change an already-queued item.
//
// Items are immutable except for Status, RetryCount, Error, and SyncedAt.
type QueueItem struct {
	ID         string          `json:"id"` // client-generated, stable across retries
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     Action          `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
	Status     QueueStatus     `json:"status"`
	RetryCount int             `json:"retry_count"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

// Validate checks a queue item before it is appended to the queue.
func (q *QueueItem) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("id is required")
	}
	if q.EntityType == "" {
		return fmt.Errorf("entity_type is required")
	}
	if q.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if !q.Action.Valid() {
		return fmt.Errorf("invalid action %q", q.Action)
	}
	if q.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if err := ValidatePayload(q.EntityType, q.Action, q.Data); err != nil {
		return fmt.Errorf("payload for %s %s: %w", q.Action, q.EntityType, err)
	}
	return nil
}

// Queueable entity types. Cached-entity mutations target the server only
// (the local cache is refreshed by the next pull); draft types are
// reconciled with their server id after a successful create.
const (
	EntityBeneficiary  = "beneficiary"
	EntityHousehold    = "household"
	EntityProject      = "project"
	EntityActivity     = "activity"
	EntityDistribution = "distribution"
	EntityFieldNote    = "field_note"
)

// ValidatePayload checks a queue payload against the schema for its entity
// type. The payload is a tagged union keyed by entity type; checking at
// enqueue time keeps malformed payloads from surviving to the push phase.
//
// Delete actions carry no payload and always pass. Draft payloads must be
// in ready_to_sync status: an unconfirmed draft is never transmitted.
func ValidatePayload(entityType string, action Action, data json.RawMessage) error {
	if action == ActionDelete {
		return nil
	}
	if len(data) == 0 {
		return fmt.Errorf("data is required for %s", action)
	}

	switch entityType {
	case EntityBeneficiary:
		var b Beneficiary
		if err := strictUnmarshal(data, &b); err != nil {
			return err
		}
		return requireFields(map[string]string{"org_id": b.OrgID, "first_name": b.FirstName, "last_name": b.LastName})
	case EntityHousehold:
		var h Household
		if err := strictUnmarshal(data, &h); err != nil {
			return err
		}
		return requireFields(map[string]string{"org_id": h.OrgID, "head_name": h.HeadName})
	case EntityProject:
		var p Project
		if err := strictUnmarshal(data, &p); err != nil {
			return err
		}
		return requireFields(map[string]string{"org_id": p.OrgID, "name": p.Name})
	case EntityActivity:
		var a Activity
		if err := strictUnmarshal(data, &a); err != nil {
			return err
		}
		return requireFields(map[string]string{"org_id": a.OrgID, "project_id": a.ProjectID, "name": a.Name})
	case EntityDistribution:
		var d DistributionDraft
		if err := strictUnmarshal(data, &d); err != nil {
			return err
		}
		if err := requireFields(map[string]string{"org_id": d.OrgID, "project_id": d.ProjectID, "title": d.Title}); err != nil {
			return err
		}
		return requireReady(d.Status)
	case EntityFieldNote:
		var n FieldNote
		if err := strictUnmarshal(data, &n); err != nil {
			return err
		}
		if err := requireFields(map[string]string{"org_id": n.OrgID, "subject": n.Subject}); err != nil {
			return err
		}
		return requireReady(n.Status)
	default:
		return fmt.Errorf("unknown entity type %q", entityType)
	}
}

// strictUnmarshal decodes data into v, rejecting unknown fields so typos in
// payload keys are caught at enqueue time rather than by the server.
func strictUnmarshal(data json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

// requireReady rejects draft payloads that have not been confirmed for
// transmission. A draft in "draft" status is never sent to the server; the
// status gate is checked here, at enqueue time, so an unconfirmed draft can
// never sit in the queue waiting for a drain.
func requireReady(status DraftStatus) error {
	if status != DraftStatusReady {
		return fmt.Errorf("draft status is %q, only %q may be queued", status, DraftStatusReady)
	}
	return nil
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}
