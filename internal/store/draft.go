package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reliefbase/fieldsync/internal/schema"
)

// PutDistributionDraft inserts or replaces a distribution draft.
// Drafts are UI-owned and may be mutated freely until queued.
func (s *Store) PutDistributionDraft(ctx context.Context, d *schema.DistributionDraft) error {
	d.SetDefaults()
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid distribution draft: %w", err)
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal distribution draft: %w", err)
	}

	query := `
	INSERT INTO distribution_drafts (local_id, org_id, server_id, status, updated_at, data)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		server_id = excluded.server_id,
		status = excluded.status,
		updated_at = excluded.updated_at,
		data = excluded.data
	`
	_, err = s.conn.ExecContext(ctx, query,
		d.LocalID, d.OrgID, d.ServerID, string(d.Status), d.UpdatedAt.Format(time.RFC3339), string(data))
	if err != nil {
		return fmt.Errorf("failed to put distribution draft: %w", err)
	}
	return nil
}

// GetDistributionDraft retrieves a distribution draft by local id.
// Returns ErrNotFound if no row matches.
func (s *Store) GetDistributionDraft(ctx context.Context, localID string) (*schema.DistributionDraft, error) {
	var data string
	query := `SELECT data FROM distribution_drafts WHERE local_id = ?`
	if err := s.conn.QueryRowContext(ctx, query, localID).Scan(&data); err != nil {
		return nil, err
	}

	var d schema.DistributionDraft
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("failed to decode distribution draft: %w", err)
	}
	return &d, nil
}

// DistributionDrafts lists drafts for an org, optionally filtered by status.
func (s *Store) DistributionDrafts(ctx context.Context, orgID string, status schema.DraftStatus) ([]*schema.DistributionDraft, error) {
	query := `SELECT data FROM distribution_drafts WHERE org_id = ?`
	args := []interface{}{orgID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution drafts: %w", err)
	}
	defer rows.Close()

	var out []*schema.DistributionDraft
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan distribution draft: %w", err)
		}
		var d schema.DistributionDraft
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("failed to decode distribution draft: %w", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distribution drafts: %w", err)
	}
	return out, nil
}

// AttachDistributionServerID records the server id assigned to a draft
// after its create round-trips through the queue.
func (s *Store) AttachDistributionServerID(ctx context.Context, localID, serverID string) error {
	return s.attachServerID(ctx, "distribution_drafts", localID, serverID)
}

// DeleteDistributionDraft removes a draft, typically after its queue item
// reports success and the record now lives on the server.
// Idempotent: deleting a missing draft returns nil.
func (s *Store) DeleteDistributionDraft(ctx context.Context, localID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM distribution_drafts WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete distribution draft %s: %w", localID, err)
	}
	return nil
}

// PutFieldNote inserts or replaces a field note.
func (s *Store) PutFieldNote(ctx context.Context, n *schema.FieldNote) error {
	n.SetDefaults()
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid field note: %w", err)
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal field note: %w", err)
	}

	query := `
	INSERT INTO field_notes (local_id, org_id, server_id, status, updated_at, data)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		server_id = excluded.server_id,
		status = excluded.status,
		updated_at = excluded.updated_at,
		data = excluded.data
	`
	_, err = s.conn.ExecContext(ctx, query,
		n.LocalID, n.OrgID, n.ServerID, string(n.Status), n.UpdatedAt.Format(time.RFC3339), string(data))
	if err != nil {
		return fmt.Errorf("failed to put field note: %w", err)
	}
	return nil
}

// GetFieldNote retrieves a field note by local id.
// Returns ErrNotFound if no row matches.
func (s *Store) GetFieldNote(ctx context.Context, localID string) (*schema.FieldNote, error) {
	var data string
	query := `SELECT data FROM field_notes WHERE local_id = ?`
	if err := s.conn.QueryRowContext(ctx, query, localID).Scan(&data); err != nil {
		return nil, err
	}

	var n schema.FieldNote
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		return nil, fmt.Errorf("failed to decode field note: %w", err)
	}
	return &n, nil
}

// FieldNotes lists notes for an org, optionally filtered by status.
func (s *Store) FieldNotes(ctx context.Context, orgID string, status schema.DraftStatus) ([]*schema.FieldNote, error) {
	query := `SELECT data FROM field_notes WHERE org_id = ?`
	args := []interface{}{orgID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query field notes: %w", err)
	}
	defer rows.Close()

	var out []*schema.FieldNote
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan field note: %w", err)
		}
		var n schema.FieldNote
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			return nil, fmt.Errorf("failed to decode field note: %w", err)
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field notes: %w", err)
	}
	return out, nil
}

// AttachFieldNoteServerID records the server id assigned to a note after
// its create round-trips through the queue.
func (s *Store) AttachFieldNoteServerID(ctx context.Context, localID, serverID string) error {
	return s.attachServerID(ctx, "field_notes", localID, serverID)
}

// DeleteFieldNote removes a field note. Idempotent.
func (s *Store) DeleteFieldNote(ctx context.Context, localID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM field_notes WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete field note %s: %w", localID, err)
	}
	return nil
}

// MarkDistributionReady transitions a distribution draft to ready_to_sync
// on explicit user confirmation. Only ready drafts may be queued.
func (s *Store) MarkDistributionReady(ctx context.Context, localID string) error {
	return s.markReady(ctx, "distribution_drafts", localID)
}

// MarkFieldNoteReady transitions a field note to ready_to_sync.
func (s *Store) MarkFieldNoteReady(ctx context.Context, localID string) error {
	return s.markReady(ctx, "field_notes", localID)
}

// markReady sets the status column and mirrors it into the stored snapshot.
func (s *Store) markReady(ctx context.Context, table, localID string) error {
	query := fmt.Sprintf(`
	UPDATE %s SET
		status = ?,
		updated_at = ?,
		data = json_set(data, '$.status', ?, '$.updated_at', ?)
	WHERE local_id = ?`, table)

	now := time.Now().UTC().Format(time.RFC3339)
	status := string(schema.DraftStatusReady)
	res, err := s.conn.ExecContext(ctx, query, status, now, status, now, localID)
	if err != nil {
		return fmt.Errorf("failed to mark %s %s ready: %w", table, localID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("draft %s not found in %s", localID, table)
	}
	return nil
}

// attachServerID sets server_id on a draft row and mirrors it into the
// stored snapshot so re-reads see the reconciled id.
func (s *Store) attachServerID(ctx context.Context, table, localID, serverID string) error {
	query := fmt.Sprintf(`
	UPDATE %s SET
		server_id = ?,
		data = json_set(data, '$.server_id', ?)
	WHERE local_id = ?`, table)

	res, err := s.conn.ExecContext(ctx, query, serverID, serverID, localID)
	if err != nil {
		return fmt.Errorf("failed to attach server id to %s %s: %w", table, localID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("draft %s not found in %s", localID, table)
	}
	return nil
}
