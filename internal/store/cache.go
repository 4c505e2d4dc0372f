package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/reliefbase/fieldsync/internal/schema"
)

// ErrNotFound is returned when a record lookup matches no row.
var ErrNotFound = sql.ErrNoRows

// BulkUpsertRecords unconditionally upserts raw server records into the
// cached-entity region for collection. Each record fully replaces any
// existing row with the same id; there is no partial-field merge. Records
// are applied in a single transaction.
//
// This is the only write path into the cached-entity regions and is used
// exclusively by the pull phase.
func (s *Store) BulkUpsertRecords(ctx context.Context, collection schema.Collection, records []json.RawMessage) (int, error) {
	if !collection.Valid() {
		return 0, fmt.Errorf("unknown collection %q", collection)
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, raw := range records {
		if err := upsertRecord(ctx, tx, collection, raw); err != nil {
			return 0, fmt.Errorf("failed to upsert %s record: %w", collection, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return count, nil
}

// upsertRecord decodes the indexed columns for one record and writes the
// verbatim snapshot into the data column.
func upsertRecord(ctx context.Context, tx *sql.Tx, collection schema.Collection, raw json.RawMessage) error {
	switch collection {
	case schema.CollectionBeneficiaries:
		var b schema.Beneficiary
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("failed to decode beneficiary: %w", err)
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid beneficiary: %w", err)
		}
		query := `
		INSERT INTO beneficiaries (id, org_id, branch_id, status, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			branch_id = excluded.branch_id,
			status = excluded.status,
			updated_at = excluded.updated_at,
			data = excluded.data
		`
		_, err := tx.ExecContext(ctx, query,
			b.ID, b.OrgID, b.BranchID, b.Status, b.UpdatedAt.Format(time.RFC3339), string(raw))
		return err

	case schema.CollectionHouseholds:
		var h schema.Household
		if err := json.Unmarshal(raw, &h); err != nil {
			return fmt.Errorf("failed to decode household: %w", err)
		}
		if err := h.Validate(); err != nil {
			return fmt.Errorf("invalid household: %w", err)
		}
		query := `
		INSERT INTO households (id, org_id, office_id, updated_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			office_id = excluded.office_id,
			updated_at = excluded.updated_at,
			data = excluded.data
		`
		_, err := tx.ExecContext(ctx, query,
			h.ID, h.OrgID, h.OfficeID, h.UpdatedAt.Format(time.RFC3339), string(raw))
		return err

	case schema.CollectionProjects:
		var p schema.Project
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("failed to decode project: %w", err)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid project: %w", err)
		}
		query := `
		INSERT INTO projects (id, org_id, status, updated_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			status = excluded.status,
			updated_at = excluded.updated_at,
			data = excluded.data
		`
		_, err := tx.ExecContext(ctx, query,
			p.ID, p.OrgID, p.Status, p.UpdatedAt.Format(time.RFC3339), string(raw))
		return err

	case schema.CollectionActivities:
		var a schema.Activity
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("failed to decode activity: %w", err)
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("invalid activity: %w", err)
		}
		query := `
		INSERT INTO activities (id, org_id, project_id, updated_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			project_id = excluded.project_id,
			updated_at = excluded.updated_at,
			data = excluded.data
		`
		_, err := tx.ExecContext(ctx, query,
			a.ID, a.OrgID, a.ProjectID, a.UpdatedAt.Format(time.RFC3339), string(raw))
		return err
	}

	return fmt.Errorf("unknown collection %q", collection)
}

// GetRecord retrieves one cached record's verbatim snapshot by id.
// Returns ErrNotFound if no row matches.
func (s *Store) GetRecord(ctx context.Context, collection schema.Collection, id string) (json.RawMessage, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	var data string
	query := fmt.Sprintf("SELECT data FROM %s WHERE id = ?", collection)
	if err := s.conn.QueryRowContext(ctx, query, id).Scan(&data); err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// BeneficiaryFilter configures the Beneficiaries query. OrgID is required;
// the optional fields narrow the result via the compound indexes.
type BeneficiaryFilter struct {
	OrgID    string
	BranchID string
	Status   string
	Limit    int
}

// Beneficiaries retrieves cached beneficiaries matching the filter,
// ordered by updated_at DESC.
func (s *Store) Beneficiaries(ctx context.Context, filter BeneficiaryFilter) ([]*schema.Beneficiary, error) {
	if filter.OrgID == "" {
		return nil, fmt.Errorf("org_id is required")
	}

	conditions := []string{"org_id = ?"}
	args := []interface{}{filter.OrgID}

	if filter.BranchID != "" {
		conditions = append(conditions, "branch_id = ?")
		args = append(args, filter.BranchID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	rows, err := s.queryData(ctx, "beneficiaries", conditions, args, filter.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]*schema.Beneficiary, 0, len(rows))
	for _, raw := range rows {
		var b schema.Beneficiary
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("failed to decode beneficiary: %w", err)
		}
		out = append(out, &b)
	}
	return out, nil
}

// HouseholdFilter configures the Households query.
type HouseholdFilter struct {
	OrgID    string
	OfficeID string
	Limit    int
}

// Households retrieves cached households matching the filter.
func (s *Store) Households(ctx context.Context, filter HouseholdFilter) ([]*schema.Household, error) {
	if filter.OrgID == "" {
		return nil, fmt.Errorf("org_id is required")
	}

	conditions := []string{"org_id = ?"}
	args := []interface{}{filter.OrgID}

	if filter.OfficeID != "" {
		conditions = append(conditions, "office_id = ?")
		args = append(args, filter.OfficeID)
	}

	rows, err := s.queryData(ctx, "households", conditions, args, filter.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]*schema.Household, 0, len(rows))
	for _, raw := range rows {
		var h schema.Household
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("failed to decode household: %w", err)
		}
		out = append(out, &h)
	}
	return out, nil
}

// ProjectFilter configures the Projects query.
type ProjectFilter struct {
	OrgID  string
	Status string
	Limit  int
}

// Projects retrieves cached projects matching the filter.
func (s *Store) Projects(ctx context.Context, filter ProjectFilter) ([]*schema.Project, error) {
	if filter.OrgID == "" {
		return nil, fmt.Errorf("org_id is required")
	}

	conditions := []string{"org_id = ?"}
	args := []interface{}{filter.OrgID}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	rows, err := s.queryData(ctx, "projects", conditions, args, filter.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]*schema.Project, 0, len(rows))
	for _, raw := range rows {
		var p schema.Project
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode project: %w", err)
		}
		out = append(out, &p)
	}
	return out, nil
}

// ActivityFilter configures the Activities query.
type ActivityFilter struct {
	OrgID     string
	ProjectID string
	Limit     int
}

// Activities retrieves cached activities matching the filter.
func (s *Store) Activities(ctx context.Context, filter ActivityFilter) ([]*schema.Activity, error) {
	if filter.OrgID == "" {
		return nil, fmt.Errorf("org_id is required")
	}

	conditions := []string{"org_id = ?"}
	args := []interface{}{filter.OrgID}

	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}

	rows, err := s.queryData(ctx, "activities", conditions, args, filter.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]*schema.Activity, 0, len(rows))
	for _, raw := range rows {
		var a schema.Activity
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("failed to decode activity: %w", err)
		}
		out = append(out, &a)
	}
	return out, nil
}

// queryData runs an index-backed filter against a cached-entity table and
// returns the raw snapshots.
func (s *Store) queryData(ctx context.Context, table string, conditions []string, args []interface{}, limit int) ([]json.RawMessage, error) {
	query := "SELECT data FROM " + table +
		" WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY updated_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		out = append(out, json.RawMessage(data))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}

	return out, nil
}
