// Package schema provides the data structures shared by the fieldsync
// local store and sync engine.
//
// Cached entities mirror the server's field layout exactly: the local copy
// of a cached record is always a verbatim snapshot of some server state as
// of some pull timestamp. Field-level local edits never happen on cached
// entities; locally originated work lives in drafts (see draft.go).
package schema

import (
	"fmt"
	"time"
)

// Collection identifies one of the cached-entity collections mirrored from
// the server. Each collection has its own table, watermark, and pull cycle.
type Collection string

const (
	CollectionBeneficiaries Collection = "beneficiaries"
	CollectionHouseholds    Collection = "households"
	CollectionProjects      Collection = "projects"
	CollectionActivities    Collection = "activities"
)

// Collections lists every cached-entity collection in pull order.
func Collections() []Collection {
	return []Collection{
		CollectionBeneficiaries,
		CollectionHouseholds,
		CollectionProjects,
		CollectionActivities,
	}
}

// Valid reports whether c names a known cached-entity collection.
func (c Collection) Valid() bool {
	switch c {
	case CollectionBeneficiaries, CollectionHouseholds, CollectionProjects, CollectionActivities:
		return true
	}
	return false
}

// Beneficiary is a person registered with the organization.
type Beneficiary struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	BranchID    string    `json:"branch_id,omitempty"`
	HouseholdID string    `json:"household_id,omitempty"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Status      string    `json:"status"` // active, inactive, archived
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the fields required before a beneficiary row may be cached.
func (b *Beneficiary) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.OrgID == "" {
		return fmt.Errorf("org_id is required")
	}
	if b.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Household groups beneficiaries living under one roof.
type Household struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	OfficeID  string    `json:"office_id,omitempty"`
	HeadName  string    `json:"head_name"`
	Size      int       `json:"size"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields required before a household row may be cached.
func (h *Household) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("id is required")
	}
	if h.OrgID == "" {
		return fmt.Errorf("org_id is required")
	}
	if h.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Project is a funded programme of work.
type Project struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"` // planned, active, closed
	Budget    float64    `json:"budget,omitempty"`
	StartsAt  *time.Time `json:"starts_at,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate checks the fields required before a project row may be cached.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.OrgID == "" {
		return fmt.Errorf("org_id is required")
	}
	if p.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Activity is a scheduled event under a project (a distribution day, a
// training session, a field visit).
type Activity struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	ProjectID string     `json:"project_id"`
	Name      string     `json:"name"`
	Location  string     `json:"location,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate checks the fields required before an activity row may be cached.
func (a *Activity) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.OrgID == "" {
		return fmt.Errorf("org_id is required")
	}
	if a.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}
