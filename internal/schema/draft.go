package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DraftStatus gates whether the sync engine will transmit a draft.
// A draft stays invisible to the push path until the user explicitly
// marks it ready.
type DraftStatus string

const (
	DraftStatusDraft DraftStatus = "draft"
	DraftStatusReady DraftStatus = "ready_to_sync"
)

// NewLocalID returns a client-generated identifier for locally originated
// records. It is distinct from the eventual server id, which is unknown
// until the record first round-trips through the sync queue.
func NewLocalID() string {
	return uuid.NewString()
}

// ItemLine is one commodity line inside a distribution draft.
type ItemLine struct {
	ItemName string  `json:"item_name"`
	Unit     string  `json:"unit,omitempty"`
	Quantity float64 `json:"quantity"`
}

// RecipientLine records one beneficiary receiving goods in a distribution.
type RecipientLine struct {
	BeneficiaryID string `json:"beneficiary_id"`
	Received      bool   `json:"received"`
	Note          string `json:"note,omitempty"`
}

// DistributionDraft is a distribution composed in the field, possibly while
// offline. It carries a local id until the create round-trips and the
// server id comes back.
type DistributionDraft struct {
	LocalID    string          `json:"local_id"`
	ServerID   string          `json:"server_id,omitempty"`
	OrgID      string          `json:"org_id"`
	ProjectID  string          `json:"project_id"`
	ActivityID string          `json:"activity_id,omitempty"`
	Title      string          `json:"title"`
	Status     DraftStatus     `json:"status"`
	Items      []ItemLine      `json:"items"`
	Recipients []RecipientLine `json:"recipients"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Validate checks a distribution draft before it is persisted.
func (d *DistributionDraft) Validate() error {
	if d.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if d.OrgID == "" {
		return fmt.Errorf("org_id is required")
	}
	if d.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	switch d.Status {
	case DraftStatusDraft, DraftStatusReady:
	default:
		return fmt.Errorf("invalid draft status %q", d.Status)
	}
	for i, item := range d.Items {
		if item.ItemName == "" {
			return fmt.Errorf("item %d: item_name is required", i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive (got %v)", i, item.Quantity)
		}
	}
	for i, r := range d.Recipients {
		if r.BeneficiaryID == "" {
			return fmt.Errorf("recipient %d: beneficiary_id is required", i)
		}
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (d *DistributionDraft) SetDefaults() {
	if d.LocalID == "" {
		d.LocalID = NewLocalID()
	}
	if d.Status == "" {
		d.Status = DraftStatusDraft
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
}

// FieldNote is a free-text observation recorded in the field.
type FieldNote struct {
	LocalID   string      `json:"local_id"`
	ServerID  string      `json:"server_id,omitempty"`
	OrgID     string      `json:"org_id"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body,omitempty"`
	Status    DraftStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Validate checks a field note before it is persisted.
func (n *FieldNote) Validate() error {
	if n.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if n.OrgID == "" {
		return fmt.Errorf("org_id is required")
	}
	if n.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	switch n.Status {
	case DraftStatusDraft, DraftStatusReady:
	default:
		return fmt.Errorf("invalid draft status %q", n.Status)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (n *FieldNote) SetDefaults() {
	if n.LocalID == "" {
		n.LocalID = NewLocalID()
	}
	if n.Status == "" {
		n.Status = DraftStatusDraft
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
}
