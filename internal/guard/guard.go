// Package guard enforces the online-only policy for sensitive cases.
//
// Certain case subtypes (gender-based violence, child protection, and a
// general "other protection" category) must never be materialized into the
// local cache, so every access path for them is gated on live
// connectivity. This gate is deliberately independent of the sync engine's
// generic online/offline check: relaxing the general offline policy for
// more entity types can never weaken protection-case handling, because the
// guard is a separate, narrower-scoped veto rather than a flag inside the
// sync path.
package guard

import (
	"time"

	"github.com/reliefbase/fieldsync/internal/remote"
)

// Sensitive case subtypes. Closed set: classification is a fixed
// membership test, not configuration.
const (
	CaseTypeGBV             = "gbv"
	CaseTypeChildProtection = "child_protection"
	CaseTypeOtherProtection = "other_protection"
)

var sensitiveTypes = map[string]bool{
	CaseTypeGBV:             true,
	CaseTypeChildProtection: true,
	CaseTypeOtherProtection: true,
}

// IsSensitive reports whether caseType is always online-only.
func IsSensitive(caseType string) bool {
	return sensitiveTypes[caseType]
}

// Decision is the outcome of a policy check. A denial is a normal,
// expected result the UI renders as a blocking message; it is never an
// error and never bypassed by retry logic.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// offlineReason is the uniform denial message for every offline check.
const offlineReason = "sensitive case records require an active connection"

// Guard evaluates access policy for sensitive case records against live
// connectivity.
type Guard struct {
	connectivity remote.ConnectivityProvider
}

// New creates a Guard reading connectivity from the given provider.
func New(connectivity remote.ConnectivityProvider) *Guard {
	return &Guard{connectivity: connectivity}
}

// decide is the single gate behind every check. All four checks deny
// uniformly when offline and allow uniformly when online; there is no
// case-by-case exception, so sensitive data can never have been cached for
// an "offline read of a previously cached record" to exist.
func (g *Guard) decide() Decision {
	if g.connectivity.Online() {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: offlineReason}
}

// CanAccess reports whether a sensitive case may be read right now.
func (g *Guard) CanAccess() Decision {
	return g.decide()
}

// CanCreate reports whether a sensitive case may be created right now.
func (g *Guard) CanCreate() Decision {
	return g.decide()
}

// CanEdit reports whether a sensitive case may be edited right now.
func (g *Guard) CanEdit() Decision {
	return g.decide()
}

// CanViewAttachments reports whether a sensitive case's attachments may be
// viewed right now. Attachments follow the same uniform gate as the record
// itself.
func (g *Guard) CanViewAttachments() Decision {
	return g.decide()
}

// CaseRecord is the case shape the guard redacts. Only the projection
// fields and the fields that must be withheld are modeled; anything else a
// case carries stays behind the backend.
type CaseRecord struct {
	ID            string    `json:"id"`
	CaseNumber    string    `json:"case_number"`
	CaseType      string    `json:"case_type"`
	Status        string    `json:"status"`
	Title         string    `json:"title,omitempty"`
	Description   string    `json:"description,omitempty"`
	BeneficiaryID string    `json:"beneficiary_id,omitempty"`
	ReporterName  string    `json:"reporter_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RedactionMarker replaces every withheld field in a redacted projection.
const RedactionMarker = "[REDACTED]"

// RedactedCase is the minimal, non-sensitive projection presented to a
// viewer lacking authorization.
type RedactedCase struct {
	ID         string    `json:"id"`
	CaseNumber string    `json:"case_number"`
	CaseType   string    `json:"case_type"`
	Status     string    `json:"status"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
}

// Redact produces the non-sensitive projection of a case. The title,
// description, and any party identity are never echoed back, regardless of
// the input's shape.
func Redact(c *CaseRecord) *RedactedCase {
	return &RedactedCase{
		ID:         c.ID,
		CaseNumber: c.CaseNumber,
		CaseType:   c.CaseType,
		Status:     c.Status,
		Title:      RedactionMarker,
		CreatedAt:  c.CreatedAt,
	}
}
