// Package patient provides patient identity keyed by phone number within
// an organization. Patients are created on demand when an inbound caller
// cannot be matched.
package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient is a minimal patient identity record.
type Patient struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	FirstName string
	LastName  string
	DOB       time.Time
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPlaceholder reports whether the record was auto-created from an
// unmatched inbound caller.
func (p *Patient) IsPlaceholder() bool {
	return p.FirstName == placeholderFirstName && p.LastName == placeholderLastName
}

const (
	placeholderFirstName = "Unknown"
	placeholderLastName  = "Caller"
)
