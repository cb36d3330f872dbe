// Package outreach tracks outreach efforts: the logical unit spanning
// possibly multiple call attempts toward resolving one contact goal for
// one patient within one campaign run.
package outreach

import (
	"time"

	"github.com/google/uuid"
)

// ResolutionStatus is the lifecycle state of an outreach effort.
type ResolutionStatus string

const (
	ResolutionOpen      ResolutionStatus = "open"
	ResolutionVoicemail ResolutionStatus = "voicemail"
	ResolutionFollowUp  ResolutionStatus = "follow_up"
	ResolutionCallback  ResolutionStatus = "callback"
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionNoContact ResolutionStatus = "no_contact"
)

// IsOpenFamily reports whether the status still counts as an active
// effort for hot-swap lookup purposes.
func (s ResolutionStatus) IsOpenFamily() bool {
	return s == ResolutionOpen || s == ResolutionVoicemail || s == ResolutionFollowUp
}

// IsTerminal reports whether the effort is finished.
func (s ResolutionStatus) IsTerminal() bool {
	return s == ResolutionResolved || s == ResolutionNoContact
}

// Effort is one logical multi-call attempt to reach a patient.
type Effort struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	PatientID        uuid.UUID
	CampaignID       uuid.UUID
	RunID            *uuid.UUID
	RowID            *uuid.UUID
	OriginalCallID   *uuid.UUID
	LastCallID       *uuid.UUID
	ResolutionStatus ResolutionStatus
	CallbackCount    int
	Variables        map[string]interface{}
	Metadata         map[string]interface{}
	ResolvedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
