// Package call owns individual call attempts: the provider status
// vocabulary mapping, the post-call insight extraction, and the call
// record store.
package call

import (
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes campaign-dispatched calls from patient callbacks.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the call attempt state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusVoicemail  Status = "voicemail"
)

// IsTerminal reports whether the status is a final call outcome.
// Used as the idempotency guard for run metric increments: a redelivered
// terminal webhook for an already-terminal call must not count again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusVoicemail
}

// Call is one discrete call attempt, one per provider call id.
// Inbound calls are first created with a locally generated placeholder
// provider id and matched later through Metadata["callId"].
type Call struct {
	ID                    uuid.UUID
	OrgID                 uuid.UUID
	ProviderCallID        string
	Direction             Direction
	Status                Status
	AgentID               string
	PatientID             *uuid.UUID
	CampaignID            *uuid.UUID
	RowID                 *uuid.UUID
	RunID                 *uuid.UUID
	OutreachEffortID      *uuid.UUID
	RelatedOutboundCallID *uuid.UUID
	ToNumber              string
	FromNumber            string
	RecordingURL          *string
	Transcript            *string
	Analysis              map[string]interface{}
	DurationSeconds       int
	StartTime             *time.Time
	EndTime               *time.Time
	Error                 *string
	Metadata              map[string]interface{}
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
