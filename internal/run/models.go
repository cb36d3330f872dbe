// Package run owns the run/row lifecycle: the state machine that takes a
// run from draft to completed, the per-row dispatch bookkeeping, and the
// aggregate call metrics the dashboard consumes.
package run

import (
	"time"

	"github.com/google/uuid"
)

// Status is the run lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusScheduled  Status = "scheduled"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// RowStatus is the per-row dispatch state. Transitions are monotonic
// except callback, which may follow completed or failed when the patient
// calls back.
type RowStatus string

const (
	RowStatusPending   RowStatus = "pending"
	RowStatusCalling   RowStatus = "calling"
	RowStatusCompleted RowStatus = "completed"
	RowStatusFailed    RowStatus = "failed"
	RowStatusSkipped   RowStatus = "skipped"
	RowStatusCallback  RowStatus = "callback"
)

// CanStart reports whether a run in the given status may be started or resumed.
func CanStart(s Status) bool {
	return s == StatusReady || s == StatusPaused || s == StatusScheduled
}

// CanPause reports whether a run in the given status may be paused.
func CanPause(s Status) bool {
	return s == StatusRunning
}

// Metrics holds the aggregate call counters for a run. Counters are stored
// as dedicated columns and updated with atomic SQL increments; the struct
// is only an assembled read view.
type Metrics struct {
	RowsTotal      int `json:"rowsTotal"`
	RowsInvalid    int `json:"rowsInvalid"`
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Calling        int `json:"calling"`
	Pending        int `json:"pending"`
	Skipped        int `json:"skipped"`
	Voicemail      int `json:"voicemail"`
	Connected      int `json:"connected"`
	Converted      int `json:"converted"`
	InboundReturns int `json:"inboundReturns"`
	CallbackCount  int `json:"callbackCount"`
}

// Run is one execution of a campaign against an uploaded batch.
type Run struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	CampaignID       uuid.UUID
	Name             string
	Status           Status
	Metrics          Metrics
	CallbackCallIDs  []uuid.UUID
	StartTime        *time.Time
	EndTime          *time.Time
	DurationSeconds  *int
	LastPausedAt     *time.Time
	ScheduledAt      *time.Time
	RawFileURL       *string
	ProcessedFileURL *string
	ErrorMessage     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Row is one patient+campaign-variable record within a run.
type Row struct {
	ID        uuid.UUID
	RunID     uuid.UUID
	OrgID     uuid.UUID
	PatientID *uuid.UUID
	Variables map[string]interface{}
	Status    RowStatus
	SortIndex int
	Analysis  map[string]interface{}
	Error     *string
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}
