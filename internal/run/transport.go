package run

import (
	"time"

	"github.com/google/uuid"
)

// CreateRunRequest is the request body for creating a run.
type CreateRunRequest struct {
	CampaignID uuid.UUID `json:"campaignId" validate:"required"`
	Name       string    `json:"name" validate:"required,min=1,max=200"`
	RawFileURL *string   `json:"rawFileUrl,omitempty"`
}

// RowUpload is one batch record in an ingest request.
type RowUpload struct {
	PhoneNumber string                 `json:"phoneNumber" validate:"required"`
	FirstName   string                 `json:"firstName"`
	LastName    string                 `json:"lastName"`
	Variables   map[string]interface{} `json:"variables"`
}

// IngestRequest is the request body for uploading a run's batch rows.
type IngestRequest struct {
	Rows []RowUpload `json:"rows" validate:"required,min=1,dive"`
}

// ScheduleRequest is the request body for scheduling a run start.
type ScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
}

// SkipRowRequest is the request body for skipping a pending row.
type SkipRowRequest struct {
	Reason string `json:"reason"`
}

// RunResponse is the API representation of a run.
type RunResponse struct {
	ID               uuid.UUID   `json:"id"`
	OrgID            uuid.UUID   `json:"orgId"`
	CampaignID       uuid.UUID   `json:"campaignId"`
	Name             string      `json:"name"`
	Status           Status      `json:"status"`
	Metrics          Metrics     `json:"metrics"`
	CallbackCallIDs  []uuid.UUID `json:"callbackCallIds"`
	StartTime        *time.Time  `json:"startTime,omitempty"`
	EndTime          *time.Time  `json:"endTime,omitempty"`
	DurationSeconds  *int        `json:"durationSeconds,omitempty"`
	LastPausedAt     *time.Time  `json:"lastPausedAt,omitempty"`
	ScheduledAt      *time.Time  `json:"scheduledAt,omitempty"`
	RawFileURL       *string     `json:"rawFileUrl,omitempty"`
	ProcessedFileURL *string     `json:"processedFileUrl,omitempty"`
	ErrorMessage     *string     `json:"errorMessage,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// RowResponse is the API representation of a run row.
type RowResponse struct {
	ID        uuid.UUID              `json:"id"`
	RunID     uuid.UUID              `json:"runId"`
	PatientID *uuid.UUID             `json:"patientId,omitempty"`
	Variables map[string]interface{} `json:"variables"`
	Status    RowStatus              `json:"status"`
	SortIndex int                    `json:"sortIndex"`
	Analysis  map[string]interface{} `json:"analysis,omitempty"`
	Error     *string                `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// ToRunResponse converts a run to its API shape.
func ToRunResponse(rn *Run) RunResponse {
	ids := rn.CallbackCallIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return RunResponse{
		ID:               rn.ID,
		OrgID:            rn.OrgID,
		CampaignID:       rn.CampaignID,
		Name:             rn.Name,
		Status:           rn.Status,
		Metrics:          rn.Metrics,
		CallbackCallIDs:  ids,
		StartTime:        rn.StartTime,
		EndTime:          rn.EndTime,
		DurationSeconds:  rn.DurationSeconds,
		LastPausedAt:     rn.LastPausedAt,
		ScheduledAt:      rn.ScheduledAt,
		RawFileURL:       rn.RawFileURL,
		ProcessedFileURL: rn.ProcessedFileURL,
		ErrorMessage:     rn.ErrorMessage,
		CreatedAt:        rn.CreatedAt,
		UpdatedAt:        rn.UpdatedAt,
	}
}

// ToRowResponse converts a row to its API shape.
func ToRowResponse(row *Row) RowResponse {
	return RowResponse{
		ID:        row.ID,
		RunID:     row.RunID,
		PatientID: row.PatientID,
		Variables: row.Variables,
		Status:    row.Status,
		SortIndex: row.SortIndex,
		Analysis:  row.Analysis,
		Error:     row.Error,
		Metadata:  row.Metadata,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
