// Package campaign provides the reusable calling configuration a run
// executes: agent identity, prompt templates, field schemas, and the
// analysis-field configuration used to project provider analysis payloads.
package campaign

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the calling direction a campaign is configured for.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// FieldType is the value type of a schema field.
type FieldType string

const (
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeString  FieldType = "string"
	FieldTypeDate    FieldType = "date"
	FieldTypeEnum    FieldType = "enum"
)

// Field describes one patient or campaign variable column.
type Field struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// AnalysisField describes one post-call analysis output field.
type AnalysisField struct {
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	Type      FieldType `json:"type"`
	Options   []string  `json:"options,omitempty"`
	Required  bool      `json:"required"`
	IsMainKPI bool      `json:"isMainKPI"`
}

// Campaign is a reusable calling configuration. Immutable during a run;
// referenced by id.
type Campaign struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	Name             string
	AgentID          string
	Direction        Direction
	BasePrompt       string
	VoicemailMessage string
	PatientFields    []Field
	CampaignFields   []Field
	AnalysisFields   []AnalysisField
	IsActive         bool
	IsDefaultInbound bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StandardAnalysisFields are reported by every agent regardless of
// campaign-specific configuration.
var StandardAnalysisFields = []AnalysisField{
	{Key: "patient_reached", Label: "Patient Reached", Type: FieldTypeBoolean},
	{Key: "voicemail_left", Label: "Voicemail Left", Type: FieldTypeBoolean},
	{Key: "callback_requested", Label: "Callback Requested", Type: FieldTypeBoolean},
	{Key: "patient_questions", Label: "Patient Questions", Type: FieldTypeString},
}
