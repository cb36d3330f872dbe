// Package webhook is the Retell-facing reconciliation surface: the
// inbound handler that routes live calls (agent hot-swap) and the
// post-call handler that maps asynchronous, possibly duplicated,
// possibly out-of-order provider callbacks onto call/row/run/outreach
// records. Both handlers always answer; internal failures degrade to
// partial success instead of propagating.
package webhook

import (
	"context"
	"strings"

	"carecall_backend/internal/call"
	"carecall_backend/internal/campaign"
	"carecall_backend/internal/org"
	"carecall_backend/internal/outreach"
	"carecall_backend/internal/patient"
	"carecall_backend/internal/realtime"
	"carecall_backend/internal/run"
	"carecall_backend/platform/logger"

	"github.com/google/uuid"
)

// conversionIndicatorKeys mark a call as converted when truthy. Checked in
// order; the campaign's main-KPI field (when configured) is checked first.
var conversionIndicatorKeys = []string{
	"appointment_confirmed",
	"medication_confirmed",
	"issue_resolved",
	"agreed_to_schedule",
	"agreed_to_reschedule",
}

// OrgStore verifies webhook org ids.
type OrgStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*org.Organization, error)
}

// PatientStore resolves and creates caller identities.
type PatientStore interface {
	GetByPhone(ctx context.Context, orgID uuid.UUID, rawPhone string) (*patient.Patient, error)
	CreatePlaceholder(ctx context.Context, orgID uuid.UUID, callerPhone string) (*patient.Patient, error)
}

// CampaignStore loads campaign configuration for routing and analysis.
type CampaignStore interface {
	GetByID(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*campaign.Campaign, error)
	GetDefaultInbound(ctx context.Context, orgID uuid.UUID) (*campaign.Campaign, error)
}

// CallStore is the call-record surface the webhook paths use.
type CallStore interface {
	Create(ctx context.Context, c *call.Call) error
	Update(ctx context.Context, c *call.Call) error
	GetByID(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*call.Call, error)
	GetByProviderCallID(ctx context.Context, orgID uuid.UUID, providerCallID string) (*call.Call, error)
	GetByMetadataCallID(ctx context.Context, orgID uuid.UUID, callID string) (*call.Call, error)
	SetOutreachEffort(ctx context.Context, id uuid.UUID, orgID uuid.UUID, effortID uuid.UUID) error
}

// EffortStore is the outreach-effort surface the webhook paths use.
type EffortStore interface {
	Create(ctx context.Context, e *outreach.Effort) error
	GetOpenByPatient(ctx context.Context, orgID uuid.UUID, patientID uuid.UUID) (*outreach.Effort, error)
	LinkCall(ctx context.Context, id uuid.UUID, orgID uuid.UUID, callID uuid.UUID) error
	UpdateResolution(ctx context.Context, id uuid.UUID, orgID uuid.UUID, status outreach.ResolutionStatus, lastCallID *uuid.UUID) error
	ResolveForCallback(ctx context.Context, id uuid.UUID, orgID uuid.UUID, lastCallID *uuid.UUID) error
}

// RunCoordinator is the slice of the run service the webhook paths use.
type RunCoordinator interface {
	GetRow(ctx context.Context, orgID uuid.UUID, rowID uuid.UUID) (*run.Row, error)
	SaveRowOutcome(ctx context.Context, row *run.Row) error
	RecordCallback(ctx context.Context, orgID uuid.UUID, row *run.Row, callID uuid.UUID) error
	RecordInboundReturn(ctx context.Context, orgID uuid.UUID, runID uuid.UUID) error
	ApplyOutboundTerminal(ctx context.Context, orgID uuid.UUID, runID uuid.UUID, outcome run.TerminalOutcome) error
}

// Service implements both webhook directions.
type Service struct {
	orgs      OrgStore
	patients  PatientStore
	campaigns CampaignStore
	calls     CallStore
	efforts   EffortStore
	runs      RunCoordinator
	events    realtime.Publisher
	log       *logger.Logger
}

// NewService creates the webhook service.
func NewService(
	orgs OrgStore,
	patients PatientStore,
	campaigns CampaignStore,
	calls CallStore,
	efforts EffortStore,
	runs RunCoordinator,
	events realtime.Publisher,
	log *logger.Logger,
) *Service {
	return &Service{
		orgs:      orgs,
		patients:  patients,
		campaigns: campaigns,
		calls:     calls,
		efforts:   efforts,
		runs:      runs,
		events:    events,
		log:       log,
	}
}

// isConverted reports whether the analysis indicates the campaign goal was
// met: the main-KPI field when the campaign declares one, else the first
// truthy conversion indicator.
func isConverted(analysis map[string]interface{}, mainKPIKey string) bool {
	if mainKPIKey != "" {
		if truthyValue(analysis[mainKPIKey]) {
			return true
		}
	}
	for _, key := range conversionIndicatorKeys {
		if truthyValue(analysis[key]) {
			return true
		}
	}
	return false
}

func truthyValue(raw interface{}) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		lowered := strings.ToLower(strings.TrimSpace(v))
		return lowered == "true" || lowered == "yes"
	default:
		return false
	}
}
