// Package realtime provides the fire-and-forget publish interface for
// live dashboard updates. Events fan out over Redis pub/sub on
// org/run/campaign namespaced channels; publish failures are logged and
// swallowed, never surfaced to callers.
package realtime

import (
	"context"

	"github.com/google/uuid"
)

// Event names in the realtime catalogue.
const (
	EventRunUpdated       = "run-updated"
	EventRunStatusChanged = "run-status-changed"
	EventCallUpdated      = "call-updated"
	EventCallCompleted    = "call-completed"
	EventInboundCall      = "inbound-call"
	EventMetricsUpdated   = "metrics-updated"
	EventRowUpdated       = "row-updated"
)

// Publisher delivers realtime events. Implementations must not return
// errors to callers and must not block beyond the context deadline.
type Publisher interface {
	Publish(ctx context.Context, channel string, event string, payload interface{})
}

// OrgChannel returns the org-scoped channel name.
func OrgChannel(orgID uuid.UUID) string {
	return "org-" + orgID.String()
}

// RunChannel returns the run-scoped channel name.
func RunChannel(runID uuid.UUID) string {
	return "run-" + runID.String()
}

// CampaignChannel returns the campaign-scoped channel name.
func CampaignChannel(campaignID uuid.UUID) string {
	return "campaign-" + campaignID.String()
}

// Noop is a Publisher that drops all events. Used when Redis is not
// configured and in tests.
type Noop struct{}

// Publish drops the event.
func (Noop) Publish(context.Context, string, string, interface{}) {}
