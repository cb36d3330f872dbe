package outreach

import (
	"strings"

	"carecall_backend/internal/call"
)

// resolutionIndicatorKeys are the analysis fields whose truthy value marks
// an outbound effort as resolved.
var resolutionIndicatorKeys = []string{
	"appointment_confirmed",
	"medication_confirmed",
	"issue_resolved",
	"agreed_to_schedule",
	"agreed_to_reschedule",
	"transferred",
}

// DecideOutboundResolution decides the resolution an effort should carry
// after an outbound terminal webhook: resolved when any resolution
// indicator is truthy or callback_requested is explicitly false,
// otherwise the effort stays open.
func DecideOutboundResolution(analysis map[string]interface{}) ResolutionStatus {
	for _, key := range resolutionIndicatorKeys {
		if truthy(analysis[key]) {
			return ResolutionResolved
		}
	}

	if raw, ok := analysis["callback_requested"]; ok {
		if b, isBool := raw.(bool); isBool && !b {
			return ResolutionResolved
		}
		if s, isString := raw.(string); isString && strings.EqualFold(strings.TrimSpace(s), "false") {
			return ResolutionResolved
		}
	}

	return ResolutionOpen
}

// DeriveStandaloneResolution derives a resolution for calls with no row
// linkage (manual or legacy calls the dispatcher never saw).
func DeriveStandaloneResolution(status call.Status, insights call.Insights) ResolutionStatus {
	switch {
	case status == call.StatusFailed:
		return ResolutionNoContact
	case status == call.StatusVoicemail || insights.VoicemailLeft:
		return ResolutionVoicemail
	case insights.PatientReached:
		return ResolutionResolved
	default:
		return ResolutionOpen
	}
}

func truthy(raw interface{}) bool {
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
