package call

import "carecall_backend/internal/run"

// MapCallStatus translates the provider call-status vocabulary into the
// call status enum. Unknown statuses map to pending; the second return
// value is false so callers can log a warning.
func MapCallStatus(providerStatus string) (Status, bool) {
	switch providerStatus {
	case "registered", "ongoing":
		return StatusInProgress, true
	case "ended":
		return StatusCompleted, true
	case "error":
		return StatusFailed, true
	case "voicemail":
		return StatusVoicemail, true
	default:
		return StatusPending, false
	}
}

// MapRowStatus translates the provider call-status vocabulary into the
// row status enum. Voicemail collapses into completed: from the batch
// perspective the row's attempt was made, even though the call status
// keeps voicemail distinct for insight extraction.
func MapRowStatus(providerStatus string) (run.RowStatus, bool) {
	switch providerStatus {
	case "registered":
		return run.RowStatusPending, true
	case "ongoing":
		return run.RowStatusCalling, true
	case "ended", "voicemail":
		return run.RowStatusCompleted, true
	case "error":
		return run.RowStatusFailed, true
	default:
		return run.RowStatusPending, false
	}
}
