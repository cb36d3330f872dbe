// Package retell is the provider adapter for the Retell voice-AI API.
// It owns the wire types for both webhook directions and the outbound
// call-creation client. Business logic (routing decisions, record
// reconciliation) is not made here.
package retell

// InboundWebhookPayload is the payload Retell delivers when a call comes in
// on one of the organization's numbers. Retell holds the live call while it
// waits for the response, so handlers must answer quickly and must always
// answer with something routable.
type InboundWebhookPayload struct {
	AgentID    string `json:"agent_id"`
	FromNumber string `json:"from_number"`
	ToNumber   string `json:"to_number"`
	CallID     string `json:"call_id,omitempty"`
	Direction  string `json:"direction,omitempty"`
}

// CallInbound carries the routing decision back to Retell.
// All dynamic variable and metadata values must be strings; Retell's
// variable interpolation rejects anything else.
type CallInbound struct {
	OverrideAgentID  *string           `json:"override_agent_id"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
	Metadata         map[string]string `json:"metadata"`
}

// InboundWebhookResponse is the synchronous answer to an inbound call webhook.
type InboundWebhookResponse struct {
	Status      string      `json:"status"`
	Message     string      `json:"message,omitempty"`
	Error       string      `json:"error,omitempty"`
	CallInbound CallInbound `json:"call_inbound"`
}

// CallAnalysis is Retell's post-call analysis block.
type CallAnalysis struct {
	Transcript                string                 `json:"transcript,omitempty"`
	CallSummary               string                 `json:"call_summary,omitempty"`
	InVoicemail               *bool                  `json:"in_voicemail,omitempty"`
	UserSentiment             string                 `json:"user_sentiment,omitempty"`
	CallSuccessful            *bool                  `json:"call_successful,omitempty"`
	CustomAnalysisData        map[string]interface{} `json:"custom_analysis_data,omitempty"`
	CallCompletionRating      string                 `json:"call_completion_rating,omitempty"`
	AgentTaskCompletionRating string                 `json:"agent_task_completion_rating,omitempty"`
}

// PostCallObject is the raw post-call webhook payload.
type PostCallObject struct {
	CallID              string                 `json:"call_id"`
	Direction           string                 `json:"direction,omitempty"`
	AgentID             string                 `json:"agent_id,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	ToNumber            string                 `json:"to_number,omitempty"`
	FromNumber          string                 `json:"from_number,omitempty"`
	CallStatus          string                 `json:"call_status,omitempty"`
	RecordingURL        string                 `json:"recording_url,omitempty"`
	DisconnectionReason string                 `json:"disconnection_reason,omitempty"`
	Transcript          string                 `json:"transcript,omitempty"`
	DurationMs          int64                  `json:"duration_ms,omitempty"`
	StartTimestamp      int64                  `json:"start_timestamp,omitempty"`
	EndTimestamp        int64                  `json:"end_timestamp,omitempty"`
	CallAnalysis        *CallAnalysis          `json:"call_analysis,omitempty"`
}

// PostCallWebhookResponse acknowledges a post-call webhook.
type PostCallWebhookResponse struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	CallID    string                 `json:"callId,omitempty"`
	PatientID string                 `json:"patientId,omitempty"`
	Direction string                 `json:"direction,omitempty"`
	Insights  map[string]interface{} `json:"insights,omitempty"`
}

// CreatePhoneCallRequest starts an outbound call through Retell.
type CreatePhoneCallRequest struct {
	FromNumber                string                 `json:"from_number"`
	ToNumber                  string                 `json:"to_number"`
	OverrideAgentID           string                 `json:"override_agent_id,omitempty"`
	RetellLLMDynamicVariables map[string]string      `json:"retell_llm_dynamic_variables,omitempty"`
	Metadata                  map[string]interface{} `json:"metadata,omitempty"`
}

// CreatePhoneCallResponse is the subset of Retell's response the dispatcher needs.
type CreatePhoneCallResponse struct {
	CallID     string `json:"call_id"`
	AgentID    string `json:"agent_id"`
	CallStatus string `json:"call_status"`
}
