package webhook

import (
	"context"
	"strings"
	"time"

	"carecall_backend/internal/call"
	"carecall_backend/internal/realtime"
	"carecall_backend/internal/retell"

	"github.com/google/uuid"
)

// HandleInbound resolves a live inbound call to a patient and an agent.
// Retell holds the caller while waiting for this response, so the method
// never returns an error: every internal failure degrades to a routable
// fallback (nil override agent, minimal variables).
func (s *Service) HandleInbound(ctx context.Context, orgID uuid.UUID, payload retell.InboundWebhookPayload) retell.InboundWebhookResponse {
	log := s.log.WithContext(ctx)
	log.WebhookEvent("inbound", payload.CallID, "inbound")

	if strings.TrimSpace(payload.FromNumber) == "" {
		return inboundFallback("from_number is required")
	}
	toNumber := strings.TrimSpace(payload.ToNumber)
	if toNumber == "" {
		toNumber = "unknown"
	}

	o, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		log.WebhookError("inbound", "resolve organization", err)
		return inboundFallback("organization lookup failed")
	}
	if o == nil {
		return inboundFallback("organization not found")
	}

	pat, err := s.patients.GetByPhone(ctx, orgID, payload.FromNumber)
	if err != nil {
		log.WebhookError("inbound", "patient lookup", err)
		return inboundFallback("patient lookup failed")
	}
	if pat == nil {
		pat, err = s.patients.CreatePlaceholder(ctx, orgID, payload.FromNumber)
		if err != nil {
			log.WebhookError("inbound", "create placeholder patient", err)
			return inboundFallback("patient creation failed")
		}
	}

	effort, err := s.efforts.GetOpenByPatient(ctx, orgID, pat.ID)
	if err != nil {
		// Degrade to the no-effort path rather than dropping the call.
		log.WebhookError("inbound", "open effort lookup", err)
		effort = nil
	}

	now := time.Now().UTC()
	inboundCall := &call.Call{
		ID:             uuid.New(),
		OrgID:          orgID,
		ProviderCallID: "inbound-" + uuid.NewString(),
		Direction:      call.DirectionInbound,
		Status:         call.StatusInProgress,
		AgentID:        payload.AgentID,
		PatientID:      &pat.ID,
		ToNumber:       toNumber,
		FromNumber:     pat.Phone,
		StartTime:      &now,
	}

	variables := map[string]interface{}{
		"patient_first_name": pat.FirstName,
		"patient_last_name":  pat.LastName,
		"phone_number":       pat.Phone,
	}
	metadata := map[string]interface{}{
		"callId":    inboundCall.ID.String(),
		"patientId": pat.ID.String(),
	}

	var overrideAgentID *string

	if effort != nil {
		camp, campErr := s.campaigns.GetByID(ctx, effort.CampaignID, orgID)
		if campErr != nil {
			log.WebhookError("inbound", "hot-swap campaign lookup", campErr)
			effort = nil
		} else {
			agentID := camp.AgentID
			overrideAgentID = &agentID
			inboundCall.AgentID = agentID
			inboundCall.CampaignID = &effort.CampaignID
			inboundCall.RunID = effort.RunID
			inboundCall.RowID = effort.RowID
			inboundCall.OutreachEffortID = &effort.ID
			inboundCall.RelatedOutboundCallID = effort.LastCallID

			for k, v := range effort.Variables {
				variables[k] = v
			}
			variables["is_return_call"] = true

			metadata["campaignId"] = effort.CampaignID.String()
			metadata["outreachEffortId"] = effort.ID.String()
			metadata["isReturnCall"] = true
			metadata["hotSwapPerformed"] = true
			if effort.RunID != nil {
				metadata["runId"] = effort.RunID.String()
			}
			if effort.RowID != nil {
				metadata["rowId"] = effort.RowID.String()
			}
			if effort.LastCallID != nil {
				metadata["previousCallId"] = effort.LastCallID.String()
			}
		}
	}

	if effort == nil {
		camp, campErr := s.campaigns.GetDefaultInbound(ctx, orgID)
		if campErr != nil {
			log.WebhookError("inbound", "default inbound campaign lookup", campErr)
		} else if camp != nil {
			agentID := camp.AgentID
			overrideAgentID = &agentID
			inboundCall.AgentID = agentID
			inboundCall.CampaignID = &camp.ID
			metadata["campaignId"] = camp.ID.String()
		} else {
			// No inbound campaign configured: route with the agent that
			// answered rather than inventing one.
			log.Warn("no inbound campaign configured", "org_id", orgID)
		}
		variables["is_return_call"] = false
		metadata["isReturnCall"] = false
	}

	// Everything below is bookkeeping: the routing decision above stands
	// even when persistence fails.
	inboundCall.Metadata = map[string]interface{}{"callId": inboundCall.ID.String()}
	if err := s.calls.Create(ctx, inboundCall); err != nil {
		log.WebhookError("inbound", "create call record", err)
	} else if effort != nil {
		if err := s.efforts.LinkCall(ctx, effort.ID, orgID, inboundCall.ID); err != nil {
			log.WebhookError("inbound", "link call to effort", err)
		}
		s.markRowCallback(ctx, orgID, effort.RowID, inboundCall.ID)
		if effort.RunID != nil {
			if err := s.runs.RecordInboundReturn(ctx, orgID, *effort.RunID); err != nil {
				log.WebhookError("inbound", "record inbound return", err)
			}
		}
	}

	s.events.Publish(ctx, realtime.OrgChannel(orgID), realtime.EventInboundCall, map[string]interface{}{
		"callId":       inboundCall.ID,
		"patientId":    pat.ID,
		"fromNumber":   pat.Phone,
		"isReturnCall": effort != nil,
	})

	return retell.InboundWebhookResponse{
		Status: "success",
		CallInbound: retell.CallInbound{
			OverrideAgentID:  overrideAgentID,
			DynamicVariables: retell.ToProviderVariables(variables),
			Metadata:         retell.ToProviderVariables(metadata),
		},
	}
}

// markRowCallback flags the dispatched row as called-back and rolls the
// callback counters into the run.
func (s *Service) markRowCallback(ctx context.Context, orgID uuid.UUID, rowID *uuid.UUID, callID uuid.UUID) {
	if rowID == nil {
		return
	}

	row, err := s.runs.GetRow(ctx, orgID, *rowID)
	if err != nil {
		s.log.WebhookError("inbound", "load row for callback", err)
		return
	}

	if row.Metadata == nil {
		row.Metadata = map[string]interface{}{}
	}
	row.Metadata["isReturnCall"] = true
	row.Metadata["isCallback"] = true
	row.Metadata["previousStatus"] = string(row.Status)
	row.Metadata["callbackCallId"] = callID.String()
	row.Metadata["callbackAt"] = time.Now().UTC().Format(time.RFC3339)

	if err := s.runs.RecordCallback(ctx, orgID, row, callID); err != nil {
		s.log.WebhookError("inbound", "record callback", err)
	}
}

// inboundFallback is the degraded answer: no override agent, so the
// provider routes with the agent already attached to the number.
func inboundFallback(reason string) retell.InboundWebhookResponse {
	return retell.InboundWebhookResponse{
		Status: "error",
		Error:  reason,
		CallInbound: retell.CallInbound{
			OverrideAgentID:  nil,
			DynamicVariables: map[string]string{},
			Metadata:         map[string]string{},
		},
	}
}
