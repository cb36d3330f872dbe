package webhook

import (
	"context"
	"strings"
	"time"

	"carecall_backend/internal/call"
	"carecall_backend/internal/campaign"
	"carecall_backend/internal/outreach"
	"carecall_backend/internal/realtime"
	"carecall_backend/internal/retell"
	"carecall_backend/internal/run"

	"github.com/google/uuid"
)

// HandlePostCall reconciles a post-call payload against the call, row,
// run and outreach records. Sub-steps are isolated: a failing row update
// must not block the metrics update, and vice versa. The handler always
// returns a response.
func (s *Service) HandlePostCall(ctx context.Context, orgID uuid.UUID, payload retell.PostCallObject) retell.PostCallWebhookResponse {
	log := s.log.WithContext(ctx)

	if strings.TrimSpace(payload.CallID) == "" {
		return retell.PostCallWebhookResponse{Status: "error", Message: "call_id is required"}
	}

	direction := call.DirectionOutbound
	if strings.EqualFold(payload.Direction, string(call.DirectionInbound)) {
		direction = call.DirectionInbound
	}
	log.WebhookEvent("post-call", payload.CallID, string(direction))

	c := s.resolveCall(ctx, orgID, payload, direction)
	if c == nil {
		return retell.PostCallWebhookResponse{
			Status:  "error",
			Message: "call record could not be resolved or created",
			CallID:  payload.CallID,
		}
	}

	// The record's prior status drives the duplicate guard and the
	// calling-counter decrement; capture it before mutating.
	priorStatus := c.Status
	wasInProgress := priorStatus == call.StatusInProgress
	alreadyTerminal := priorStatus.IsTerminal()

	newStatus, known := call.MapCallStatus(payload.CallStatus)
	if !known {
		log.Warn("unknown provider call status", "call_status", payload.CallStatus, "call_id", payload.CallID)
	}

	transcript := payload.Transcript
	var custom map[string]interface{}
	if payload.CallAnalysis != nil {
		if transcript == "" {
			transcript = payload.CallAnalysis.Transcript
		}
		custom = payload.CallAnalysis.CustomAnalysisData
	}

	analysisCfg := s.resolveAnalysisConfig(ctx, orgID, c.CampaignID)
	projected := campaign.ProjectAnalysis(analysisCfg, custom)
	insights := call.ExtractInsights(transcript, custom)

	s.updateCallRecord(ctx, c, payload, newStatus, transcript, projected, insights)

	if c.RowID != nil {
		s.updateRowAndEffort(ctx, orgID, c, payload, newStatus, alreadyTerminal, projected, custom)
	} else if c.PatientID != nil && direction == call.DirectionOutbound && newStatus.IsTerminal() && !alreadyTerminal {
		s.trackStandaloneEffort(ctx, orgID, c, newStatus, insights)
	}

	if c.RunID != nil && direction == call.DirectionOutbound && newStatus.IsTerminal() {
		outcome := run.TerminalOutcome{
			Completed:       newStatus != call.StatusFailed,
			WasInProgress:   wasInProgress,
			Connected:       insights.PatientReached,
			Voicemail:       newStatus == call.StatusVoicemail || insights.VoicemailLeft,
			Converted:       isConverted(custom, analysisCfg.MainKPIKey),
			AlreadyTerminal: alreadyTerminal,
		}
		if err := s.runs.ApplyOutboundTerminal(ctx, orgID, *c.RunID, outcome); err != nil {
			log.WebhookError("post-call", "apply run metrics", err)
		}
	}

	s.publishCallEvents(ctx, orgID, c, newStatus, projected, insights)

	resp := retell.PostCallWebhookResponse{
		Status:    "success",
		Message:   "call processed",
		CallID:    c.ID.String(),
		Direction: string(direction),
		Insights: map[string]interface{}{
			"sentiment":      insights.Sentiment,
			"followUpNeeded": insights.FollowUpNeeded,
			"followUpReason": insights.FollowUpReason,
			"patientReached": insights.PatientReached,
			"voicemailLeft":  insights.VoicemailLeft,
		},
	}
	if c.PatientID != nil {
		resp.PatientID = c.PatientID.String()
	}
	return resp
}

// resolveCall finds the existing call record for a payload, or creates
// one for calls the system never saw dispatched. Inbound payloads match
// by the internal id stamped into provider metadata at inbound-webhook
// time; outbound payloads match by provider call id.
func (s *Service) resolveCall(ctx context.Context, orgID uuid.UUID, payload retell.PostCallObject, direction call.Direction) *call.Call {
	log := s.log.WithContext(ctx)

	if direction == call.DirectionInbound {
		if raw, ok := payload.Metadata["callId"].(string); ok && raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				c, err := s.calls.GetByID(ctx, id, orgID)
				if err == nil {
					return c
				}
			}
			c, err := s.calls.GetByMetadataCallID(ctx, orgID, raw)
			if err != nil {
				log.WebhookError("post-call", "inbound call lookup", err)
			}
			if c != nil {
				return c
			}
		}
	}

	c, err := s.calls.GetByProviderCallID(ctx, orgID, payload.CallID)
	if err != nil {
		log.WebhookError("post-call", "call lookup by provider id", err)
		return nil
	}
	if c != nil {
		return c
	}

	// Manual/legacy path: the dispatcher never created this call.
	created := &call.Call{
		ID:             uuid.New(),
		OrgID:          orgID,
		ProviderCallID: payload.CallID,
		Direction:      direction,
		Status:         call.StatusPending,
		AgentID:        payload.AgentID,
		ToNumber:       payload.ToNumber,
		FromNumber:     payload.FromNumber,
	}

	lookupNumber := payload.ToNumber
	if direction == call.DirectionInbound {
		lookupNumber = payload.FromNumber
	}
	if lookupNumber != "" {
		if pat, patErr := s.patients.GetByPhone(ctx, orgID, lookupNumber); patErr == nil && pat != nil {
			created.PatientID = &pat.ID
		}
	}
	applyMetadataLinkage(created, payload.Metadata)

	if err := s.calls.Create(ctx, created); err != nil {
		log.WebhookError("post-call", "create fallback call record", err)
		return nil
	}
	return created
}

// applyMetadataLinkage copies linkage ids the dispatcher stamped into
// provider metadata onto a lazily created call record.
func applyMetadataLinkage(c *call.Call, metadata map[string]interface{}) {
	parse := func(key string) *uuid.UUID {
		raw, ok := metadata[key].(string)
		if !ok || raw == "" {
			return nil
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil
		}
		return &id
	}

	if id := parse("runId"); id != nil {
		c.RunID = id
	}
	if id := parse("rowId"); id != nil {
		c.RowID = id
	}
	if id := parse("campaignId"); id != nil {
		c.CampaignID = id
	}
	if id := parse("patientId"); id != nil && c.PatientID == nil {
		c.PatientID = id
	}
	if id := parse("outreachEffortId"); id != nil {
		c.OutreachEffortID = id
	}
}

// resolveAnalysisConfig loads the campaign's analysis-field schema; calls
// without a campaign get the standard fields only.
func (s *Service) resolveAnalysisConfig(ctx context.Context, orgID uuid.UUID, campaignID *uuid.UUID) campaign.AnalysisConfig {
	if campaignID == nil {
		return campaign.ResolveAnalysisConfig(nil)
	}
	camp, err := s.campaigns.GetByID(ctx, *campaignID, orgID)
	if err != nil {
		s.log.WebhookError("post-call", "campaign lookup", err)
		return campaign.ResolveAnalysisConfig(nil)
	}
	return campaign.ResolveAnalysisConfig(camp)
}

// updateCallRecord persists the call outcome, preferring payload values
// and falling back to whatever the record already holds.
func (s *Service) updateCallRecord(ctx context.Context, c *call.Call, payload retell.PostCallObject, newStatus call.Status, transcript string, projected map[string]interface{}, insights call.Insights) {
	c.Status = newStatus
	c.ProviderCallID = payload.CallID

	if payload.RecordingURL != "" {
		url := payload.RecordingURL
		c.RecordingURL = &url
	}
	if transcript != "" {
		c.Transcript = &transcript
	}
	if len(projected) > 0 {
		c.Analysis = projected
	}
	if payload.DurationMs > 0 {
		c.DurationSeconds = int(payload.DurationMs / 1000)
	}
	if payload.StartTimestamp > 0 {
		start := time.UnixMilli(payload.StartTimestamp).UTC()
		c.StartTime = &start
	}
	if payload.EndTimestamp > 0 {
		end := time.UnixMilli(payload.EndTimestamp).UTC()
		c.EndTime = &end
	}
	if newStatus == call.StatusFailed {
		reason := payload.DisconnectionReason
		if reason == "" {
			reason = "call failed"
		}
		c.Error = &reason
	}

	if c.Metadata == nil {
		c.Metadata = map[string]interface{}{}
	}
	c.Metadata["insights"] = insights

	if err := s.calls.Update(ctx, c); err != nil {
		s.log.WebhookError("post-call", "update call record", err)
	}
}

// updateRowAndEffort advances the dispatched row and the outreach effort
// behind this call. Inbound callbacks force row status callback and
// resolve the effort unconditionally; outbound outcomes follow the status
// mapper and the resolution rules. A row already in callback stays there:
// the patient calling back outranks the outbound outcome regardless of
// which webhook lands first.
func (s *Service) updateRowAndEffort(ctx context.Context, orgID uuid.UUID, c *call.Call, payload retell.PostCallObject, newStatus call.Status, alreadyTerminal bool, projected, custom map[string]interface{}) {
	log := s.log.WithContext(ctx)

	row, err := s.runs.GetRow(ctx, orgID, *c.RowID)
	if err != nil {
		log.WebhookError("post-call", "load row", err)
		row = nil
	}

	isInboundCallback := c.Direction == call.DirectionInbound && c.OutreachEffortID != nil

	if row != nil {
		if isInboundCallback {
			row.Status = run.RowStatusCallback
			if row.Metadata == nil {
				row.Metadata = map[string]interface{}{}
			}
			row.Metadata["isReturnCall"] = true
			row.Metadata["isCallback"] = true
		} else if row.Status != run.RowStatusCallback {
			rowStatus, known := call.MapRowStatus(payload.CallStatus)
			if !known {
				log.Warn("unknown provider call status for row", "call_status", payload.CallStatus, "row_id", row.ID)
			}
			row.Status = rowStatus
		}

		if len(projected) > 0 {
			row.Analysis = projected
		}
		if newStatus == call.StatusFailed {
			reason := payload.DisconnectionReason
			if reason == "" {
				reason = "call failed"
			}
			row.Error = &reason
		}

		if err := s.runs.SaveRowOutcome(ctx, row); err != nil {
			log.WebhookError("post-call", "update row", err)
		}
	}

	// Effort mutation is guarded the same way as the run counters: a call
	// that was already terminal before this delivery has had its effect.
	if alreadyTerminal {
		return
	}

	switch {
	case c.OutreachEffortID != nil && c.Direction == call.DirectionInbound:
		// Calling back is itself resolution, regardless of call content.
		if err := s.efforts.ResolveForCallback(ctx, *c.OutreachEffortID, orgID, &c.ID); err != nil {
			log.WebhookError("post-call", "resolve effort for callback", err)
		}
	case c.OutreachEffortID != nil && newStatus.IsTerminal():
		resolution := outreach.DecideOutboundResolution(custom)
		if err := s.efforts.UpdateResolution(ctx, *c.OutreachEffortID, orgID, resolution, &c.ID); err != nil {
			log.WebhookError("post-call", "update effort resolution", err)
		}
	case c.Direction == call.DirectionOutbound && newStatus.IsTerminal():
		s.createFallbackEffort(ctx, orgID, c, outreach.DecideOutboundResolution(custom))
	}
}

// trackStandaloneEffort covers terminal outbound calls with no row
// linkage (manual or legacy calls the dispatcher never saw).
func (s *Service) trackStandaloneEffort(ctx context.Context, orgID uuid.UUID, c *call.Call, newStatus call.Status, insights call.Insights) {
	log := s.log.WithContext(ctx)
	resolution := outreach.DeriveStandaloneResolution(newStatus, insights)

	if c.OutreachEffortID != nil {
		if err := s.efforts.UpdateResolution(ctx, *c.OutreachEffortID, orgID, resolution, &c.ID); err != nil {
			log.WebhookError("post-call", "update standalone effort", err)
		}
		return
	}

	existing, err := s.efforts.GetOpenByPatient(ctx, orgID, *c.PatientID)
	if err != nil {
		log.WebhookError("post-call", "standalone effort lookup", err)
		return
	}
	if existing != nil {
		if err := s.efforts.UpdateResolution(ctx, existing.ID, orgID, resolution, &c.ID); err != nil {
			log.WebhookError("post-call", "update standalone effort", err)
		}
		if err := s.calls.SetOutreachEffort(ctx, c.ID, orgID, existing.ID); err != nil {
			log.WebhookError("post-call", "backfill effort on call", err)
		}
		return
	}

	s.createFallbackEffort(ctx, orgID, c, resolution)
}

// createFallbackEffort creates the effort record the dispatch path would
// normally have seeded, then backfills the call's linkage.
func (s *Service) createFallbackEffort(ctx context.Context, orgID uuid.UUID, c *call.Call, resolution outreach.ResolutionStatus) {
	log := s.log.WithContext(ctx)

	if c.PatientID == nil || c.CampaignID == nil {
		log.Warn("cannot create fallback effort without patient and campaign", "call_id", c.ID)
		return
	}

	effort := &outreach.Effort{
		ID:             uuid.New(),
		OrgID:          orgID,
		PatientID:      *c.PatientID,
		CampaignID:     *c.CampaignID,
		RunID:          c.RunID,
		RowID:          c.RowID,
		OriginalCallID: &c.ID,
		LastCallID:     &c.ID,
	}
	if err := s.efforts.Create(ctx, effort); err != nil {
		log.WebhookError("post-call", "create fallback effort", err)
		return
	}
	if resolution != outreach.ResolutionOpen {
		if err := s.efforts.UpdateResolution(ctx, effort.ID, orgID, resolution, &c.ID); err != nil {
			log.WebhookError("post-call", "set fallback effort resolution", err)
		}
	}
	if err := s.calls.SetOutreachEffort(ctx, c.ID, orgID, effort.ID); err != nil {
		log.WebhookError("post-call", "backfill effort on call", err)
	}
	c.OutreachEffortID = &effort.ID
}

// publishCallEvents sends the three notification tiers. All best-effort.
func (s *Service) publishCallEvents(ctx context.Context, orgID uuid.UUID, c *call.Call, newStatus call.Status, projected map[string]interface{}, insights call.Insights) {
	payload := map[string]interface{}{
		"callId":    c.ID,
		"status":    newStatus,
		"direction": c.Direction,
		"analysis":  projected,
		"insights":  insights,
	}
	if c.PatientID != nil {
		payload["patientId"] = *c.PatientID
	}
	if c.RunID != nil {
		payload["runId"] = *c.RunID
	}

	s.events.Publish(ctx, realtime.OrgChannel(orgID), realtime.EventCallUpdated, payload)
	if c.CampaignID != nil {
		s.events.Publish(ctx, realtime.CampaignChannel(*c.CampaignID), realtime.EventCallCompleted, payload)
	}
	if c.RunID != nil {
		s.events.Publish(ctx, realtime.RunChannel(*c.RunID), realtime.EventCallCompleted, payload)
	}
}
