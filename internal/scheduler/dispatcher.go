package scheduler

import (
	"context"
	"fmt"
	"time"

	"carecall_backend/internal/call"
	"carecall_backend/internal/campaign"
	"carecall_backend/internal/outreach"
	"carecall_backend/internal/patient"
	"carecall_backend/internal/retell"
	"carecall_backend/internal/run"
	"carecall_backend/platform/config"
	"carecall_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Dispatcher drives one run's outbound calling: it claims pending rows,
// creates the outreach effort and call records, and hands the call to the
// provider. Pacing is global across batches (rate limiter) with bounded
// in-flight dispatches (errgroup limit). Pause is cooperative: the run
// status is re-read every batch and the loop exits when it is no longer
// running.
type Dispatcher struct {
	runs      *run.Service
	campaigns *campaign.Repository
	patients  *patient.Repository
	calls     *call.Repository
	efforts   *outreach.Repository
	provider  retell.Caller
	limiter   *rate.Limiter
	workers   int
	log       *logger.Logger
}

// NewDispatcher creates a dispatcher with pacing from config.
func NewDispatcher(
	cfg config.DispatchConfig,
	runs *run.Service,
	campaigns *campaign.Repository,
	patients *patient.Repository,
	calls *call.Repository,
	efforts *outreach.Repository,
	provider retell.Caller,
	log *logger.Logger,
) *Dispatcher {
	cps := cfg.GetDispatchCallsPerSecond()
	if cps <= 0 {
		cps = 1
	}
	workers := cfg.GetDispatchConcurrency()
	if workers < 1 {
		workers = 1
	}

	return &Dispatcher{
		runs:      runs,
		campaigns: campaigns,
		patients:  patients,
		calls:     calls,
		efforts:   efforts,
		provider:  provider,
		limiter:   rate.NewLimiter(rate.Limit(cps), 1),
		workers:   workers,
		log:       log,
	}
}

// Dispatch processes a run's pending rows until none remain or the run
// stops being in the running state.
func (d *Dispatcher) Dispatch(ctx context.Context, runID uuid.UUID, orgID uuid.UUID) error {
	rn, err := d.runs.Get(ctx, orgID, runID)
	if err != nil {
		return err
	}

	camp, err := d.campaigns.GetByID(ctx, rn.CampaignID, orgID)
	if err != nil {
		return fmt.Errorf("failed to load campaign for dispatch: %w", err)
	}

	batchSize := d.workers * 4
	if batchSize < 8 {
		batchSize = 8
	}

	for {
		rn, err = d.runs.Get(ctx, orgID, runID)
		if err != nil {
			return err
		}
		if rn.Status != run.StatusRunning {
			d.log.DispatchEvent("dispatch stopped: run not running", runID.String(), 0)
			return nil
		}

		pending, err := d.runs.ListPendingRows(ctx, orgID, runID, batchSize)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return d.runs.CheckCompletion(ctx, orgID, runID)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.workers)
		for i := range pending {
			row := pending[i]
			if err := d.limiter.Wait(gctx); err != nil {
				return err
			}
			g.Go(func() error {
				d.dispatchRow(gctx, rn, camp, &row)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// dispatchRow dials one row. Failures never abort the batch: the row is
// failed, counted, and the loop moves on.
func (d *Dispatcher) dispatchRow(ctx context.Context, rn *run.Run, camp *campaign.Campaign, row *run.Row) {
	orgID := row.OrgID

	claimed, err := d.runs.ClaimRow(ctx, orgID, row)
	if err != nil {
		d.log.Error("row claim failed", "row_id", row.ID, "error", err)
		return
	}
	if !claimed {
		return
	}

	if row.PatientID == nil {
		d.failRow(ctx, orgID, row, "row has no patient")
		return
	}
	pat, err := d.patients.GetByID(ctx, *row.PatientID, orgID)
	if err != nil {
		d.failRow(ctx, orgID, row, fmt.Sprintf("failed to load patient: %v", err))
		return
	}

	effort := &outreach.Effort{
		ID:         uuid.New(),
		OrgID:      orgID,
		PatientID:  pat.ID,
		CampaignID: camp.ID,
		RunID:      &rn.ID,
		RowID:      &row.ID,
		Variables:  row.Variables,
	}
	if err := d.efforts.Create(ctx, effort); err != nil {
		d.failRow(ctx, orgID, row, fmt.Sprintf("failed to create outreach effort: %v", err))
		return
	}

	variables := map[string]interface{}{
		"patient_first_name": pat.FirstName,
		"patient_last_name":  pat.LastName,
	}
	for k, v := range row.Variables {
		variables[k] = v
	}

	resp, err := d.provider.CreatePhoneCall(ctx, retell.CreatePhoneCallRequest{
		ToNumber:                  pat.Phone,
		OverrideAgentID:           camp.AgentID,
		RetellLLMDynamicVariables: retell.ToProviderVariables(variables),
		Metadata: map[string]interface{}{
			"type":             "campaign",
			"orgId":            orgID.String(),
			"runId":            rn.ID.String(),
			"rowId":            row.ID.String(),
			"campaignId":       camp.ID.String(),
			"patientId":        pat.ID.String(),
			"outreachEffortId": effort.ID.String(),
		},
	})
	if err != nil {
		if updErr := d.efforts.UpdateResolution(ctx, effort.ID, orgID, outreach.ResolutionNoContact, nil); updErr != nil {
			d.log.Error("failed to close effort after dispatch failure", "effort_id", effort.ID, "error", updErr)
		}
		d.failRow(ctx, orgID, row, fmt.Sprintf("provider dispatch failed: %v", err))
		return
	}

	now := time.Now().UTC()
	c := &call.Call{
		ID:               uuid.New(),
		OrgID:            orgID,
		ProviderCallID:   resp.CallID,
		Direction:        call.DirectionOutbound,
		Status:           call.StatusInProgress,
		AgentID:          camp.AgentID,
		PatientID:        &pat.ID,
		CampaignID:       &camp.ID,
		RowID:            &row.ID,
		RunID:            &rn.ID,
		OutreachEffortID: &effort.ID,
		ToNumber:         pat.Phone,
		StartTime:        &now,
	}
	if err := d.calls.Create(ctx, c); err != nil {
		// The provider call is live; the post-call webhook will still
		// arrive but cannot reconcile without the record.
		d.log.Error("failed to persist dispatched call", "provider_call_id", resp.CallID, "error", err)
		d.failRow(ctx, orgID, row, fmt.Sprintf("failed to persist call record: %v", err))
		return
	}
	if err := d.efforts.LinkCall(ctx, effort.ID, orgID, c.ID); err != nil {
		d.log.Error("failed to link call to effort", "effort_id", effort.ID, "error", err)
	}

	if row.Metadata == nil {
		row.Metadata = map[string]interface{}{}
	}
	row.Metadata["providerCallId"] = resp.CallID
	row.Metadata["callId"] = c.ID.String()
	if err := d.runs.RecordDispatchMetadata(ctx, orgID, row); err != nil {
		d.log.Error("failed to record row dispatch metadata", "row_id", row.ID, "error", err)
	}

	d.log.DispatchEvent("row dispatched", rn.ID.String(), 1)
}

func (d *Dispatcher) failRow(ctx context.Context, orgID uuid.UUID, row *run.Row, cause string) {
	if err := d.runs.FailRowDispatch(ctx, orgID, row, cause); err != nil {
		d.log.Error("failed to record row dispatch failure", "row_id", row.ID, "error", err)
	}
}
