package run

import (
	"context"
	"fmt"
	"time"

	"carecall_backend/internal/realtime"
	"carecall_backend/platform/apperr"
	"carecall_backend/platform/logger"
	"carecall_backend/platform/phone"

	"github.com/google/uuid"
)

// Store is the persistence surface the service needs. Implemented by
// *Repository; narrowed so tests can substitute an in-memory fake.
type Store interface {
	CreateRun(ctx context.Context, rn *Run) error
	GetRun(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, orgID uuid.UUID) ([]Run, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, orgID uuid.UUID, status Status) error
	MarkRunning(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (bool, error)
	MarkPaused(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (bool, error)
	MarkScheduled(ctx context.Context, id uuid.UUID, orgID uuid.UUID, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, orgID uuid.UUID, cause string) error
	DeleteRun(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error
	SetIngestTotals(ctx context.Context, id uuid.UUID, orgID uuid.UUID, total, invalid int) error

	ApplyOutboundTerminalMetrics(ctx context.Context, id uuid.UUID, orgID uuid.UUID, d TerminalMetricDelta) error
	ApplyDispatchClaim(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error
	ApplyDispatchFailure(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error
	ApplySkip(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error
	IncrementInboundReturns(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error
	RecordCallback(ctx context.Context, id uuid.UUID, orgID uuid.UUID, callID uuid.UUID) error

	CreateRows(ctx context.Context, rows []Row) error
	GetRow(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*Row, error)
	ListRows(ctx context.Context, runID uuid.UUID, orgID uuid.UUID) ([]Row, error)
	ListPendingRows(ctx context.Context, runID uuid.UUID, orgID uuid.UUID, limit int) ([]Row, error)
	ClaimRowForDispatch(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (bool, error)
	MarkRowSkipped(ctx context.Context, id uuid.UUID, orgID uuid.UUID, reason string) (bool, error)
	UpdateRowOutcome(ctx context.Context, row *Row) error
	SetRowDispatchMetadata(ctx context.Context, id uuid.UUID, orgID uuid.UUID, metadata map[string]interface{}) (bool, error)
	CountActiveRows(ctx context.Context, runID uuid.UUID, orgID uuid.UUID) (int, error)
}

// Enqueuer hands run work to the background queue.
type Enqueuer interface {
	EnqueueDispatch(ctx context.Context, runID uuid.UUID, orgID uuid.UUID) error
	EnqueueScheduledStart(ctx context.Context, runID uuid.UUID, orgID uuid.UUID, at time.Time) error
}

// PatientResolver finds or creates the patient a row belongs to.
type PatientResolver interface {
	Resolve(ctx context.Context, orgID uuid.UUID, phoneNumber, firstName, lastName string) (uuid.UUID, error)
}

// RowInput is one uploaded batch record before validation.
type RowInput struct {
	PhoneNumber string
	FirstName   string
	LastName    string
	Variables   map[string]interface{}
}

// TerminalOutcome describes a terminal outbound webhook's effect on the
// run counters.
type TerminalOutcome struct {
	Completed     bool
	WasInProgress bool
	Connected     bool
	Voicemail     bool
	Converted     bool
	// AlreadyTerminal means the call record was terminal before this
	// webhook; the whole outcome is then a duplicate and counts nothing.
	AlreadyTerminal bool
}

// Service implements the run lifecycle.
type Service struct {
	store    Store
	patients PatientResolver
	queue    Enqueuer
	events   realtime.Publisher
	log      *logger.Logger
}

// NewService creates a run service.
func NewService(store Store, patients PatientResolver, queue Enqueuer, events realtime.Publisher, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		patients: patients,
		queue:    queue,
		events:   events,
		log:      log,
	}
}

// Create makes a new draft run for a campaign.
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, campaignID uuid.UUID, name string, rawFileURL *string) (*Run, error) {
	rn := &Run{
		ID:         uuid.New(),
		OrgID:      orgID,
		CampaignID: campaignID,
		Name:       name,
		Status:     StatusDraft,
		RawFileURL: rawFileURL,
	}

	if err := s.store.CreateRun(ctx, rn); err != nil {
		return nil, err
	}

	s.publishRunUpdated(ctx, rn)
	return rn, nil
}

// Get retrieves a run.
func (s *Service) Get(ctx context.Context, orgID uuid.UUID, runID uuid.UUID) (*Run, error) {
	return s.store.GetRun(ctx, runID, orgID)
}

// List lists the organization's runs.
func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]Run, error) {
	return s.store.ListRuns(ctx, orgID)
}

// ListRows returns a run's rows in upload order.
func (s *Service) ListRows(ctx context.Context, orgID uuid.UUID, runID uuid.UUID) ([]Row, error) {
	if _, err := s.store.GetRun(ctx, runID, orgID); err != nil {
		return nil, err
	}
	return s.store.ListRows(ctx, runID, orgID)
}

// ListPendingRows returns up to limit not-yet-dispatched rows in upload order.
func (s *Service) ListPendingRows(ctx context.Context, orgID uuid.UUID, runID uuid.UUID, limit int) ([]Row, error) {
	return s.store.ListPendingRows(ctx, runID, orgID, limit)
}

// Delete removes a run that never started.
func (s *Service) Delete(ctx context.Context, orgID uuid.UUID, runID uuid.UUID) error {
	rn, err := s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return err
	}
	if rn.Status == StatusRunning {
		return apperr.Conflict("cannot delete a running run; pause it first")
	}
	return s.store.DeleteRun(ctx, runID, orgID)
}

// Ingest validates and stores the uploaded batch rows. Rows with a phone
// number that does not normalize to E.164 are stored as skipped with the
// validation error; every valid row becomes one pending call.
// The run moves draft -> processing -> ready.
func (s *Service) Ingest(ctx context.Context, orgID uuid.UUID, runID uuid.UUID, inputs []RowInput) (*Run, error) {
	rn, err := s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return nil, err
	}
	if rn.Status != StatusDraft {
		return nil, apperr.Conflict(fmt.Sprintf("cannot ingest rows into a run in status %q", rn.Status))
	}
	if len(inputs) == 0 {
		return nil, apperr.Validation("batch contains no rows")
	}

	if err := s.store.UpdateStatus(ctx, runID, orgID, StatusProcessing); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(inputs))
	invalid := 0
	for i, in := range inputs {
		row := Row{
			ID:        uuid.New(),
			RunID:     runID,
			OrgID:     orgID,
			Variables: in.Variables,
			SortIndex: i,
			Status:    RowStatusPending,
		}

		normalized, err := phone.ParseE164(in.PhoneNumber)
		if err != nil {
			invalid++
			msg := fmt.Sprintf("invalid phone number: %v", err)
			row.Status = RowStatusSkipped
			row.Error = &msg
			rows = append(rows, row)
			continue
		}

		patientID, err := s.patients.Resolve(ctx, orgID, normalized, in.FirstName, in.LastName)
		if err != nil {
			invalid++
			msg := fmt.Sprintf("patient resolution failed: %v", err)
			row.Status = RowStatusSkipped
			row.Error = &msg
			rows = append(rows, row)
			continue
		}

		row.PatientID = &patientID
		if row.Variables == nil {
			row.Variables = map[string]interface{}{}
		}
		row.Variables["phone_number"] = normalized
		rows = append(rows, row)
	}

	if err := s.store.CreateRows(ctx, rows); err != nil {
		return nil, s.failIngest(ctx, orgID, runID, err)
	}
	if err := s.store.SetIngestTotals(ctx, runID, orgID, len(inputs), invalid); err != nil {
		return nil, s.failIngest(ctx, orgID, runID, err)
	}
	if err := s.store.UpdateStatus(ctx, runID, orgID, StatusReady); err != nil {
		return nil, s.failIngest(ctx, orgID, runID, err)
	}

	rn, err = s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return nil, err
	}
	s.publishRunUpdated(ctx, rn)
	return rn, nil
}

// failIngest moves a run to failed so it does not sit in processing with
// no path forward. The cause is stored on the run for the operator.
func (s *Service) failIngest(ctx context.Context, orgID uuid.UUID, runID uuid.UUID, cause error) error {
	if markErr := s.store.MarkFailed(ctx, runID, orgID, cause.Error()); markErr != nil {
		s.log.Error("failed to mark run failed after ingest error", "run_id", runID, "error", markErr)
	} else if rn, getErr := s.store.GetRun(ctx, runID, orgID); getErr == nil {
		s.publishStatusChanged(ctx, rn)
	}
	return fmt.Errorf("ingest failed: %w", cause)
}

// Start begins or resumes dispatching. Valid from ready, paused and
// scheduled; the first start stamps start_time, resumes keep it.
func (s *Service) Start(ctx context.Context, orgID uuid.UUID, runID uuid.UUID) (*Run, error) {
	rn, err := s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return nil, err
	}
	if !CanStart(rn.Status) {
		return nil, apperr.Conflict(fmt.Sprintf("cannot start run from status %q", rn.Status))
	}

	ok, err := s.store.MarkRunning(ctx, runID, orgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with a concurrent transition.
		return nil, apperr.Conflict("run was transitioned concurrently; refresh and retry")
	}

	if err := s.queue.EnqueueDispatch(ctx, runID, orgID); err != nil {
		// Roll the status back so the run is not stuck running with no
		// dispatcher behind it.
		if _, pauseErr := s.store.MarkPaused(ctx, runID, orgID); pauseErr != nil {
			s.log.Error("failed to roll back run start", "run_id", runID, "error", pauseErr)
		}
		return nil, fmt.Errorf("failed to enqueue dispatch: %w", err)
	}

	rn, err = s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return nil, err
	}
	s.publishStatusChanged(ctx, rn)
	s.log.DispatchEvent("run started", runID.String(), rn.Metrics.Pending)
	return rn, nil
}

// Pause stops further dispatching. In-flight provider calls are not
// cancelled; their webhooks still land and count.
func (s *Service) Pause(ctx context.Context, orgID uuid.UUID, runID uuid.UUID) (*Run, error) {
	rn, err := s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return nil, err
	}
	if !CanPause(rn.Status) {
		return nil, apperr.Conflict(fmt.Sprintf("cannot pause run from status %q", rn.Status))
	}

	ok, err := s.store.MarkPaused(ctx, runID, orgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("run was transitioned concurrently; refresh and retry")
	}

	rn, err = s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return nil, err
	}
	s.publishStatusChanged(ctx, rn)
	return rn, nil
}

// Schedule sets a future automatic start.
func (s *Service) Schedule(ctx context.Context, orgID uuid.UUID, runID uuid.UUID, at time.Time) (*Run, error) {
	if !at.After(time.Now()) {
		return nil, apperr.Validation("scheduled start must be in the future")
	}

	rn, err := s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return nil, err
	}
	if rn.Status != StatusReady && rn.Status != StatusScheduled {
		return nil, apperr.Conflict(fmt.Sprintf("cannot schedule run from status %q", rn.Status))
	}

	ok, err := s.store.MarkScheduled(ctx, runID, orgID, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("run was transitioned concurrently; refresh and retry")
	}

	if err := s.queue.EnqueueScheduledStart(ctx, runID, orgID, at); err != nil {
		return nil, fmt.Errorf("failed to enqueue scheduled start: %w", err)
	}

	rn, err = s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return nil, err
	}
	s.publishStatusChanged(ctx, rn)
	return rn, nil
}

// StartScheduled is invoked by the queue worker at the scheduled time.
// If the run was started, paused or deleted in the meantime the task is
// dropped silently.
func (s *Service) StartScheduled(ctx context.Context, orgID uuid.UUID, runID uuid.UUID) error {
	rn, err := s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.log.Warn("scheduled run no longer exists", "run_id", runID)
			return nil
		}
		return err
	}
	if rn.Status != StatusScheduled {
		s.log.Info("scheduled start skipped", "run_id", runID, "status", string(rn.Status))
		return nil
	}

	_, err = s.Start(ctx, orgID, runID)
	return err
}

// ---- dispatch bookkeeping ----

// ClaimRow atomically claims a pending row for dispatch and moves the
// pending counter to calling. Returns false when the row was already
// claimed, skipped or finished.
func (s *Service) ClaimRow(ctx context.Context, orgID uuid.UUID, row *Row) (bool, error) {
	claimed, err := s.store.ClaimRowForDispatch(ctx, row.ID, orgID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	row.Status = RowStatusCalling
	if err := s.store.ApplyDispatchClaim(ctx, row.RunID, orgID); err != nil {
		return true, err
	}
	s.publishRowUpdated(ctx, row)
	return true, nil
}

// FailRowDispatch records a row whose provider dispatch failed and
// re-checks run completion, since the failed row may have been the last
// active one.
func (s *Service) FailRowDispatch(ctx context.Context, orgID uuid.UUID, row *Row, cause string) error {
	row.Status = RowStatusFailed
	row.Error = &cause
	if err := s.store.UpdateRowOutcome(ctx, row); err != nil {
		return err
	}
	if err := s.store.ApplyDispatchFailure(ctx, row.RunID, orgID); err != nil {
		return err
	}
	s.publishRowUpdated(ctx, row)
	s.publishMetrics(ctx, orgID, row.RunID)
	return s.CheckCompletion(ctx, orgID, row.RunID)
}

// SkipRow skips a pending row without dialing it.
func (s *Service) SkipRow(ctx context.Context, orgID uuid.UUID, rowID uuid.UUID, reason string) error {
	row, err := s.store.GetRow(ctx, rowID, orgID)
	if err != nil {
		return err
	}

	ok, err := s.store.MarkRowSkipped(ctx, rowID, orgID, reason)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict(fmt.Sprintf("cannot skip row in status %q", row.Status))
	}

	if err := s.store.ApplySkip(ctx, row.RunID, orgID); err != nil {
		return err
	}

	row.Status = RowStatusSkipped
	s.publishRowUpdated(ctx, row)
	s.publishMetrics(ctx, orgID, row.RunID)
	return s.CheckCompletion(ctx, orgID, row.RunID)
}

// ---- webhook-driven updates ----

// ApplyOutboundTerminal applies one outbound terminal call outcome to the
// run counters and re-checks completion. Duplicate deliveries carry
// AlreadyTerminal and change nothing.
func (s *Service) ApplyOutboundTerminal(ctx context.Context, orgID uuid.UUID, runID uuid.UUID, outcome TerminalOutcome) error {
	if outcome.AlreadyTerminal {
		s.log.Info("duplicate terminal outcome ignored", "run_id", runID)
		return nil
	}

	if err := s.store.ApplyOutboundTerminalMetrics(ctx, runID, orgID, TerminalMetricDelta{
		Completed:     outcome.Completed,
		WasInProgress: outcome.WasInProgress,
		Connected:     outcome.Connected,
		Voicemail:     outcome.Voicemail,
		Converted:     outcome.Converted,
	}); err != nil {
		return err
	}

	s.publishMetrics(ctx, orgID, runID)
	return s.CheckCompletion(ctx, orgID, runID)
}

// SaveRowOutcome persists the row's final analysis and status.
func (s *Service) SaveRowOutcome(ctx context.Context, row *Row) error {
	if err := s.store.UpdateRowOutcome(ctx, row); err != nil {
		return err
	}
	s.publishRowUpdated(ctx, row)
	return nil
}

// RecordDispatchMetadata attaches dispatch breadcrumbs to a row the
// dispatcher just handed to the provider. The write only applies while
// the row is still calling; if the post-call webhook already landed the
// terminal outcome stands untouched.
func (s *Service) RecordDispatchMetadata(ctx context.Context, orgID uuid.UUID, row *Row) error {
	applied, err := s.store.SetRowDispatchMetadata(ctx, row.ID, orgID, row.Metadata)
	if err != nil {
		return err
	}
	if applied {
		s.publishRowUpdated(ctx, row)
	}
	return nil
}

// GetRow retrieves a single row.
func (s *Service) GetRow(ctx context.Context, orgID uuid.UUID, rowID uuid.UUID) (*Row, error) {
	return s.store.GetRow(ctx, rowID, orgID)
}

// RecordInboundReturn counts a patient calling back into a run.
func (s *Service) RecordInboundReturn(ctx context.Context, orgID uuid.UUID, runID uuid.UUID) error {
	if err := s.store.IncrementInboundReturns(ctx, runID, orgID); err != nil {
		return err
	}
	s.publishMetrics(ctx, orgID, runID)
	return nil
}

// RecordCallback marks a row as called-back and records the inbound call
// against the run's callback counters.
func (s *Service) RecordCallback(ctx context.Context, orgID uuid.UUID, row *Row, callID uuid.UUID) error {
	row.Status = RowStatusCallback
	if err := s.store.UpdateRowOutcome(ctx, row); err != nil {
		return err
	}
	if err := s.store.RecordCallback(ctx, row.RunID, orgID, callID); err != nil {
		return err
	}
	s.publishRowUpdated(ctx, row)
	s.publishMetrics(ctx, orgID, row.RunID)
	return nil
}

// CheckCompletion completes a running run once no rows are pending or
// calling. The conditional completed-guard in storage keeps end_time and
// duration stable when two webhooks race here.
func (s *Service) CheckCompletion(ctx context.Context, orgID uuid.UUID, runID uuid.UUID) error {
	rn, err := s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return err
	}
	if rn.Status != StatusRunning {
		return nil
	}

	active, err := s.store.CountActiveRows(ctx, runID, orgID)
	if err != nil {
		return err
	}
	if active > 0 {
		return nil
	}

	completed, err := s.store.MarkCompleted(ctx, runID, orgID)
	if err != nil {
		return err
	}
	if !completed {
		return nil
	}

	rn, err = s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		return err
	}
	s.publishStatusChanged(ctx, rn)
	s.log.DispatchEvent("run completed", runID.String(), rn.Metrics.Total)
	return nil
}

// ---- realtime ----

func (s *Service) publishRunUpdated(ctx context.Context, rn *Run) {
	s.events.Publish(ctx, realtime.OrgChannel(rn.OrgID), realtime.EventRunUpdated, rn)
	s.events.Publish(ctx, realtime.RunChannel(rn.ID), realtime.EventRunUpdated, rn)
}

func (s *Service) publishStatusChanged(ctx context.Context, rn *Run) {
	payload := map[string]interface{}{
		"runId":  rn.ID,
		"status": rn.Status,
		"run":    rn,
	}
	s.events.Publish(ctx, realtime.OrgChannel(rn.OrgID), realtime.EventRunStatusChanged, payload)
	s.events.Publish(ctx, realtime.RunChannel(rn.ID), realtime.EventRunStatusChanged, payload)
}

func (s *Service) publishMetrics(ctx context.Context, orgID uuid.UUID, runID uuid.UUID) {
	rn, err := s.store.GetRun(ctx, runID, orgID)
	if err != nil {
		s.log.Error("failed to load run for metrics publish", "run_id", runID, "error", err)
		return
	}
	payload := map[string]interface{}{
		"runId":   rn.ID,
		"metrics": rn.Metrics,
	}
	s.events.Publish(ctx, realtime.RunChannel(runID), realtime.EventMetricsUpdated, payload)
	s.events.Publish(ctx, realtime.OrgChannel(orgID), realtime.EventMetricsUpdated, payload)
}

func (s *Service) publishRowUpdated(ctx context.Context, row *Row) {
	s.events.Publish(ctx, realtime.RunChannel(row.RunID), realtime.EventRowUpdated, row)
}
