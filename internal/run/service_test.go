package run

import (
	"context"
	"testing"
	"time"

	"carecall_backend/internal/realtime"
	"carecall_backend/platform/apperr"
	"carecall_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store mirroring the repository's semantics:
// conditional transitions, clamped counters, the completed guard.
type fakeStore struct {
	runs map[uuid.UUID]*Run
	rows map[uuid.UUID]*Row
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs: map[uuid.UUID]*Run{},
		rows: map[uuid.UUID]*Row{},
	}
}

func (f *fakeStore) getRun(id uuid.UUID) (*Run, error) {
	rn, ok := f.runs[id]
	if !ok {
		return nil, apperr.NotFound("run not found")
	}
	return rn, nil
}

func (f *fakeStore) CreateRun(_ context.Context, rn *Run) error {
	copied := *rn
	f.runs[rn.ID] = &copied
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, id uuid.UUID, _ uuid.UUID) (*Run, error) {
	rn, err := f.getRun(id)
	if err != nil {
		return nil, err
	}
	copied := *rn
	return &copied, nil
}

func (f *fakeStore) ListRuns(_ context.Context, _ uuid.UUID) ([]Run, error) {
	var out []Run
	for _, rn := range f.runs {
		out = append(out, *rn)
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, _ uuid.UUID, status Status) error {
	rn, err := f.getRun(id)
	if err != nil {
		return err
	}
	rn.Status = status
	return nil
}

func (f *fakeStore) MarkRunning(_ context.Context, id uuid.UUID, _ uuid.UUID) (bool, error) {
	rn, err := f.getRun(id)
	if err != nil {
		return false, err
	}
	if rn.Status != StatusReady && rn.Status != StatusPaused && rn.Status != StatusScheduled {
		return false, nil
	}
	rn.Status = StatusRunning
	if rn.StartTime == nil {
		now := time.Now().UTC()
		rn.StartTime = &now
	}
	return true, nil
}

func (f *fakeStore) MarkPaused(_ context.Context, id uuid.UUID, _ uuid.UUID) (bool, error) {
	rn, err := f.getRun(id)
	if err != nil {
		return false, err
	}
	if rn.Status != StatusRunning {
		return false, nil
	}
	rn.Status = StatusPaused
	now := time.Now().UTC()
	rn.LastPausedAt = &now
	return true, nil
}

func (f *fakeStore) MarkScheduled(_ context.Context, id uuid.UUID, _ uuid.UUID, at time.Time) (bool, error) {
	rn, err := f.getRun(id)
	if err != nil {
		return false, err
	}
	if rn.Status != StatusReady && rn.Status != StatusDraft {
		return false, nil
	}
	rn.Status = StatusScheduled
	rn.ScheduledAt = &at
	return true, nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, id uuid.UUID, _ uuid.UUID) (bool, error) {
	rn, err := f.getRun(id)
	if err != nil {
		return false, err
	}
	if rn.Status == StatusCompleted {
		return false, nil
	}
	rn.Status = StatusCompleted
	now := time.Now().UTC()
	rn.EndTime = &now
	seconds := 0
	if rn.StartTime != nil {
		seconds = int(now.Sub(*rn.StartTime).Seconds())
	}
	rn.DurationSeconds = &seconds
	return true, nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, _ uuid.UUID, cause string) error {
	rn, err := f.getRun(id)
	if err != nil {
		return err
	}
	if rn.Status == StatusCompleted {
		return nil
	}
	rn.Status = StatusFailed
	rn.ErrorMessage = &cause
	return nil
}

func (f *fakeStore) DeleteRun(_ context.Context, id uuid.UUID, _ uuid.UUID) error {
	if _, ok := f.runs[id]; !ok {
		return apperr.NotFound("run not found")
	}
	delete(f.runs, id)
	return nil
}

func (f *fakeStore) SetIngestTotals(_ context.Context, id uuid.UUID, _ uuid.UUID, total, invalid int) error {
	rn, err := f.getRun(id)
	if err != nil {
		return err
	}
	rn.Metrics.RowsTotal = total
	rn.Metrics.RowsInvalid = invalid
	rn.Metrics.Total = total - invalid
	rn.Metrics.Pending = total - invalid
	return nil
}

func (f *fakeStore) ApplyOutboundTerminalMetrics(_ context.Context, id uuid.UUID, _ uuid.UUID, d TerminalMetricDelta) error {
	rn, err := f.getRun(id)
	if err != nil {
		return err
	}
	m := &rn.Metrics
	if d.Completed {
		m.Completed++
	} else {
		m.Failed++
	}
	if d.WasInProgress && m.Calling > 0 {
		m.Calling--
	}
	if d.Connected {
		m.Connected++
	}
	if d.Voicemail {
		m.Voicemail++
	}
	if d.Converted {
		m.Converted++
	}
	return nil
}

func (f *fakeStore) ApplyDispatchClaim(_ context.Context, id uuid.UUID, _ uuid.UUID) error {
	rn, err := f.getRun(id)
	if err != nil {
		return err
	}
	if rn.Metrics.Pending > 0 {
		rn.Metrics.Pending--
	}
	rn.Metrics.Calling++
	return nil
}

func (f *fakeStore) ApplyDispatchFailure(_ context.Context, id uuid.UUID, _ uuid.UUID) error {
	rn, err := f.getRun(id)
	if err != nil {
		return err
	}
	if rn.Metrics.Calling > 0 {
		rn.Metrics.Calling--
	}
	rn.Metrics.Failed++
	return nil
}

func (f *fakeStore) ApplySkip(_ context.Context, id uuid.UUID, _ uuid.UUID) error {
	rn, err := f.getRun(id)
	if err != nil {
		return err
	}
	if rn.Metrics.Pending > 0 {
		rn.Metrics.Pending--
	}
	rn.Metrics.Skipped++
	return nil
}

func (f *fakeStore) IncrementInboundReturns(_ context.Context, id uuid.UUID, _ uuid.UUID) error {
	rn, err := f.getRun(id)
	if err != nil {
		return err
	}
	rn.Metrics.InboundReturns++
	return nil
}

func (f *fakeStore) RecordCallback(_ context.Context, id uuid.UUID, _ uuid.UUID, callID uuid.UUID) error {
	rn, err := f.getRun(id)
	if err != nil {
		return err
	}
	rn.Metrics.CallbackCount++
	rn.CallbackCallIDs = append(rn.CallbackCallIDs, callID)
	return nil
}

func (f *fakeStore) CreateRows(_ context.Context, rows []Row) error {
	for i := range rows {
		copied := rows[i]
		f.rows[copied.ID] = &copied
	}
	return nil
}

func (f *fakeStore) GetRow(_ context.Context, id uuid.UUID, _ uuid.UUID) (*Row, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, apperr.NotFound("row not found")
	}
	copied := *row
	return &copied, nil
}

func (f *fakeStore) ListRows(_ context.Context, runID uuid.UUID, _ uuid.UUID) ([]Row, error) {
	var out []Row
	for _, row := range f.rows {
		if row.RunID == runID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPendingRows(_ context.Context, runID uuid.UUID, _ uuid.UUID, limit int) ([]Row, error) {
	var out []Row
	for _, row := range f.rows {
		if row.RunID == runID && row.Status == RowStatusPending && len(out) < limit {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimRowForDispatch(_ context.Context, id uuid.UUID, _ uuid.UUID) (bool, error) {
	row, ok := f.rows[id]
	if !ok || row.Status != RowStatusPending {
		return false, nil
	}
	row.Status = RowStatusCalling
	return true, nil
}

func (f *fakeStore) MarkRowSkipped(_ context.Context, id uuid.UUID, _ uuid.UUID, reason string) (bool, error) {
	row, ok := f.rows[id]
	if !ok || row.Status != RowStatusPending {
		return false, nil
	}
	row.Status = RowStatusSkipped
	row.Error = &reason
	return true, nil
}

func (f *fakeStore) UpdateRowOutcome(_ context.Context, updated *Row) error {
	row, ok := f.rows[updated.ID]
	if !ok {
		return apperr.NotFound("row not found")
	}
	row.Status = updated.Status
	if updated.PatientID != nil {
		row.PatientID = updated.PatientID
	}
	row.Analysis = updated.Analysis
	row.Error = updated.Error
	row.Metadata = updated.Metadata
	return nil
}

func (f *fakeStore) SetRowDispatchMetadata(_ context.Context, id uuid.UUID, _ uuid.UUID, metadata map[string]interface{}) (bool, error) {
	row, ok := f.rows[id]
	if !ok || row.Status != RowStatusCalling {
		return false, nil
	}
	row.Metadata = metadata
	return true, nil
}

func (f *fakeStore) CountActiveRows(_ context.Context, runID uuid.UUID, _ uuid.UUID) (int, error) {
	count := 0
	for _, row := range f.rows {
		if row.RunID == runID && (row.Status == RowStatusPending || row.Status == RowStatusCalling) {
			count++
		}
	}
	return count, nil
}

// brokenRowStore fails row inserts, simulating the database dying
// mid-ingest.
type brokenRowStore struct {
	*fakeStore
}

func (b *brokenRowStore) CreateRows(context.Context, []Row) error {
	return context.DeadlineExceeded
}

type fakeQueue struct {
	dispatches int
	scheduled  int
	failNext   bool
}

func (q *fakeQueue) EnqueueDispatch(context.Context, uuid.UUID, uuid.UUID) error {
	if q.failNext {
		q.failNext = false
		return context.DeadlineExceeded
	}
	q.dispatches++
	return nil
}

func (q *fakeQueue) EnqueueScheduledStart(context.Context, uuid.UUID, uuid.UUID, time.Time) error {
	q.scheduled++
	return nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, _ uuid.UUID, _, _, _ string) (uuid.UUID, error) {
	return uuid.New(), nil
}

func newTestService(store *fakeStore, queue *fakeQueue) *Service {
	return NewService(store, fakeResolver{}, queue, realtime.Noop{}, logger.New("development"))
}

func ingestTestRun(t *testing.T, svc *Service, orgID uuid.UUID, inputs []RowInput) *Run {
	t.Helper()
	ctx := context.Background()

	rn, err := svc.Create(ctx, orgID, uuid.New(), "flu shot reminders", nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	rn, err = svc.Ingest(ctx, orgID, rn.ID, inputs)
	if err != nil {
		t.Fatalf("ingest rows: %v", err)
	}
	return rn
}

func TestIngest_InvalidPhoneBecomesSkippedRow(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()

	rn := ingestTestRun(t, svc, orgID, []RowInput{
		{PhoneNumber: "+31612345678", FirstName: "Anna", LastName: "de Vries"},
		{PhoneNumber: "not-a-number", FirstName: "Bart", LastName: "Jansen"},
		{PhoneNumber: "+31687654321", FirstName: "Carla", LastName: "Bakker"},
	})

	if rn.Status != StatusReady {
		t.Fatalf("expected ready after ingest, got %q", rn.Status)
	}
	if rn.Metrics.RowsTotal != 3 || rn.Metrics.RowsInvalid != 1 {
		t.Fatalf("expected 3 rows with 1 invalid, got %d/%d", rn.Metrics.RowsTotal, rn.Metrics.RowsInvalid)
	}
	if rn.Metrics.Total != 2 || rn.Metrics.Pending != 2 {
		t.Fatalf("expected 2 pending calls, got total %d pending %d", rn.Metrics.Total, rn.Metrics.Pending)
	}

	rows, err := svc.ListRows(context.Background(), orgID, rn.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	skipped := 0
	for _, row := range rows {
		if row.Status == RowStatusSkipped {
			skipped++
			if row.Error == nil {
				t.Fatal("expected skipped row to carry the validation error")
			}
		} else if row.Variables["phone_number"] == nil {
			t.Fatal("expected normalized phone number on valid row variables")
		}
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped row, got %d", skipped)
	}
}

func TestIngest_RejectedOutsideDraft(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()

	rn := ingestTestRun(t, svc, orgID, []RowInput{
		{PhoneNumber: "+31612345678"},
	})

	_, err := svc.Ingest(context.Background(), orgID, rn.ID, []RowInput{{PhoneNumber: "+31612345678"}})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on second ingest, got %v", err)
	}
}

func TestIngest_UnrecoverableErrorFailsTheRun(t *testing.T) {
	store := newFakeStore()
	svc := NewService(&brokenRowStore{store}, fakeResolver{}, &fakeQueue{}, realtime.Noop{}, logger.New("development"))
	orgID := uuid.New()
	ctx := context.Background()

	rn, err := svc.Create(ctx, orgID, uuid.New(), "doomed run", nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	if _, err := svc.Ingest(ctx, orgID, rn.ID, []RowInput{{PhoneNumber: "+31612345678"}}); err == nil {
		t.Fatal("expected ingest to fail when row inserts fail")
	}

	rn, err = svc.Get(ctx, orgID, rn.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if rn.Status != StatusFailed {
		t.Fatalf("expected failed after unrecoverable ingest error, got %q", rn.Status)
	}
	if rn.ErrorMessage == nil || *rn.ErrorMessage == "" {
		t.Fatal("expected the ingest error to be recorded on the run")
	}

	// A failed run is a dead end on purpose: no restart, no re-ingest.
	if _, err := svc.Start(ctx, orgID, rn.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict starting a failed run, got %v", err)
	}
}

func TestStart_FromDraftIsRejected(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()
	ctx := context.Background()

	rn, err := svc.Create(ctx, orgID, uuid.New(), "draft run", nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	if _, err := svc.Start(ctx, orgID, rn.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict starting a draft, got %v", err)
	}
}

func TestStart_EnqueueFailureRollsBackToPaused(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{failNext: true}
	svc := newTestService(store, queue)
	orgID := uuid.New()
	ctx := context.Background()

	rn := ingestTestRun(t, svc, orgID, []RowInput{{PhoneNumber: "+31612345678"}})

	if _, err := svc.Start(ctx, orgID, rn.ID); err == nil {
		t.Fatal("expected start to fail when enqueue fails")
	}

	rn, err := svc.Get(ctx, orgID, rn.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if rn.Status != StatusPaused {
		t.Fatalf("expected rollback to paused, got %q", rn.Status)
	}

	// A paused run can be started again once the queue recovers.
	rn, err = svc.Start(ctx, orgID, rn.ID)
	if err != nil {
		t.Fatalf("restart after rollback: %v", err)
	}
	if rn.Status != StatusRunning {
		t.Fatalf("expected running, got %q", rn.Status)
	}
	if queue.dispatches != 1 {
		t.Fatalf("expected 1 dispatch enqueued, got %d", queue.dispatches)
	}
}

func TestPause_OnlyFromRunning(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()
	ctx := context.Background()

	rn := ingestTestRun(t, svc, orgID, []RowInput{{PhoneNumber: "+31612345678"}})

	if _, err := svc.Pause(ctx, orgID, rn.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict pausing a ready run, got %v", err)
	}
}

func TestSchedule_RequiresFutureTime(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()
	ctx := context.Background()

	rn := ingestTestRun(t, svc, orgID, []RowInput{{PhoneNumber: "+31612345678"}})

	_, err := svc.Schedule(ctx, orgID, rn.ID, time.Now().Add(-time.Hour))
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for past time, got %v", err)
	}

	rn, err = svc.Schedule(ctx, orgID, rn.ID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if rn.Status != StatusScheduled {
		t.Fatalf("expected scheduled, got %q", rn.Status)
	}
}

func TestDelete_RunningRunIsRejected(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()
	ctx := context.Background()

	rn := ingestTestRun(t, svc, orgID, []RowInput{{PhoneNumber: "+31612345678"}})
	if _, err := svc.Start(ctx, orgID, rn.ID); err != nil {
		t.Fatalf("start run: %v", err)
	}

	if err := svc.Delete(ctx, orgID, rn.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict deleting a running run, got %v", err)
	}
}

// Full lifecycle: three rows dispatched, two complete, one fails, the run
// completes itself and every counter lands where the dashboard expects it.
func TestRunLifecycle_TerminalOutcomesCompleteTheRun(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()
	ctx := context.Background()

	rn := ingestTestRun(t, svc, orgID, []RowInput{
		{PhoneNumber: "+31612345671", FirstName: "Anna"},
		{PhoneNumber: "+31612345672", FirstName: "Bart"},
		{PhoneNumber: "+31612345673", FirstName: "Carla"},
	})

	if _, err := svc.Start(ctx, orgID, rn.ID); err != nil {
		t.Fatalf("start run: %v", err)
	}

	rows, err := svc.ListRows(ctx, orgID, rn.ID)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	for i := range rows {
		claimed, err := svc.ClaimRow(ctx, orgID, &rows[i])
		if err != nil {
			t.Fatalf("claim row: %v", err)
		}
		if !claimed {
			t.Fatal("expected pending row to be claimable")
		}
	}

	rn, _ = svc.Get(ctx, orgID, rn.ID)
	if rn.Metrics.Pending != 0 || rn.Metrics.Calling != 3 {
		t.Fatalf("expected 0 pending / 3 calling, got %d/%d", rn.Metrics.Pending, rn.Metrics.Calling)
	}

	// Row 1 completes and converts.
	rows[0].Status = RowStatusCompleted
	if err := svc.SaveRowOutcome(ctx, &rows[0]); err != nil {
		t.Fatalf("save row outcome: %v", err)
	}
	err = svc.ApplyOutboundTerminal(ctx, orgID, rn.ID, TerminalOutcome{
		Completed: true, WasInProgress: true, Connected: true, Converted: true,
	})
	if err != nil {
		t.Fatalf("apply terminal: %v", err)
	}

	// Row 2 hits voicemail.
	rows[1].Status = RowStatusCompleted
	if err := svc.SaveRowOutcome(ctx, &rows[1]); err != nil {
		t.Fatalf("save row outcome: %v", err)
	}
	err = svc.ApplyOutboundTerminal(ctx, orgID, rn.ID, TerminalOutcome{
		Completed: true, WasInProgress: true, Voicemail: true,
	})
	if err != nil {
		t.Fatalf("apply terminal: %v", err)
	}

	// Run is still running: one row remains active.
	rn, _ = svc.Get(ctx, orgID, rn.ID)
	if rn.Status != StatusRunning {
		t.Fatalf("expected running with an active row, got %q", rn.Status)
	}

	// Row 3 fails; that was the last active row.
	rows[2].Status = RowStatusFailed
	if err := svc.SaveRowOutcome(ctx, &rows[2]); err != nil {
		t.Fatalf("save row outcome: %v", err)
	}
	err = svc.ApplyOutboundTerminal(ctx, orgID, rn.ID, TerminalOutcome{
		Completed: false, WasInProgress: true,
	})
	if err != nil {
		t.Fatalf("apply terminal: %v", err)
	}

	rn, _ = svc.Get(ctx, orgID, rn.ID)
	if rn.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", rn.Status)
	}
	if rn.EndTime == nil || rn.DurationSeconds == nil {
		t.Fatal("expected end time and duration to be stamped")
	}

	m := rn.Metrics
	if m.Completed != 2 || m.Failed != 1 || m.Calling != 0 {
		t.Fatalf("expected 2 completed / 1 failed / 0 calling, got %d/%d/%d", m.Completed, m.Failed, m.Calling)
	}
	if m.Connected != 1 || m.Voicemail != 1 || m.Converted != 1 {
		t.Fatalf("expected 1 connected / 1 voicemail / 1 converted, got %d/%d/%d", m.Connected, m.Voicemail, m.Converted)
	}
}

func TestApplyOutboundTerminal_DuplicateDeliveryCountsNothing(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()
	ctx := context.Background()

	rn := ingestTestRun(t, svc, orgID, []RowInput{{PhoneNumber: "+31612345678"}})
	if _, err := svc.Start(ctx, orgID, rn.ID); err != nil {
		t.Fatalf("start run: %v", err)
	}

	rows, _ := svc.ListRows(ctx, orgID, rn.ID)
	if _, err := svc.ClaimRow(ctx, orgID, &rows[0]); err != nil {
		t.Fatalf("claim row: %v", err)
	}
	rows[0].Status = RowStatusCompleted
	if err := svc.SaveRowOutcome(ctx, &rows[0]); err != nil {
		t.Fatalf("save row outcome: %v", err)
	}

	outcome := TerminalOutcome{Completed: true, WasInProgress: true, Connected: true}
	if err := svc.ApplyOutboundTerminal(ctx, orgID, rn.ID, outcome); err != nil {
		t.Fatalf("apply terminal: %v", err)
	}

	// Redelivery: the call record was already terminal.
	outcome.AlreadyTerminal = true
	if err := svc.ApplyOutboundTerminal(ctx, orgID, rn.ID, outcome); err != nil {
		t.Fatalf("apply duplicate terminal: %v", err)
	}

	rn, _ = svc.Get(ctx, orgID, rn.ID)
	if rn.Metrics.Completed != 1 || rn.Metrics.Connected != 1 {
		t.Fatalf("expected duplicate to count nothing, got completed %d connected %d",
			rn.Metrics.Completed, rn.Metrics.Connected)
	}

	// Completion happened on the first delivery; end time must not move.
	firstEnd := *rn.EndTime
	if err := svc.CheckCompletion(ctx, orgID, rn.ID); err != nil {
		t.Fatalf("re-check completion: %v", err)
	}
	rn, _ = svc.Get(ctx, orgID, rn.ID)
	if !rn.EndTime.Equal(firstEnd) {
		t.Fatal("expected end time to stay stable across duplicate deliveries")
	}
}

func TestSkipRow_MovesPendingToSkippedAndChecksCompletion(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()
	ctx := context.Background()

	rn := ingestTestRun(t, svc, orgID, []RowInput{{PhoneNumber: "+31612345678"}})
	if _, err := svc.Start(ctx, orgID, rn.ID); err != nil {
		t.Fatalf("start run: %v", err)
	}

	rows, _ := svc.ListRows(ctx, orgID, rn.ID)
	if err := svc.SkipRow(ctx, orgID, rows[0].ID, "patient opted out"); err != nil {
		t.Fatalf("skip row: %v", err)
	}

	rn, _ = svc.Get(ctx, orgID, rn.ID)
	if rn.Metrics.Skipped != 1 || rn.Metrics.Pending != 0 {
		t.Fatalf("expected 1 skipped / 0 pending, got %d/%d", rn.Metrics.Skipped, rn.Metrics.Pending)
	}
	if rn.Status != StatusCompleted {
		t.Fatalf("expected run completed after skipping its only row, got %q", rn.Status)
	}

	// Skipping again is a conflict: the row is no longer pending.
	if err := svc.SkipRow(ctx, orgID, rows[0].ID, "again"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict skipping a non-pending row, got %v", err)
	}
}

func TestRecordCallback_CountsAndFlagsRow(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()
	ctx := context.Background()

	rn := ingestTestRun(t, svc, orgID, []RowInput{{PhoneNumber: "+31612345678"}})
	rows, _ := svc.ListRows(ctx, orgID, rn.ID)

	callID := uuid.New()
	if err := svc.RecordCallback(ctx, orgID, &rows[0], callID); err != nil {
		t.Fatalf("record callback: %v", err)
	}
	if err := svc.RecordInboundReturn(ctx, orgID, rn.ID); err != nil {
		t.Fatalf("record inbound return: %v", err)
	}

	rn, _ = svc.Get(ctx, orgID, rn.ID)
	if rn.Metrics.CallbackCount != 1 || rn.Metrics.InboundReturns != 1 {
		t.Fatalf("expected 1 callback / 1 inbound return, got %d/%d",
			rn.Metrics.CallbackCount, rn.Metrics.InboundReturns)
	}
	if len(rn.CallbackCallIDs) != 1 || rn.CallbackCallIDs[0] != callID {
		t.Fatalf("expected callback call id recorded, got %v", rn.CallbackCallIDs)
	}

	row, _ := svc.GetRow(ctx, orgID, rows[0].ID)
	if row.Status != RowStatusCallback {
		t.Fatalf("expected row in callback status, got %q", row.Status)
	}
}

// A fast call can finish before the dispatcher gets around to writing its
// breadcrumbs; the late metadata write must not revive the row.
func TestRecordDispatchMetadata_DoesNotResurrectFinishedRow(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()
	ctx := context.Background()

	rn := ingestTestRun(t, svc, orgID, []RowInput{{PhoneNumber: "+31612345678"}})
	if _, err := svc.Start(ctx, orgID, rn.ID); err != nil {
		t.Fatalf("start run: %v", err)
	}

	rows, _ := svc.ListRows(ctx, orgID, rn.ID)
	if _, err := svc.ClaimRow(ctx, orgID, &rows[0]); err != nil {
		t.Fatalf("claim row: %v", err)
	}

	// While calling, breadcrumbs apply.
	rows[0].Metadata = map[string]interface{}{"providerCallId": "call-abc"}
	if err := svc.RecordDispatchMetadata(ctx, orgID, &rows[0]); err != nil {
		t.Fatalf("record dispatch metadata: %v", err)
	}
	row, _ := svc.GetRow(ctx, orgID, rows[0].ID)
	if row.Metadata["providerCallId"] != "call-abc" {
		t.Fatalf("expected breadcrumbs on calling row, got %v", row.Metadata)
	}

	// The post-call webhook lands first and finishes the row.
	row.Status = RowStatusCompleted
	row.Metadata["finalizedBy"] = "webhook"
	if err := svc.SaveRowOutcome(ctx, row); err != nil {
		t.Fatalf("save row outcome: %v", err)
	}

	rows[0].Metadata = map[string]interface{}{"providerCallId": "call-abc", "stale": true}
	if err := svc.RecordDispatchMetadata(ctx, orgID, &rows[0]); err != nil {
		t.Fatalf("record stale dispatch metadata: %v", err)
	}

	row, _ = svc.GetRow(ctx, orgID, rows[0].ID)
	if row.Status != RowStatusCompleted {
		t.Fatalf("expected terminal status to stand, got %q", row.Status)
	}
	if row.Metadata["finalizedBy"] != "webhook" {
		t.Fatalf("expected webhook metadata to stand, got %v", row.Metadata)
	}
}

func TestStartScheduled_ToleratesMissingAndTransitionedRuns(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeQueue{})
	orgID := uuid.New()
	ctx := context.Background()

	// Deleted run: the queued task is dropped silently.
	if err := svc.StartScheduled(ctx, orgID, uuid.New()); err != nil {
		t.Fatalf("expected nil for missing run, got %v", err)
	}

	// Manually started in the meantime: also dropped.
	rn := ingestTestRun(t, svc, orgID, []RowInput{{PhoneNumber: "+31612345678"}})
	if _, err := svc.Start(ctx, orgID, rn.ID); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := svc.StartScheduled(ctx, orgID, rn.ID); err != nil {
		t.Fatalf("expected nil for already-running run, got %v", err)
	}

	rn, _ = svc.Get(ctx, orgID, rn.ID)
	if rn.Status != StatusRunning {
		t.Fatalf("expected run untouched, got %q", rn.Status)
	}
}
