package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carecall_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	runNotFoundMsg = "run not found"
	rowNotFoundMsg = "row not found"
)

const runColumns = `id, org_id, campaign_id, name, status,
	rows_total, rows_invalid, calls_total, calls_completed, calls_failed, calls_calling,
	calls_pending, calls_skipped, calls_voicemail, calls_connected, calls_converted,
	calls_inbound_returns, callbacks_count, callback_call_ids,
	start_time, end_time, duration_seconds, last_paused_at, scheduled_at,
	raw_file_url, processed_file_url, error_message, created_at, updated_at`

const rowColumns = `id, run_id, org_id, patient_id, variables, status, sort_index,
	analysis, error, metadata, created_at, updated_at`

// Repository provides database operations for runs and their rows.
// Aggregate counters are dedicated columns mutated with single-statement
// atomic increments; there is deliberately no read-modify-write of any
// metrics document.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new run repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ---- Runs ----

// CreateRun inserts a new run in draft status.
func (r *Repository) CreateRun(ctx context.Context, rn *Run) error {
	now := time.Now().UTC()
	rn.CreatedAt = now
	rn.UpdatedAt = now
	if rn.Status == "" {
		rn.Status = StatusDraft
	}
	if rn.CallbackCallIDs == nil {
		rn.CallbackCallIDs = []uuid.UUID{}
	}

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`

	m := rn.Metrics
	_, err := r.pool.Exec(ctx, query,
		rn.ID, rn.OrgID, rn.CampaignID, rn.Name, rn.Status,
		m.RowsTotal, m.RowsInvalid, m.Total, m.Completed, m.Failed, m.Calling,
		m.Pending, m.Skipped, m.Voicemail, m.Connected, m.Converted,
		m.InboundReturns, m.CallbackCount, rn.CallbackCallIDs,
		rn.StartTime, rn.EndTime, rn.DurationSeconds, rn.LastPausedAt, rn.ScheduledAt,
		rn.RawFileURL, rn.ProcessedFileURL, rn.ErrorMessage, rn.CreatedAt, rn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by id.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1 AND org_id = $2`
	rn, err := r.scanRun(r.pool.QueryRow(ctx, query, id, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(runNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rn, nil
}

// ListRuns lists runs for an organization, newest first.
func (r *Repository) ListRuns(ctx context.Context, orgID uuid.UUID) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE org_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		rn, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *rn)
	}

	return runs, rows.Err()
}

// UpdateStatus sets a run's status unconditionally. Transition validation
// belongs to the service; this is used for processing/ready/failed moves.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, orgID uuid.UUID, status Status) error {
	query := `UPDATE runs SET status = $3, updated_at = $4 WHERE id = $1 AND org_id = $2`
	result, err := r.pool.Exec(ctx, query, id, orgID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(runNotFoundMsg)
	}
	return nil
}

// MarkRunning transitions a run to running from a start-allowed state.
// start_time is set only on the first start; resumes keep the original.
// Returns false when the run was not in a startable state.
func (r *Repository) MarkRunning(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (bool, error) {
	query := `UPDATE runs SET status = 'running',
			start_time = COALESCE(start_time, $3),
			updated_at = $3
		WHERE id = $1 AND org_id = $2 AND status IN ('ready', 'paused', 'scheduled')`

	result, err := r.pool.Exec(ctx, query, id, orgID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark run running: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkPaused transitions a running run to paused.
// Returns false when the run was not running.
func (r *Repository) MarkPaused(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	query := `UPDATE runs SET status = 'paused', last_paused_at = $3, updated_at = $3
		WHERE id = $1 AND org_id = $2 AND status = 'running'`

	result, err := r.pool.Exec(ctx, query, id, orgID, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark run paused: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkScheduled records a future start for a ready run.
func (r *Repository) MarkScheduled(ctx context.Context, id uuid.UUID, orgID uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE runs SET status = 'scheduled', scheduled_at = $3, updated_at = $4
		WHERE id = $1 AND org_id = $2 AND status IN ('ready', 'draft')`

	result, err := r.pool.Exec(ctx, query, id, orgID, at, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark run scheduled: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkCompleted transitions a run to completed, stamping end_time and
// duration exactly once. The status guard makes duplicate terminal
// webhooks no-ops, so duration stays stable once set.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	query := `UPDATE runs SET status = 'completed',
			end_time = $3,
			duration_seconds = GREATEST(EXTRACT(EPOCH FROM ($3 - COALESCE(start_time, $3)))::int, 0),
			updated_at = $3
		WHERE id = $1 AND org_id = $2 AND status <> 'completed'`

	result, err := r.pool.Exec(ctx, query, id, orgID, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark run completed: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkFailed moves a run to failed and records the cause. Completed runs
// are left alone; failed is for unrecoverable errors mid-lifecycle.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, orgID uuid.UUID, cause string) error {
	query := `UPDATE runs SET status = 'failed', error_message = $3, updated_at = $4
		WHERE id = $1 AND org_id = $2 AND status <> 'completed'`

	_, err := r.pool.Exec(ctx, query, id, orgID, cause, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// DeleteRun removes a run and cascades to its rows.
func (r *Repository) DeleteRun(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(runNotFoundMsg)
	}
	return nil
}

// SetIngestTotals records row ingestion results and seeds the call
// counters: every valid row is one pending call.
func (r *Repository) SetIngestTotals(ctx context.Context, id uuid.UUID, orgID uuid.UUID, total, invalid int) error {
	valid := total - invalid
	query := `UPDATE runs SET rows_total = $3, rows_invalid = $4,
			calls_total = $5, calls_pending = $5, updated_at = $6
		WHERE id = $1 AND org_id = $2`

	result, err := r.pool.Exec(ctx, query, id, orgID, total, invalid, valid, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set run ingest totals: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(runNotFoundMsg)
	}
	return nil
}

// ---- Metric counters ----

// TerminalMetricDelta describes the counter changes for one outbound
// terminal call outcome.
type TerminalMetricDelta struct {
	Completed     bool // false counts the call as failed
	WasInProgress bool // decrement calls_calling, clamped at zero
	Connected     bool
	Voicemail     bool
	Converted     bool
}

// ApplyOutboundTerminalMetrics applies one outbound call outcome to the
// run counters in a single atomic statement.
func (r *Repository) ApplyOutboundTerminalMetrics(ctx context.Context, id uuid.UUID, orgID uuid.UUID, d TerminalMetricDelta) error {
	query := `UPDATE runs SET
			calls_completed = calls_completed + $3,
			calls_failed = calls_failed + $4,
			calls_calling = GREATEST(calls_calling - $5, 0),
			calls_connected = calls_connected + $6,
			calls_voicemail = calls_voicemail + $7,
			calls_converted = calls_converted + $8,
			updated_at = $9
		WHERE id = $1 AND org_id = $2`

	result, err := r.pool.Exec(ctx, query, id, orgID,
		boolToInt(d.Completed), boolToInt(!d.Completed), boolToInt(d.WasInProgress),
		boolToInt(d.Connected), boolToInt(d.Voicemail), boolToInt(d.Converted),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to apply run terminal metrics: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(runNotFoundMsg)
	}
	return nil
}

// ApplyDispatchClaim moves one pending call into calling.
func (r *Repository) ApplyDispatchClaim(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error {
	query := `UPDATE runs SET
			calls_pending = GREATEST(calls_pending - 1, 0),
			calls_calling = calls_calling + 1,
			updated_at = $3
		WHERE id = $1 AND org_id = $2`

	_, err := r.pool.Exec(ctx, query, id, orgID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to apply dispatch claim metrics: %w", err)
	}
	return nil
}

// ApplyDispatchFailure records a row whose provider dispatch failed
// before any call existed.
func (r *Repository) ApplyDispatchFailure(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error {
	query := `UPDATE runs SET
			calls_calling = GREATEST(calls_calling - 1, 0),
			calls_failed = calls_failed + 1,
			updated_at = $3
		WHERE id = $1 AND org_id = $2`

	_, err := r.pool.Exec(ctx, query, id, orgID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to apply dispatch failure metrics: %w", err)
	}
	return nil
}

// ApplySkip moves one pending call into skipped.
func (r *Repository) ApplySkip(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error {
	query := `UPDATE runs SET
			calls_pending = GREATEST(calls_pending - 1, 0),
			calls_skipped = calls_skipped + 1,
			updated_at = $3
		WHERE id = $1 AND org_id = $2`

	_, err := r.pool.Exec(ctx, query, id, orgID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to apply skip metrics: %w", err)
	}
	return nil
}

// IncrementInboundReturns counts one inbound return call against the run.
func (r *Repository) IncrementInboundReturns(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error {
	query := `UPDATE runs SET calls_inbound_returns = calls_inbound_returns + 1, updated_at = $3
		WHERE id = $1 AND org_id = $2`

	_, err := r.pool.Exec(ctx, query, id, orgID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to increment inbound returns: %w", err)
	}
	return nil
}

// RecordCallback increments the callback counter and appends the call id
// to the callback id list in one statement.
func (r *Repository) RecordCallback(ctx context.Context, id uuid.UUID, orgID uuid.UUID, callID uuid.UUID) error {
	query := `UPDATE runs SET
			callbacks_count = callbacks_count + 1,
			callback_call_ids = callback_call_ids || to_jsonb($3::text),
			updated_at = $4
		WHERE id = $1 AND org_id = $2`

	_, err := r.pool.Exec(ctx, query, id, orgID, callID.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record run callback: %w", err)
	}
	return nil
}

// ---- Rows ----

// CreateRows batch-inserts the rows of a run.
func (r *Repository) CreateRows(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	query := `INSERT INTO rows (` + rowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	for i := range rows {
		row := &rows[i]
		row.CreatedAt = now
		row.UpdatedAt = now
		if row.Status == "" {
			row.Status = RowStatusPending
		}
		batch.Queue(query,
			row.ID, row.RunID, row.OrgID, row.PatientID, row.Variables, row.Status,
			row.SortIndex, row.Analysis, row.Error, row.Metadata, row.CreatedAt, row.UpdatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert rows: %w", err)
		}
	}

	return nil
}

// GetRow retrieves a row by id.
func (r *Repository) GetRow(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*Row, error) {
	query := `SELECT ` + rowColumns + ` FROM rows WHERE id = $1 AND org_id = $2`
	row, err := r.scanRow(r.pool.QueryRow(ctx, query, id, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(rowNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get row: %w", err)
	}
	return row, nil
}

// ListRows lists a run's rows in upload order.
func (r *Repository) ListRows(ctx context.Context, runID uuid.UUID, orgID uuid.UUID) ([]Row, error) {
	query := `SELECT ` + rowColumns + ` FROM rows WHERE run_id = $1 AND org_id = $2 ORDER BY sort_index ASC`

	rows, err := r.pool.Query(ctx, query, runID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, *row)
	}

	return out, rows.Err()
}

// ListPendingRows returns up to limit pending rows in upload order.
func (r *Repository) ListPendingRows(ctx context.Context, runID uuid.UUID, orgID uuid.UUID, limit int) ([]Row, error) {
	query := `SELECT ` + rowColumns + ` FROM rows
		WHERE run_id = $1 AND org_id = $2 AND status = 'pending'
		ORDER BY sort_index ASC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, runID, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending row: %w", err)
		}
		out = append(out, *row)
	}

	return out, rows.Err()
}

// ClaimRowForDispatch atomically moves a pending row to calling.
// Returns false when another dispatcher got there first.
func (r *Repository) ClaimRowForDispatch(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (bool, error) {
	query := `UPDATE rows SET status = 'calling', updated_at = $3
		WHERE id = $1 AND org_id = $2 AND status = 'pending'`

	result, err := r.pool.Exec(ctx, query, id, orgID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim row for dispatch: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkRowSkipped atomically moves a pending row to skipped.
// Returns false when the row was no longer pending.
func (r *Repository) MarkRowSkipped(ctx context.Context, id uuid.UUID, orgID uuid.UUID, reason string) (bool, error) {
	query := `UPDATE rows SET status = 'skipped', error = $3, updated_at = $4
		WHERE id = $1 AND org_id = $2 AND status = 'pending'`

	result, err := r.pool.Exec(ctx, query, id, orgID, reason, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark row skipped: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// UpdateRowOutcome persists a row's status, analysis, error and metadata.
func (r *Repository) UpdateRowOutcome(ctx context.Context, row *Row) error {
	query := `UPDATE rows SET
			status = $3,
			patient_id = COALESCE($4, patient_id),
			analysis = $5,
			error = $6,
			metadata = $7,
			updated_at = $8
		WHERE id = $1 AND org_id = $2`

	row.UpdatedAt = time.Now().UTC()
	result, err := r.pool.Exec(ctx, query,
		row.ID, row.OrgID, row.Status, row.PatientID, row.Analysis, row.Error, row.Metadata, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update row outcome: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(rowNotFoundMsg)
	}
	return nil
}

// SetRowDispatchMetadata records dispatch breadcrumbs (provider call id,
// internal call id) without touching the row's status. Conditional on the
// row still being in calling: a fast post-call webhook may already have
// written the terminal outcome, and that write wins.
func (r *Repository) SetRowDispatchMetadata(ctx context.Context, id uuid.UUID, orgID uuid.UUID, metadata map[string]interface{}) (bool, error) {
	query := `UPDATE rows SET metadata = $3, updated_at = $4
		WHERE id = $1 AND org_id = $2 AND status = 'calling'`

	result, err := r.pool.Exec(ctx, query, id, orgID, metadata, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to set row dispatch metadata: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// CountActiveRows counts rows still pending or calling. Zero means the
// run's dispatch work is done.
func (r *Repository) CountActiveRows(ctx context.Context, runID uuid.UUID, orgID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM rows
		WHERE run_id = $1 AND org_id = $2 AND status IN ('pending', 'calling')`

	var count int
	if err := r.pool.QueryRow(ctx, query, runID, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active rows: %w", err)
	}
	return count, nil
}

// ---- scanning ----

func (r *Repository) scanRun(row pgx.Row) (*Run, error) {
	var rn Run
	m := &rn.Metrics
	err := row.Scan(
		&rn.ID, &rn.OrgID, &rn.CampaignID, &rn.Name, &rn.Status,
		&m.RowsTotal, &m.RowsInvalid, &m.Total, &m.Completed, &m.Failed, &m.Calling,
		&m.Pending, &m.Skipped, &m.Voicemail, &m.Connected, &m.Converted,
		&m.InboundReturns, &m.CallbackCount, &rn.CallbackCallIDs,
		&rn.StartTime, &rn.EndTime, &rn.DurationSeconds, &rn.LastPausedAt, &rn.ScheduledAt,
		&rn.RawFileURL, &rn.ProcessedFileURL, &rn.ErrorMessage, &rn.CreatedAt, &rn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rn, nil
}

func (r *Repository) scanRow(row pgx.Row) (*Row, error) {
	var rw Row
	err := row.Scan(
		&rw.ID, &rw.RunID, &rw.OrgID, &rw.PatientID, &rw.Variables, &rw.Status,
		&rw.SortIndex, &rw.Analysis, &rw.Error, &rw.Metadata, &rw.CreatedAt, &rw.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rw, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
