package outreach

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

const effortNotFoundMsg = "outreach effort not found"

const effortColumns = `id, org_id, patient_id, campaign_id, run_id, row_id, original_call_id,
	last_call_id, resolution_status, callback_count, variables, metadata, resolved_at,
	created_at, updated_at`

// Repository provides database operations for outreach efforts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new outreach repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new outreach effort.
func (r *Repository) Create(ctx context.Context, e *Effort) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.ResolutionStatus == "" {
		e.ResolutionStatus = ResolutionOpen
	}

	query := `
		INSERT INTO outreach_efforts (` + effortColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.OrgID, e.PatientID, e.CampaignID, e.RunID, e.RowID, e.OriginalCallID,
		e.LastCallID, e.ResolutionStatus, e.CallbackCount, e.Variables, e.Metadata, e.ResolvedAt,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outreach effort: %w", err)
	}

	return nil
}

// GetByID retrieves an outreach effort by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*Effort, error) {
	query := `SELECT ` + effortColumns + ` FROM outreach_efforts WHERE id = $1 AND org_id = $2`
	e, err := r.scanOne(r.pool.QueryRow(ctx, query, id, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(effortNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get outreach effort: %w", err)
	}
	return e, nil
}

// GetOpenByPatient returns the most recent open-family effort for a
// patient, or nil when none exists. The query is bounded: hot-swap runs
// while the provider holds a live call.
// Multiple simultaneously-open efforts per patient+campaign are not
// prevented anywhere; most-recent-first picks one deterministically.
func (r *Repository) GetOpenByPatient(ctx context.Context, orgID uuid.UUID, patientID uuid.UUID) (*Effort, error) {
	query := `SELECT ` + effortColumns + ` FROM outreach_efforts
		WHERE org_id = $1 AND patient_id = $2
		AND resolution_status IN ('open', 'voicemail', 'follow_up')
		ORDER BY created_at DESC LIMIT 1`

	e, err := r.scanOne(r.pool.QueryRow(ctx, query, orgID, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open outreach effort: %w", err)
	}
	return e, nil
}

// LinkCall records the call that served this effort. The first linked
// call becomes the original; later ones only move last_call_id.
func (r *Repository) LinkCall(ctx context.Context, id uuid.UUID, orgID uuid.UUID, callID uuid.UUID) error {
	query := `UPDATE outreach_efforts SET
			original_call_id = COALESCE(original_call_id, $3),
			last_call_id = $3,
			updated_at = $4
		WHERE id = $1 AND org_id = $2`

	result, err := r.pool.Exec(ctx, query, id, orgID, callID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to link call to outreach effort: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(effortNotFoundMsg)
	}

	return nil
}

// UpdateResolution sets the resolution status and last-call linkage.
// resolvedAt is stamped only when the status is terminal.
func (r *Repository) UpdateResolution(ctx context.Context, id uuid.UUID, orgID uuid.UUID, status ResolutionStatus, lastCallID *uuid.UUID) error {
	var resolvedAt *time.Time
	if status.IsTerminal() {
		now := time.Now().UTC()
		resolvedAt = &now
	}

	query := `UPDATE outreach_efforts SET
			resolution_status = $3,
			last_call_id = COALESCE($4, last_call_id),
			resolved_at = COALESCE(resolved_at, $5),
			updated_at = $6
		WHERE id = $1 AND org_id = $2`

	result, err := r.pool.Exec(ctx, query, id, orgID, status, lastCallID, resolvedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update outreach resolution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(effortNotFoundMsg)
	}

	return nil
}

// ResolveForCallback marks an effort resolved because the patient called
// back, incrementing the callback counter in the same statement.
func (r *Repository) ResolveForCallback(ctx context.Context, id uuid.UUID, orgID uuid.UUID, lastCallID *uuid.UUID) error {
	query := `UPDATE outreach_efforts SET
			resolution_status = 'resolved',
			callback_count = callback_count + 1,
			last_call_id = COALESCE($3, last_call_id),
			resolved_at = COALESCE(resolved_at, $4),
			updated_at = $4
		WHERE id = $1 AND org_id = $2`

	now := time.Now().UTC()
	result, err := r.pool.Exec(ctx, query, id, orgID, lastCallID, now)
	if err != nil {
		return fmt.Errorf("failed to resolve outreach effort for callback: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(effortNotFoundMsg)
	}

	return nil
}

func (r *Repository) scanOne(row pgx.Row) (*Effort, error) {
	var e Effort
	err := row.Scan(
		&e.ID, &e.OrgID, &e.PatientID, &e.CampaignID, &e.RunID, &e.RowID, &e.OriginalCallID,
		&e.LastCallID, &e.ResolutionStatus, &e.CallbackCount, &e.Variables, &e.Metadata, &e.ResolvedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
