package call

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

const callNotFoundMsg = "call not found"

const callColumns = `id, org_id, provider_call_id, direction, status, agent_id, patient_id,
	campaign_id, row_id, run_id, outreach_effort_id, related_outbound_call_id,
	to_number, from_number, recording_url, transcript, analysis, duration_seconds,
	start_time, end_time, error, metadata, created_at, updated_at`

// Repository provides database operations for call records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new call repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new call record.
func (r *Repository) Create(ctx context.Context, c *Call) error {
	query := `
		INSERT INTO calls (` + callColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.OrgID, c.ProviderCallID, c.Direction, c.Status, c.AgentID, c.PatientID,
		c.CampaignID, c.RowID, c.RunID, c.OutreachEffortID, c.RelatedOutboundCallID,
		c.ToNumber, c.FromNumber, c.RecordingURL, c.Transcript, c.Analysis, c.DurationSeconds,
		c.StartTime, c.EndTime, c.Error, c.Metadata, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by its internal id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1 AND org_id = $2`
	c, err := r.scanOne(r.pool.QueryRow(ctx, query, id, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(callNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return c, nil
}

// GetByProviderCallID retrieves a call by the provider's call id.
// Returns nil without error when no record exists; the webhook path
// creates a record lazily in that case.
func (r *Repository) GetByProviderCallID(ctx context.Context, orgID uuid.UUID, providerCallID string) (*Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE org_id = $1 AND provider_call_id = $2`
	c, err := r.scanOne(r.pool.QueryRow(ctx, query, orgID, providerCallID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call by provider id: %w", err)
	}
	return c, nil
}

// GetByMetadataCallID retrieves an inbound call by the internal id stamped
// into the provider metadata at inbound-webhook time.
func (r *Repository) GetByMetadataCallID(ctx context.Context, orgID uuid.UUID, callID string) (*Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE org_id = $1 AND metadata->>'callId' = $2
		ORDER BY created_at DESC LIMIT 1`
	c, err := r.scanOne(r.pool.QueryRow(ctx, query, orgID, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call by metadata call id: %w", err)
	}
	return c, nil
}

// Update persists the mutable fields of a call record.
func (r *Repository) Update(ctx context.Context, c *Call) error {
	query := `
		UPDATE calls SET
			provider_call_id = $2,
			status = $3,
			patient_id = $4,
			recording_url = $5,
			transcript = $6,
			analysis = $7,
			duration_seconds = $8,
			start_time = $9,
			end_time = $10,
			error = $11,
			metadata = $12,
			outreach_effort_id = $13,
			updated_at = $14
		WHERE id = $1 AND org_id = $15`

	c.UpdatedAt = time.Now().UTC()
	result, err := r.pool.Exec(ctx, query,
		c.ID, c.ProviderCallID, c.Status, c.PatientID, c.RecordingURL, c.Transcript,
		c.Analysis, c.DurationSeconds, c.StartTime, c.EndTime, c.Error, c.Metadata,
		c.OutreachEffortID, c.UpdatedAt, c.OrgID,
	)
	if err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(callNotFoundMsg)
	}

	return nil
}

// SetOutreachEffort backfills the outreach effort linkage on a call.
func (r *Repository) SetOutreachEffort(ctx context.Context, id uuid.UUID, orgID uuid.UUID, effortID uuid.UUID) error {
	query := `UPDATE calls SET outreach_effort_id = $3, updated_at = $4 WHERE id = $1 AND org_id = $2`
	result, err := r.pool.Exec(ctx, query, id, orgID, effortID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set call outreach effort: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(callNotFoundMsg)
	}
	return nil
}

func (r *Repository) scanOne(row pgx.Row) (*Call, error) {
	var c Call
	err := row.Scan(
		&c.ID, &c.OrgID, &c.ProviderCallID, &c.Direction, &c.Status, &c.AgentID, &c.PatientID,
		&c.CampaignID, &c.RowID, &c.RunID, &c.OutreachEffortID, &c.RelatedOutboundCallID,
		&c.ToNumber, &c.FromNumber, &c.RecordingURL, &c.Transcript, &c.Analysis, &c.DurationSeconds,
		&c.StartTime, &c.EndTime, &c.Error, &c.Metadata, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
