package campaign

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

const campaignNotFoundMsg = "campaign not found"

const campaignColumns = `id, org_id, name, agent_id, direction, base_prompt, voicemail_message,
	patient_fields, campaign_fields, analysis_fields, is_active, is_default_inbound,
	created_at, updated_at`

// Repository provides database operations for campaigns.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new campaign repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new campaign.
func (r *Repository) Create(ctx context.Context, c *Campaign) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	query := `
		INSERT INTO campaigns (` + campaignColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.OrgID, c.Name, c.AgentID, c.Direction, c.BasePrompt, c.VoicemailMessage,
		c.PatientFields, c.CampaignFields, c.AnalysisFields, c.IsActive, c.IsDefaultInbound,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND org_id = $2`
	c, err := r.scanOne(r.pool.QueryRow(ctx, query, id, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(campaignNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// ListByOrg lists all campaigns for an organization, newest first.
func (r *Repository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE org_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		c, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, rows.Err()
}

// GetDefaultInbound returns the organization's default inbound campaign:
// the most recently updated active campaign with inbound direction,
// preferring one explicitly flagged default. Returns nil without error
// when no inbound campaign is configured.
func (r *Repository) GetDefaultInbound(ctx context.Context, orgID uuid.UUID) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE org_id = $1 AND direction = 'inbound' AND is_active = true
		ORDER BY is_default_inbound DESC, updated_at DESC LIMIT 1`

	c, err := r.scanOne(r.pool.QueryRow(ctx, query, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get default inbound campaign: %w", err)
	}
	return c, nil
}

// Update persists the mutable campaign configuration. Runs reference
// campaigns by id, so edits apply to future dispatches only.
func (r *Repository) Update(ctx context.Context, c *Campaign) error {
	query := `UPDATE campaigns SET
			name = $3,
			agent_id = $4,
			direction = $5,
			base_prompt = $6,
			voicemail_message = $7,
			patient_fields = $8,
			campaign_fields = $9,
			analysis_fields = $10,
			is_default_inbound = $11,
			updated_at = $12
		WHERE id = $1 AND org_id = $2`

	c.UpdatedAt = time.Now().UTC()
	result, err := r.pool.Exec(ctx, query,
		c.ID, c.OrgID, c.Name, c.AgentID, c.Direction, c.BasePrompt, c.VoicemailMessage,
		c.PatientFields, c.CampaignFields, c.AnalysisFields, c.IsDefaultInbound, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(campaignNotFoundMsg)
	}

	return nil
}

// SetActive toggles a campaign's active flag.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, orgID uuid.UUID, active bool) error {
	query := `UPDATE campaigns SET is_active = $3, updated_at = $4 WHERE id = $1 AND org_id = $2`

	result, err := r.pool.Exec(ctx, query, id, orgID, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update campaign active flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(campaignNotFoundMsg)
	}

	return nil
}

func (r *Repository) scanOne(row pgx.Row) (*Campaign, error) {
	var c Campaign
	err := row.Scan(
		&c.ID, &c.OrgID, &c.Name, &c.AgentID, &c.Direction, &c.BasePrompt, &c.VoicemailMessage,
		&c.PatientFields, &c.CampaignFields, &c.AnalysisFields, &c.IsActive, &c.IsDefaultInbound,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
