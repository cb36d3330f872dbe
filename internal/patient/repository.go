package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carecall_backend/platform/apperr"
	"carecall_backend/platform/phone"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const patientNotFoundMsg = "patient not found"

// Repository provides database operations for patients.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new patient repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new patient. Phone numbers are normalized to E.164
// before storage so lookups by caller number match.
func (r *Repository) Create(ctx context.Context, p *Patient) error {
	p.Phone = phone.NormalizeE164(p.Phone)

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO patients (id, org_id, first_name, last_name, dob, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.OrgID, p.FirstName, p.LastName, p.DOB, p.Phone, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}

	return nil
}

// GetByID retrieves a patient by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*Patient, error) {
	query := `SELECT id, org_id, first_name, last_name, dob, phone, created_at, updated_at
		FROM patients WHERE id = $1 AND org_id = $2`

	var p Patient
	err := r.pool.QueryRow(ctx, query, id, orgID).Scan(
		&p.ID, &p.OrgID, &p.FirstName, &p.LastName, &p.DOB, &p.Phone, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(patientNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	return &p, nil
}

// GetByPhone retrieves a patient by caller number within an organization.
// Returns nil without error when no patient matches.
func (r *Repository) GetByPhone(ctx context.Context, orgID uuid.UUID, rawPhone string) (*Patient, error) {
	normalized := phone.NormalizeE164(rawPhone)

	query := `SELECT id, org_id, first_name, last_name, dob, phone, created_at, updated_at
		FROM patients WHERE org_id = $1 AND phone = $2 ORDER BY created_at ASC LIMIT 1`

	var p Patient
	err := r.pool.QueryRow(ctx, query, orgID, normalized).Scan(
		&p.ID, &p.OrgID, &p.FirstName, &p.LastName, &p.DOB, &p.Phone, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get patient by phone: %w", err)
	}

	return &p, nil
}

// CreatePlaceholder creates the minimal patient record used to attribute
// an inbound call from an unknown number.
func (r *Repository) CreatePlaceholder(ctx context.Context, orgID uuid.UUID, callerPhone string) (*Patient, error) {
	p := &Patient{
		ID:        uuid.New(),
		OrgID:     orgID,
		FirstName: placeholderFirstName,
		LastName:  placeholderLastName,
		DOB:       time.Now().UTC().Truncate(24 * time.Hour),
		Phone:     callerPhone,
	}
	if err := r.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
