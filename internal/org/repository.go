// Package org provides the minimal organization lookup the webhook paths
// need. Organization management itself lives in a separate system; this
// module only verifies that an org id from a webhook route exists.
package org

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Organization is the minimal org record.
type Organization struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Repository provides read access to organizations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new organization repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID retrieves an organization. Returns nil without error when the
// org does not exist; webhook callers fail soft on that.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `SELECT id, name, created_at FROM organizations WHERE id = $1`

	var o Organization
	err := r.pool.QueryRow(ctx, query, id).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return &o, nil
}
