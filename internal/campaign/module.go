// Package campaign's module wires the campaign bounded context.
package campaign

import (
	apphttp "carecall_backend/internal/http"
	"carecall_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the campaign bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	repo    *Repository
}

// NewModule creates and initializes the campaign module.
func NewModule(pool *pgxpool.Pool, val *validator.Validator) *Module {
	repo := NewRepository(pool)
	return &Module{
		handler: NewHandler(repo, val),
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "campaign"
}

// Repository exposes the campaign repository for cross-module wiring.
func (m *Module) Repository() *Repository {
	return m.repo
}

// RegisterRoutes mounts campaign routes on the org-scoped group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Org.Group("/campaigns"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
