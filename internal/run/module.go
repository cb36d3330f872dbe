// Package run's module wires the run bounded context: repository,
// lifecycle service and HTTP routes.
package run

import (
	apphttp "carecall_backend/internal/http"
	"carecall_backend/internal/realtime"
	"carecall_backend/platform/logger"
	"carecall_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the run bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	service *Service
	repo    *Repository
}

// NewModule creates and initializes the run module with all its dependencies.
func NewModule(pool *pgxpool.Pool, patients PatientResolver, queue Enqueuer, events realtime.Publisher, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	service := NewService(repo, patients, queue, events, log)
	handler := NewHandler(service, val)

	return &Module{
		handler: handler,
		service: service,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "run"
}

// Service exposes the run service for the webhook and dispatch wiring.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts run routes on the org-scoped group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Org.Group("/runs"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
