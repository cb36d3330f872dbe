// Package webhook's module wires the Retell webhook bounded context.
package webhook

import (
	"carecall_backend/internal/call"
	"carecall_backend/internal/campaign"
	apphttp "carecall_backend/internal/http"
	"carecall_backend/internal/org"
	"carecall_backend/internal/outreach"
	"carecall_backend/internal/patient"
	"carecall_backend/internal/realtime"
	"carecall_backend/internal/run"
	"carecall_backend/platform/config"
	"carecall_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	secret  string
}

// NewModule creates and initializes the webhook module with all its dependencies.
func NewModule(pool *pgxpool.Pool, cfg config.RetellConfig, runs *run.Service, events realtime.Publisher, log *logger.Logger) *Module {
	service := NewService(
		org.NewRepository(pool),
		patient.NewRepository(pool),
		campaign.NewRepository(pool),
		call.NewRepository(pool),
		outreach.NewRepository(pool),
		runs,
		events,
		log,
	)

	return &Module{
		handler: NewHandler(service),
		secret:  cfg.GetRetellWebhookSecret(),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts the webhook routes. These are provider-facing:
// shared-secret auth instead of a session, org id in the route.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhook/retell")
	group.Use(SecretAuthMiddleware(m.secret))
	group.POST("/:orgId/inbound", m.handler.HandleInbound)
	group.POST("/:orgId/post-call", m.handler.HandlePostCall)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
