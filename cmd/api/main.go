package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carecall_backend/internal/campaign"
	apphttp "carecall_backend/internal/http"
	"carecall_backend/internal/http/router"
	"carecall_backend/internal/patient"
	"carecall_backend/internal/realtime"
	"carecall_backend/internal/run"
	"carecall_backend/internal/scheduler"
	"carecall_backend/internal/webhook"
	"carecall_backend/platform/config"
	"carecall_backend/platform/db"
	"carecall_backend/platform/logger"
	"carecall_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	events, closeEvents := initRealtimePublisher(cfg, log)
	if closeEvents != nil {
		defer closeEvents()
	}

	queue, closeQueue := initSchedulerClient(cfg, log)
	if closeQueue != nil {
		defer closeQueue()
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	campaignModule := campaign.NewModule(pool, val)
	patientResolver := patient.NewResolver(patient.NewRepository(pool))
	runModule := run.NewModule(pool, patientResolver, queue, events, val, log)
	webhookModule := webhook.NewModule(pool, cfg, runModule.Service(), events, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: db.NewPoolAdapter(pool),
		Modules: []apphttp.Module{
			campaignModule,
			runModule,
			webhookModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initRealtimePublisher connects the Redis publisher, falling back to a
// no-op publisher when Redis is not configured.
func initRealtimePublisher(cfg *config.Config, log *logger.Logger) (realtime.Publisher, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; realtime events disabled")
		return realtime.Noop{}, nil
	}

	publisher, err := realtime.NewRedisPublisher(cfg, log)
	if err != nil {
		log.Error("failed to initialize realtime publisher", "error", err)
		return realtime.Noop{}, nil
	}

	return publisher, func() {
		_ = publisher.Close()
	}
}

// initSchedulerClient connects the task-queue client. Run start and
// schedule operations depend on it, so a broken queue is fatal here
// rather than a silent degradation.
func initSchedulerClient(cfg *config.Config, log *logger.Logger) (*scheduler.Client, func()) {
	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
