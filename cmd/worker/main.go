package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carecall_backend/internal/call"
	"carecall_backend/internal/campaign"
	"carecall_backend/internal/outreach"
	"carecall_backend/internal/patient"
	"carecall_backend/internal/realtime"
	"carecall_backend/internal/retell"
	"carecall_backend/internal/run"
	"carecall_backend/internal/scheduler"
	"carecall_backend/platform/config"
	"carecall_backend/platform/db"
	"carecall_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The worker consumes run tasks from the asynq queue: immediate dispatch
// cycles and scheduled run starts. Migrations are owned by the API binary,
// so the worker only connects.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env, "queue", cfg.AsynqQueueName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	var events realtime.Publisher = realtime.Noop{}
	if cfg.GetRedisURL() != "" {
		publisher, err := realtime.NewRedisPublisher(cfg, log)
		if err != nil {
			log.Error("failed to initialize realtime publisher", "error", err)
		} else {
			events = publisher
			defer publisher.Close()
		}
	} else {
		log.Warn("REDIS_URL not configured; realtime events disabled")
	}

	// Scheduled starts re-enqueue a dispatch task, so the worker needs its
	// own queue client.
	queue, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer queue.Close()

	campaignRepo := campaign.NewRepository(pool)
	patientRepo := patient.NewRepository(pool)
	callRepo := call.NewRepository(pool)
	effortRepo := outreach.NewRepository(pool)

	runService := run.NewService(
		run.NewRepository(pool),
		patient.NewResolver(patientRepo),
		queue,
		events,
		log,
	)

	dispatcher := scheduler.NewDispatcher(
		cfg,
		runService,
		campaignRepo,
		patientRepo,
		callRepo,
		effortRepo,
		retell.NewClient(cfg, log),
		log,
	)

	worker, err := scheduler.NewWorker(cfg, runService, dispatcher, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	log.Info("worker listening", "concurrency", cfg.AsynqConcurrency)
	worker.Run(ctx)
	log.Info("worker stopped")
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
