package scheduler

import (
	"context"
	"fmt"

	"carecall_backend/internal/run"
	"carecall_backend/platform/config"
	"carecall_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Worker consumes run tasks from the asynq queue.
type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	runs       *run.Service
	dispatcher *Dispatcher
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, runs *run.Service, dispatcher *Dispatcher, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		runs:       runs,
		dispatcher: dispatcher,
		log:        log,
	}

	mux.HandleFunc(TaskRunDispatch, w.handleRunDispatch)
	mux.HandleFunc(TaskRunScheduledStart, w.handleRunScheduledStart)

	return w, nil
}

func (w *Worker) handleRunDispatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRunDispatchPayload(task)
	if err != nil {
		return err
	}

	runID, orgID, err := parseRunTaskIDs(payload.RunID, payload.OrganizationID)
	if err != nil {
		return err
	}

	// Safe to retry: rows are claimed atomically, so a redelivered task
	// only picks up rows the previous attempt never reached.
	return w.dispatcher.Dispatch(ctx, runID, orgID)
}

func (w *Worker) handleRunScheduledStart(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRunScheduledStartPayload(task)
	if err != nil {
		return err
	}

	runID, orgID, err := parseRunTaskIDs(payload.RunID, payload.OrganizationID)
	if err != nil {
		return err
	}

	return w.runs.StartScheduled(ctx, orgID, runID)
}

func parseRunTaskIDs(rawRunID, rawOrgID string) (uuid.UUID, uuid.UUID, error) {
	runID, err := uuid.Parse(rawRunID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid run id in task payload: %w", err)
	}
	orgID, err := uuid.Parse(rawOrgID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid org id in task payload: %w", err)
	}
	return runID, orgID, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
