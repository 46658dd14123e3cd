package queue

import (
	"context"
	"errors"
	"time"

	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/metrics"
)

// Handler processes one job. Returning an error schedules a retry.
type Handler func(ctx context.Context, job Job) error

type WorkerParams struct {
	Store        Store
	Handler      Handler
	Logger       *logger.Logger
	Metrics      *metrics.QueueMetrics
	Name         string
	PollInterval time.Duration
	BatchSize    int
}

// Worker polls a Store and dispatches due jobs to a Handler.
type Worker struct {
	store     Store
	handler   Handler
	logg      *logger.Logger
	metrics   *metrics.QueueMetrics
	name      string
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Store == nil {
		return nil, errors.New("queue store required")
	}
	if params.Handler == nil {
		return nil, errors.New("queue handler required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.PollInterval <= 0 {
		params.PollInterval = time.Second
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 25
	}
	if params.Name == "" {
		params.Name = "default"
	}
	return &Worker{
		store:     params.Store,
		handler:   params.Handler,
		logg:      params.Logger,
		metrics:   params.Metrics,
		name:      params.Name,
		interval:  params.PollInterval,
		batchSize: params.BatchSize,
		now:       time.Now,
	}, nil
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ctx = w.logg.WithField(ctx, "queue", w.name)
	w.logg.Info(ctx, "queue.worker.start")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logg.Error(ctx, "queue.worker.poll_failed", err)
		}
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "queue.worker.stop")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll claims one batch and processes it, returning how many jobs ran.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	jobs, err := w.store.Claim(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, job Job) {
	jobCtx := w.logg.WithFields(ctx, map[string]any{"job_id": job.ID, "attempt": job.Attempts + 1})
	if !job.RunAt.IsZero() {
		w.metrics.ObserveLag(w.name, w.now().Sub(job.RunAt))
	}

	handleErr := w.handler(jobCtx, job)
	if handleErr == nil {
		if err := w.store.Ack(jobCtx, job.ID); err != nil {
			// The lease will expire and the job reruns; handlers are idempotent.
			w.logg.Warn(jobCtx, "queue.job.ack_failed", err)
			return
		}
		w.metrics.IncOutcome(w.name, "ack")
		return
	}

	dead, err := w.store.Retry(jobCtx, job, handleErr)
	if err != nil {
		w.logg.Error(jobCtx, "queue.job.retry_failed", err)
		return
	}
	if dead {
		w.metrics.IncOutcome(w.name, "dead")
		w.logg.Error(jobCtx, "queue.job.dead_lettered", handleErr)
		return
	}
	w.metrics.IncOutcome(w.name, "retry")
	w.logg.Warn(jobCtx, "queue.job.retry_scheduled", handleErr)
}
