package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codesearch/internal/store"
)

// Worker defaults.
const (
	DefaultWorkerCount  = 2
	DefaultPollInterval = 500 * time.Millisecond
	DefaultJobTimeout   = 30 * time.Minute
)

// Worker runs a pool of goroutines that claim indexing jobs from the
// durable queue and execute them through the Pipeline. A job that runs
// past the timeout is marked failed and becomes eligible for retry.
type Worker struct {
	store    *store.Store
	pipeline *Pipeline

	workers      int
	pollInterval time.Duration
	jobTimeout   time.Duration
	logger       *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerCount sets the number of concurrent job runners.
func WithWorkerCount(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithPollInterval sets the idle queue polling interval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithJobTimeout bounds how long one job may run.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.jobTimeout = d
		}
	}
}

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// NewWorker creates a worker pool over the queue and pipeline.
func NewWorker(st *store.Store, p *Pipeline, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:        st,
		pipeline:     p,
		workers:      DefaultWorkerCount,
		pollInterval: DefaultPollInterval,
		jobTimeout:   DefaultJobTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks, processing jobs until the context is cancelled. It
// returns nil on clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		worker := i
		g.Go(func() error {
			return w.loop(gctx, worker)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, id int) error {
	for {
		job, err := w.store.ClaimNext(ctx)
		if errors.Is(err, store.ErrNoJob) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("failed to claim job", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.logger.Info("job claimed",
			"worker", id, "job", job.ID, "source", job.Source,
			"priority", job.Priority, "attempt", job.Attempts)
		w.runJob(ctx, job.ID, job.Source, job.Branch)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// runJob executes one claimed job and records the outcome. Job
// completion is reported even when the surrounding context was
// cancelled mid-run, so the claim is never left dangling.
func (w *Worker) runJob(ctx context.Context, jobID, source, branch string) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	stats, err := w.pipeline.IndexRepository(jobCtx, source, branch)

	finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finishCancel()

	if err != nil {
		// A timeout is the job's own failure; a worker shutdown is not.
		// On shutdown the claim is undone so the attempt is not charged.
		if ctx.Err() != nil && !errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			if relErr := w.store.ReleaseJob(finishCtx, jobID); relErr != nil {
				w.logger.Error("failed to release job on shutdown", "job", jobID, "error", relErr)
				return
			}
			w.logger.Info("job released on shutdown", "job", jobID)
			return
		}

		cause := err.Error()
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			cause = fmt.Sprintf("job timed out after %s: %v", w.jobTimeout, err)
		}
		requeued, markErr := w.store.MarkFailed(finishCtx, jobID, cause)
		if markErr != nil {
			w.logger.Error("failed to record job failure", "job", jobID, "error", markErr)
			return
		}
		if requeued {
			w.logger.Warn("job failed, requeued", "job", jobID, "error", err)
		} else {
			w.logger.Error("job dead-lettered", "job", jobID, "error", err)
		}
		return
	}

	if markErr := w.store.MarkSucceeded(finishCtx, jobID); markErr != nil {
		w.logger.Error("failed to record job success", "job", jobID, "error", markErr)
		return
	}
	w.logger.Info("job succeeded",
		"job", jobID, "entities", stats.Entities, "duration", stats.Duration)
}
