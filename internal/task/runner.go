package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RunnerConfig holds configuration for the job runner.
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process jobs.
	WorkerCount int

	// QueueSize determines the buffer size of the in-memory queue.
	QueueSize int

	// StuckJobAge defines how long a job can stay in processing state
	// before it is considered stuck and reset.
	StuckJobAge time.Duration

	// StuckJobCheckInterval defines how often stuck jobs are checked for.
	// Zero defaults to 5 minutes.
	StuckJobCheckInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:           2,
		QueueSize:             100,
		StuckJobAge:           30 * time.Minute,
		StuckJobCheckInterval: 5 * time.Minute,
	}
}

// Runner manages background job processing: a worker pool draining the
// queue, persistence of job state transitions, recovery of unfinished
// jobs on startup, and a monitor that resets jobs stuck in processing.
type Runner struct {
	store      JobStore
	queue      *Queue
	factories  map[string]Factory
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     RunnerConfig
	logger     *slog.Logger
}

// NewRunner creates a new Runner draining the given queue.
func NewRunner(store JobStore, queue *Queue, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.StuckJobCheckInterval == 0 {
		config.StuckJobCheckInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:      store,
		queue:      queue,
		factories:  make(map[string]Factory),
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		logger:     logger.With(slog.String("component", "job_runner")),
	}
}

// RegisterFactory registers the rebuild function for a job type, used
// when recovering persisted jobs. Must be called before Start.
func (r *Runner) RegisterFactory(jobType string, factory Factory) {
	r.factories[jobType] = factory
}

// Submit persists a job and adds it to the queue. The caller owns
// fallback behavior when the queue rejects the job.
func (r *Runner) Submit(ctx context.Context, job Job) error {
	if err := r.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return r.queue.Enqueue(job)
}

// Start recovers unfinished jobs and launches the worker pool.
func (r *Runner) Start() error {
	if err := r.recover(); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go r.stuckJobMonitor()

	return nil
}

// Stop gracefully shuts down the runner. Jobs still buffered stay in
// pending state in the job store and are requeued on the next Start.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
	r.queue.Close()
}

// recover requeues persisted pending jobs and resets jobs that were
// processing when the previous process died.
func (r *Runner) recover() error {
	ctx := context.Background()

	pending, err := r.store.GetJobs(ctx, StatusPending, 0)
	if err != nil {
		return fmt.Errorf("get pending jobs: %w", err)
	}
	processing, err := r.store.GetJobs(ctx, StatusProcessing, 0)
	if err != nil {
		return fmt.Errorf("get processing jobs: %w", err)
	}

	r.logger.Info("recovering unfinished jobs",
		"pending_count", len(pending),
		"processing_count", len(processing))

	for _, rec := range processing {
		if err := r.store.UpdateStatus(ctx, rec.ID, StatusPending, "reset after recovery"); err != nil {
			r.logger.Error("failed to reset processing job",
				"job_id", rec.ID, "job_type", rec.Type, "error", err)
			continue
		}
		r.requeueRecord(rec)
	}
	for _, rec := range pending {
		r.requeueRecord(rec)
	}

	return nil
}

func (r *Runner) requeueRecord(rec Record) {
	factory, ok := r.factories[rec.Type]
	if !ok {
		r.logger.Error("no factory registered for job type, marking failed",
			"job_id", rec.ID, "job_type", rec.Type)
		_ = r.store.UpdateStatus(context.Background(), rec.ID, StatusFailed, "unknown job type")
		return
	}

	job, err := factory(rec)
	if err != nil {
		r.logger.Error("failed to rebuild persisted job",
			"job_id", rec.ID, "job_type", rec.Type, "error", err)
		_ = r.store.UpdateStatus(context.Background(), rec.ID, StatusFailed, err.Error())
		return
	}

	if err := r.queue.Enqueue(job); err != nil {
		r.logger.Error("failed to requeue job",
			"job_id", rec.ID, "job_type", rec.Type, "error", err)
	}
}

// worker drains the queue until it is closed or the runner is stopped.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", "worker_id", id)
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return
		case job, ok := <-r.queue.Chan():
			if !ok {
				r.logger.Debug("job channel closed, stopping worker", "worker_id", id)
				return
			}
			r.processJob(job, id)
		}
	}
}

// processJob handles execution of a single job.
func (r *Runner) processJob(job Job, workerID int) {
	// Deliberately not tied to the runner context: a job already picked up
	// finishes its status writes even while the runner is shutting down.
	ctx := context.Background()
	log := r.logger.With(
		"job_id", job.ID(),
		"job_type", job.Type(),
		"worker_id", workerID,
	)

	if err := r.store.UpdateStatus(ctx, job.ID(), StatusProcessing, ""); err != nil {
		log.Error("failed to mark job processing", "error", err)
		return
	}

	log.Info("processing job")
	start := time.Now()

	if err := job.Execute(ctx); err != nil {
		log.Error("job execution failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		if updateErr := r.store.UpdateStatus(ctx, job.ID(), StatusFailed, err.Error()); updateErr != nil {
			log.Error("failed to mark job failed", "error", updateErr)
		}
		return
	}

	log.Info("job completed", "duration_ms", time.Since(start).Milliseconds())
	if err := r.store.UpdateStatus(ctx, job.ID(), StatusCompleted, ""); err != nil {
		log.Error("failed to mark job completed", "error", err)
	}
}

// stuckJobMonitor periodically resets jobs that have been processing for
// longer than StuckJobAge, typically after a worker crash.
func (r *Runner) stuckJobMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckJobCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			ctx := context.Background()
			stuck, err := r.store.GetJobs(ctx, StatusProcessing, r.config.StuckJobAge)
			if err != nil {
				r.logger.Error("failed to check for stuck jobs", "error", err)
				continue
			}
			if len(stuck) == 0 {
				continue
			}

			r.logger.Info("found stuck jobs", "count", len(stuck))
			for _, rec := range stuck {
				if err := r.store.UpdateStatus(ctx, rec.ID, StatusPending, "reset after being stuck"); err != nil {
					r.logger.Error("failed to reset stuck job",
						"job_id", rec.ID, "job_type", rec.Type, "error", err)
					continue
				}
				r.requeueRecord(rec)
			}
		}
	}
}
