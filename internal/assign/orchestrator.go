package assign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskwell/assignd/internal/cache"
	"github.com/taskwell/assignd/internal/domain"
	"github.com/taskwell/assignd/internal/platform/metrics"
	"github.com/taskwell/assignd/internal/store"
	"github.com/taskwell/assignd/internal/task"
)

// Dispatcher is the write side of the asynchronous worker queue.
// *task.Runner satisfies it.
type Dispatcher interface {
	Submit(ctx context.Context, job task.Job) error
}

// Config holds the orchestrator's tunables. Zero values apply documented
// defaults.
type Config struct {
	// EligibleUsersTTL bounds staleness of cached eligible pools.
	EligibleUsersTTL time.Duration

	// SyncFallbackTimeout is the hard latency ceiling for running the
	// pipeline inside the triggering request when async dispatch fails.
	SyncFallbackTimeout time.Duration

	// RetryMaxAttempts and RetryBaseDelay govern exponential backoff of
	// asynchronous recomputation when the fact store is unavailable.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// SweepInterval is how often unassigned active tasks are re-dispatched
	// for another attempt. Zero disables the sweep.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.EligibleUsersTTL <= 0 {
		c.EligibleUsersTTL = cache.DefaultEligibleUsersTTL
	}
	if c.SyncFallbackTimeout <= 0 {
		c.SyncFallbackTimeout = 200 * time.Millisecond
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Minute
	}
	return c
}

// Orchestrator coordinates the filter pipeline, ranker and cache on every
// task or user event, commits the resulting decision, and keeps cache
// entries coherent with the facts that produced them. It owns assignment
// decisions exclusively: each recomputation commits a whole decision or
// nothing.
type Orchestrator struct {
	facts      store.FactStore
	cache      cache.Cache
	pipeline   *Pipeline
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger
	inflight   *inflight
}

// NewOrchestrator wires the engine together. dispatcher may be nil, in
// which case every trigger runs on the synchronous path.
func NewOrchestrator(
	facts store.FactStore,
	c cache.Cache,
	pipeline *Pipeline,
	dispatcher Dispatcher,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		facts:      facts,
		cache:      c,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		cfg:        cfg.withDefaults(),
		logger:     logger.With(slog.String("component", "orchestrator")),
		inflight:   newInflight(),
	}
}

// OnTaskCreated dispatches the initial assignment computation for a newly
// created task. There is no prior cache entry to invalidate.
func (o *Orchestrator) OnTaskCreated(ctx context.Context, t *domain.TaskProjection) error {
	return o.dispatch(ctx, t.ID)
}

// OnTaskRulesChanged invalidates the task's cached eligible pool and
// dispatches a recomputation against the new rules. The invalidation runs
// synchronously, before this method returns, so no reader can observe the
// pre-change pool once the causing update is acknowledged.
func (o *Orchestrator) OnTaskRulesChanged(ctx context.Context, t *domain.TaskProjection) error {
	o.cache.Delete(ctx, cache.KeyEligibleUsers(t.ID))
	return o.dispatch(ctx, t.ID)
}

// OnTaskStatusChanged invalidates the assignee's workload entries when a
// task moves between active and terminal states. It does not trigger a
// recomputation: freed capacity is picked up by the periodic sweep.
func (o *Orchestrator) OnTaskStatusChanged(
	ctx context.Context,
	taskID int64,
	oldStatus, newStatus domain.TaskStatus,
) error {
	if oldStatus == newStatus {
		return nil
	}
	t, err := o.facts.GetTask(ctx, taskID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	if t.AssignedTo != nil {
		o.invalidateUser(ctx, *t.AssignedTo)
	}
	return nil
}

// OnTaskDeleted invalidates everything cached for the task and its last
// assignee. Deletion is a soft delete in the surrounding layer, so the
// projection is still readable here.
func (o *Orchestrator) OnTaskDeleted(ctx context.Context, taskID int64) error {
	t, err := o.facts.GetTask(ctx, taskID)
	if err != nil {
		if store.IsNotFound(err) {
			o.cache.Delete(ctx, cache.KeyEligibleUsers(taskID))
			return nil
		}
		return err
	}

	keys := []string{cache.KeyEligibleUsers(taskID)}
	if t.AssignedTo != nil {
		keys = append(keys,
			cache.KeyActiveCount(*t.AssignedTo),
			cache.KeyMyTasks(*t.AssignedTo))
	}
	o.cache.Delete(ctx, keys...)
	return nil
}

// OnUserProfileChanged invalidates the user's workload entries and the
// eligible pools of every currently-unassigned task (only those will be
// recomputed), then eagerly dispatches one recomputation per such task.
func (o *Orchestrator) OnUserProfileChanged(ctx context.Context, userID int64) error {
	o.invalidateUser(ctx, userID)

	ids, err := o.facts.ListUnassignedTaskIDs(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cache.KeyEligibleUsers(id))
	}
	if len(keys) > 0 {
		o.cache.Delete(ctx, keys...)
	}

	var firstErr error
	for _, id := range ids {
		if err := o.dispatch(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	o.logger.Info("user profile change processed",
		"user_id", userID, "unassigned_tasks", len(ids))
	return firstErr
}

// RecomputeNow synchronously recomputes the task's assignment regardless
// of whether anything changed. Idempotent: an unchanged eligible set
// yields the same decision.
func (o *Orchestrator) RecomputeNow(ctx context.Context, taskID int64) (*domain.AssignmentDecision, error) {
	o.cache.Delete(ctx, cache.KeyEligibleUsers(taskID))
	return o.Recompute(ctx, taskID)
}

// GetEligibleUsers returns the task's ranked eligible pool, served from
// the cache when fresh and recomputed (and re-cached) otherwise. It never
// commits an assignment.
func (o *Orchestrator) GetEligibleUsers(ctx context.Context, taskID int64) ([]domain.UserProjection, error) {
	key := cache.KeyEligibleUsers(taskID)
	if raw, ok := o.cache.Get(ctx, key); ok {
		var pool []domain.UserProjection
		if err := json.Unmarshal(raw, &pool); err == nil {
			metrics.CacheReads.WithLabelValues(metrics.KeyFamilyEligibleUsers, "hit").Inc()
			return pool, nil
		}
		o.cache.Delete(ctx, key)
	}
	metrics.CacheReads.WithLabelValues(metrics.KeyFamilyEligibleUsers, "miss").Inc()

	t, err := o.facts.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, store.ErrTaskNotFound
	}

	eligible, err := o.pipeline.EligibleUsers(ctx, t.Rules)
	if err != nil {
		return nil, err
	}
	ranked := Rank(eligible)

	if raw, err := json.Marshal(ranked); err == nil {
		o.cache.Set(ctx, key, raw, o.cfg.EligibleUsersTTL)
	}
	return ranked, nil
}

// Recompute runs the full pipeline for one task and commits the decision.
// Recomputations are serialized per task ID: a concurrent trigger is
// coalesced into a follow-up run on fresh facts, and all callers observe
// the final decision.
func (o *Orchestrator) Recompute(ctx context.Context, taskID int64) (*domain.AssignmentDecision, error) {
	run, owner := o.inflight.begin(taskID)
	if !owner {
		select {
		case <-run.done:
			return run.decision, run.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var (
		decision *domain.AssignmentDecision
		err      error
	)
	for {
		decision, err = o.recomputeOnce(ctx, taskID)
		if !o.inflight.finish(taskID, decision, err) {
			break
		}
	}
	return decision, err
}

// recomputeOnce performs a single uncoordinated recomputation:
// filter → rank → select → commit → invalidate.
func (o *Orchestrator) recomputeOnce(ctx context.Context, taskID int64) (*domain.AssignmentDecision, error) {
	start := time.Now()

	t, err := o.facts.GetTask(ctx, taskID)
	if err != nil {
		o.observeFailure(err)
		return nil, err
	}
	if !t.IsActive {
		return nil, store.ErrTaskNotFound
	}
	previous := t.AssignedTo

	eligible, err := o.pipeline.EligibleUsers(ctx, t.Rules)
	if err != nil {
		o.observeFailure(err)
		return nil, err
	}
	ranked := Rank(eligible)
	winner := Select(ranked)

	var assigneeID *int64
	if winner != nil {
		assigneeID = &winner.ID
	}

	if err := o.facts.SetAssignee(ctx, taskID, assigneeID); err != nil {
		o.observeFailure(err)
		return nil, err
	}
	o.invalidateAssignment(ctx, taskID, previous, assigneeID)

	decision := &domain.AssignmentDecision{
		TaskID:        taskID,
		AssigneeID:    assigneeID,
		EligibleCount: len(ranked),
		Rules:         t.Rules,
		DecidedAt:     time.Now().UTC(),
	}

	metrics.RecomputeDuration.Observe(time.Since(start).Seconds())
	if decision.Assigned() {
		metrics.AssignmentsTotal.WithLabelValues(metrics.OutcomeAssigned).Inc()
		o.logger.Info("task assigned",
			"task_id", taskID,
			"assignee_id", *assigneeID,
			"eligible_pool", len(ranked),
			"duration_ms", time.Since(start).Milliseconds())
	} else {
		metrics.AssignmentsTotal.WithLabelValues(metrics.OutcomeUnassigned).Inc()
		o.logger.Warn("no eligible users, task left unassigned",
			"task_id", taskID,
			"rules", t.Rules.Map())
	}

	return decision, nil
}

// dispatch queues the recomputation; when the queue rejects it the same
// pipeline runs synchronously within the triggering request under a hard
// timeout. Both paths produce the same decision given the same inputs.
// If the fallback fails too, the job is offered to the queue once more
// for asynchronous retry before the failure is surfaced as retryable.
func (o *Orchestrator) dispatch(ctx context.Context, taskID int64) error {
	if o.dispatcher != nil {
		err := o.dispatcher.Submit(ctx, o.newAssignJob(taskID))
		if err == nil {
			o.logger.Debug("recompute dispatched to queue", "task_id", taskID)
			return nil
		}
		o.logger.Warn("queue dispatch failed, running synchronously",
			"task_id", taskID, "error", err)
	}
	metrics.DispatchFallbacks.Inc()

	syncCtx, cancel := context.WithTimeout(ctx, o.cfg.SyncFallbackTimeout)
	defer cancel()

	_, err := o.Recompute(syncCtx, taskID)
	if err == nil || store.IsNotFound(err) {
		return nil
	}
	o.logger.Error("synchronous fallback failed", "task_id", taskID, "error", err)

	if o.dispatcher != nil {
		if qErr := o.dispatcher.Submit(ctx, o.newAssignJob(taskID)); qErr == nil {
			o.logger.Info("recompute requeued after fallback failure", "task_id", taskID)
			return nil
		}
	}
	return fmt.Errorf("%w: task %d: %v", ErrDispatchFailed, taskID, err)
}

// RecomputeAll re-runs assignment for every unassigned active task in
// chunks, reporting how many ended up assigned.
func (o *Orchestrator) RecomputeAll(ctx context.Context) (*BulkSummary, error) {
	const chunkSize = 50

	ids, err := o.facts.ListUnassignedTaskIDs(ctx)
	if err != nil {
		return nil, err
	}

	summary := &BulkSummary{Total: len(ids)}
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			decision, err := o.Recompute(ctx, id)
			switch {
			case err != nil:
				summary.Failed++
			case decision.Assigned():
				summary.Assigned++
			default:
				summary.StillUnassigned++
			}
		}
	}

	o.logger.Info("bulk recompute complete",
		"total", summary.Total,
		"assigned", summary.Assigned,
		"still_unassigned", summary.StillUnassigned,
		"failed", summary.Failed)
	return summary, nil
}

// BulkSummary reports the outcome of a bulk recomputation.
type BulkSummary struct {
	Total           int `json:"total"`
	Assigned        int `json:"assigned"`
	StillUnassigned int `json:"still_unassigned"`
	Failed          int `json:"failed"`
}

// StartSweeper launches the periodic retry of unassigned tasks; tasks
// whose pool was empty get another attempt as workloads drain. Returns
// immediately when the sweep is disabled. The goroutine exits when ctx is
// cancelled.
func (o *Orchestrator) StartSweeper(ctx context.Context) {
	if o.cfg.SweepInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(o.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.sweep(ctx)
			}
		}
	}()
}

func (o *Orchestrator) sweep(ctx context.Context) {
	metrics.SweepRuns.Inc()

	ids, err := o.facts.ListUnassignedTaskIDs(ctx)
	if err != nil {
		o.logger.Error("retry sweep failed to list unassigned tasks", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		if err := o.dispatch(ctx, id); err != nil {
			o.logger.Error("retry sweep dispatch failed", "task_id", id, "error", err)
		}
	}
	o.logger.Info("retried unassigned tasks", "count", len(ids))
}

func (o *Orchestrator) invalidateUser(ctx context.Context, userID int64) {
	o.cache.Delete(ctx,
		cache.KeyActiveCount(userID),
		cache.KeyMyTasks(userID))
}

// invalidateAssignment clears every entry derived from the committed
// assignment: the task's eligible pool plus workload entries on both
// sides of the change.
func (o *Orchestrator) invalidateAssignment(ctx context.Context, taskID int64, previous, next *int64) {
	keys := []string{cache.KeyEligibleUsers(taskID)}
	if previous != nil {
		keys = append(keys, cache.KeyActiveCount(*previous), cache.KeyMyTasks(*previous))
	}
	if next != nil && (previous == nil || *next != *previous) {
		keys = append(keys, cache.KeyActiveCount(*next), cache.KeyMyTasks(*next))
	}
	o.cache.Delete(ctx, keys...)
}

func (o *Orchestrator) observeFailure(err error) {
	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		metrics.AssignmentsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	}
}
