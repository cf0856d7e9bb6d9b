package assign

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/taskwell/assignd/internal/retry"
	"github.com/taskwell/assignd/internal/store"
	"github.com/taskwell/assignd/internal/task"
)

// assignPayload is the persisted job body.
type assignPayload struct {
	TaskID int64 `json:"task_id"`
}

// assignJob recomputes the assignment for one task on a worker, retrying
// with exponential backoff when the fact store is unavailable. A task that
// disappeared or went inactive between trigger and execution is a no-op,
// not a failure.
type assignJob struct {
	id      uuid.UUID
	orch    *Orchestrator
	payload assignPayload
}

func (o *Orchestrator) newAssignJob(taskID int64) *assignJob {
	return &assignJob{
		id:      uuid.New(),
		orch:    o,
		payload: assignPayload{TaskID: taskID},
	}
}

// JobFactory rebuilds assignment jobs from their persisted records during
// crash recovery. Register it with the runner under task.TypeAssignTask.
func (o *Orchestrator) JobFactory() task.Factory {
	return func(rec task.Record) (task.Job, error) {
		var p assignPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding assign_task payload: %w", err)
		}
		if p.TaskID <= 0 {
			return nil, fmt.Errorf("assign_task payload has invalid task_id %d", p.TaskID)
		}
		return &assignJob{id: rec.ID, orch: o, payload: p}, nil
	}
}

func (j *assignJob) ID() uuid.UUID { return j.id }

func (j *assignJob) Type() string { return task.TypeAssignTask }

func (j *assignJob) Payload() []byte {
	raw, err := json.Marshal(j.payload)
	if err != nil {
		// A struct of one int64 cannot fail to marshal.
		panic(fmt.Sprintf("marshaling assign_task payload: %v", err))
	}
	return raw
}

func (j *assignJob) Execute(ctx context.Context) error {
	cfg := retry.Config{
		MaxAttempts: j.orch.cfg.RetryMaxAttempts,
		BaseDelay:   j.orch.cfg.RetryBaseDelay,
		OnRetry: func(attempt int, err error) {
			j.orch.logger.Warn("recompute attempt failed, backing off",
				"task_id", j.payload.TaskID,
				"attempt", attempt,
				"error", err)
		},
	}

	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		_, err := j.orch.Recompute(ctx, j.payload.TaskID)
		if store.IsNotFound(err) {
			// Task deleted or completed before the worker got to it.
			return nil
		}
		return err
	})
}
