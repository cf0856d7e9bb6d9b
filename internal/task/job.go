// Package task provides the asynchronous dispatch path for assignment
// recomputation: a buffered in-memory queue consumed by a pool of
// workers, with jobs persisted to the database so unfinished work
// survives a restart.
package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a queued job.
type Status string

// Possible job status values.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job type identifiers.
const (
	// TypeAssignTask recomputes the assignee for a single task.
	TypeAssignTask = "assign_task"
)

// Job is a unit of background work.
type Job interface {
	// ID returns the job's unique identifier.
	ID() uuid.UUID

	// Type returns the job type identifier.
	Type() string

	// Payload returns the job data as JSON.
	Payload() []byte

	// Execute runs the job logic.
	Execute(ctx context.Context) error
}

// Record is the persisted form of a job, used to rebuild executable jobs
// during crash recovery.
type Record struct {
	ID      uuid.UUID
	Type    string
	Payload []byte
	Status  Status
}

// Factory rebuilds an executable Job from its persisted record. One
// factory is registered per job type.
type Factory func(rec Record) (Job, error)

// JobStore persists jobs so the runner can recover unfinished work after
// a crash or restart.
type JobStore interface {
	// SaveJob persists a new job in pending state.
	SaveJob(ctx context.Context, job Job) error

	// UpdateStatus records a job's status transition. errorMsg is stored
	// for failed jobs and ignored otherwise.
	UpdateStatus(ctx context.Context, jobID uuid.UUID, status Status, errorMsg string) error

	// GetJobs retrieves persisted jobs with the given status. If olderThan
	// is non-zero, only jobs last updated before now-olderThan are
	// returned.
	GetJobs(ctx context.Context, status Status, olderThan time.Duration) ([]Record, error)
}
