package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskwell/assignd/internal/platform/logger"
	"github.com/taskwell/assignd/internal/store"
	"github.com/taskwell/assignd/internal/task"
)

// JobStore implements task.JobStore using PostgreSQL, giving the in-memory
// queue crash recovery: jobs that were pending or processing when the
// process died are requeued on the next start.
type JobStore struct {
	db store.DBTX
}

// NewJobStore creates a new PostgreSQL-backed job store.
func NewJobStore(db store.DBTX) *JobStore {
	return &JobStore{db: db}
}

var _ task.JobStore = (*JobStore)(nil)

// SaveJob persists a job in pending state.
func (s *JobStore) SaveJob(ctx context.Context, job task.Job) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO assignment_jobs (id, type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		job.ID(), job.Type(), job.Payload(), task.StatusPending, now, now)
	if err != nil {
		log.Error("failed to save job",
			"job_id", job.ID(), "job_type", job.Type(), "error", err)
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// UpdateStatus records a job's status transition.
func (s *JobStore) UpdateStatus(
	ctx context.Context,
	jobID uuid.UUID,
	status task.Status,
	errorMsg string,
) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE assignment_jobs
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4`

	result, err := s.db.ExecContext(ctx, query, status, errorMsg, time.Now().UTC(), jobID)
	if err != nil {
		log.Error("failed to update job status",
			"job_id", jobID, "status", status, "error", err)
		return fmt.Errorf("update job status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		log.Warn("no job found to update", "job_id", jobID)
	}
	return nil
}

// GetJobs retrieves persisted jobs by status, optionally only those last
// updated before now-olderThan.
func (s *JobStore) GetJobs(
	ctx context.Context,
	status task.Status,
	olderThan time.Duration,
) ([]task.Record, error) {
	var (
		query string
		args  []any
	)
	if olderThan > 0 {
		query = `
			SELECT id, type, payload, status
			FROM assignment_jobs
			WHERE status = $1 AND updated_at < $2
			ORDER BY created_at ASC`
		args = []any{status, time.Now().UTC().Add(-olderThan)}
	} else {
		query = `
			SELECT id, type, payload, status
			FROM assignment_jobs
			WHERE status = $1
			ORDER BY created_at ASC`
		args = []any{status}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get jobs by status %q: %w", status, err)
	}
	defer func() { _ = rows.Close() }()

	var records []task.Record
	for rows.Next() {
		var rec task.Record
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Payload, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return records, nil
}
