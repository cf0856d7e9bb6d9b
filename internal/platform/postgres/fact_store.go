// Package postgres implements the engine's persistence boundaries on
// PostgreSQL: the read-mostly fact store over the CRUD layer's users and
// tasks tables, and the job store backing the assignment worker queue.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/taskwell/assignd/internal/domain"
	"github.com/taskwell/assignd/internal/store"
)

// FactStore implements store.FactStore using a PostgreSQL database.
//
// Stage 1 of the filter pipeline runs here: structured predicates
// (department, location, min_experience, is_active) map onto indexed
// columns, so narrowing a large user population stays cheap.
type FactStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewFactStore creates a PostgreSQL implementation of store.FactStore.
// The database handle is initialized and managed by the caller. If logger
// is nil, a default logger is used.
func NewFactStore(db store.DBTX, logger *slog.Logger) *FactStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FactStore{
		db:     db,
		logger: logger.With(slog.String("component", "fact_store")),
	}
}

var _ store.FactStore = (*FactStore)(nil)

// FindActiveUsers implements store.FactStore.FindActiveUsers. The WHERE
// clause is built from whichever predicates are present; ordering by id
// keeps result sets reproducible.
func (s *FactStore) FindActiveUsers(
	ctx context.Context,
	p store.StructuredPredicates,
) ([]domain.UserProjection, error) {
	query := `
		SELECT id, name, email, department, location, experience_years, is_active
		FROM users
		WHERE is_active = TRUE`
	var args []any

	if p.Department != nil {
		args = append(args, *p.Department)
		query += fmt.Sprintf(" AND department = $%d", len(args))
	}
	if p.Location != nil {
		args = append(args, *p.Location)
		query += fmt.Sprintf(" AND location = $%d", len(args))
	}
	if p.MinExperience != nil {
		args = append(args, *p.MinExperience)
		query += fmt.Sprintf(" AND experience_years >= $%d", len(args))
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: find active users: %v", store.ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var users []domain.UserProjection
	for rows.Next() {
		var u domain.UserProjection
		if err := rows.Scan(
			&u.ID, &u.Name, &u.Email,
			&u.Department, &u.Location, &u.ExperienceYears, &u.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate users: %v", store.ErrUnavailable, err)
	}
	return users, nil
}

// GetActiveTaskCount implements store.FactStore.GetActiveTaskCount. A task
// counts against the user while it is active and not in a terminal status.
func (s *FactStore) GetActiveTaskCount(ctx context.Context, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM tasks
		WHERE assigned_to = $1 AND is_active = TRUE AND status <> $2`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, domain.TaskStatusDone).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: active task count for user %d: %v", store.ErrUnavailable, userID, err)
	}
	return count, nil
}

// GetTask implements store.FactStore.GetTask. Inactive (soft-deleted)
// tasks are returned with IsActive=false so invalidation hooks can still
// read the previous assignee.
func (s *FactStore) GetTask(ctx context.Context, taskID int64) (*domain.TaskProjection, error) {
	query := `
		SELECT id, organization_id, project_id, title, status, assignment_rules, assigned_to, is_active
		FROM tasks
		WHERE id = $1`

	var (
		t        domain.TaskProjection
		rawRules []byte
		assignee sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, taskID).Scan(
		&t.ID, &t.OrganizationID, &t.ProjectID, &t.Title,
		&t.Status, &rawRules, &assignee, &t.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get task %d: %v", store.ErrUnavailable, taskID, err)
	}

	if assignee.Valid {
		id := assignee.Int64
		t.AssignedTo = &id
	}

	rules, err := decodeRules(rawRules)
	if err != nil {
		// Rule payloads are validated at write time; a bad row here means
		// something wrote around the engine.
		s.logger.Error("stored assignment_rules failed validation",
			"task_id", taskID, "error", err)
		return nil, err
	}
	t.Rules = rules

	return &t, nil
}

// SetAssignee implements store.FactStore.SetAssignee.
func (s *FactStore) SetAssignee(ctx context.Context, taskID int64, userID *int64) error {
	query := `
		UPDATE tasks
		SET assigned_to = $1, updated_at = NOW()
		WHERE id = $2 AND is_active = TRUE`

	var assignee sql.NullInt64
	if userID != nil {
		assignee = sql.NullInt64{Int64: *userID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query, assignee, taskID)
	if err != nil {
		return fmt.Errorf("%w: set assignee on task %d: %v", store.ErrUnavailable, taskID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// ListUnassignedTaskIDs implements store.FactStore.ListUnassignedTaskIDs.
func (s *FactStore) ListUnassignedTaskIDs(ctx context.Context) ([]int64, error) {
	query := `
		SELECT id
		FROM tasks
		WHERE assigned_to IS NULL AND is_active = TRUE
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list unassigned tasks: %v", store.ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate task ids: %v", store.ErrUnavailable, err)
	}
	return ids, nil
}

// decodeRules parses the JSONB assignment_rules column. NULL and empty
// payloads mean "no rules": every active user is eligible.
func decodeRules(raw []byte) (domain.Rules, error) {
	if len(raw) == 0 {
		return domain.Rules{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Rules{}, fmt.Errorf("%w: %v", domain.ErrInvalidRuleValue, err)
	}
	return domain.ParseRules(m)
}
