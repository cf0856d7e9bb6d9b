// Package store defines the read-mostly data-access boundary the
// assignment engine consumes. Persistent storage of users and tasks is
// owned by the surrounding CRUD layer; the engine only queries the
// projections it needs and commits the single assigned_to field.
package store

import (
	"context"

	"github.com/taskwell/assignd/internal/domain"
)

// StructuredPredicates are the rule predicates the fact store can resolve
// with indexed lookups (stage 1 of the filter pipeline). The count-based
// max_active_tasks predicate is deliberately absent: active-task counts
// are derived, frequently-changing metrics evaluated in-process against
// cached values.
type StructuredPredicates struct {
	Department    *string
	Location      *string
	MinExperience *int
}

// FromRules extracts the structured subset of a rules mapping.
func FromRules(r domain.Rules) StructuredPredicates {
	return StructuredPredicates{
		Department:    r.Department,
		Location:      r.Location,
		MinExperience: r.MinExperience,
	}
}

// FactStore is the engine's read-only accessor over persisted user and
// task data, plus the single write it owns: committing an assignee.
type FactStore interface {
	// FindActiveUsers returns every active user matching all structured
	// predicates present. With no predicates set it returns the full
	// active-user population.
	FindActiveUsers(ctx context.Context, p StructuredPredicates) ([]domain.UserProjection, error)

	// GetActiveTaskCount returns the number of active, non-terminal tasks
	// currently assigned to the user.
	GetActiveTaskCount(ctx context.Context, userID int64) (int, error)

	// GetTask returns the engine-relevant projection of a task, including
	// soft-deleted (inactive) tasks so invalidation hooks can still see
	// the previous assignee. Returns ErrTaskNotFound if no row exists.
	GetTask(ctx context.Context, taskID int64) (*domain.TaskProjection, error)

	// SetAssignee commits the task's assigned_to field atomically. A nil
	// userID records the task as unassigned. Returns ErrTaskNotFound when
	// the task does not exist or is inactive.
	SetAssignee(ctx context.Context, taskID int64, userID *int64) error

	// ListUnassignedTaskIDs returns the IDs of every active task without a
	// committed assignee, in ascending order. Used by profile-change
	// recomputation and the periodic retry sweep.
	ListUnassignedTaskIDs(ctx context.Context) ([]int64, error)
}
