package domain

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
)

// Terminal reports whether the status counts against nobody's active-task
// count. Done tasks are excluded from workload everywhere in the engine.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone
}

// TaskProjection is the engine-relevant view of a task. The surrounding
// CRUD layer owns the full task record; the engine only reads the fields
// that drive eligibility and assignment.
type TaskProjection struct {
	ID             int64
	OrganizationID int64
	ProjectID      int64
	Title          string
	Status         TaskStatus
	Rules          Rules
	AssignedTo     *int64
	IsActive       bool
}

// Assigned reports whether the task currently has a committed assignee.
func (t *TaskProjection) Assigned() bool {
	return t.AssignedTo != nil
}
