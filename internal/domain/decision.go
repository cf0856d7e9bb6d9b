package domain

import "time"

// AssignmentDecision records the outcome of one recomputation for a task.
// Decisions are written once and superseded by later recomputations, never
// mutated in place. A nil AssigneeID means the eligible pool was empty and
// the task was left unassigned, which is a valid terminal state rather
// than an error.
type AssignmentDecision struct {
	TaskID        int64     `json:"task_id"`
	AssigneeID    *int64    `json:"assignee_id"`
	EligibleCount int       `json:"eligible_count"`
	Rules         Rules     `json:"rules"`
	DecidedAt     time.Time `json:"decided_at"`
}

// Assigned reports whether the decision selected an assignee.
func (d *AssignmentDecision) Assigned() bool {
	return d.AssigneeID != nil
}
