package domain

// UserProjection is the engine-relevant view of a user. ActiveTaskCount is
// a derived metric (currently assigned, non-terminal tasks) and is filled
// in by the filter pipeline from the cache or the fact store; it is not
// part of the persisted profile.
type UserProjection struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Department      string `json:"department"`
	Location        string `json:"location"`
	ExperienceYears int    `json:"experience_years"`
	IsActive        bool   `json:"is_active"`
	ActiveTaskCount int    `json:"active_task_count"`
}
