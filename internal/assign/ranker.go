package assign

import (
	"sort"

	"github.com/taskwell/assignd/internal/domain"
)

// Rank orders the eligible set deterministically: least busy first, ties
// broken by ascending user ID. Given the same eligible set and counts the
// result is always identical, which recomputation idempotence depends on.
// The input slice is not modified.
func Rank(eligible []domain.UserProjection) []domain.UserProjection {
	ranked := make([]domain.UserProjection, len(eligible))
	copy(ranked, eligible)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].ActiveTaskCount != ranked[j].ActiveTaskCount {
			return ranked[i].ActiveTaskCount < ranked[j].ActiveTaskCount
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}

// Select picks the assignee from a ranked pool: the first element, or nil
// when the pool is empty. An empty pool is a reportable state, not an
// error; the task is left unassigned.
func Select(ranked []domain.UserProjection) *domain.UserProjection {
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}
