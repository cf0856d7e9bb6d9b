package assign

import (
	"context"
	"sort"
	"sync"

	"github.com/taskwell/assignd/internal/domain"
	"github.com/taskwell/assignd/internal/store"
	"github.com/taskwell/assignd/internal/task"
)

// fakeFactStore is an in-memory store.FactStore with per-method error
// injection and call counting.
type fakeFactStore struct {
	mu     sync.Mutex
	users  []domain.UserProjection
	counts map[int64]int
	tasks  map[int64]*domain.TaskProjection

	findErr    error
	countErr   error
	getTaskErr error
	setErr     error
	listErr    error

	findCalls  int
	countCalls int
	setCalls   int
}

func newFakeFactStore() *fakeFactStore {
	return &fakeFactStore{
		counts: make(map[int64]int),
		tasks:  make(map[int64]*domain.TaskProjection),
	}
}

func (f *fakeFactStore) FindActiveUsers(_ context.Context, p store.StructuredPredicates) ([]domain.UserProjection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []domain.UserProjection
	for _, u := range f.users {
		if !u.IsActive {
			continue
		}
		if p.Department != nil && u.Department != *p.Department {
			continue
		}
		if p.Location != nil && u.Location != *p.Location {
			continue
		}
		if p.MinExperience != nil && u.ExperienceYears < *p.MinExperience {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeFactStore) GetActiveTaskCount(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[userID], nil
}

func (f *fakeFactStore) GetTask(_ context.Context, taskID int64) (*domain.TaskProjection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getTaskErr != nil {
		return nil, f.getTaskErr
	}
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeFactStore) SetAssignee(_ context.Context, taskID int64, userID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	t, ok := f.tasks[taskID]
	if !ok || !t.IsActive {
		return store.ErrTaskNotFound
	}
	t.AssignedTo = userID
	return nil
}

func (f *fakeFactStore) ListUnassignedTaskIDs(_ context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []int64
	for id, t := range f.tasks {
		if t.IsActive && t.AssignedTo == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeFactStore) assigneeOf(taskID int64) *int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[taskID].AssignedTo
}

// fakeDispatcher records submitted jobs and can be made to reject the
// first N submissions.
type fakeDispatcher struct {
	mu        sync.Mutex
	jobs      []task.Job
	failFirst int
	submitErr error
	attempts  int
}

func (d *fakeDispatcher) Submit(_ context.Context, job task.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.attempts <= d.failFirst {
		return d.submitErr
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *fakeDispatcher) submitted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }
