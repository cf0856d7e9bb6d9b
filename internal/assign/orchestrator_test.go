package assign

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwell/assignd/internal/cache"
	"github.com/taskwell/assignd/internal/domain"
	"github.com/taskwell/assignd/internal/store"
)

func newTestOrchestrator(facts *fakeFactStore, d Dispatcher) (*Orchestrator, *cache.Memory) {
	mem := cache.NewMemory()
	pipeline := NewPipeline(facts, mem, 0, nil)
	cfg := Config{
		SyncFallbackTimeout: 200 * time.Millisecond,
		RetryMaxAttempts:    1,
		RetryBaseDelay:      time.Millisecond,
	}
	return NewOrchestrator(facts, mem, pipeline, d, cfg, nil), mem
}

func financeTask(id int64) *domain.TaskProjection {
	return &domain.TaskProjection{
		ID:       id,
		Status:   domain.TaskStatusTodo,
		IsActive: true,
		Rules: domain.Rules{
			Department:     strPtr("Finance"),
			Location:       strPtr("Mumbai"),
			MinExperience:  intPtr(4),
			MaxActiveTasks: intPtr(5),
		},
	}
}

func financeUsers(facts *fakeFactStore) {
	facts.users = []domain.UserProjection{
		{ID: 1, Department: "Finance", Location: "Mumbai", ExperienceYears: 5, IsActive: true},
		{ID: 2, Department: "Finance", Location: "Mumbai", ExperienceYears: 2, IsActive: true},
		{ID: 3, Department: "IT", Location: "Mumbai", ExperienceYears: 6, IsActive: true},
	}
	facts.counts = map[int64]int{1: 3, 2: 1, 3: 0}
}

func TestRecomputeCommitsSingleEligibleUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	financeUsers(facts)
	facts.tasks[10] = financeTask(10)

	orch, _ := newTestOrchestrator(facts, nil)
	decision, err := orch.Recompute(ctx, 10)

	require.NoError(t, err)
	require.NotNil(t, decision.AssigneeID)
	assert.Equal(t, int64(1), *decision.AssigneeID,
		"user 2 fails experience, user 3 fails department")
	assert.Equal(t, 1, decision.EligibleCount)

	committed := facts.assigneeOf(10)
	require.NotNil(t, committed)
	assert.Equal(t, int64(1), *committed)
}

func TestRecomputeRanksLeastBusyFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	facts.users = []domain.UserProjection{
		{ID: 1, IsActive: true},
		{ID: 2, IsActive: true},
	}
	facts.counts = map[int64]int{1: 3, 2: 1}
	facts.tasks[5] = &domain.TaskProjection{ID: 5, Status: domain.TaskStatusTodo, IsActive: true}

	orch, _ := newTestOrchestrator(facts, nil)
	decision, err := orch.Recompute(ctx, 5)

	require.NoError(t, err)
	require.True(t, decision.Assigned())
	assert.Equal(t, int64(2), *decision.AssigneeID, "lower active count wins")
	assert.Equal(t, 2, decision.EligibleCount, "empty rules keep every active user eligible")
}

func TestRecomputeEmptyPoolIsSuccessWithoutAssignee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	facts.users = []domain.UserProjection{
		{ID: 1, IsActive: true},
	}
	facts.counts = map[int64]int{1: 1}
	facts.tasks[5] = &domain.TaskProjection{
		ID:       5,
		Status:   domain.TaskStatusTodo,
		IsActive: true,
		Rules:    domain.Rules{MaxActiveTasks: intPtr(1)},
	}

	orch, _ := newTestOrchestrator(facts, nil)
	decision, err := orch.Recompute(ctx, 5)

	require.NoError(t, err, "an empty pool is a reportable state, not an error")
	assert.Nil(t, decision.AssigneeID)
	assert.Equal(t, 0, decision.EligibleCount)
	assert.Nil(t, facts.assigneeOf(5), "unassigned state must still be committed")
	assert.Equal(t, 1, facts.setCalls)
}

func TestRecomputeInactiveTask(t *testing.T) {
	t.Parallel()

	facts := newFakeFactStore()
	facts.tasks[5] = &domain.TaskProjection{ID: 5, IsActive: false}

	orch, _ := newTestOrchestrator(facts, nil)
	_, err := orch.Recompute(context.Background(), 5)

	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.Equal(t, 0, facts.setCalls, "nothing may be committed for an inactive task")
}

func TestRecomputeInvalidatesDerivedEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	financeUsers(facts)
	prev := int64Ptr(2)
	tk := financeTask(10)
	tk.AssignedTo = prev
	facts.tasks[10] = tk

	orch, mem := newTestOrchestrator(facts, nil)
	mem.Set(ctx, cache.KeyEligibleUsers(10), []byte("[]"), time.Minute)
	mem.Set(ctx, cache.KeyActiveCount(2), []byte("1"), time.Minute)
	mem.Set(ctx, cache.KeyMyTasks(2), []byte("[]"), time.Minute)

	_, err := orch.Recompute(ctx, 10)
	require.NoError(t, err)

	_, ok := mem.Get(ctx, cache.KeyEligibleUsers(10))
	assert.False(t, ok, "eligible pool must be invalidated after commit")
	_, ok = mem.Get(ctx, cache.KeyMyTasks(2))
	assert.False(t, ok, "previous assignee's listing must be invalidated")
	_, ok = mem.Get(ctx, cache.KeyActiveCount(1))
	assert.False(t, ok, "new assignee's count must be invalidated")
}

func TestRecomputeIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	financeUsers(facts)
	facts.tasks[10] = financeTask(10)

	orch, _ := newTestOrchestrator(facts, nil)

	first, err := orch.Recompute(ctx, 10)
	require.NoError(t, err)
	second, err := orch.Recompute(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, *first.AssigneeID, *second.AssigneeID,
		"unchanged facts must yield the same decision")
}

func TestOnTaskCreatedDispatchesToQueue(t *testing.T) {
	t.Parallel()

	facts := newFakeFactStore()
	facts.tasks[10] = financeTask(10)
	d := &fakeDispatcher{}

	orch, _ := newTestOrchestrator(facts, d)
	err := orch.OnTaskCreated(context.Background(), facts.tasks[10])

	require.NoError(t, err)
	assert.Equal(t, 1, d.submitted())
	assert.Equal(t, 0, facts.setCalls, "nothing runs inline when the queue accepts")
}

func TestOnTaskCreatedFallsBackSynchronously(t *testing.T) {
	t.Parallel()

	facts := newFakeFactStore()
	financeUsers(facts)
	facts.tasks[10] = financeTask(10)
	d := &fakeDispatcher{failFirst: 1, submitErr: errors.New("queue full")}

	orch, _ := newTestOrchestrator(facts, d)
	err := orch.OnTaskCreated(context.Background(), facts.tasks[10])

	require.NoError(t, err)
	committed := facts.assigneeOf(10)
	require.NotNil(t, committed, "fallback must run the pipeline in-request")
	assert.Equal(t, int64(1), *committed)
}

func TestDispatchRequeuesAfterFallbackFailure(t *testing.T) {
	t.Parallel()

	facts := newFakeFactStore()
	facts.tasks[10] = financeTask(10)
	facts.getTaskErr = store.ErrUnavailable
	d := &fakeDispatcher{failFirst: 1, submitErr: errors.New("queue full")}

	orch, _ := newTestOrchestrator(facts, d)
	err := orch.OnTaskCreated(context.Background(), facts.tasks[10])

	require.NoError(t, err, "a successful requeue absorbs the fallback failure")
	assert.Equal(t, 1, d.submitted())
}

func TestDispatchFailsWhenBothPathsFail(t *testing.T) {
	t.Parallel()

	facts := newFakeFactStore()
	facts.tasks[10] = financeTask(10)
	facts.getTaskErr = store.ErrUnavailable
	d := &fakeDispatcher{failFirst: 2, submitErr: errors.New("queue full")}

	orch, _ := newTestOrchestrator(facts, d)
	err := orch.OnTaskCreated(context.Background(), facts.tasks[10])

	assert.ErrorIs(t, err, ErrDispatchFailed)
}

// stalledFactStore simulates a hung backend: GetTask blocks until the
// caller's deadline fires. Everything else behaves like fakeFactStore.
type stalledFactStore struct {
	*fakeFactStore
}

func (s *stalledFactStore) GetTask(ctx context.Context, taskID int64) (*domain.TaskProjection, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, ctx.Err())
}

func newStalledOrchestrator(facts *fakeFactStore, d Dispatcher, timeout time.Duration) *Orchestrator {
	stalled := &stalledFactStore{fakeFactStore: facts}
	mem := cache.NewMemory()
	pipeline := NewPipeline(stalled, mem, 0, nil)
	return NewOrchestrator(stalled, mem, pipeline, d, Config{
		SyncFallbackTimeout: timeout,
		RetryMaxAttempts:    1,
		RetryBaseDelay:      time.Millisecond,
	}, nil)
}

func TestDispatchFallbackHonorsHardTimeout(t *testing.T) {
	t.Parallel()

	facts := newFakeFactStore()
	facts.tasks[10] = financeTask(10)
	d := &fakeDispatcher{failFirst: 2, submitErr: errors.New("queue full")}
	orch := newStalledOrchestrator(facts, d, 50*time.Millisecond)

	start := time.Now()
	err := orch.OnTaskCreated(context.Background(), facts.tasks[10])
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.Less(t, elapsed, 500*time.Millisecond,
		"a stalled store must not hold the triggering request past the ceiling")
	assert.Equal(t, 0, facts.setCalls, "a timed-out recomputation commits nothing")
}

func TestDispatchStalledFallbackIsRequeued(t *testing.T) {
	t.Parallel()

	facts := newFakeFactStore()
	facts.tasks[10] = financeTask(10)
	d := &fakeDispatcher{failFirst: 1, submitErr: errors.New("queue full")}
	orch := newStalledOrchestrator(facts, d, 50*time.Millisecond)

	err := orch.OnTaskCreated(context.Background(), facts.tasks[10])

	require.NoError(t, err, "the timed-out attempt is retried asynchronously")
	assert.Equal(t, 1, d.submitted())
	assert.Equal(t, 0, facts.setCalls)
}

func TestOnTaskRulesChangedInvalidatesBeforeReturning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	facts.tasks[10] = financeTask(10)
	d := &fakeDispatcher{}

	orch, mem := newTestOrchestrator(facts, d)
	mem.Set(ctx, cache.KeyEligibleUsers(10), []byte(`[{"id":99}]`), time.Minute)

	require.NoError(t, orch.OnTaskRulesChanged(ctx, facts.tasks[10]))

	_, ok := mem.Get(ctx, cache.KeyEligibleUsers(10))
	assert.False(t, ok, "stale pool must be unreadable once the rule change is acknowledged")
	assert.Equal(t, 1, d.submitted())
}

func TestOnTaskStatusChangedInvalidatesAssigneeWorkload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	tk := financeTask(10)
	tk.Status = domain.TaskStatusDone
	tk.AssignedTo = int64Ptr(1)
	facts.tasks[10] = tk

	orch, mem := newTestOrchestrator(facts, nil)
	mem.Set(ctx, cache.KeyActiveCount(1), []byte("3"), time.Minute)
	mem.Set(ctx, cache.KeyMyTasks(1), []byte("[]"), time.Minute)

	err := orch.OnTaskStatusChanged(ctx, 10, domain.TaskStatusInProgress, domain.TaskStatusDone)
	require.NoError(t, err)

	_, ok := mem.Get(ctx, cache.KeyActiveCount(1))
	assert.False(t, ok)
	_, ok = mem.Get(ctx, cache.KeyMyTasks(1))
	assert.False(t, ok)
}

func TestOnTaskStatusChangedNoopWhenUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	orch, mem := newTestOrchestrator(facts, nil)
	mem.Set(ctx, cache.KeyActiveCount(1), []byte("3"), time.Minute)

	err := orch.OnTaskStatusChanged(ctx, 10, domain.TaskStatusTodo, domain.TaskStatusTodo)
	require.NoError(t, err)

	_, ok := mem.Get(ctx, cache.KeyActiveCount(1))
	assert.True(t, ok)
}

func TestOnTaskDeletedInvalidatesTaskAndAssignee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	tk := financeTask(10)
	tk.AssignedTo = int64Ptr(1)
	tk.IsActive = false
	facts.tasks[10] = tk

	orch, mem := newTestOrchestrator(facts, nil)
	mem.Set(ctx, cache.KeyEligibleUsers(10), []byte("[]"), time.Minute)
	mem.Set(ctx, cache.KeyActiveCount(1), []byte("3"), time.Minute)
	mem.Set(ctx, cache.KeyMyTasks(1), []byte("[]"), time.Minute)

	require.NoError(t, orch.OnTaskDeleted(ctx, 10))
	assert.Equal(t, 0, mem.Len())
}

func TestOnUserProfileChangedRecomputesUnassignedTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	facts.tasks[1] = &domain.TaskProjection{ID: 1, Status: domain.TaskStatusTodo, IsActive: true}
	facts.tasks[2] = &domain.TaskProjection{ID: 2, Status: domain.TaskStatusTodo, IsActive: true, AssignedTo: int64Ptr(9)}
	facts.tasks[3] = &domain.TaskProjection{ID: 3, Status: domain.TaskStatusTodo, IsActive: true}
	d := &fakeDispatcher{}

	orch, mem := newTestOrchestrator(facts, d)
	mem.Set(ctx, cache.KeyActiveCount(7), []byte("2"), time.Minute)
	mem.Set(ctx, cache.KeyEligibleUsers(1), []byte("[]"), time.Minute)
	mem.Set(ctx, cache.KeyEligibleUsers(2), []byte("[]"), time.Minute)

	require.NoError(t, orch.OnUserProfileChanged(ctx, 7))

	_, ok := mem.Get(ctx, cache.KeyActiveCount(7))
	assert.False(t, ok)
	_, ok = mem.Get(ctx, cache.KeyEligibleUsers(1))
	assert.False(t, ok, "unassigned task pools must be invalidated")
	_, ok = mem.Get(ctx, cache.KeyEligibleUsers(2))
	assert.True(t, ok, "assigned tasks are left alone")
	assert.Equal(t, 2, d.submitted(), "one recompute per unassigned task")
}

func TestRecomputeNowBypassesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	financeUsers(facts)
	facts.tasks[10] = financeTask(10)

	orch, mem := newTestOrchestrator(facts, nil)
	mem.Set(ctx, cache.KeyEligibleUsers(10), []byte(`[{"id":99}]`), time.Minute)

	decision, err := orch.RecomputeNow(ctx, 10)
	require.NoError(t, err)
	require.True(t, decision.Assigned())
	assert.Equal(t, int64(1), *decision.AssigneeID)
}

func TestGetEligibleUsersCachesRankedPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	financeUsers(facts)
	facts.tasks[10] = financeTask(10)

	orch, _ := newTestOrchestrator(facts, nil)

	pool, err := orch.GetEligibleUsers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, int64(1), pool[0].ID)
	assert.Equal(t, 1, facts.findCalls)

	pool, err = orch.GetEligibleUsers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, 1, facts.findCalls, "second read must be served from the cache")

	assert.Equal(t, 0, facts.setCalls, "a read-only query never commits an assignment")
}

func TestGetEligibleUsersUnknownTask(t *testing.T) {
	t.Parallel()

	facts := newFakeFactStore()
	orch, _ := newTestOrchestrator(facts, nil)

	_, err := orch.GetEligibleUsers(context.Background(), 404)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestRecomputeAllSummarizesOutcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	facts := newFakeFactStore()
	facts.users = []domain.UserProjection{
		{ID: 1, Department: "Finance", IsActive: true},
	}
	facts.counts = map[int64]int{1: 0}
	facts.tasks[1] = &domain.TaskProjection{
		ID: 1, Status: domain.TaskStatusTodo, IsActive: true,
		Rules: domain.Rules{Department: strPtr("Finance")},
	}
	facts.tasks[2] = &domain.TaskProjection{
		ID: 2, Status: domain.TaskStatusTodo, IsActive: true,
		Rules: domain.Rules{Department: strPtr("Legal")},
	}

	orch, _ := newTestOrchestrator(facts, nil)
	summary, err := orch.RecomputeAll(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Assigned)
	assert.Equal(t, 1, summary.StillUnassigned)
	assert.Equal(t, 0, summary.Failed)
}

func TestSweepDispatchesUnassignedTasks(t *testing.T) {
	t.Parallel()

	facts := newFakeFactStore()
	facts.tasks[1] = &domain.TaskProjection{ID: 1, Status: domain.TaskStatusTodo, IsActive: true}
	facts.tasks[2] = &domain.TaskProjection{ID: 2, Status: domain.TaskStatusTodo, IsActive: true, AssignedTo: int64Ptr(3)}
	d := &fakeDispatcher{}

	orch, _ := newTestOrchestrator(facts, d)
	orch.sweep(context.Background())

	assert.Equal(t, 1, d.submitted(), "only unassigned tasks are retried")
}
