package assign

import (
	"sync"

	"github.com/taskwell/assignd/internal/domain"
)

// inflight serializes recomputation per task: at most one recomputation
// runs for a task ID at any moment. A trigger arriving while a run is in
// flight is coalesced: it marks the run pending, the owner loops once
// more with fresh facts, and every waiter observes the final decision.
type inflight struct {
	mu   sync.Mutex
	runs map[int64]*inflightRun
}

type inflightRun struct {
	pending  bool
	done     chan struct{}
	decision *domain.AssignmentDecision
	err      error
}

func newInflight() *inflight {
	return &inflight{runs: make(map[int64]*inflightRun)}
}

// begin registers interest in recomputing taskID. The first caller becomes
// the owner (owner=true) and must drive the run to completion via finish.
// Later callers get owner=false, have implicitly requested a rerun, and
// should wait on run.done.
func (f *inflight) begin(taskID int64) (run *inflightRun, owner bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.runs[taskID]; ok {
		r.pending = true
		return r, false
	}
	r := &inflightRun{done: make(chan struct{})}
	f.runs[taskID] = r
	return r, true
}

// finish records one completed computation. If a rerun was requested in
// the meantime it returns true and the owner must compute again;
// otherwise the run is published to waiters and removed.
func (f *inflight) finish(taskID int64, decision *domain.AssignmentDecision, err error) (rerun bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.runs[taskID]
	if r.pending {
		r.pending = false
		return true
	}
	r.decision = decision
	r.err = err
	delete(f.runs, taskID)
	close(r.done)
	return false
}
