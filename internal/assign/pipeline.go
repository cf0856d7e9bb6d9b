// Package assign implements the automatic task-assignment engine: the
// tiered candidate filter pipeline, deterministic ranking, and the
// orchestrator that keeps assignments consistent as rules, workloads and
// profiles change.
package assign

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/taskwell/assignd/internal/cache"
	"github.com/taskwell/assignd/internal/domain"
	"github.com/taskwell/assignd/internal/platform/metrics"
	"github.com/taskwell/assignd/internal/store"
)

// Pipeline narrows the user population down to the task's eligible set in
// two stages. Stage 1 pushes the structured predicates (department,
// location, min_experience, is_active) to the fact store, where indexed
// lookups keep the cost bounded by selectivity. Stage 2 resolves each
// survivor's active-task count through the cache and applies the
// count-based max_active_tasks predicate in-process, since the count is a
// derived, frequently-changing metric that is expensive to index.
type Pipeline struct {
	facts          store.FactStore
	cache          cache.Cache
	activeCountTTL time.Duration
	logger         *slog.Logger
}

// NewPipeline creates a filter pipeline. activeCountTTL bounds how stale a
// cached active-task count may be; zero applies the default.
func NewPipeline(
	facts store.FactStore,
	c cache.Cache,
	activeCountTTL time.Duration,
	logger *slog.Logger,
) *Pipeline {
	if activeCountTTL <= 0 {
		activeCountTTL = cache.DefaultActiveCountTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		facts:          facts,
		cache:          c,
		activeCountTTL: activeCountTTL,
		logger:         logger.With(slog.String("component", "filter_pipeline")),
	}
}

// EligibleUsers returns every active user satisfying all predicates in
// rules, with ActiveTaskCount resolved on each returned projection. The
// result is unordered; ranking is the Ranker's job. The returned set is
// always identical to naively evaluating the rules against every active
// user; the two-stage split is an optimization, not a semantic change.
func (p *Pipeline) EligibleUsers(
	ctx context.Context,
	rules domain.Rules,
) ([]domain.UserProjection, error) {
	candidates, err := p.facts.FindActiveUsers(ctx, store.FromRules(rules))
	if err != nil {
		return nil, err
	}
	p.logger.Debug("structured filter stage complete",
		"candidates", len(candidates), "rules", rules.Map())

	if len(candidates) == 0 {
		return nil, nil
	}

	eligible := make([]domain.UserProjection, 0, len(candidates))
	for _, u := range candidates {
		count, err := p.ActiveCount(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		u.ActiveTaskCount = count

		// Re-evaluating the full rule set here costs nothing beyond the
		// count predicate and guarantees pipeline/engine equivalence.
		eval := rules.Evaluate(u)
		if !eval.Eligible {
			p.logger.Debug("candidate rejected",
				"user_id", u.ID, "failed_predicates", eval.Failed)
			continue
		}
		eligible = append(eligible, u)
	}

	p.logger.Debug("count filter stage complete", "eligible", len(eligible))
	return eligible, nil
}

// ActiveCount resolves a user's active-task count through the cache,
// falling back to the fact store on a miss and populating the entry.
func (p *Pipeline) ActiveCount(ctx context.Context, userID int64) (int, error) {
	key := cache.KeyActiveCount(userID)
	if raw, ok := p.cache.Get(ctx, key); ok {
		if count, err := strconv.Atoi(string(raw)); err == nil {
			metrics.CacheReads.WithLabelValues(metrics.KeyFamilyActiveCount, "hit").Inc()
			return count, nil
		}
		// Corrupt entry: drop it and fall through to the fact store.
		p.cache.Delete(ctx, key)
	}
	metrics.CacheReads.WithLabelValues(metrics.KeyFamilyActiveCount, "miss").Inc()

	count, err := p.facts.GetActiveTaskCount(ctx, userID)
	if err != nil {
		return 0, err
	}
	p.cache.Set(ctx, key, []byte(strconv.Itoa(count)), p.activeCountTTL)
	return count, nil
}
