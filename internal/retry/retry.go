// Package retry provides exponential-backoff retry for transient
// failures, primarily fact-store outages during asynchronous
// recomputation.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of calls including the first.
	MaxAttempts int

	// BaseDelay is the wait after the first failure; each subsequent wait
	// doubles: BaseDelay, 2*BaseDelay, 4*BaseDelay, ...
	BaseDelay time.Duration

	// OnRetry, if set, is called after a failed attempt and before the
	// next delay. attempt is 1-indexed.
	OnRetry func(attempt int, err error)
}

// Do calls fn up to cfg.MaxAttempts times, waiting between attempts.
// Returns nil on the first success, the last error once attempts are
// exhausted, or the context error if ctx is done while waiting.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		delay := cfg.BaseDelay << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return lastErr
}
