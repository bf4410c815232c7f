// Package waiter provides bounded polling for eventually-consistent cloud
// state. Cloud-side changes (IAM grants, sink writer identities, Dataflow
// worker pools) become visible only after an unpredictable delay; callers
// poll through this package instead of sleeping for a fixed time.
package waiter

import (
	"context"
	"log/slog"
	"time"
)

// CheckFunc evaluates the awaited condition once. It returns true when the
// condition holds. A non-nil error is treated as "not yet" and retried; the
// last error is logged, not returned, because eventual consistency makes
// transient denials expected during the window.
type CheckFunc func(ctx context.Context) (bool, error)

// Options controls a bounded wait.
type Options struct {
	// Interval between checks.
	Interval time.Duration
	// Budget is the total time allowed, measured from the first check.
	Budget time.Duration
	// Description names the awaited condition in logs.
	Description string
}

// Await polls check at a fixed interval until it reports true, the budget is
// exhausted, or ctx is canceled. The first check runs immediately, so a
// condition that already holds costs no wait at all.
//
// Returns (true, nil) when the condition was observed, (false, nil) when the
// budget ran out — exhaustion is a fact about timing, not an error — and
// (false, ctx.Err()) only on cancellation.
func Await(ctx context.Context, check CheckFunc, opts Options) (bool, error) {
	log := slog.Default().With("condition", opts.Description)

	deadline := time.After(opts.Budget)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	attempt := 0
	for {
		attempt++
		ok, err := check(ctx)
		if err != nil {
			log.Debug("condition check failed, retrying",
				"attempt", attempt, "error", err)
		}
		if ok {
			log.Debug("condition observed", "attempt", attempt)
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			log.Warn("wait budget exhausted",
				"attempts", attempt, "budget", opts.Budget.String())
			return false, nil
		case <-ticker.C:
		}
	}
}

// Poll retries fn until it succeeds, the budget is exhausted, or ctx is
// canceled. Unlike Await it propagates the last error on exhaustion, for
// operations where failure detail matters to the caller.
func Poll(ctx context.Context, fn func(ctx context.Context) error, opts Options) error {
	var lastErr error

	ok, err := Await(ctx, func(ctx context.Context) (bool, error) {
		if err := fn(ctx); err != nil {
			lastErr = err
			return false, err
		}
		return true, nil
	}, opts)

	if err != nil {
		return err
	}
	if !ok {
		return lastErr
	}
	return nil
}
