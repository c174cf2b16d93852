// Package retry is a small helper for re-running flaky side effects, used by
// the worker when persisting results and publishing events.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy controls how Do re-runs a failing operation.
type Policy struct {
	// Attempts is the total number of calls including the first one.
	Attempts int
	// Backoff is the unit of the quadratic wait: sleep = Backoff * n² after
	// the n-th failed attempt.
	Backoff time.Duration
	// Notify, when set, runs after each failed attempt except the last.
	// n is 1-indexed.
	Notify func(n int, err error)
}

// Do runs op until it succeeds or the policy is exhausted. The wait after
// failure n is Backoff*n², so with Backoff=1s the schedule is 1s, 4s, 9s.
// Returns nil on the first success, the last error once attempts run out,
// or a wrapped ctx.Err() if the context ends while waiting.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	var last error
	for n := 1; n <= p.Attempts; n++ {
		last = op(ctx)
		if last == nil {
			return nil
		}
		if n == p.Attempts {
			break
		}
		if p.Notify != nil {
			p.Notify(n, last)
		}

		select {
		case <-time.After(p.Backoff * time.Duration(n*n)):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted after attempt %d: %w", n, ctx.Err())
		}
	}
	return last
}
