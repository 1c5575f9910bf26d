package retry

import (
	"context"
	"time"
)

// Do runs fn under the policy, sleeping the backoff delay between
// attempts. It returns nil on the first success, the last error once
// attempts are exhausted, a permanent error immediately, and the
// context's error if it is cancelled while waiting.
func Do(ctx context.Context, p *Policy, fn func(ctx context.Context) error) error {
	policy := p
	if policy == nil {
		policy = NoRetry()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !policy.ShouldRetry(attempt, lastErr) {
			return lastErr
		}

		delay := policy.NextDelay(attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
