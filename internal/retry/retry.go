// Package retry wraps fallible sync steps in a bounded exponential-backoff
// retry policy.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxAttempts bounds how many times a step is invoked.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the backoff unit before the first retry.
	DefaultBaseDelay = 2 * time.Second
)

// Policy describes a bounded retry policy for one sync step.
type Policy struct {
	// MaxAttempts is the total number of invocations, first try included.
	MaxAttempts int

	// BaseDelay is the wait before the first retry; subsequent waits double.
	BaseDelay time.Duration
}

// DefaultPolicy returns the policy used by sync jobs unless configured.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Do executes op under the policy: on failure it sleeps BaseDelay doubled
// per attempt and retries, up to MaxAttempts total invocations. The last
// error is returned once attempts are exhausted. All failures are retried
// identically; callers needing non-retryable classification must filter
// before invoking the runner. Context cancellation aborts the wait.
func Do[T any](ctx context.Context, name string, op func() (T, error), policy Policy) (T, error) {
	policy = policy.normalized()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = policy.BaseDelay * time.Duration(1<<uint(policy.MaxAttempts))

	attempt := 0
	result, err := backoff.Retry(ctx,
		func() (T, error) {
			attempt++
			out, opErr := op()
			if opErr != nil {
				slog.Debug("Retryable step failed",
					"step", name,
					"attempt", attempt,
					"max_attempts", policy.MaxAttempts,
					"error", opErr)
			}
			return out, opErr
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
	)
	if err != nil {
		return result, fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
	}
	return result, nil
}
