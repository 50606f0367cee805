// Package retry wraps fallible upstream operations with bounded,
// deterministic retry policies. Every network call in the population
// pipeline goes through here.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/titanx-dash/holder-api/internal/domain"
	"github.com/titanx-dash/holder-api/internal/logger"
)

// Options bound a retry loop.
type Options struct {
	// Retries is the number of additional attempts after the first failure.
	Retries int

	// Delay is the base wait between attempts.
	Delay time.Duration

	// Backoff selects exponential waits (delay * 2^(n-1)); when false the
	// wait grows linearly and caps at 3*delay.
	Backoff bool
}

// linearCap bounds the linear policy's growth factor.
const linearCap = 3

// Policy implements backoff.BackOff with deterministic waits. No jitter:
// the wait sequence is fully reproducible in tests.
type Policy struct {
	opts    Options
	attempt int
}

// NewPolicy creates a backoff policy from Options.
func NewPolicy(opts Options) *Policy {
	return &Policy{opts: opts}
}

// NextBackOff returns the wait before the next attempt, or backoff.Stop
// once the retry budget is exhausted.
func (p *Policy) NextBackOff() time.Duration {
	p.attempt++
	if p.attempt > p.opts.Retries {
		return backoff.Stop
	}
	if p.opts.Backoff {
		return p.opts.Delay * time.Duration(1<<(p.attempt-1))
	}
	factor := p.attempt
	if factor > linearCap {
		factor = linearCap
	}
	return p.opts.Delay * time.Duration(factor)
}

// Reset restarts the policy for reuse.
func (p *Policy) Reset() {
	p.attempt = 0
}

// Do runs op until it succeeds, the retry budget is exhausted, or ctx is
// canceled. A rate-limit error fails fast with domain.ErrRateLimited
// instead of silently burning the remaining attempts; all other errors are
// returned unchanged after exhaustion.
func Do[T any](ctx context.Context, opts Options, op func() (T, error)) (T, error) {
	var result T

	attempt := 0
	operation := func() error {
		attempt++
		var err error
		result, err = op()
		if err == nil {
			return nil
		}
		if IsRateLimited(err) {
			return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrRateLimited, err))
		}
		logger.Debug("operation failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(NewPolicy(opts), ctx))
	return result, err
}

// IsRateLimited reports whether err indicates an upstream rate-limit
// condition.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429")
}
