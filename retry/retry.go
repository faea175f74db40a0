// Package retry provides the retry policy consulted when a job execution
// yields a classified failure: whether to retry at all, how many attempts
// are allowed, and how long to back off before each one.
//
// Policies are immutable values, safe to share across processors. A
// process-wide default is installed on the engine; individual operations
// may override it at registration time.
package retry

import (
	"fmt"
	"math"
	"time"
)

// DelayFunc computes the backoff before retry attempt n (1-indexed).
// Attempt 1 is the first retry after the initial failure.
type DelayFunc func(attempt int) time.Duration

// Policy decides whether and when a failed job runs again.
// The zero value is unusable; construct with New, Default, or Disabled.
type Policy struct {
	enabled     bool
	maxAttempts int
	delay       DelayFunc
}

// Option configures a Policy under construction.
type Option func(*Policy)

// WithDelayFunc replaces the backoff function.
func WithDelayFunc(fn DelayFunc) Option {
	return func(p *Policy) { p.delay = fn }
}

// New creates an enabled policy with the given attempt ceiling.
// A negative ceiling is rejected. With no options the default
// quartic-plus-jitter backoff is used with an unseeded jitter source.
func New(maxAttempts int, opts ...Option) (*Policy, error) {
	if maxAttempts < 0 {
		return nil, fmt.Errorf("retry: negative attempt ceiling %d", maxAttempts)
	}

	p := &Policy{
		enabled:     true,
		maxAttempts: maxAttempts,
		delay:       QuarticDelay(NewJitter()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Disabled returns a policy that never retries.
func Disabled() *Policy {
	return &Policy{enabled: false}
}

// DefaultMaxAttempts is the attempt ceiling of the default policy.
const DefaultMaxAttempts = 25

// Default returns the engine's default policy: retry enabled, ceiling of
// 25 attempts, quartic backoff with jitter drawn from src.
func Default(src *Jitter) *Policy {
	return &Policy{
		enabled:     true,
		maxAttempts: DefaultMaxAttempts,
		delay:       QuarticDelay(src),
	}
}

// QuarticDelay returns the default backoff function:
//
//	delay(a) = round((a-1)^4 + 15 + U(0,30)*a) seconds
//
// The quartic term widens rapidly for persistent failures, the constant
// offset guarantees a minimum delay on the first retry, and the jitter
// term (scaled by the attempt number) spreads retries of simultaneously
// failing jobs so they do not storm the store in lockstep.
func QuarticDelay(src *Jitter) DelayFunc {
	return func(attempt int) time.Duration {
		secs := math.Round(math.Pow(float64(attempt-1), 4) + 15 + float64(src.Intn(30))*float64(attempt))
		return time.Duration(secs) * time.Second
	}
}

// Retry reports whether this policy allows retrying at all.
func (p *Policy) Retry() bool { return p.enabled }

// MaxAttempts returns the attempt ceiling. Meaningless when Retry is false.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// Allows reports whether the given attempt number (1-indexed) is still
// within policy bounds. The attempt that reaches the ceiling is denied.
func (p *Policy) Allows(attempt int) bool {
	return p.enabled && attempt < p.maxAttempts
}

// Delay returns the backoff before the given retry attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt)
}
