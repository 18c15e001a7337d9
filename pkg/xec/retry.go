// SPDX-License-Identifier: MPL-2.0

package xec

import "time"

// BackoffKind selects the delay curve between retry attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy configures automatic re-execution of a failed Command. The
// engine translates this policy into a github.com/cenkalti/backoff/v4
// backoff.BackOff for the delays between attempts and runs its own attempt
// loop around dispatch.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first;
	// MaxAttempts <= 1 disables retrying.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Backoff      BackoffKind
	// Factor multiplies the delay each attempt under BackoffExponential.
	// Defaults to 2.0 when zero.
	Factor float64

	// PerAttemptTimeout bounds a single attempt; zero means the Command's
	// own Timeout (if any) governs instead.
	PerAttemptTimeout time.Duration

	// ShouldRetry decides whether a given error is worth retrying. Nil
	// defaults to IsTransient.
	ShouldRetry func(err error) bool
}

// EffectiveShouldRetry returns ShouldRetry, defaulting to IsTransient.
func (p *RetryPolicy) EffectiveShouldRetry() func(err error) bool {
	if p == nil || p.ShouldRetry == nil {
		return IsTransient
	}
	return p.ShouldRetry
}

// EffectiveFactor returns Factor, defaulting to 2.0.
func (p *RetryPolicy) EffectiveFactor() float64 {
	if p == nil || p.Factor == 0 {
		return 2.0
	}
	return p.Factor
}

// EffectiveMaxAttempts returns MaxAttempts, defaulting to 1 (no retry).
func (p *RetryPolicy) EffectiveMaxAttempts() int {
	if p == nil || p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}
