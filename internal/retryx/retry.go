// SPDX-License-Identifier: MPL-2.0

package retryx

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xecgo/xec/internal/eventbus"
	"github.com/xecgo/xec/internal/testutil"
	"github.com/xecgo/xec/pkg/xec"
)

// Publisher is the subset of *eventbus.Bus the retry loop depends on, so
// tests can stub it without constructing a real bus.
type Publisher interface {
	Publish(xec.Event)
}

var _ Publisher = (*eventbus.Bus)(nil)

// Do runs op, retrying it per policy. op returns (result, error); a non-nil
// error is passed to policy's ShouldRetry to decide whether another attempt
// is warranted. Do returns the result and a nil error of the first attempt
// that succeeds. Once an attempt fails non-retryably or attempts are
// exhausted, it returns T's zero value and the last error (ctx's error if
// ctx is cancelled during a backoff wait).
//
// Every attempt emits retry:attempt beforehand (attempt 1 included, so
// callers can observe single-shot invocations too); the terminal outcome
// emits exactly one of retry:success or retry:failed.
func Do[T any](ctx context.Context, bus Publisher, adapter xec.AdapterKind, policy *xec.RetryPolicy, op func(attempt int) (T, error)) (T, error) {
	return DoWithClock(ctx, bus, adapter, policy, op, testutil.RealClock{})
}

// DoWithClock is Do with an injectable Clock, so tests can drive backoff
// waits deterministically (via testutil.FakeClock) instead of sleeping out
// real delays. Do itself always calls this with testutil.RealClock.
func DoWithClock[T any](ctx context.Context, bus Publisher, adapter xec.AdapterKind, policy *xec.RetryPolicy, op func(attempt int) (T, error), clock testutil.Clock) (T, error) {
	maxAttempts := policy.EffectiveMaxAttempts()
	shouldRetry := policy.EffectiveShouldRetry()
	bo := newBackOff(policy)

	var zero T
	var lastErr error
	start := clock.Now()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		publish(bus, xec.EventRetryAttempt, adapter, xec.Fields{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
		})

		result, err := op(attempt)
		if err == nil {
			publish(bus, xec.EventRetrySuccess, adapter, xec.Fields{
				"attempt":        attempt,
				"max_attempts":   maxAttempts,
				"total_duration": clock.Since(start),
			})
			return result, nil
		}

		lastErr = err
		if attempt == maxAttempts || !shouldRetry(err) {
			break
		}

		delay := bo.NextBackOff()
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			publish(bus, xec.EventRetryFailed, adapter, xec.Fields{
				"attempt":        attempt,
				"max_attempts":   maxAttempts,
				"last_error":     lastErr.Error(),
				"total_duration": clock.Since(start),
			})
			return zero, lastErr
		case <-clock.After(delay):
		}
	}

	publish(bus, xec.EventRetryFailed, adapter, xec.Fields{
		"attempt":        maxAttempts,
		"max_attempts":   maxAttempts,
		"last_error":     lastErr.Error(),
		"total_duration": clock.Since(start),
	})
	return zero, lastErr
}

func newBackOff(policy *xec.RetryPolicy) backoff.BackOff {
	initial := policy.InitialDelay
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	switch policy.Backoff {
	case xec.BackoffFixed:
		return backoff.NewConstantBackOff(initial)
	case xec.BackoffLinear:
		return &linearBackOff{step: initial, max: maxDelay}
	default: // xec.BackoffExponential, and the zero value
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = initial
		eb.MaxInterval = maxDelay
		eb.Multiplier = policy.EffectiveFactor()
		eb.MaxElapsedTime = 0 // Do() owns the attempt budget, not the backoff
		return eb
	}
}

// linearBackOff increases the delay by a fixed step each call, capped at max.
type linearBackOff struct {
	step    time.Duration
	max     time.Duration
	current time.Duration
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.current += b.step
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

func (b *linearBackOff) Reset() { b.current = 0 }

func publish(bus Publisher, name xec.EventName, adapter xec.AdapterKind, fields xec.Fields) {
	if bus == nil {
		return
	}
	bus.Publish(xec.Event{
		Name:      name,
		Timestamp: time.Now(),
		Adapter:   adapter,
		Fields:    fields,
	})
}
