// SPDX-License-Identifier: MPL-2.0

package retryx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xecgo/xec/internal/testutil"
	"github.com/xecgo/xec/pkg/xec"
)

type fakeBus struct {
	mu     sync.Mutex
	events []xec.Event
}

func (f *fakeBus) Publish(e xec.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeBus) names() []xec.EventName {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]xec.EventName, len(f.events))
	for i, e := range f.events {
		out[i] = e.Name
	}
	return out
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{}
	calls := 0
	result, err := Do(context.Background(), bus, xec.AdapterLocal, &xec.RetryPolicy{MaxAttempts: 3}, func(attempt int) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("unexpected result: %q", result)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}

	names := bus.names()
	if len(names) != 2 || names[0] != xec.EventRetryAttempt || names[1] != xec.EventRetrySuccess {
		t.Fatalf("unexpected event sequence: %v", names)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{}
	calls := 0
	policy := &xec.RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Backoff:      xec.BackoffFixed,
	}
	result, err := Do(context.Background(), bus, xec.AdapterSSH, policy, func(attempt int) (int, error) {
		calls++
		if attempt < 3 {
			return 0, &xec.ConnectionError{Cause: errors.New("refused")}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("unexpected result: %d", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{}
	calls := 0
	policy := &xec.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Backoff:      xec.BackoffFixed,
	}
	_, err := Do(context.Background(), bus, xec.AdapterSSH, policy, func(attempt int) (int, error) {
		calls++
		return 0, &xec.ConnectionError{Cause: errors.New("refused")}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}

	names := bus.names()
	if names[len(names)-1] != xec.EventRetryFailed {
		t.Fatalf("expected last event to be retry:failed, got %v", names[len(names)-1])
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{}
	calls := 0
	policy := &xec.RetryPolicy{MaxAttempts: 5}
	_, err := Do(context.Background(), bus, xec.AdapterSSH, policy, func(attempt int) (int, error) {
		calls++
		return 0, &xec.AuthenticationError{Host: "h", Reason: "rejected"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (no retry for non-transient error), got %d", calls)
	}
}

func TestDoWithClock_BackoffRunsOnFakeClockNotRealTime(t *testing.T) {
	t.Parallel()

	clock := testutil.NewFakeClock(time.Time{})
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				clock.Advance(time.Hour)
			}
		}
	}()

	bus := &fakeBus{}
	calls := 0
	policy := &xec.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Hour,
		Backoff:      xec.BackoffFixed,
	}

	started := time.Now()
	result, err := DoWithClock(context.Background(), bus, xec.AdapterSSH, policy, func(attempt int) (int, error) {
		calls++
		if attempt < 3 {
			return 0, &xec.ConnectionError{Cause: errors.New("refused")}
		}
		return 42, nil
	}, clock)
	elapsed := time.Since(started)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("unexpected result: %d", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if elapsed > time.Second {
		t.Fatalf("elapsed = %v, want well under the 2h a real backoff would take — FakeClock should make this fast", elapsed)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := &xec.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
	}
	_, err := Do(ctx, bus, xec.AdapterSSH, policy, func(attempt int) (int, error) {
		return 0, &xec.ConnectionError{Cause: errors.New("refused")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
