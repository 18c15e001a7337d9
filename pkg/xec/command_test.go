// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"errors"
	"testing"
)

func TestCommand_Validate(t *testing.T) {
	t.Parallel()

	t.Run("rejects neither program nor shell line", func(t *testing.T) {
		t.Parallel()
		c := &Command{}
		if err := c.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("rejects both program and shell line", func(t *testing.T) {
		t.Parallel()
		c := &Command{Program: "echo", ShellLine: "echo hi"}
		if err := c.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("accepts program only", func(t *testing.T) {
		t.Parallel()
		c := &Command{Program: "echo", Args: []string{"hi"}}
		if err := c.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("accepts shell line only", func(t *testing.T) {
		t.Parallel()
		c := &Command{ShellLine: "echo hi"}
		if err := c.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejects negative timeout", func(t *testing.T) {
		t.Parallel()
		c := &Command{Program: "echo", Timeout: -1}
		err := c.Validate()
		if err == nil {
			t.Fatal("expected error")
		}
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected *ValidationError, got %T", err)
		}
	})
}

func TestCommand_EffectiveTimeoutSignal(t *testing.T) {
	t.Parallel()

	c := &Command{}
	if got := c.EffectiveTimeoutSignal(); got != "SIGTERM" {
		t.Fatalf("expected default SIGTERM, got %q", got)
	}

	c.TimeoutSignal = "SIGINT"
	if got := c.EffectiveTimeoutSignal(); got != "SIGINT" {
		t.Fatalf("expected SIGINT, got %q", got)
	}
}

func TestCommand_String(t *testing.T) {
	t.Parallel()

	c := &Command{Program: "echo", Args: []string{"a", "b"}}
	if got, want := c.String(), "echo a b"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	sc := &Command{ShellLine: "echo a | cat"}
	if got, want := sc.String(), "echo a | cat"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEnv_OrderedInsertionAndOverwrite(t *testing.T) {
	t.Parallel()

	e := NewEnv()
	e.Set("A", "1")
	e.Set("B", "2")
	e.Set("A", "3") // overwrite, should not move in iteration order

	if got := e.Keys(); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("expected order [A B], got %v", got)
	}
	v, ok := e.Get("A")
	if !ok || v != "3" {
		t.Fatalf("expected A=3, got %q ok=%v", v, ok)
	}
	if e.Len() != 2 {
		t.Fatalf("expected len 2, got %d", e.Len())
	}
}

func TestEnv_ToSlice(t *testing.T) {
	t.Parallel()

	e := NewEnv()
	e.Set("PATH", "/bin")
	e.Set("HOME", "/root")
	want := []string{"PATH=/bin", "HOME=/root"}
	got := e.ToSlice()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMerge_OverlayWinsOnCollision(t *testing.T) {
	t.Parallel()

	base := NewEnv()
	base.Set("A", "1")
	base.Set("B", "2")

	overlay := NewEnv()
	overlay.Set("B", "20")
	overlay.Set("C", "30")

	merged := Merge(base, overlay)
	if v, _ := merged.Get("A"); v != "1" {
		t.Fatalf("expected A=1, got %q", v)
	}
	if v, _ := merged.Get("B"); v != "20" {
		t.Fatalf("expected overlay B=20, got %q", v)
	}
	if v, _ := merged.Get("C"); v != "30" {
		t.Fatalf("expected C=30, got %q", v)
	}
	if got := merged.Keys(); len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("unexpected key order: %v", got)
	}
}

func TestCancelHandle_IdempotentAndConcurrentSafe(t *testing.T) {
	t.Parallel()

	h := NewCancelHandle()
	if h.IsCancelled() {
		t.Fatal("expected not cancelled initially")
	}

	done := make(chan struct{})
	const goroutines = 20
	for i := 0; i < goroutines; i++ {
		go func() {
			h.Cancel()
			done <- struct{}{}
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}

	if !h.IsCancelled() {
		t.Fatal("expected cancelled after concurrent Cancel calls")
	}
	select {
	case <-h.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}
}

func TestCancelHandle_NilIsSafe(t *testing.T) {
	t.Parallel()

	var h *CancelHandle
	h.Cancel() // must not panic
	if h.IsCancelled() {
		t.Fatal("nil handle should report not cancelled")
	}
	if h.Done() != nil {
		t.Fatal("nil handle should return nil Done channel")
	}
}
