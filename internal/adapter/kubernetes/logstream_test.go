// SPDX-License-Identifier: MPL-2.0

package kubernetes

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xecgo/xec/pkg/xec"
)

// fakeLogTailCLI writes an executable standing in for "kubectl logs -f": it
// prints a handful of lines a short interval apart, then blocks until
// killed, mimicking a live tail.
func fakeLogTailCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakekubectl-logs")
	script := "#!/bin/sh\n" +
		"for i in 1 2 3 4 5; do echo \"line $i\"; sleep 0.05; done\n" +
		"trap 'exit 0' TERM INT\n" +
		"while true; do sleep 1; done\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake kubectl: %v", err)
	}
	return path
}

func TestOpenLogStream_DeliversLines(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.Binary = fakeLogTailCLI(t)

	var mu sync.Mutex
	var lines []string
	ls, err := a.OpenLogStream(context.Background(), xec.KubernetesOptions{Pod: "web-0"}, func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("OpenLogStream: %v", err)
	}
	defer ls.Stop()

	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	got := len(lines)
	mu.Unlock()
	if got != 5 {
		t.Fatalf("got %d lines, want 5", got)
	}
}

func TestLogStream_PauseStopsDelivery(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.Binary = fakeLogTailCLI(t)

	var mu sync.Mutex
	var lines []string
	ls, err := a.OpenLogStream(context.Background(), xec.KubernetesOptions{Pod: "web-0"}, func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("OpenLogStream: %v", err)
	}
	defer ls.Stop()

	ls.Pause()
	if !ls.Paused() {
		t.Fatal("expected Paused() to report true")
	}
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	got := len(lines)
	mu.Unlock()
	if got != 0 {
		t.Fatalf("got %d lines while paused, want 0", got)
	}

	ls.Resume()
	if ls.Paused() {
		t.Fatal("expected Paused() to report false after Resume")
	}
}

func TestLogStream_StopEndsDelivery(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.Binary = fakeLogTailCLI(t)

	ls, err := a.OpenLogStream(context.Background(), xec.KubernetesOptions{Pod: "web-0"}, func(line string) {})
	if err != nil {
		t.Fatalf("OpenLogStream: %v", err)
	}

	if err := ls.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
