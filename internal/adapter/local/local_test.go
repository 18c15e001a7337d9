// SPDX-License-Identifier: MPL-2.0

package local

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/xecgo/xec/pkg/platform"
	"github.com/xecgo/xec/pkg/xec"
)

func TestAdapter_ExecuteArgv(t *testing.T) {
	t.Parallel()

	a := New(nil)
	cmd := &xec.Command{Program: "echo", Args: []string{"hello"}}
	result, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Ok() {
		t.Fatalf("expected ok result, got exit %d", result.ExitCode)
	}
	if got := result.StdoutText(); got != "hello\n" {
		t.Fatalf("got stdout %q", got)
	}
}

func TestAdapter_ExecuteShellLine(t *testing.T) {
	t.Parallel()

	a := New(nil)
	cmd := &xec.Command{ShellLine: "echo a && echo b"}
	result, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.StdoutText(); got != "a\nb\n" {
		t.Fatalf("got stdout %q", got)
	}
}

func TestAdapter_NonzeroExitWithNothrow(t *testing.T) {
	t.Parallel()

	a := New(nil)
	cmd := &xec.Command{Program: "false", Nothrow: true}
	result, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error with Nothrow set: %v", err)
	}
	if result.Ok() {
		t.Fatal("expected non-ok result")
	}
	if result.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", result.ExitCode)
	}
}

func TestAdapter_NonzeroExitWithoutNothrow(t *testing.T) {
	t.Parallel()

	a := New(nil)
	cmd := &xec.Command{Program: "false"}
	_, err := a.Execute(context.Background(), cmd)
	if err == nil {
		t.Fatal("expected CommandFailureError")
	}
	var failErr *xec.CommandFailureError
	if !asCommandFailure(err, &failErr) {
		t.Fatalf("expected *xec.CommandFailureError, got %T: %v", err, err)
	}
}

func TestAdapter_ProgramNotFound(t *testing.T) {
	t.Parallel()

	a := New(nil)
	cmd := &xec.Command{Program: "this-binary-does-not-exist-xyz"}
	_, err := a.Execute(context.Background(), cmd)
	if err == nil {
		t.Fatal("expected error")
	}
	var unavailable *xec.AdapterUnavailableError
	if !asAdapterUnavailable(err, &unavailable) {
		t.Fatalf("expected *xec.AdapterUnavailableError, got %T: %v", err, err)
	}
}

func TestAdapter_Timeout(t *testing.T) {
	t.Parallel()

	a := New(nil)
	cmd := &xec.Command{
		ShellLine: "sleep 5",
		Timeout:   20 * time.Millisecond,
		Nothrow:   true,
	}
	start := time.Now()
	_, err := a.Execute(context.Background(), cmd)
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout was not honored promptly")
	}
	var timeoutErr *xec.TimeoutError
	if !asTimeout(err, &timeoutErr) {
		t.Fatalf("expected *xec.TimeoutError, got %T: %v", err, err)
	}
}

func TestAdapter_EnvIsMerged(t *testing.T) {
	t.Parallel()

	a := New(nil)
	env := xec.NewEnv()
	env.Set("XEC_TEST_VAR", "expected-value")
	cmd := &xec.Command{ShellLine: "echo $XEC_TEST_VAR", Env: env}
	result, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.StdoutText(); got != "expected-value\n" {
		t.Fatalf("got %q", got)
	}
}

// asCommandFailure/asAdapterUnavailable/asTimeout avoid importing errors in
// every test just to call errors.As once.
func asCommandFailure(err error, target **xec.CommandFailureError) bool {
	e, ok := err.(*xec.CommandFailureError)
	if ok {
		*target = e
	}
	return ok
}

func asAdapterUnavailable(err error, target **xec.AdapterUnavailableError) bool {
	e, ok := err.(*xec.AdapterUnavailableError)
	if ok {
		*target = e
	}
	return ok
}

func asTimeout(err error, target **xec.TimeoutError) bool {
	e, ok := err.(*xec.TimeoutError)
	if ok {
		*target = e
	}
	return ok
}

func TestWrapForSandboxType_NoSandboxLeavesArgvUnchanged(t *testing.T) {
	t.Parallel()

	program, args := wrapForSandboxType(platform.SandboxNone, "echo", []string{"hi"})
	if program != "echo" || len(args) != 1 || args[0] != "hi" {
		t.Fatalf("wrapForSandboxType = (%q, %v), want unchanged argv", program, args)
	}
}

func TestWrapForSandboxType_FlatpakPrependsHostSpawn(t *testing.T) {
	t.Parallel()

	program, args := wrapForSandboxType(platform.SandboxFlatpak, "echo", []string{"hi"})
	if program != "flatpak-spawn" {
		t.Fatalf("program = %q, want flatpak-spawn", program)
	}
	want := []string{"--host", "echo", "hi"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args = %v, want %v", args, want)
		}
	}
}

func TestWrapForSandboxType_SnapPrependsHostSpawn(t *testing.T) {
	t.Parallel()

	program, args := wrapForSandboxType(platform.SandboxSnap, "echo", []string{"hi"})
	if program != "snap" {
		t.Fatalf("program = %q, want snap", program)
	}
	want := []string{"run", "--shell", "echo", "hi"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args = %v, want %v", args, want)
		}
	}
}

func TestAdapter_InteractiveUsesPty(t *testing.T) {
	// Not t.Parallel: attaches to the real os.Stdin/os.Stdout.
	a := New(nil)
	cmd := &xec.Command{Program: "echo", Args: []string{"hello"}, Interactive: true}
	result, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.StdoutText(), "hello") {
		t.Fatalf("expected pty output to contain %q, got %q", "hello", result.StdoutText())
	}
}
