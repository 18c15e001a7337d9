// SPDX-License-Identifier: MPL-2.0

package kubernetes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xecgo/xec/pkg/xec"
)

// fakeKubectl writes an executable shell script standing in for kubectl: it
// echoes its arguments to stdout and exits 0, so tests can assert on the
// constructed argv without a real cluster.
func fakeKubectl(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakekubectl")
	script := "#!/bin/sh\necho \"args: $@\"\nexit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake kubectl: %v", err)
	}
	return path
}

func TestAdapter_ExecuteRunsKubectlExec(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.Binary = fakeKubectl(t)
	opts := xec.KubernetesOptions{Pod: "web-0", Container: "app"}
	cmd := &xec.Command{Program: "echo", Args: []string{"hi"}, AdapterOptions: opts}

	result, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if !strings.Contains(string(result.Stdout), "exec") {
		t.Errorf("Stdout = %q, want it to reflect the exec subcommand", result.Stdout)
	}
	if !strings.Contains(string(result.Stdout), "web-0") {
		t.Errorf("Stdout = %q, want the pod name", result.Stdout)
	}
}

func TestCommandFor_PlainArgvUnchangedWithoutCwdOrEnv(t *testing.T) {
	t.Parallel()

	got := commandFor(&xec.Command{Program: "echo", Args: []string{"hi"}})
	want := []string{"echo", "hi"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("commandFor = %v, want %v", got, want)
	}
}

func TestCommandFor_InlinesCwd(t *testing.T) {
	t.Parallel()

	got := commandFor(&xec.Command{Program: "echo", Args: []string{"hi"}, Cwd: "/srv/app"})
	if len(got) != 3 || got[0] != "sh" || got[1] != "-c" {
		t.Fatalf("commandFor = %v, want a sh -c wrapper", got)
	}
	if !strings.HasPrefix(got[2], "cd /srv/app && ") {
		t.Fatalf("commandFor line = %q, want a cd prefix", got[2])
	}
}

func TestCommandFor_InlinesEnv(t *testing.T) {
	t.Parallel()

	env := xec.NewEnv()
	env.Set("FOO", "bar")
	got := commandFor(&xec.Command{Program: "echo", Args: []string{"hi"}, Env: env})
	if len(got) != 3 || got[0] != "sh" || got[1] != "-c" {
		t.Fatalf("commandFor = %v, want a sh -c wrapper", got)
	}
	if !strings.Contains(got[2], "FOO=bar") {
		t.Fatalf("commandFor line = %q, want the env assignment inlined", got[2])
	}
}

func TestAdapter_ExecuteInlinesCwdAndEnv(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.Binary = fakeKubectl(t)
	env := xec.NewEnv()
	env.Set("FOO", "bar")
	cmd := &xec.Command{
		Program:        "echo",
		Args:           []string{"hi"},
		Cwd:            "/srv/app",
		Env:            env,
		AdapterOptions: xec.KubernetesOptions{Pod: "web-0"},
	}

	result, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(string(result.Stdout), "cd /srv/app") {
		t.Errorf("Stdout = %q, want the cd prefix", result.Stdout)
	}
	if !strings.Contains(string(result.Stdout), "FOO=bar") {
		t.Errorf("Stdout = %q, want the inlined env assignment", result.Stdout)
	}
}

func TestAdapter_ExecuteRequiresPodOrSelector(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.Binary = fakeKubectl(t)
	cmd := &xec.Command{Program: "echo", AdapterOptions: xec.KubernetesOptions{}}

	_, err := a.Execute(context.Background(), cmd)
	if err == nil {
		t.Fatal("expected a validation error when neither Pod nor Selector is set")
	}
}

func TestAdapter_ExecuteRejectsWrongOptionsType(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.Binary = fakeKubectl(t)
	cmd := &xec.Command{Program: "echo", AdapterOptions: xec.DockerOptions{Container: "c1"}}

	_, err := a.Execute(context.Background(), cmd)
	if err == nil {
		t.Fatal("expected a validation error for mismatched AdapterOptions")
	}
}

func TestAdapter_Logs(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.Binary = fakeKubectl(t)
	out, err := a.Logs(context.Background(), xec.KubernetesOptions{Pod: "web-0"}, 10)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if !strings.Contains(string(out), "logs") || !strings.Contains(string(out), "--tail 10") {
		t.Errorf("Logs output = %q, want it to reflect logs --tail 10", out)
	}
}

func TestAdapter_CopyToAndFrom(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.Binary = fakeKubectl(t)
	opts := xec.KubernetesOptions{Pod: "web-0"}

	if err := a.CopyTo(context.Background(), opts, "local.txt", "/tmp/remote.txt"); err != nil {
		t.Fatalf("CopyTo: %v", err)
	}
	if err := a.CopyFrom(context.Background(), opts, "/tmp/remote.txt", "local.txt"); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
}

func TestAdapter_IsAvailable(t *testing.T) {
	t.Parallel()

	a := New(nil)
	a.Binary = fakeKubectl(t)
	if !a.IsAvailable(context.Background()) {
		t.Error("IsAvailable = false, want true for a resolvable fake binary")
	}

	a.Binary = filepath.Join(t.TempDir(), "does-not-exist")
	if a.IsAvailable(context.Background()) {
		t.Error("IsAvailable = true, want false for a missing binary")
	}
}
