// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"context"
	"strings"
	"testing"

	xssh "golang.org/x/crypto/ssh"

	"github.com/xecgo/xec/pkg/xec"
)

// testAdapter builds an Adapter with a fresh, empty Pool. It does not
// redirect dialing itself: tests that execute commands swap dialFunc for
// one that returns a client of the in-process test server.
func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New(nil)
	a.pool = &Pool{
		MaxPerHost: 4, MaxTotal: 32,
		conns:   make(map[PoolKey][]*conn),
		waiters: make(map[PoolKey][]chan struct{}),
	}
	return a
}

func TestAdapter_ExecuteSuccess(t *testing.T) {
	t.Parallel()

	a := testAdapter(t)
	opts := xec.SSHOptions{Host: "example.test", Username: "test", Password: "unused"}

	// Execute dials through dialFunc when the pool has no connection for this
	// key; substitute a dialFunc that connects to our fake server regardless
	// of the real network address.
	a.pool.conns[KeyFor(opts)] = nil
	origDial := dialFunc
	dialFunc = func(ctx context.Context, opts xec.SSHOptions) (*xssh.Client, error) {
		return newTestClient(t), nil
	}
	defer func() { dialFunc = origDial }()

	cmd := &xec.Command{Program: "echo", Args: []string{"hi"}, AdapterOptions: opts}
	result, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if !strings.Contains(string(result.Stdout), "ok") {
		t.Errorf("Stdout = %q, want it to contain %q", result.Stdout, "ok")
	}
}

func TestAdapter_ExecuteRejectsWrongOptionsType(t *testing.T) {
	t.Parallel()

	a := testAdapter(t)
	cmd := &xec.Command{Program: "echo", AdapterOptions: xec.DockerOptions{Container: "c1"}}

	_, err := a.Execute(context.Background(), cmd)
	if err == nil {
		t.Fatal("expected a validation error for mismatched AdapterOptions")
	}
	var verr *xec.ValidationError
	if !asValidation(err, &verr) {
		t.Fatalf("err = %v, want *xec.ValidationError", err)
	}
}

func asValidation(err error, target **xec.ValidationError) bool {
	v, ok := err.(*xec.ValidationError)
	if ok {
		*target = v
	}
	return ok
}

func TestBuildRemoteCommandLine_WithCwdAndEnv(t *testing.T) {
	t.Parallel()

	env := xec.NewEnv()
	env.Set("FOO", "bar")
	cmd := &xec.Command{Program: "echo", Args: []string{"hi"}, Cwd: "/tmp/work", Env: env}
	line := buildRemoteCommandLine(cmd, xec.SSHOptions{Host: "h"})

	if !strings.Contains(line, "cd /tmp/work &&") {
		t.Errorf("line = %q, want cd prefix", line)
	}
	if !strings.Contains(line, "FOO=bar") {
		t.Errorf("line = %q, want FOO=bar env prefix", line)
	}
	if !strings.Contains(line, "echo hi") {
		t.Errorf("line = %q, want the inner command", line)
	}
}

func TestBuildSudoLine(t *testing.T) {
	t.Parallel()

	line := buildSudoLine("whoami", &xec.SudoPolicy{Enabled: true, User: "root"})
	if line != "sudo -u root whoami" {
		t.Errorf("line = %q, want %q", line, "sudo -u root whoami")
	}
}
