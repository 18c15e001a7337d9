// SPDX-License-Identifier: MPL-2.0

package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/xecgo/xec/internal/adapter"
	"github.com/xecgo/xec/internal/eventbus"
	"github.com/xecgo/xec/internal/streamio"
	"github.com/xecgo/xec/pkg/platform"
	"github.com/xecgo/xec/pkg/xec"
)

// Adapter spawns commands as local child processes.
type Adapter struct {
	bus *eventbus.Bus

	// Shell overrides the platform-default shell resolution; ShellArgs
	// overrides the default argument convention for that shell.
	Shell     string
	ShellArgs []string
}

// New constructs a local Adapter. bus may be nil to disable event emission.
func New(bus *eventbus.Bus) *Adapter {
	return &Adapter{bus: bus}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Kind returns xec.AdapterLocal.
func (a *Adapter) Kind() xec.AdapterKind { return xec.AdapterLocal }

// Capabilities reports local's supported feature set: streaming and TTY
// execution, but no transfer/tunnel/port-forward/health since those are
// meaningless for a local child process.
func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Streaming: true, TTY: true}
}

// IsAvailable always reports true: a local shell (or the requested program)
// is assumed resolvable via PATH at spawn time instead.
func (a *Adapter) IsAvailable(ctx context.Context) bool { return true }

// Dispose is a no-op: the local adapter holds no resources between calls.
func (a *Adapter) Dispose(ctx context.Context) error { return nil }

// Execute spawns cmd as a child process and waits for it to settle.
func (a *Adapter) Execute(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error) {
	started := time.Now()

	name, args, cleanup, err := a.resolveProgram(cmd)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return nil, err
	}

	execCtx := ctx
	var cancelTimeout context.CancelFunc
	if cmd.Timeout > 0 {
		execCtx, cancelTimeout = context.WithTimeout(ctx, cmd.Timeout)
		defer cancelTimeout()
	}

	c := exec.CommandContext(execCtx, name, args...)
	c.Dir = cmd.Cwd
	c.Env = resolveEnv(cmd)
	c.Cancel = func() error { return sendSignal(c, cmd.EffectiveTimeoutSignal()) }
	if cmd.Grace > 0 {
		c.WaitDelay = cmd.Grace
	}

	stdoutSink := streamio.NewCaptureSink()
	stderrSink := streamio.NewCaptureSink()

	var ptmx *os.File
	var startErr error
	if cmd.Interactive {
		ptmx, startErr = startPty(c, stdoutSink)
	} else if wireErr := wireStdio(c, cmd, stdoutSink, stderrSink); wireErr != nil {
		return nil, wireErr
	} else {
		startErr = c.Start()
	}
	if startErr != nil {
		if errors.Is(startErr, exec.ErrNotFound) || errors.Is(startErr, syscall.ENOENT) {
			a.publish(xec.EventCommandError, xec.Fields{"command": cmd.String(), "error": "program not found"})
			return nil, &xec.AdapterUnavailableError{Adapter: xec.AdapterLocal, Reason: fmt.Sprintf("program %q not found", name)}
		}
		a.publish(xec.EventCommandError, xec.Fields{"command": cmd.String(), "error": startErr.Error()})
		return nil, &xec.ConnectionError{Cause: startErr}
	}
	if ptmx != nil {
		defer ptmx.Close()
	}

	a.publish(xec.EventCommandStart, xec.Fields{"command": cmd.String(), "cwd": cmd.Cwd})

	cancelCh := cmd.Cancel.Done()
	if cancelCh == nil {
		cancelCh = make(chan struct{}) // never fires
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Wait() }()

	var waitErr error
	select {
	case waitErr = <-runErr:
	case <-cancelCh:
		_ = sendSignal(c, cmd.EffectiveCancelSignal())
		select {
		case waitErr = <-runErr:
		case <-time.After(graceOrDefault(cmd.Grace)):
			_ = c.Process.Kill()
			waitErr = <-runErr
		}
	}

	result := &xec.ExecutionResult{
		Stdout:     stdoutSink.Bytes(),
		Stderr:     stderrSink.Bytes(),
		Duration:   time.Since(started),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Command:    cmd.String(),
		Adapter:    xec.AdapterLocal,
	}

	switch {
	case cmd.Cancel.IsCancelled():
		result.Cause = "cancelled"
		a.publish(xec.EventCommandError, xec.Fields{"command": cmd.String(), "error": "cancelled"})
		return result, &xec.CancellationError{Command: cmd.String(), Partial: result}
	case execCtx.Err() != nil && ctx.Err() == nil:
		result.Cause = "timeout"
		a.publish(xec.EventCommandError, xec.Fields{"command": cmd.String(), "error": "timeout"})
		return result, &xec.TimeoutError{Command: cmd.String(), Timeout: cmd.Timeout, Partial: result}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				result.Signal = status.Signal().String()
			}
		} else {
			a.publish(xec.EventCommandError, xec.Fields{"command": cmd.String(), "error": waitErr.Error()})
			return nil, &xec.ConnectionError{Cause: waitErr}
		}
	}

	if !result.Ok() {
		result.Cause = "exit"
	}

	a.publish(xec.EventCommandComplete, xec.Fields{
		"command":   cmd.String(),
		"exit_code": result.ExitCode,
		"duration":  result.Duration,
	})

	if !result.Ok() && !cmd.Nothrow {
		return result, &xec.CommandFailureError{Result: result}
	}
	return result, nil
}

func graceOrDefault(grace time.Duration) time.Duration {
	if grace <= 0 {
		return 5 * time.Second
	}
	return grace
}

// resolveProgram decides argv0/args for cmd: direct exec for Program/Args,
// or a resolved shell invocation for ShellLine. No temp file is created, so
// the returned cleanup is always nil.
func (a *Adapter) resolveProgram(cmd *xec.Command) (name string, args []string, cleanup func(), err error) {
	if !cmd.HasShellLine() {
		name, args = wrapForSandbox(cmd.Program, cmd.Args)
		return name, args, nil, nil
	}

	shell, shellArgs, err := a.resolveShell(cmd)
	if err != nil {
		return "", nil, nil, err
	}

	args = append(append([]string(nil), shellArgs...), cmd.ShellLine)
	name, args = wrapForSandbox(shell, args)
	return name, args, nil, nil
}

// wrapForSandbox re-addresses program/args through the host spawn command
// when the local adapter itself is running inside a Flatpak or Snap
// sandbox, so a "local" command still lands on the host rather than inside
// the sandbox's own mount/process namespace.
func wrapForSandbox(program string, args []string) (string, []string) {
	return wrapForSandboxType(platform.DetectSandbox(), program, args)
}

func wrapForSandboxType(st platform.SandboxType, program string, args []string) (string, []string) {
	if st == platform.SandboxNone {
		return program, args
	}
	hostArgs := append(append([]string(nil), platform.SpawnArgsFor(st)...), program)
	hostArgs = append(hostArgs, args...)
	return platform.SpawnCommandFor(st), hostArgs
}

func (a *Adapter) resolveShell(cmd *xec.Command) (string, []string, error) {
	shellPath := a.Shell
	if cmd.Shell == xec.ShellExplicit && cmd.ShellPath != "" {
		shellPath = cmd.ShellPath
	}

	if shellPath == "" {
		resolved, err := defaultShell()
		if err != nil {
			return "", nil, &xec.AdapterUnavailableError{Adapter: xec.AdapterLocal, Reason: err.Error()}
		}
		shellPath = resolved
	}

	args := a.ShellArgs
	if len(args) == 0 {
		args = shellArgsFor(shellPath)
	}
	return shellPath, args, nil
}

func defaultShell() (string, error) {
	if runtime.GOOS == platform.Windows {
		if p, err := exec.LookPath("pwsh"); err == nil {
			return p, nil
		}
		if p, err := exec.LookPath("powershell"); err == nil {
			return p, nil
		}
		return exec.LookPath("cmd")
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell, nil
	}
	if p, err := exec.LookPath("bash"); err == nil {
		return p, nil
	}
	if p, err := exec.LookPath("sh"); err == nil {
		return p, nil
	}
	return "", errors.New("no shell found")
}

func shellArgsFor(shell string) []string {
	base := strings.TrimSuffix(filepath.Base(shell), ".exe")
	switch base {
	case "cmd":
		return []string{"/C"}
	case "powershell", "pwsh":
		return []string{"-NoProfile", "-Command"}
	default:
		return []string{"-c"}
	}
}

// resolveEnv decides the child's environment. A nil cmd.Env means the
// caller never specified one: inherit the ambient (OS) environment
// unmodified (exec.Cmd treats a nil Env as "inherit"). A non-nil but empty
// cmd.Env yields a child with zero environment variables rather than a
// silently-inherited ambient one. A non-empty cmd.Env is overlaid on the
// ambient environment, so the child sees both.
func resolveEnv(cmd *xec.Command) []string {
	if cmd.Env == nil {
		return nil
	}
	if cmd.Env.Len() == 0 {
		return []string{}
	}
	base := xec.NewEnv()
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			base.Set(kv[:i], kv[i+1:])
		}
	}
	return xec.Merge(base, cmd.Env).ToSlice()
}

func wireStdio(c *exec.Cmd, cmd *xec.Command, stdoutSink, stderrSink *streamio.CaptureSink) error {
	switch cmd.StdoutMode {
	case xec.StdioInherit:
		c.Stdout = io.MultiWriter(os.Stdout, stdoutSink)
	case xec.StdioIgnore:
		c.Stdout = stdoutSink
	case xec.StdioSink:
		if cmd.StdoutSink == nil {
			return &xec.ValidationError{Reason: "StdoutMode is StdioSink but StdoutSink is nil"}
		}
		c.Stdout = io.MultiWriter(cmd.StdoutSink, stdoutSink)
	default: // xec.StdioPipe
		c.Stdout = stdoutSink
	}

	switch cmd.StderrMode {
	case xec.StdioInherit:
		c.Stderr = io.MultiWriter(os.Stderr, stderrSink)
	case xec.StdioIgnore:
		c.Stderr = stderrSink
	case xec.StdioSink:
		if cmd.StderrSink == nil {
			return &xec.ValidationError{Reason: "StderrMode is StdioSink but StderrSink is nil"}
		}
		c.Stderr = io.MultiWriter(cmd.StderrSink, stderrSink)
	default:
		c.Stderr = stderrSink
	}

	switch cmd.StdinMode {
	case xec.StdinBytes:
		c.Stdin = bytes.NewReader(cmd.StdinBytes)
	case xec.StdinStream:
		c.Stdin = cmd.StdinReader
	case xec.StdinInherit:
		c.Stdin = os.Stdin
	default: // xec.StdinNone
		c.Stdin = nil
	}
	return nil
}

var signalMu sync.Mutex

// sendSignal assumes a POSIX signal set; Windows child processes only
// support hard termination regardless of the name requested.
func sendSignal(c *exec.Cmd, name string) error {
	signalMu.Lock()
	defer signalMu.Unlock()
	if c.Process == nil {
		return nil
	}
	sig, ok := signalByName[name]
	if !ok {
		sig = syscall.SIGTERM
	}
	return c.Process.Signal(sig)
}

var signalByName = map[string]syscall.Signal{
	"SIGTERM": syscall.SIGTERM,
	"SIGKILL": syscall.SIGKILL,
	"SIGINT":  syscall.SIGINT,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
}

func (a *Adapter) publish(name xec.EventName, fields xec.Fields) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(xec.Event{Name: name, Timestamp: time.Now(), Adapter: xec.AdapterLocal, Fields: fields})
}
