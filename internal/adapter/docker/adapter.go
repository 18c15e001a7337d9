// SPDX-License-Identifier: MPL-2.0

package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/xecgo/xec/internal/adapter"
	"github.com/xecgo/xec/internal/eventbus"
	"github.com/xecgo/xec/internal/streamio"
	"github.com/xecgo/xec/pkg/xec"
)

// Adapter executes commands against Docker (or Podman) containers by
// shelling out to the resolved CLI binary.
type Adapter struct {
	bus *eventbus.Bus
}

// New constructs a Docker Adapter. bus may be nil to disable event emission.
func New(bus *eventbus.Bus) *Adapter {
	return &Adapter{bus: bus}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Kind returns xec.AdapterDocker.
func (a *Adapter) Kind() xec.AdapterKind { return xec.AdapterDocker }

// Capabilities reports Docker's supported feature set.
func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Streaming: true, TTY: true, Transfer: true, Health: true}
}

// IsAvailable reports whether a CLI binary (docker or podman) is resolvable
// on PATH.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err == nil {
		return true
	}
	_, err := exec.LookPath("podman")
	return err == nil
}

// Dispose is a no-op: the Docker adapter holds no resources between calls.
func (a *Adapter) Dispose(ctx context.Context) error { return nil }

// Execute runs cmd inside an existing container (opts.Container set) or an
// ephemeral one created for the duration of the call (opts.Image set).
func (a *Adapter) Execute(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error) {
	opts, ok := cmd.AdapterOptions.(xec.DockerOptions)
	if !ok {
		return nil, &xec.ValidationError{Reason: "docker adapter requires xec.DockerOptions"}
	}

	binary := resolveBinary(opts)
	command := commandFor(cmd)

	env := mergedEnv(opts.Env, cmd.Env)

	var args []string
	var eventName xec.EventName
	switch {
	case opts.Container != "":
		args = execArgs(opts, env, command, cmd.StdinMode != xec.StdinNone)
		eventName = xec.EventDockerExec
	case opts.Image != "":
		args = runArgs(opts, env, command)
		eventName = xec.EventDockerRun
	default:
		return nil, &xec.ValidationError{Reason: "DockerOptions requires Container or Image"}
	}

	started := time.Now()

	execCtx := ctx
	var cancelTimeout context.CancelFunc
	if cmd.Timeout > 0 {
		execCtx, cancelTimeout = context.WithTimeout(ctx, cmd.Timeout)
		defer cancelTimeout()
	}

	c := exec.CommandContext(execCtx, binary, args...)

	stdoutSink := streamio.NewCaptureSink()
	stderrSink := streamio.NewCaptureSink()
	c.Stdout = stdoutSink
	c.Stderr = stderrSink

	switch cmd.StdinMode {
	case xec.StdinBytes:
		c.Stdin = bytes.NewReader(cmd.StdinBytes)
	case xec.StdinStream:
		c.Stdin = cmd.StdinReader
	case xec.StdinInherit:
		c.Stdin = os.Stdin
	}

	line := binary + " " + cmd.String()
	a.publish(eventName, opts.Container, xec.Fields{"command": line, "image": opts.Image, "container": opts.Container})
	a.publish(xec.EventCommandStart, opts.Container, xec.Fields{"command": line})

	cancelCh := cmd.Cancel.Done()
	if cancelCh == nil {
		cancelCh = make(chan struct{})
	}

	runErr := make(chan error, 1)
	if err := c.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &xec.AdapterUnavailableError{Adapter: xec.AdapterDocker, Reason: fmt.Sprintf("binary %q not found", binary)}
		}
		return nil, &xec.ConnectionError{Cause: err}
	}
	go func() { runErr <- c.Wait() }()

	var waitErr error
	select {
	case waitErr = <-runErr:
	case <-cancelCh:
		_ = c.Process.Signal(signalByName(cmd.EffectiveCancelSignal()))
		select {
		case waitErr = <-runErr:
		case <-time.After(5 * time.Second):
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
		Command:    line,
		Adapter:    xec.AdapterDocker,
		Container:  opts.Container,
	}

	switch {
	case cmd.Cancel.IsCancelled():
		result.Cause = "cancelled"
		return result, &xec.CancellationError{Command: line, Partial: result}
	case execCtx.Err() != nil && ctx.Err() == nil:
		result.Cause = "timeout"
		return result, &xec.TimeoutError{Command: line, Timeout: cmd.Timeout, Partial: result}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			a.publish(xec.EventCommandError, opts.Container, xec.Fields{"command": line, "error": waitErr.Error()})
			return nil, &xec.ConnectionError{Cause: waitErr}
		}
	}

	if !result.Ok() {
		result.Cause = "exit"
	}
	a.publish(xec.EventCommandComplete, opts.Container, xec.Fields{"command": line, "exit_code": result.ExitCode, "duration": result.Duration})

	if !result.Ok() && !cmd.Nothrow {
		return result, &xec.CommandFailureError{Result: result}
	}
	return result, nil
}

// signalByName maps a POSIX signal name to syscall.Signal, defaulting to
// SIGTERM for an unrecognized or empty name.
func signalByName(name string) syscall.Signal {
	switch name {
	case "SIGKILL":
		return syscall.SIGKILL
	case "SIGINT":
		return syscall.SIGINT
	case "SIGHUP":
		return syscall.SIGHUP
	case "SIGQUIT":
		return syscall.SIGQUIT
	default:
		return syscall.SIGTERM
	}
}

func commandFor(cmd *xec.Command) []string {
	if cmd.HasShellLine() {
		return []string{"sh", "-c", cmd.ShellLine}
	}
	return append([]string{cmd.Program}, cmd.Args...)
}

func (a *Adapter) publish(name xec.EventName, container string, fields xec.Fields) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(xec.Event{Name: name, Timestamp: time.Now(), Adapter: xec.AdapterDocker, Container: container, Fields: fields})
}
