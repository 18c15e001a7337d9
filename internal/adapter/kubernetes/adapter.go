// SPDX-License-Identifier: MPL-2.0

package kubernetes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/xecgo/xec/internal/adapter"
	"github.com/xecgo/xec/internal/eventbus"
	"github.com/xecgo/xec/internal/streamio"
	"github.com/xecgo/xec/pkg/xec"
)

// Adapter executes commands inside Kubernetes pods by shelling out to
// kubectl.
type Adapter struct {
	bus *eventbus.Bus

	// Binary overrides the kubectl executable name/path; defaults to
	// "kubectl" resolved via PATH.
	Binary string
}

// New constructs a Kubernetes Adapter. bus may be nil to disable event
// emission.
func New(bus *eventbus.Bus) *Adapter {
	return &Adapter{bus: bus, Binary: "kubectl"}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Kind returns xec.AdapterKubernetes.
func (a *Adapter) Kind() xec.AdapterKind { return xec.AdapterKubernetes }

// Capabilities reports Kubernetes's supported feature set.
func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Streaming: true, TTY: true, Transfer: true, PortForward: true}
}

// IsAvailable reports whether kubectl is resolvable on PATH.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(a.binary())
	return err == nil
}

// Dispose is a no-op: the Kubernetes adapter holds no resources between
// calls.
func (a *Adapter) Dispose(ctx context.Context) error { return nil }

func (a *Adapter) binary() string {
	if a.Binary != "" {
		return a.Binary
	}
	return "kubectl"
}

// Execute runs cmd inside the pod (or pod matched by selector) addressed by
// cmd.AdapterOptions.
func (a *Adapter) Execute(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error) {
	opts, ok := cmd.AdapterOptions.(xec.KubernetesOptions)
	if !ok {
		return nil, &xec.ValidationError{Reason: "kubernetes adapter requires xec.KubernetesOptions"}
	}
	if opts.Pod == "" && opts.Selector == "" {
		return nil, &xec.ValidationError{Reason: "KubernetesOptions requires Pod or Selector"}
	}

	command := commandFor(cmd)
	args := execArgs(opts, command, cmd.StdinMode != xec.StdinNone)

	started := time.Now()
	execCtx := ctx
	var cancelTimeout context.CancelFunc
	if cmd.Timeout > 0 {
		execCtx, cancelTimeout = context.WithTimeout(ctx, cmd.Timeout)
		defer cancelTimeout()
	}

	c := exec.CommandContext(execCtx, a.binary(), args...)
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

	line := a.binary() + " " + cmd.String()
	a.publish(xec.EventK8sExec, opts.Pod, xec.Fields{"command": line, "namespace": opts.EffectiveNamespace()})
	a.publish(xec.EventCommandStart, opts.Pod, xec.Fields{"command": line})

	cancelCh := cmd.Cancel.Done()
	if cancelCh == nil {
		cancelCh = make(chan struct{})
	}

	runErr := make(chan error, 1)
	if err := c.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &xec.AdapterUnavailableError{Adapter: xec.AdapterKubernetes, Reason: fmt.Sprintf("binary %q not found", a.binary())}
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
		Adapter:    xec.AdapterKubernetes,
		Pod:        opts.Pod,
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
			a.publish(xec.EventCommandError, opts.Pod, xec.Fields{"command": line, "error": waitErr.Error()})
			return nil, &xec.ConnectionError{Cause: waitErr}
		}
	}

	if !result.Ok() {
		result.Cause = "exit"
	}
	a.publish(xec.EventCommandComplete, opts.Pod, xec.Fields{"command": line, "exit_code": result.ExitCode, "duration": result.Duration})

	if !result.Ok() && !cmd.Nothrow {
		return result, &xec.CommandFailureError{Result: result}
	}
	return result, nil
}

// commandFor builds the argv kubectl exec runs inside the pod. cmd.Cwd and
// cmd.Env have no kubectl-level equivalent (exec has no --workdir or --env
// flag), so like the SSH adapter's buildRemoteCommandLine, a non-empty Cwd
// or a non-nil Env (even an empty one) forces the whole command through
// "sh -c", prefixed with a cd and
// inlined KEY=VALUE assignments.
func commandFor(cmd *xec.Command) []string {
	if cmd.Cwd == "" && cmd.Env == nil {
		if cmd.HasShellLine() {
			return []string{"sh", "-c", cmd.ShellLine}
		}
		return append([]string{cmd.Program}, cmd.Args...)
	}

	inner := cmd.ShellLine
	if !cmd.HasShellLine() {
		parts := append([]string{cmd.Program}, cmd.Args...)
		quoted := make([]string, len(parts))
		for i, p := range parts {
			quoted[i] = xec.Sh([]string{"", ""}, p)
		}
		inner = strings.Join(quoted, " ")
	}

	var b strings.Builder
	if cmd.Cwd != "" {
		fmt.Fprintf(&b, "cd %s && ", xec.Sh([]string{"", ""}, cmd.Cwd))
	}
	if cmd.Env != nil {
		for _, k := range cmd.Env.Keys() {
			v, _ := cmd.Env.Get(k)
			fmt.Fprintf(&b, "%s=%s ", k, xec.Sh([]string{"", ""}, v))
		}
	}
	b.WriteString(inner)
	return []string{"sh", "-c", b.String()}
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

// Logs returns a pod's log output, optionally tailed.
func (a *Adapter) Logs(ctx context.Context, opts xec.KubernetesOptions, tail int) ([]byte, error) {
	c := exec.CommandContext(ctx, a.binary(), logsArgs(opts, false, tail)...)
	var out, stderr bytes.Buffer
	c.Stdout = &out
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("kubectl logs: %w: %s", err, stderr.String())
	}
	return out.Bytes(), nil
}

// StreamLogs follows a pod's log output, invoking onLine for each line
// until ctx is cancelled or the stream ends.
func (a *Adapter) StreamLogs(ctx context.Context, opts xec.KubernetesOptions, onLine func(string)) error {
	c := exec.CommandContext(ctx, a.binary(), logsArgs(opts, true, 0)...)
	stdout, err := c.StdoutPipe()
	if err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, rerr := stdout.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				onLine(string(buf[:idx]))
				buf = buf[idx+1:]
			}
		}
		if rerr != nil {
			break
		}
	}
	return c.Wait()
}

// CopyTo copies a local file into the pod via "kubectl cp", emitting
// transfer:start/complete/error.
func (a *Adapter) CopyTo(ctx context.Context, opts xec.KubernetesOptions, localPath, podPath string) error {
	started := time.Now()
	a.publishTransfer(xec.EventTransferStart, "upload", localPath, podPath, nil)
	dst := opts.EffectiveNamespace() + "/" + opts.Pod + ":" + podPath
	c := exec.CommandContext(ctx, a.binary(), cpArgs(opts, localPath, dst)...)
	var stderr bytes.Buffer
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		werr := fmt.Errorf("kubectl cp: %w: %s", err, stderr.String())
		a.publishTransfer(xec.EventTransferError, "upload", localPath, podPath, xec.Fields{"error": werr.Error()})
		return &xec.TransferError{Direction: "upload", Source: localPath, Destination: podPath, Cause: werr}
	}
	a.publishTransfer(xec.EventTransferComplete, "upload", localPath, podPath, xec.Fields{"duration": time.Since(started)})
	return nil
}

// CopyFrom copies a file out of the pod via "kubectl cp".
func (a *Adapter) CopyFrom(ctx context.Context, opts xec.KubernetesOptions, podPath, localPath string) error {
	started := time.Now()
	a.publishTransfer(xec.EventTransferStart, "download", podPath, localPath, nil)
	src := opts.EffectiveNamespace() + "/" + opts.Pod + ":" + podPath
	c := exec.CommandContext(ctx, a.binary(), cpArgs(opts, src, localPath)...)
	var stderr bytes.Buffer
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		werr := fmt.Errorf("kubectl cp: %w: %s", err, stderr.String())
		a.publishTransfer(xec.EventTransferError, "download", podPath, localPath, xec.Fields{"error": werr.Error()})
		return &xec.TransferError{Direction: "download", Source: podPath, Destination: localPath, Cause: werr}
	}
	a.publishTransfer(xec.EventTransferComplete, "download", podPath, localPath, xec.Fields{"duration": time.Since(started)})
	return nil
}

func (a *Adapter) publish(name xec.EventName, pod string, fields xec.Fields) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(xec.Event{Name: name, Timestamp: time.Now(), Adapter: xec.AdapterKubernetes, Pod: pod, Fields: fields})
}

func (a *Adapter) publishTransfer(name xec.EventName, direction, source, destination string, extra xec.Fields) {
	if a.bus == nil {
		return
	}
	fields := xec.Fields{"direction": direction, "source": source, "destination": destination}
	for k, v := range extra {
		fields[k] = v
	}
	a.bus.Publish(xec.Event{Name: name, Timestamp: time.Now(), Adapter: xec.AdapterKubernetes, Fields: fields})
}
