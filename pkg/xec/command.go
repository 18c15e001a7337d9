// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"io"
	"strings"
	"sync"
	"time"
)

type (
	// ShellMode controls whether and how a Command's ShellLine is interpreted.
	ShellMode string

	// AdapterKind selects which backend executes a Command.
	AdapterKind string

	// StdinMode selects how a Command's standard input is sourced.
	StdinMode int

	// StdioMode selects how a Command's stdout/stderr is handled.
	StdioMode int
)

const (
	// ShellOff means Program/Args are exec'd directly, no shell involved.
	ShellOff ShellMode = "off"
	// ShellDefault means the platform default shell interprets ShellLine.
	ShellDefault ShellMode = "default"
	// ShellExplicit means the interpreter named by Command.ShellPath runs
	// ShellLine; with an empty ShellPath the adapter's own shell is used.
	ShellExplicit ShellMode = "explicit"

	// AdapterAuto defers to autodetection (mock if configured, else local).
	AdapterAuto AdapterKind = "auto"
	// AdapterLocal spawns a local child process.
	AdapterLocal AdapterKind = "local"
	// AdapterSSH executes over an SSH connection.
	AdapterSSH AdapterKind = "ssh"
	// AdapterDocker executes in/creates a Docker (or Docker-compatible) container.
	AdapterDocker AdapterKind = "docker"
	// AdapterKubernetes execs in a pod via kubectl.
	AdapterKubernetes AdapterKind = "kubernetes"
	// AdapterRemoteDocker composes an SSH tunnel with the Docker adapter.
	AdapterRemoteDocker AdapterKind = "remote-docker"
	// AdapterMock is a test double adapter, only selected when configured.
	AdapterMock AdapterKind = "mock"
)

const (
	// StdinNone, the zero value, means the child receives no stdin (closed
	// immediately).
	StdinNone StdinMode = iota
	// StdinBytes means Command.StdinBytes is written then closed.
	StdinBytes
	// StdinStream means Command.StdinReader is streamed until EOF.
	StdinStream
	// StdinInherit means the child inherits the caller's stdin.
	StdinInherit
)

const (
	// StdioPipe, the zero value, captures output into an in-memory/streamed
	// buffer.
	StdioPipe StdioMode = iota
	// StdioIgnore discards output.
	StdioIgnore
	// StdioInherit passes through to the caller's stdio.
	StdioInherit
	// StdioSink writes to an externally supplied io.Writer.
	StdioSink
)

// Env is an ordered-insertion, duplicate-forbidding string map. Iteration
// order is insertion order; Set overwrites an existing key in place without
// reordering it.
type Env struct {
	keys   []string
	values map[string]string
}

// NewEnv creates an empty Env.
func NewEnv() *Env {
	return &Env{values: make(map[string]string)}
}

// Set assigns a key, appending it to the iteration order on first use.
func (e *Env) Set(key, value string) {
	if e.values == nil {
		e.values = make(map[string]string)
	}
	if _, exists := e.values[key]; !exists {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Get returns the value for key and whether it was set.
func (e *Env) Get(key string) (string, bool) {
	if e == nil || e.values == nil {
		return "", false
	}
	v, ok := e.values[key]
	return v, ok
}

// Len returns the number of entries.
func (e *Env) Len() int {
	if e == nil {
		return 0
	}
	return len(e.keys)
}

// Keys returns the keys in insertion order.
func (e *Env) Keys() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// ToSlice renders the Env as "KEY=VALUE" pairs in insertion order, suitable
// for exec.Cmd.Env or an SSH inline env prefix.
func (e *Env) ToSlice() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.keys))
	for _, k := range e.keys {
		out = append(out, k+"="+e.values[k])
	}
	return out
}

// Merge returns a new Env with base's entries overlaid by overlay's (overlay
// wins on key collision; overlay-only keys are appended after base's, in
// overlay's insertion order).
func Merge(base, overlay *Env) *Env {
	out := NewEnv()
	for _, k := range base.Keys() {
		v, _ := base.Get(k)
		out.Set(k, v)
	}
	for _, k := range overlay.Keys() {
		v, _ := overlay.Get(k)
		out.Set(k, v)
	}
	return out
}

// Progress configures periodic progress reporting for a long-running command.
type Progress struct {
	Enabled      bool
	Interval     time.Duration
	ReportLines  bool
	OnProgress   func(elapsed time.Duration, lastLine string)
}

// Command is the input to the execution engine: a fully-resolved description
// of what to run, where, and under what policy. Command values are immutable
// once handed to the engine; build a new one (or use the ProcessPromise
// pre-spawn mutators) rather than mutating a Command in flight.
type Command struct {
	// Program/Args is the argv form. Mutually exclusive with ShellLine.
	Program string
	Args    []string

	// ShellLine is a single string interpreted by Shell. Mutually exclusive
	// with Program/Args.
	ShellLine string

	// Shell is ShellOff, ShellDefault or ShellExplicit.
	Shell ShellMode
	// ShellPath is the interpreter binary used when Shell is ShellExplicit.
	ShellPath string

	Cwd string
	Env *Env

	StdinMode   StdinMode
	StdinBytes  []byte
	StdinReader io.Reader

	StdoutMode StdioMode
	StdoutSink io.Writer
	StderrMode StdioMode
	StderrSink io.Writer

	Timeout       time.Duration // 0 means none; negative is invalid.
	TimeoutSignal string        // POSIX signal name, default "SIGTERM"
	Grace         time.Duration // extra time after TimeoutSignal before SIGKILL

	Cancel *CancelHandle

	Nothrow     bool
	Quiet       bool
	Interactive bool

	Retry *RetryPolicy
	Cache *CachePolicy

	Adapter        AdapterKind
	AdapterOptions AdapterOptions

	Progress *Progress
}

// AdapterOptions is a discriminated union over the per-adapter addressing
// structs (SSHOptions, DockerOptions, KubernetesOptions, RemoteDockerOptions).
// It exists purely so Command carries one field regardless of adapter; the
// concrete type is recovered with a type switch in the engine's dispatcher.
type AdapterOptions interface {
	adapterOptions()
}

// HasShellLine reports whether the command was built from a shell line
// rather than Program/Args.
func (c *Command) HasShellLine() bool {
	return strings.TrimSpace(c.ShellLine) != "" && c.Program == ""
}

// Validate checks structural invariants that do not depend on an adapter:
// exactly one of Program/Args or ShellLine, a non-negative timeout, and
// (if set) a non-empty TimeoutSignal.
func (c *Command) Validate() error {
	hasArgv := c.Program != ""
	hasShellLine := strings.TrimSpace(c.ShellLine) != ""
	if hasArgv == hasShellLine {
		return &ValidationError{Reason: "exactly one of Program or ShellLine must be set"}
	}
	if c.Timeout < 0 {
		return &ValidationError{Reason: "timeout must be >= 0 (0 means no timeout)"}
	}
	return nil
}

// EffectiveTimeoutSignal returns TimeoutSignal or the "SIGTERM" default.
func (c *Command) EffectiveTimeoutSignal() string {
	if c.TimeoutSignal == "" {
		return "SIGTERM"
	}
	return c.TimeoutSignal
}

// EffectiveCancelSignal returns the signal an adapter should send when
// c.Cancel fires: the signal recorded by CancelHandle.CancelWithSignal if
// one was given (a ProcessPromise.Kill(signal) call), else
// EffectiveTimeoutSignal.
func (c *Command) EffectiveCancelSignal() string {
	if sig := c.Cancel.Signal(); sig != "" {
		return sig
	}
	return c.EffectiveTimeoutSignal()
}

// String renders a best-effort shell-like representation of the command, for
// logging and ExecutionResult.Command.
func (c *Command) String() string {
	if c.HasShellLine() {
		return c.ShellLine
	}
	parts := append([]string{c.Program}, c.Args...)
	return strings.Join(parts, " ")
}

// CancelHandle is an opaque, shareable cancellation token. Cancel is
// idempotent; Done closes once Cancel is first called. A nil *CancelHandle
// behaves as "never cancelled".
type CancelHandle struct {
	once sync.Once
	done chan struct{}

	sigMu sync.Mutex
	sig   string // overrides Command.EffectiveTimeoutSignal() when set
}

// NewCancelHandle creates a handle in the not-cancelled state.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{done: make(chan struct{})}
}

// Cancel marks the handle cancelled. Safe to call more than once or
// concurrently from multiple goroutines racing to cancel.
func (h *CancelHandle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.done) })
}

// Done returns a channel closed when Cancel has been called.
func (h *CancelHandle) Done() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.done
}

// IsCancelled reports whether Cancel has been called.
func (h *CancelHandle) IsCancelled() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// CancelWithSignal records signal as the preferred termination signal and
// cancels the handle. A ProcessPromise.Kill(signal) call uses this instead
// of plain Cancel so adapters honor the caller's chosen signal rather than
// the Command's default TimeoutSignal.
func (h *CancelHandle) CancelWithSignal(signal string) {
	if h == nil {
		return
	}
	h.sigMu.Lock()
	h.sig = signal
	h.sigMu.Unlock()
	h.Cancel()
}

// Signal returns the signal recorded by CancelWithSignal, or "" if none was
// set (plain Cancel was called, or the handle was never cancelled).
func (h *CancelHandle) Signal() string {
	if h == nil {
		return ""
	}
	h.sigMu.Lock()
	defer h.sigMu.Unlock()
	return h.sig
}
