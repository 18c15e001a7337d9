// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/xecgo/xec/internal/adapter"
	"github.com/xecgo/xec/pkg/xec"
)

// promiseState is a ProcessPromise's lifecycle position. It only ever moves
// forward: configuring -> spawned -> one terminal state.
type promiseState int32

const (
	stateConfiguring promiseState = iota
	stateSpawned
	stateSucceeded
	stateFailed
	stateCancelled
	stateTimedOut
)

// ProcessPromise binds one Command to its eventual ExecutionResult. Before
// Go/Spawn it is "configuring": the Cwd/Env/Timeout/... mutators edit the
// underlying Command. Once spawned, mutators are rejected and Kill becomes
// legal. Stdin, Pipe, and the output decoders all block the caller on this
// promise's own settlement; they never block a sibling promise sharing the
// same engine.
type ProcessPromise struct {
	e   *Engine
	cmd *xec.Command

	mu    sync.Mutex
	state promiseState

	adapter     adapter.Adapter
	resolvedCmd *xec.Command

	done   chan struct{}
	result *xec.ExecutionResult
	err    error

	// mutateErr records a rejected post-spawn mutator call, surfaced by
	// Wait ahead of whatever the command itself settled with: a caller
	// that mutated too late gets told so even if the stale command
	// happened to succeed.
	mutateErr error

	stdin *stdinHandle
}

// newProcessPromise creates a promise in the configuring state around cmd.
// cmd is not copied here; mutators edit it in place until spawn, at which
// point resolve() takes its own copy.
func newProcessPromise(e *Engine, cmd *xec.Command) *ProcessPromise {
	return &ProcessPromise{e: e, cmd: cmd, done: make(chan struct{})}
}

// newSettledPromise returns a promise that is already terminal, for
// resolution failures (validation, unknown adapter, Pipe target errors)
// that never reach a real spawn.
func newSettledPromise(result *xec.ExecutionResult, err error) *ProcessPromise {
	p := &ProcessPromise{done: make(chan struct{})}
	p.result, p.err = result, err
	if err != nil {
		p.state = stateFailed
	} else {
		p.state = stateSucceeded
	}
	close(p.done)
	return p
}

// Command builds a configuring-state ProcessPromise around cmd without
// spawning it; call Go (or a decoder/Wait, which spawns implicitly) to
// start execution. Use this when chaining pre-spawn mutators.
func (e *Engine) Command(cmd *xec.Command) *ProcessPromise {
	return newProcessPromise(e, cmd)
}

// start resolves cmd against the engine's context frame and launches
// execution in the background exactly once; subsequent calls are no-ops.
func (p *ProcessPromise) start(ctx context.Context) *ProcessPromise {
	p.mu.Lock()
	if p.state != stateConfiguring {
		p.mu.Unlock()
		return p
	}
	p.state = stateSpawned
	p.mu.Unlock()

	resolved, a, err := p.e.resolve(p.cmd)
	if err != nil {
		p.settle(nil, err)
		return p
	}
	p.mu.Lock()
	p.resolvedCmd = resolved
	p.adapter = a
	if p.stdin != nil {
		resolved.StdinMode = xec.StdinStream
		resolved.StdinReader = p.stdin.startStreaming()
	}
	p.mu.Unlock()

	go func() {
		result, err := p.e.dispatch(ctx, resolved, a)
		p.settle(result, err)
	}()
	return p
}

func (p *ProcessPromise) settle(result *xec.ExecutionResult, err error) {
	p.mu.Lock()
	p.result, p.err = result, err
	switch {
	case err == nil:
		p.state = stateSucceeded
	case isErrorOf[*xec.CancellationError](err):
		p.state = stateCancelled
	case isErrorOf[*xec.TimeoutError](err):
		p.state = stateTimedOut
	default:
		p.state = stateFailed
	}
	p.mu.Unlock()
	close(p.done)
}

func isErrorOf[E error](err error) bool {
	var target E
	return asError(err, &target)
}

func asError[E error](err error, target *E) bool {
	for err != nil {
		if e, ok := err.(E); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// mutate applies fn to the underlying Command if this promise is still
// configuring; once spawned, mutators are rejected and recorded as a
// ValidationError surfaced on the next Wait/decoder call.
func (p *ProcessPromise) mutate(fn func(*xec.Command)) *ProcessPromise {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateConfiguring {
		p.mutateErr = &xec.ValidationError{Reason: "cannot mutate a ProcessPromise after it has spawned"}
		return p
	}
	fn(p.cmd)
	return p
}

// Cwd sets the command's working directory. Legal only while configuring.
func (p *ProcessPromise) Cwd(dir string) *ProcessPromise {
	return p.mutate(func(c *xec.Command) { c.Cwd = dir })
}

// Env sets the command's environment. Legal only while configuring.
func (p *ProcessPromise) Env(env *xec.Env) *ProcessPromise {
	return p.mutate(func(c *xec.Command) { c.Env = env })
}

// Timeout sets the command's timeout. Legal only while configuring.
func (p *ProcessPromise) Timeout(d time.Duration) *ProcessPromise {
	return p.mutate(func(c *xec.Command) { c.Timeout = d })
}

// Signal sets the signal sent on timeout (or plain Cancel). Legal only
// while configuring.
func (p *ProcessPromise) Signal(name string) *ProcessPromise {
	return p.mutate(func(c *xec.Command) { c.TimeoutSignal = name })
}

// Quiet suppresses progress reporting for this command. Legal only while
// configuring.
func (p *ProcessPromise) Quiet(quiet bool) *ProcessPromise {
	return p.mutate(func(c *xec.Command) { c.Quiet = quiet })
}

// Nothrow makes a non-zero exit settle as a result rather than an error.
// Legal only while configuring.
func (p *ProcessPromise) Nothrow(nothrow bool) *ProcessPromise {
	return p.mutate(func(c *xec.Command) { c.Nothrow = nothrow })
}

// Interactive requests a TTY and inherited stdio where the adapter supports
// it. Legal only while configuring.
func (p *ProcessPromise) Interactive(interactive bool) *ProcessPromise {
	return p.mutate(func(c *xec.Command) {
		c.Interactive = interactive
		if interactive {
			c.StdinMode, c.StdoutMode, c.StderrMode = xec.StdinInherit, xec.StdioInherit, xec.StdioInherit
		}
	})
}

// Retry attaches a retry policy. Legal only while configuring.
func (p *ProcessPromise) Retry(policy *xec.RetryPolicy) *ProcessPromise {
	return p.mutate(func(c *xec.Command) { c.Retry = policy })
}

// Cache attaches a cache policy. Legal only while configuring.
func (p *ProcessPromise) Cache(policy *xec.CachePolicy) *ProcessPromise {
	return p.mutate(func(c *xec.Command) { c.Cache = policy })
}

// Stdout sets an external sink for standard output, in addition to the
// internal capture buffer decoders read from. Legal only while configuring.
func (p *ProcessPromise) Stdout(sink io.Writer) *ProcessPromise {
	return p.mutate(func(c *xec.Command) { c.StdoutMode, c.StdoutSink = xec.StdioSink, sink })
}

// Stderr sets an external sink for standard error. Legal only while
// configuring.
func (p *ProcessPromise) Stderr(sink io.Writer) *ProcessPromise {
	return p.mutate(func(c *xec.Command) { c.StderrMode, c.StderrSink = xec.StdioSink, sink })
}

// Stdin returns a writable handle for this command's standard input.
// Writes issued before spawn are buffered and flushed once the child
// starts reading; writes after settlement return an error. Calling Stdin
// switches the command to streamed stdin (xec.StdinStream) regardless of
// any StdinBytes previously set.
func (p *ProcessPromise) Stdin() io.WriteCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		p.stdin = newStdinHandle()
	}
	return p.stdin
}

func (p *ProcessPromise) setStdinBytes(data []byte) {
	p.mutate(func(c *xec.Command) {
		c.StdinMode = xec.StdinBytes
		c.StdinBytes = data
	})
}

// Go spawns a configuring-state promise (a no-op once already spawned) and
// returns p for chaining.
func (p *ProcessPromise) Go(ctx context.Context) *ProcessPromise {
	return p.start(ctx)
}

// Kill sends signal to the running process. Legal only once spawned; a
// call before spawn or after settlement is a no-op.
func (p *ProcessPromise) Kill(signal string) {
	p.mu.Lock()
	resolved := p.resolvedCmd
	state := p.state
	p.mu.Unlock()
	if state != stateSpawned || resolved == nil {
		return
	}
	resolved.Cancel.CancelWithSignal(signal)
}

// Wait blocks until the promise settles (spawning it first if it is still
// configuring) and returns the result. A settled error is still returned
// alongside any partial result the error type carries.
func (p *ProcessPromise) Wait(ctx context.Context) (*xec.ExecutionResult, error) {
	p.start(ctx)
	select {
	case <-p.done:
		p.mu.Lock()
		result, err, mutateErr := p.result, p.err, p.mutateErr
		p.mu.Unlock()
		if mutateErr != nil {
			return result, mutateErr
		}
		return result, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Text awaits settlement and returns stdout decoded as UTF-8 text. When
// settlement produced an error, the captured stdout (if any) is returned
// together with that error, so a CommandFailureError from a non-zero exit
// without Nothrow is surfaced, not ignored.
func (p *ProcessPromise) Text(ctx context.Context) (string, error) {
	result, err := p.waitForDecode(ctx)
	if result == nil {
		return "", err
	}
	return result.StdoutText(), err
}

// Bytes awaits settlement and returns raw stdout.
func (p *ProcessPromise) Bytes(ctx context.Context) ([]byte, error) {
	result, err := p.waitForDecode(ctx)
	if result == nil {
		return nil, err
	}
	return result.Stdout, err
}

// Lines awaits settlement and splits stdout into lines, trailing newline
// dropped. A scan failure raises a DecoderError distinct from a command
// failure, which is still returned alongside it.
func (p *ProcessPromise) Lines(ctx context.Context) ([]string, error) {
	result, waitErr := p.waitForDecode(ctx)
	if result == nil {
		return nil, waitErr
	}
	scanner := bufio.NewScanner(bytes.NewReader(result.Stdout))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, &xec.DecoderError{Decoder: "lines", Raw: result.Stdout, Cause: err}
	}
	return lines, waitErr
}

// JSON awaits settlement and unmarshals stdout into v. A malformed payload
// raises a DecoderError distinct from a command failure, which is still
// returned alongside it.
func (p *ProcessPromise) JSON(ctx context.Context, v any) error {
	result, waitErr := p.waitForDecode(ctx)
	if result == nil {
		return waitErr
	}
	if err := json.Unmarshal(result.Stdout, v); err != nil {
		return &xec.DecoderError{Decoder: "json", Raw: result.Stdout, Cause: err}
	}
	return waitErr
}

// waitForDecode awaits settlement and returns (result, error) such that a
// nil result only happens when the command never produced one at all
// (resolution failure); a CommandFailureError on an otherwise-populated
// result still returns that result alongside the error, so decoders can
// read whatever stdout the process produced before failing.
func (p *ProcessPromise) waitForDecode(ctx context.Context) (*xec.ExecutionResult, error) {
	result, err := p.Wait(ctx)
	if result != nil {
		return result, err
	}
	return nil, err
}

// Pipe connects this promise's stdout to target: another *ProcessPromise
// (its stdin), an io.Writer (a byte sink), a Template (constructs a new
// command from this stage's stdout), or the name of a template registered
// via Engine.RegisterTemplate. The returned promise is the pipeline's
// terminal result: piping into a process or template returns that new
// promise; piping into a sink returns p itself, since a sink is not a
// process.
func (p *ProcessPromise) Pipe(ctx context.Context, target any) *ProcessPromise {
	switch t := target.(type) {
	case *ProcessPromise:
		return p.pipeToPromise(ctx, t)
	case Template:
		return p.pipeToTemplate(ctx, t)
	case string:
		tmpl, ok := p.e.Template(t)
		if !ok {
			return newSettledPromise(nil, fmt.Errorf("engine: no template registered as %q", t))
		}
		return p.pipeToTemplate(ctx, tmpl)
	case io.Writer:
		return p.pipeToSink(ctx, t)
	default:
		return newSettledPromise(nil, fmt.Errorf("engine: Pipe target must be *ProcessPromise, Template, a registered template name, or io.Writer"))
	}
}

func (p *ProcessPromise) pipeToSink(ctx context.Context, w io.Writer) *ProcessPromise {
	result, err := p.Wait(ctx)
	if result != nil {
		if _, werr := w.Write(result.Stdout); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}
	return p
}

func (p *ProcessPromise) pipeToPromise(ctx context.Context, target *ProcessPromise) *ProcessPromise {
	result, err := p.Wait(ctx)
	if result == nil {
		return newSettledPromise(nil, err)
	}
	target.setStdinBytes(result.Stdout)
	return target.start(ctx)
}

func (p *ProcessPromise) pipeToTemplate(ctx context.Context, tmpl Template) *ProcessPromise {
	result, err := p.Wait(ctx)
	if result == nil {
		return newSettledPromise(nil, err)
	}
	return p.e.Spawn(ctx, tmpl(result.Stdout))
}

// stdinHandle buffers writes issued before spawn and, once the command
// spawns, flushes them into a pipe before forwarding any further write
// directly to it. flushDone gates writes/Close issued after streaming
// starts so they never race the background flush of the pre-spawn buffer.
type stdinHandle struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	streaming bool
	closed    bool
	pw        *io.PipeWriter
	flushDone chan struct{}
}

func newStdinHandle() *stdinHandle {
	return &stdinHandle{}
}

// startStreaming switches the handle to streaming mode and returns a reader
// for the adapter to consume as Command.StdinReader. Any bytes buffered
// before this call are flushed into the pipe on a background goroutine,
// ahead of any write issued after this call returns.
func (h *stdinHandle) startStreaming() io.Reader {
	h.mu.Lock()
	pr, pw := io.Pipe()
	h.pw = pw
	h.streaming = true
	buffered := append([]byte(nil), h.buf.Bytes()...)
	h.buf.Reset()
	flushDone := make(chan struct{})
	h.flushDone = flushDone
	closedAlready := h.closed
	h.mu.Unlock()

	go func() {
		if len(buffered) > 0 {
			_, _ = pw.Write(buffered)
		}
		close(flushDone)
		if closedAlready {
			_ = pw.Close()
		}
	}()
	return pr
}

func (h *stdinHandle) Write(b []byte) (int, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, fmt.Errorf("engine: write to stdin after close")
	}
	if !h.streaming {
		n, err := h.buf.Write(b)
		h.mu.Unlock()
		return n, err
	}
	flushDone, pw := h.flushDone, h.pw
	h.mu.Unlock()
	<-flushDone
	return pw.Write(b)
}

func (h *stdinHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	if !h.streaming {
		h.mu.Unlock()
		return nil
	}
	flushDone, pw := h.flushDone, h.pw
	h.mu.Unlock()
	<-flushDone
	return pw.Close()
}
