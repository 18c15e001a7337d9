// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/xecgo/xec/internal/adapter"
	"github.com/xecgo/xec/internal/eventbus"
	"github.com/xecgo/xec/internal/retryx"
	"github.com/xecgo/xec/internal/streamio"
	"github.com/xecgo/xec/pkg/xec"
)

// Adapter executes commands on remote hosts over SSH, pooling connections
// per PoolKey.
type Adapter struct {
	bus  *eventbus.Bus
	pool *Pool

	ReconnectPolicy *xec.RetryPolicy
}

// New constructs an SSH Adapter backed by its own connection pool.
func New(bus *eventbus.Bus) *Adapter {
	return &Adapter{
		bus:  bus,
		pool: NewPool(bus),
		ReconnectPolicy: &xec.RetryPolicy{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Backoff:      xec.BackoffExponential,
		},
	}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Kind returns xec.AdapterSSH.
func (a *Adapter) Kind() xec.AdapterKind { return xec.AdapterSSH }

// Capabilities reports SSH's supported feature set.
func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Streaming: true, TTY: true, Transfer: true, Tunnel: true, Health: true}
}

// IsAvailable always reports true: the adapter has no fixed address to
// probe, since host and port arrive with each Command's options. Connection
// failures surface from Execute instead.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return true // address is only known per-Command; see Execute for the real check.
}

// Dispose closes every pooled connection.
func (a *Adapter) Dispose(ctx context.Context) error {
	a.pool.CloseAll()
	return nil
}

// Pool returns the adapter's connection pool, so callers (the engine's
// configuration layer) can tune MaxPerHost/MaxTotal/MaxIdle/
// KeepaliveInterval/AcquireTimeout before any connection is opened.
func (a *Adapter) Pool() *Pool { return a.pool }

// Execute runs cmd on the host addressed by cmd.AdapterOptions (an
// xec.SSHOptions), acquiring a pooled connection, opening a session, and
// piping stdio.
func (a *Adapter) Execute(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error) {
	opts, ok := cmd.AdapterOptions.(xec.SSHOptions)
	if !ok {
		return nil, &xec.ValidationError{Reason: "ssh adapter requires xec.SSHOptions"}
	}

	started := time.Now()
	key := KeyFor(opts)

	// a.bus is a concrete *eventbus.Bus that may be nil; pass it through the
	// retryx.Publisher interface only when non-nil; a nil *eventbus.Bus
	// wrapped in a non-nil interface value would defeat retryx's own
	// nil-bus guard.
	var pub retryx.Publisher
	if a.bus != nil {
		pub = a.bus
	}
	c, err := retryx.Do(ctx, pub, xec.AdapterSSH, a.ReconnectPolicy, func(attempt int) (*conn, error) {
		if attempt > 1 {
			a.publish(xec.EventSSHReconnect, opts.Host, xec.Fields{"host": opts.Host, "attempts": attempt})
		}
		return a.pool.Acquire(ctx, key, func(ctx context.Context) (*xssh.Client, error) {
			return dialFunc(ctx, opts)
		})
	})
	if err != nil {
		return nil, err
	}

	healthy := true
	defer func() { a.pool.Release(c, healthy) }()

	a.publish(xec.EventSSHConnect, opts.Host, xec.Fields{"host": opts.Host, "port": opts.EffectivePort(), "username": opts.Username})

	session, err := c.client.NewSession()
	if err != nil {
		healthy = false
		return nil, &xec.ConnectionError{Host: opts.Host, Cause: err}
	}
	defer session.Close()

	line := buildRemoteCommandLine(cmd, opts)
	a.publish(xec.EventSSHExecute, opts.Host, xec.Fields{"host": opts.Host, "command": line})

	stdoutSink := streamio.NewCaptureSink()
	stderrSink := streamio.NewCaptureSink()
	session.Stdout = stdoutSink
	session.Stderr = stderrSink

	switch cmd.StdinMode {
	case xec.StdinBytes:
		session.Stdin = bytes.NewReader(cmd.StdinBytes)
	case xec.StdinStream:
		session.Stdin = cmd.StdinReader
	case xec.StdinInherit:
		session.Stdin = os.Stdin
	}

	if cmd.Interactive {
		if err := session.RequestPty("xterm", 80, 40, xssh.TerminalModes{}); err != nil {
			healthy = false
			return nil, &xec.ConnectionError{Host: opts.Host, Cause: fmt.Errorf("request pty: %w", err)}
		}
	}

	a.publish(xec.EventCommandStart, opts.Host, xec.Fields{"command": line})

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(line) }()

	var waitErr error
	cancelCh := cmd.Cancel.Done()
	if cancelCh == nil {
		cancelCh = make(chan struct{})
	}
	select {
	case waitErr = <-runErr:
	case <-ctx.Done():
		_ = session.Signal(xssh.SIGTERM)
		waitErr = <-runErr
	case <-cancelCh:
		_ = session.Signal(sshSignal(cmd.EffectiveCancelSignal()))
		waitErr = <-runErr
	}

	result := &xec.ExecutionResult{
		Stdout:     stdoutSink.Bytes(),
		Stderr:     stderrSink.Bytes(),
		Duration:   time.Since(started),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Command:    line,
		Adapter:    xec.AdapterSSH,
		Host:       opts.Host,
	}

	if cmd.Cancel.IsCancelled() {
		result.Cause = "cancelled"
		return result, &xec.CancellationError{Command: line, Partial: result}
	}

	if waitErr != nil {
		var exitErr *xssh.ExitError
		if isExitError(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			if exitErr.Signal() != "" {
				result.Signal = exitErr.Signal()
			}
		} else {
			healthy = false
			a.publish(xec.EventCommandError, opts.Host, xec.Fields{"command": line, "error": waitErr.Error()})
			return nil, &xec.ConnectionError{Host: opts.Host, Cause: waitErr}
		}
	}

	if !result.Ok() {
		result.Cause = "exit"
	}
	a.publish(xec.EventCommandComplete, opts.Host, xec.Fields{"command": line, "exit_code": result.ExitCode, "duration": result.Duration})

	if !result.Ok() && !cmd.Nothrow {
		return result, &xec.CommandFailureError{Result: result}
	}
	return result, nil
}

func isExitError(err error, target **xssh.ExitError) bool {
	e, ok := err.(*xssh.ExitError)
	if ok {
		*target = e
	}
	return ok
}

// sshSignal maps a POSIX "SIGxxx" name to the bare RFC 4254 signal name
// session.Signal expects, defaulting to "TERM" for an unrecognized name.
func sshSignal(name string) xssh.Signal {
	switch strings.TrimPrefix(name, "SIG") {
	case "KILL":
		return xssh.SIGKILL
	case "INT":
		return xssh.SIGINT
	case "HUP":
		return xssh.SIGHUP
	case "QUIT":
		return xssh.SIGQUIT
	default:
		return xssh.SIGTERM
	}
}

// buildRemoteCommandLine composes the line sent to session.Run: an optional
// cd prefix, an inlined KEY=VALUE env prefix (SendEnv is rarely permitted by
// default sshd AcceptEnv configuration), an optional sudo wrapper, and the
// command itself.
func buildRemoteCommandLine(cmd *xec.Command, opts xec.SSHOptions) string {
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

	inner := cmd.ShellLine
	if !cmd.HasShellLine() {
		parts := append([]string{cmd.Program}, cmd.Args...)
		quoted := make([]string, len(parts))
		for i, p := range parts {
			quoted[i] = xec.Sh([]string{"", ""}, p)
		}
		inner = strings.Join(quoted, " ")
	}

	if opts.Sudo != nil && opts.Sudo.Enabled {
		inner = buildSudoLine(inner, opts.Sudo)
	}

	b.WriteString(inner)
	return b.String()
}

func buildSudoLine(inner string, sudo *xec.SudoPolicy) string {
	user := ""
	if sudo.User != "" {
		user = "-u " + sudo.User + " "
	}
	switch sudo.PasswordMethod {
	case xec.SudoPasswordStdin, xec.SudoPasswordSecure:
		return fmt.Sprintf("sudo -S %s%s", user, inner)
	case xec.SudoPasswordAskpass:
		return fmt.Sprintf("SUDO_ASKPASS=/usr/bin/ssh-askpass sudo -A %s%s", user, inner)
	default: // xec.SudoPasswordEcho, and the zero value
		return fmt.Sprintf("sudo %s%s", user, inner)
	}
}

// DialRaw acquires a pooled *xssh.Client for opts, for callers that need
// the raw connection rather than a Command-shaped Execute call (the SFTP
// transfer helpers used by remote-docker's CopyTo/CopyFrom, for instance).
// The returned release func must be called exactly once when the caller is
// done with the client, to return it to the pool.
func (a *Adapter) DialRaw(ctx context.Context, opts xec.SSHOptions) (client *xssh.Client, release func(), err error) {
	key := KeyFor(opts)

	var pub retryx.Publisher
	if a.bus != nil {
		pub = a.bus
	}
	c, err := retryx.Do(ctx, pub, xec.AdapterSSH, a.ReconnectPolicy, func(attempt int) (*conn, error) {
		return a.pool.Acquire(ctx, key, func(ctx context.Context) (*xssh.Client, error) {
			return dialFunc(ctx, opts)
		})
	})
	if err != nil {
		return nil, nil, err
	}

	var releaseOnce sync.Once
	return c.client, func() { releaseOnce.Do(func() { a.pool.Release(c, true) }) }, nil
}

// OpenTunnel acquires a pooled connection for opts and opens a local
// port-forward to (remoteHost, remotePort) over it, for callers (e.g. the
// remote-docker adapter) that need a raw TCP path to a service reachable
// only from the remote host. The returned Tunnel's Close also releases the
// underlying pooled connection.
func (a *Adapter) OpenTunnel(ctx context.Context, opts xec.SSHOptions, localHost string, localPort int, remoteHost string, remotePort int) (*Tunnel, error) {
	key := KeyFor(opts)

	var pub retryx.Publisher
	if a.bus != nil {
		pub = a.bus
	}
	c, err := retryx.Do(ctx, pub, xec.AdapterSSH, a.ReconnectPolicy, func(attempt int) (*conn, error) {
		return a.pool.Acquire(ctx, key, func(ctx context.Context) (*xssh.Client, error) {
			return dialFunc(ctx, opts)
		})
	})
	if err != nil {
		return nil, err
	}

	t := NewTunnel(a.bus, c.client, localHost, localPort, remoteHost, remotePort)
	if err := t.Open(); err != nil {
		a.pool.Release(c, false)
		return nil, err
	}

	var releaseOnce sync.Once
	t.onClose = func() { releaseOnce.Do(func() { a.pool.Release(c, true) }) }
	return t, nil
}

// dialFunc opens a connection for a PoolKey miss. It is a variable so tests
// can substitute a dialer that talks to an in-process server instead of a
// real network address.
var dialFunc = dial

// dial opens a fresh *xssh.Client offering every auth method for which
// material was supplied, in the order: private key, agent, password; the
// client tries them in that order until one is accepted.
func dial(ctx context.Context, opts xec.SSHOptions) (*xssh.Client, error) {
	var methods []xssh.AuthMethod

	if len(opts.PrivateKey) > 0 {
		var signer xssh.Signer
		var err error
		if opts.Passphrase != "" {
			signer, err = xssh.ParsePrivateKeyWithPassphrase(opts.PrivateKey, []byte(opts.Passphrase))
		} else {
			signer, err = xssh.ParsePrivateKey(opts.PrivateKey)
		}
		if err != nil {
			return nil, &xec.AuthenticationError{Host: opts.Host, Reason: fmt.Sprintf("parse private key: %v", err)}
		}
		methods = append(methods, xssh.PublicKeys(signer))
	}

	if opts.AgentSocket != "" {
		if conn, err := net.Dial("unix", opts.AgentSocket); err == nil {
			ag := agent.NewClient(conn)
			methods = append(methods, xssh.PublicKeysCallback(ag.Signers))
		}
	}

	if opts.Password != "" {
		methods = append(methods, xssh.Password(opts.Password))
	}

	if len(methods) == 0 {
		return nil, &xec.AuthenticationError{Host: opts.Host, Reason: "no identity material supplied"}
	}

	config := &xssh.ClientConfig{
		User:            opts.Username,
		Auth:            methods,
		HostKeyCallback: xssh.InsecureIgnoreHostKey(), //nolint:gosec // host key verification is a deployment-time concern (known_hosts wiring), not modeled here
		Timeout:         15 * time.Second,
	}

	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.EffectivePort()))
	client, err := xssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, err
	}
	return client, nil
}
