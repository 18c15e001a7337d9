// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xecgo/xec/internal/adapter"
	"github.com/xecgo/xec/internal/adapter/docker"
	"github.com/xecgo/xec/internal/adapter/kubernetes"
	"github.com/xecgo/xec/internal/adapter/local"
	"github.com/xecgo/xec/internal/adapter/remotedocker"
	"github.com/xecgo/xec/internal/adapter/ssh"
	"github.com/xecgo/xec/internal/cache"
	"github.com/xecgo/xec/internal/eventbus"
	"github.com/xecgo/xec/pkg/xec"
)

// Adapter is the public alias for the internal adapter interface: callers
// registering a WithMockAdapter implement this, but never need to import
// internal/adapter directly.
type Adapter = adapter.Adapter

// Template builds a new Command from piped input, for ProcessPromise.Pipe
// targets that construct a command around the previous stage's output
// rather than consuming it as plain bytes.
type Template func(input []byte) *xec.Command

// core holds everything a family of engine views shares: adapter instances,
// the event bus, the result cache, and bookkeeping for leased temp paths.
// Every View (Engine value) created by New or by a context-mutating method
// points at the same *core.
type core struct {
	cfg *Config

	bus   *eventbus.Bus
	cache *cache.Cache

	adapters map[xec.AdapterKind]adapter.Adapter

	templatesMu sync.RWMutex
	templates   map[string]Template

	tempMu    sync.Mutex
	tempPaths []string

	stopMaintenance context.CancelFunc

	disposeOnce sync.Once
	disposed    bool
}

// frame is one layer of engine context: cwd/env/shell/timeout/adapter
// overrides accumulated by the WithXxx view builders. Within(fn) pushes a
// frame for the duration of fn and pops it on return.
type frame struct {
	cwd   string
	env   *xec.Env
	shell xec.ShellMode
	shellPath string
	timeout time.Duration
	cancelSignal string

	adapter        xec.AdapterKind
	adapterOptions xec.AdapterOptions
}

// Engine is a view into a shared core: a context frame plus the resources
// every view of the same core shares. Engine values are cheap to copy and
// safe to hold concurrently; WithXxx methods return a new Engine rather than
// mutating the receiver.
type Engine struct {
	c *core
	f frame
}

// New constructs an Engine, wiring local/ssh/docker/kubernetes/remote-docker
// adapters to a shared event bus and result cache. A WithConfigFile failure
// is logged and otherwise ignored; use NewWithError to observe it.
func New(opts ...Option) *Engine {
	e, err := NewWithError(opts...)
	if err != nil {
		e.logger().Error("engine: config file load failed, continuing with defaults", "error", err)
	}
	return e
}

// NewWithError is New, but surfaces a WithConfigFile load/parse failure
// instead of only logging it. The returned Engine is always usable even
// when err is non-nil: the config file's settings are simply absent.
func NewWithError(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	loadErr := cfg.loadErr

	bus := eventbus.New(cfg.Logger)
	resultCache := cache.New(bus, cfg.CacheMaxEntries)

	localAdapter := local.New(bus)
	sshAdapter := ssh.New(bus)
	if cfg.SSHMaxPerHost > 0 || cfg.SSHMaxTotal > 0 || cfg.SSHMaxIdle > 0 ||
		cfg.SSHKeepaliveInterval > 0 || cfg.SSHAcquireTimeout > 0 {
		pool := sshAdapter.Pool()
		if cfg.SSHMaxPerHost > 0 {
			pool.MaxPerHost = cfg.SSHMaxPerHost
		}
		if cfg.SSHMaxTotal > 0 {
			pool.MaxTotal = cfg.SSHMaxTotal
		}
		if cfg.SSHMaxIdle > 0 {
			pool.MaxIdle = cfg.SSHMaxIdle
		}
		if cfg.SSHKeepaliveInterval > 0 {
			pool.KeepaliveInterval = cfg.SSHKeepaliveInterval
		}
		if cfg.SSHAcquireTimeout > 0 {
			pool.AcquireTimeout = cfg.SSHAcquireTimeout
		}
	}
	dockerAdapter := docker.New(bus)
	k8sAdapter := kubernetes.New(bus)
	remoteDockerAdapter := remotedocker.New(bus)

	adapters := map[xec.AdapterKind]adapter.Adapter{
		xec.AdapterLocal:        localAdapter,
		xec.AdapterSSH:          sshAdapter,
		xec.AdapterDocker:       dockerAdapter,
		xec.AdapterKubernetes:   k8sAdapter,
		xec.AdapterRemoteDocker: remoteDockerAdapter,
	}
	if cfg.MockAdapter != nil {
		adapters[xec.AdapterMock] = cfg.MockAdapter
	}

	c := &core{
		cfg:       cfg,
		bus:       bus,
		cache:     resultCache,
		adapters:  adapters,
		templates: make(map[string]Template),
	}

	maintCtx, stopMaintenance := context.WithCancel(context.Background())
	c.stopMaintenance = stopMaintenance
	sshAdapter.Pool().StartMaintenance(maintCtx)

	return &Engine{c: c}, loadErr
}

// Within runs fn with a context frame pushed additively onto e's own: fn's
// Engine inherits e's cwd/env/shell/timeout/adapter, with whatever fn's
// Engine further overrides via WithXxx applying only within fn. The frame
// is discarded when fn returns; it never leaks to e or to sibling calls.
func (e *Engine) Within(fn func(*Engine) error) error {
	return fn(&Engine{c: e.c, f: e.f})
}

func cloneFrame(f frame) frame {
	return f
}

// WithCwd returns a view whose commands default to dir when Command.Cwd is
// unset.
func (e *Engine) WithCwd(dir string) *Engine {
	nf := cloneFrame(e.f)
	nf.cwd = dir
	return &Engine{c: e.c, f: nf}
}

// WithEnv returns a view whose commands merge env under this frame's
// environment (the command's own Env, if any, wins on collision). Passing a
// non-nil but empty env establishes explicit isolation for this view: see
// mergeFrameEnv for the nil-vs-empty distinction this preserves down to the
// adapter layer.
func (e *Engine) WithEnv(env *xec.Env) *Engine {
	nf := cloneFrame(e.f)
	nf.env = env
	return &Engine{c: e.c, f: nf}
}

// WithShell returns a view whose commands default to this shell mode/path
// when the command leaves Shell unset.
func (e *Engine) WithShell(mode xec.ShellMode, path string) *Engine {
	nf := cloneFrame(e.f)
	nf.shell = mode
	nf.shellPath = path
	return &Engine{c: e.c, f: nf}
}

// WithTimeout returns a view whose commands default to d when Command.Timeout
// is zero.
func (e *Engine) WithTimeout(d time.Duration) *Engine {
	nf := cloneFrame(e.f)
	nf.timeout = d
	return &Engine{c: e.c, f: nf}
}

// WithCancelSignal returns a view whose commands default to sending signal
// on timeout (or plain Cancel) when Command.TimeoutSignal is unset.
func (e *Engine) WithCancelSignal(signal string) *Engine {
	nf := cloneFrame(e.f)
	nf.cancelSignal = signal
	return &Engine{c: e.c, f: nf}
}

// WithAdapter returns a view whose commands default to kind (and opts, which
// may be nil) when Command.Adapter is xec.AdapterAuto or empty.
func (e *Engine) WithAdapter(kind xec.AdapterKind, opts xec.AdapterOptions) *Engine {
	nf := cloneFrame(e.f)
	nf.adapter = kind
	nf.adapterOptions = opts
	return &Engine{c: e.c, f: nf}
}

// RegisterTemplate names a Template for use as a ProcessPromise.Pipe target.
func (e *Engine) RegisterTemplate(name string, tmpl Template) {
	e.c.templatesMu.Lock()
	defer e.c.templatesMu.Unlock()
	e.c.templates[name] = tmpl
}

// Template looks up a registered template by name.
func (e *Engine) Template(name string) (Template, bool) {
	e.c.templatesMu.RLock()
	defer e.c.templatesMu.RUnlock()
	t, ok := e.c.templates[name]
	return t, ok
}

// Which resolves program against PATH (or, for a non-local default adapter,
// delegates to a "which"/"command -v" invocation against that adapter) and
// returns the resolved path, or an AdapterUnavailableError if not found.
func (e *Engine) Which(program string) (string, error) {
	if e.f.adapter == "" || e.f.adapter == xec.AdapterAuto || e.f.adapter == xec.AdapterLocal {
		p, err := exec.LookPath(program)
		if err != nil {
			return "", &xec.AdapterUnavailableError{Adapter: xec.AdapterLocal, Reason: fmt.Sprintf("%q not found on PATH", program)}
		}
		return p, nil
	}

	result, err := e.Run(context.Background(), &xec.Command{
		ShellLine: xec.Sh([]string{"command -v ", ""}, program),
		Nothrow:   true,
	})
	if err != nil {
		return "", err
	}
	if !result.Ok() {
		return "", &xec.AdapterUnavailableError{Adapter: e.f.adapter, Reason: fmt.Sprintf("%q not found", program)}
	}
	return strings.TrimSpace(result.StdoutText()), nil
}

// Pwd returns this view's effective working directory: the frame's Cwd if
// set, else the process's current directory.
func (e *Engine) Pwd() (string, error) {
	if e.f.cwd != "" {
		return e.f.cwd, nil
	}
	return os.Getwd()
}

// DockerAdapter returns the registered Docker adapter, for callers that need
// the stateful Container handle (Declare) rather than a plain Spawn/Run.
func (e *Engine) DockerAdapter() (*docker.Adapter, bool) {
	a, ok := e.c.adapters[xec.AdapterDocker].(*docker.Adapter)
	return a, ok
}

// KubernetesAdapter returns the registered Kubernetes adapter, for callers
// that need a PortForward or LogStream handle rather than a plain Spawn/Run.
func (e *Engine) KubernetesAdapter() (*kubernetes.Adapter, bool) {
	a, ok := e.c.adapters[xec.AdapterKubernetes].(*kubernetes.Adapter)
	return a, ok
}

// LeaseTempFile creates a temp file (via os.CreateTemp) under the engine's
// bookkeeping: Dispose removes it if the caller never did. pattern follows
// os.CreateTemp's glob-like pattern convention.
func (e *Engine) LeaseTempFile(pattern string) (*os.File, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, err
	}
	e.trackTemp(f.Name())
	e.publish(xec.EventTempCreate, xec.Fields{"path": f.Name(), "type": "file"})
	return f, nil
}

// LeaseTempDir creates a temp directory (via os.MkdirTemp) under the
// engine's bookkeeping: Dispose removes it (recursively) if the caller
// never did.
func (e *Engine) LeaseTempDir(pattern string) (string, error) {
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", err
	}
	e.trackTemp(dir)
	e.publish(xec.EventTempCreate, xec.Fields{"path": dir, "type": "dir"})
	return dir, nil
}

func (e *Engine) trackTemp(path string) {
	e.c.tempMu.Lock()
	e.c.tempPaths = append(e.c.tempPaths, path)
	e.c.tempMu.Unlock()
}

// ReleaseTemp removes path immediately and drops it from the engine's
// cleanup bookkeeping. Safe to call on a path Dispose would otherwise clean
// up; calling it twice on the same path is a no-op the second time.
func (e *Engine) ReleaseTemp(path string) error {
	e.c.tempMu.Lock()
	kept := e.c.tempPaths[:0]
	found := false
	for _, p := range e.c.tempPaths {
		if p == path {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	e.c.tempPaths = kept
	e.c.tempMu.Unlock()
	if !found {
		return nil
	}
	e.publish(xec.EventTempCleanup, xec.Fields{"path": path})
	return os.RemoveAll(path)
}

// Dispose idempotently reclaims every temp file/dir leased from this
// engine's core, closes the SSH pool's connections, and stops background
// maintenance. Safe to call more than once and from any view sharing the
// same core.
func (e *Engine) Dispose(ctx context.Context) error {
	var err error
	e.c.disposeOnce.Do(func() {
		if e.c.stopMaintenance != nil {
			e.c.stopMaintenance()
		}
		e.c.tempMu.Lock()
		paths := e.c.tempPaths
		e.c.tempPaths = nil
		e.c.tempMu.Unlock()
		for _, p := range paths {
			e.publish(xec.EventTempCleanup, xec.Fields{"path": p})
			_ = os.RemoveAll(p)
		}
		for _, a := range e.c.adapters {
			if derr := a.Dispose(ctx); derr != nil && err == nil {
				err = derr
			}
		}
		e.c.tempMu.Lock()
		e.c.disposed = true
		e.c.tempMu.Unlock()
	})
	return err
}

func (e *Engine) publish(name xec.EventName, fields xec.Fields) {
	if e.c.bus == nil {
		return
	}
	e.c.bus.Publish(xec.Event{Name: name, Timestamp: time.Now(), Fields: fields})
}

func (e *Engine) logger() *log.Logger {
	return e.c.cfg.Logger
}
