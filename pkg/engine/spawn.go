// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/xecgo/xec/internal/adapter"
	"github.com/xecgo/xec/internal/cache"
	"github.com/xecgo/xec/internal/retryx"
	"github.com/xecgo/xec/pkg/xec"
)

// Spawn resolves cmd against this view's context frame, picks an adapter,
// and returns a ProcessPromise immediately; the caller observes settlement
// through the promise's Wait/decoders. Spawn never blocks on the command's
// own execution — only on adapter resolution, which is local bookkeeping.
func (e *Engine) Spawn(ctx context.Context, cmd *xec.Command) *ProcessPromise {
	return e.Command(cmd).start(ctx)
}

// Run resolves and spawns cmd, then blocks until it settles and returns the
// result. Equivalent to Spawn(ctx, cmd).Wait(ctx).
func (e *Engine) Run(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error) {
	return e.Spawn(ctx, cmd).Wait(ctx)
}

// resolve merges cmd against e's context frame (command fields win on
// collision; the frame fills in anything the command left zero) and picks
// the adapter that will run it.
func (e *Engine) resolve(cmd *xec.Command) (*xec.Command, adapter.Adapter, error) {
	e.c.tempMu.Lock()
	disposed := e.c.disposed
	e.c.tempMu.Unlock()
	if disposed {
		return nil, nil, &xec.ValidationError{Reason: "engine: cannot spawn after Dispose"}
	}

	resolved := *cmd // shallow copy: we only overwrite zero-valued fields below

	if resolved.Cwd == "" {
		resolved.Cwd = e.f.cwd
	}
	resolved.Env = mergeFrameEnv(e.f.env, resolved.Env)
	if resolved.Shell == "" {
		resolved.Shell = e.f.shell
		resolved.ShellPath = e.f.shellPath
	}
	if resolved.Timeout == 0 {
		resolved.Timeout = e.f.timeout
	}
	if resolved.TimeoutSignal == "" {
		resolved.TimeoutSignal = e.f.cancelSignal
	}
	if resolved.Adapter == "" || resolved.Adapter == xec.AdapterAuto {
		if e.f.adapter != "" && e.f.adapter != xec.AdapterAuto {
			resolved.Adapter = e.f.adapter
			if resolved.AdapterOptions == nil {
				resolved.AdapterOptions = e.f.adapterOptions
			}
		}
	}
	if resolved.Cancel == nil {
		resolved.Cancel = xec.NewCancelHandle()
	}

	if err := resolved.Validate(); err != nil {
		return nil, nil, err
	}

	a, err := e.pickAdapter(resolved.Adapter)
	if err != nil {
		return nil, nil, err
	}
	return &resolved, a, nil
}

// mergeFrameEnv applies the nil-vs-empty-Env distinction (see
// local.resolveEnv) one level up, at context-merge time: if neither the
// frame nor the command specified an Env, the result stays nil so the
// adapter inherits the ambient environment. Otherwise the command's Env (if
// any) overlays the frame's, each treated as empty when unset, and the
// merge is always materialized (never nil) so an explicit empty Env at
// either layer is honored rather than silently falling back to ambient
// inheritance.
func mergeFrameEnv(frameEnv, cmdEnv *xec.Env) *xec.Env {
	if frameEnv == nil && cmdEnv == nil {
		return nil
	}
	base := frameEnv
	if base == nil {
		base = xec.NewEnv()
	}
	overlay := cmdEnv
	if overlay == nil {
		overlay = xec.NewEnv()
	}
	return xec.Merge(base, overlay)
}

func (e *Engine) pickAdapter(kind xec.AdapterKind) (adapter.Adapter, error) {
	if kind == "" || kind == xec.AdapterAuto {
		mock := e.c.adapters[xec.AdapterMock]
		local := e.c.adapters[xec.AdapterLocal]
		return adapter.Autodetect(mock, local), nil
	}
	a, ok := e.c.adapters[kind]
	if !ok {
		return nil, &xec.AdapterUnavailableError{Adapter: kind, Reason: "no adapter registered for this kind"}
	}
	return a, nil
}

// dispatch runs cmd against a through the cache and retry decorators cmd
// requests, in that order: a cache hit never counts as a retry attempt, and
// a retried miss is stored once, on its final outcome.
func (e *Engine) dispatch(ctx context.Context, cmd *xec.Command, a adapter.Adapter) (*xec.ExecutionResult, error) {
	execute := func() (*xec.ExecutionResult, error) {
		return e.dispatchWithRetry(ctx, cmd, a)
	}

	if cmd.Cache == nil {
		return execute()
	}

	key := cmd.Cache.Key
	if key == "" {
		key = cache.Fingerprint(a.Kind(), adapterIdentity(cmd), cmd)
	}
	return e.c.cache.Get(key, cmd.Cache, execute)
}

func (e *Engine) dispatchWithRetry(ctx context.Context, cmd *xec.Command, a adapter.Adapter) (*xec.ExecutionResult, error) {
	if cmd.Retry == nil || cmd.Retry.EffectiveMaxAttempts() <= 1 {
		return a.Execute(ctx, cmd)
	}
	return retryx.Do(ctx, e.c.bus, a.Kind(), cmd.Retry, func(attempt int) (*xec.ExecutionResult, error) {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if d := cmd.Retry.PerAttemptTimeout; d > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return a.Execute(attemptCtx, cmd)
	})
}

// adapterIdentity extracts whatever distinguishes this command's target
// within its adapter kind (host, container, pod) for cache fingerprinting.
func adapterIdentity(cmd *xec.Command) string {
	switch opts := cmd.AdapterOptions.(type) {
	case xec.SSHOptions:
		return fmt.Sprintf("%s@%s:%d", opts.Username, opts.Host, opts.EffectivePort())
	case xec.DockerOptions:
		if opts.Container != "" {
			return opts.Container
		}
		return opts.Image
	case xec.KubernetesOptions:
		return fmt.Sprintf("%s/%s/%s", opts.EffectiveNamespace(), opts.Pod, opts.Container)
	case xec.RemoteDockerOptions:
		return fmt.Sprintf("%s@%s:%d/%s", opts.SSH.Username, opts.SSH.Host, opts.SSH.EffectivePort(), opts.Docker.Container)
	default:
		return ""
	}
}
