// SPDX-License-Identifier: MPL-2.0

package docker

import (
	"context"
	"sync"
	"time"

	"github.com/xecgo/xec/internal/lifecycle"
	"github.com/xecgo/xec/pkg/xec"
)

// Container states. healthy is tracked separately as a sub-state of
// stateRunning rather than as a lifecycle.State of its own: a container can
// flip health status repeatedly while never leaving "running".
const (
	stateDeclared lifecycle.State = iota
	stateCreated
	stateRunning
	stateStopped
	stateRemoved
)

var containerTransitions = lifecycle.Transitions{
	stateDeclared: {stateCreated},
	stateCreated:  {stateRunning, stateRemoved},
	stateRunning:  {stateStopped, stateRemoved},
	stateStopped:  {stateRunning, stateRemoved},
}

// Container is a managed Docker container handle: the stateful counterpart
// to the stateless Adapter methods in lifecycle.go. A Container obtained
// from Adapter.Declare is owned by the caller, which must Dispose it (stop +
// remove) unless opts.AutoRemove is set, in which case Dispose after the
// container has already exited is a no-op.
type Container struct {
	adapter *Adapter
	opts    xec.DockerOptions

	machine *lifecycle.Machine

	mu      sync.Mutex
	id      string
	healthy bool
}

// Declare returns a Container handle in the "declared" state for opts. No
// docker command runs until Create is called.
func (a *Adapter) Declare(opts xec.DockerOptions) *Container {
	return &Container{
		adapter: a,
		opts:    opts,
		machine: lifecycle.NewMachine(stateDeclared, containerTransitions),
	}
}

// State reports the container's current lifecycle state.
func (c *Container) State() lifecycle.State { return c.machine.State() }

// Healthy reports the most recently observed health sub-state. Meaningless
// outside stateRunning.
func (c *Container) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// ID returns the container ID once Create has run; empty before then.
func (c *Container) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// options returns opts addressed at this container's resolved ID, falling
// back to opts.Name/opts.Container before Create has assigned an ID.
func (c *Container) options() xec.DockerOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	opts := c.opts
	if c.id != "" {
		opts.Container = c.id
	}
	return opts
}

// Create materializes the container (docker create) without starting it,
// transitioning declared -> created.
func (c *Container) Create(ctx context.Context) error {
	if err := c.machine.Transition(stateCreated); err != nil {
		return err
	}
	id, err := c.adapter.Create(ctx, c.opts)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
	c.adapter.publishContainer(xec.EventContainerCreate, id, nil)
	return nil
}

// Start starts the container, creating it first if Create hasn't run yet.
// Transitions {created,stopped} -> running.
func (c *Container) Start(ctx context.Context) error {
	if c.machine.State() == stateDeclared {
		if err := c.Create(ctx); err != nil {
			return err
		}
	}
	if err := c.machine.Transition(stateRunning); err != nil {
		return err
	}
	if err := c.adapter.Start(ctx, c.options()); err != nil {
		return err
	}
	c.adapter.publishContainer(xec.EventContainerStart, c.ID(), nil)
	return nil
}

// Stop stops the running container, transitioning running -> stopped.
func (c *Container) Stop(ctx context.Context, timeout time.Duration) error {
	if err := c.machine.Transition(stateStopped); err != nil {
		return err
	}
	c.mu.Lock()
	c.healthy = false
	c.mu.Unlock()
	if err := c.adapter.Stop(ctx, c.options(), timeout); err != nil {
		return err
	}
	c.adapter.publishContainer(xec.EventContainerStop, c.ID(), nil)
	return nil
}

// Restart restarts the running container without changing its lifecycle
// state (it leaves and re-enters running, which the transition table
// doesn't model as a distinct hop).
func (c *Container) Restart(ctx context.Context, timeout time.Duration) error {
	return c.adapter.Restart(ctx, c.options(), timeout)
}

// Pause freezes the container's processes without changing its lifecycle
// state; Docker reports this as a container property, not a separate state
// in this handle's model.
func (c *Container) Pause(ctx context.Context) error {
	return c.adapter.Pause(ctx, c.options())
}

// Unpause resumes a paused container.
func (c *Container) Unpause(ctx context.Context) error {
	return c.adapter.Unpause(ctx, c.options())
}

// Kill sends signal (default SIGKILL) to the container's main process.
func (c *Container) Kill(ctx context.Context, signal string) error {
	return c.adapter.Kill(ctx, c.options(), signal)
}

// Remove deletes the container, transitioning to removed from any state
// that permits it. If the container was never created, this is a no-op.
func (c *Container) Remove(ctx context.Context, force bool) error {
	if c.machine.State() == stateDeclared {
		return nil
	}
	if err := c.machine.Transition(stateRemoved); err != nil {
		return err
	}
	if err := c.adapter.Remove(ctx, c.options(), force); err != nil {
		return err
	}
	c.adapter.publishContainer(xec.EventContainerRemove, c.ID(), nil)
	return nil
}

// Inspect returns the parsed "docker inspect" JSON for the container.
func (c *Container) Inspect(ctx context.Context) (map[string]any, error) {
	return c.adapter.Inspect(ctx, c.options())
}

// Stats returns one "docker stats --no-stream" sample.
func (c *Container) Stats(ctx context.Context) (map[string]string, error) {
	return c.adapter.Stats(ctx, c.options())
}

// Logs returns the full log output, optionally limited to the last tail
// lines (0 means unlimited).
func (c *Container) Logs(ctx context.Context, tail int) ([]byte, error) {
	return c.adapter.Logs(ctx, c.options(), tail)
}

// StreamLogs follows the container's log output until ctx is cancelled or
// the stream ends.
func (c *Container) StreamLogs(ctx context.Context, onLine func(line string, stderr bool)) error {
	return c.adapter.StreamLogs(ctx, c.options(), onLine)
}

// CopyTo copies a local file/directory into the container.
func (c *Container) CopyTo(ctx context.Context, localPath, containerPath string) error {
	return c.adapter.CopyTo(ctx, c.options(), localPath, containerPath)
}

// CopyFrom copies a file/directory out of the container.
func (c *Container) CopyFrom(ctx context.Context, containerPath, localPath string) error {
	return c.adapter.CopyFrom(ctx, c.options(), containerPath, localPath)
}

// Commit creates an image from the container's current state.
func (c *Container) Commit(ctx context.Context, tag string) error {
	return c.adapter.Commit(ctx, c.options(), tag)
}

// GetIPAddress returns the container's primary network IP address.
func (c *Container) GetIPAddress(ctx context.Context) (string, error) {
	return c.adapter.GetIPAddress(ctx, c.options())
}

// WaitForPort polls until port accepts TCP connections or ctx is done.
func (c *Container) WaitForPort(ctx context.Context, port int, interval time.Duration) error {
	return c.adapter.WaitForPort(ctx, c.options(), port, interval)
}

// WaitForLog polls container logs until substr appears or ctx is done.
func (c *Container) WaitForLog(ctx context.Context, substr string, interval time.Duration) error {
	return c.adapter.WaitForLog(ctx, c.options(), substr, interval)
}

// WaitForHealthy polls the container's healthcheck status until "healthy",
// updating the handle's Healthy() sub-state, or until ctx is done. A
// container without a healthcheck is treated as healthy once running for
// settleWindow.
func (c *Container) WaitForHealthy(ctx context.Context, settleWindow time.Duration) error {
	if settleWindow <= 0 {
		settleWindow = 2 * time.Second
	}
	info, err := c.adapter.Inspect(ctx, c.options())
	if err == nil && !hasHealthcheck(info) {
		select {
		case <-time.After(settleWindow):
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		c.healthy = true
		c.mu.Unlock()
		c.adapter.publishContainer(xec.EventContainerHealthy, c.ID(), nil)
		return nil
	}
	if err := c.adapter.WaitForHealthy(ctx, c.options(), 0); err != nil {
		return err
	}
	c.mu.Lock()
	c.healthy = true
	c.mu.Unlock()
	c.adapter.publishContainer(xec.EventContainerHealthy, c.ID(), nil)
	return nil
}

// Dispose stops and removes the container unless it was declared with
// AutoRemove, in which case Docker already reclaims it on exit and Dispose
// only needs to release the handle's bookkeeping.
func (c *Container) Dispose(ctx context.Context) error {
	if c.opts.AutoRemove {
		return nil
	}
	state := c.machine.State()
	if state == stateDeclared || state == stateRemoved {
		return nil
	}
	if state == stateRunning {
		if err := c.Stop(ctx, 0); err != nil {
			return err
		}
	}
	return c.Remove(ctx, true)
}

func hasHealthcheck(info map[string]any) bool {
	state, ok := info["State"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = state["Health"].(map[string]any)
	return ok
}

func (a *Adapter) publishContainer(name xec.EventName, containerID string, extra xec.Fields) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(xec.Event{
		Name: name, Timestamp: time.Now(), Adapter: xec.AdapterDocker,
		Container: containerID, Fields: extra,
	})
}
