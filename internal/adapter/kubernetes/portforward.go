// SPDX-License-Identifier: MPL-2.0

package kubernetes

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/xecgo/xec/internal/core/serverbase"
	"github.com/xecgo/xec/pkg/xec"
)

// forwardingLine matches kubectl port-forward's readiness announcement,
// e.g. "Forwarding from 127.0.0.1:54321 -> 80".
var forwardingLine = regexp.MustCompile(`Forwarding from [^:]+:(\d+) ->`)

// PortForward is a handle to a running "kubectl port-forward" process. Its
// lifecycle (created -> starting -> running -> stopping -> stopped, or
// failed) is tracked through an embedded serverbase.Base.
type PortForward struct {
	base *serverbase.Base

	adapter    *Adapter
	opts       xec.KubernetesOptions
	remotePort int

	cmd       *exec.Cmd
	localPort int
}

// OpenPortForward starts "kubectl port-forward" for opts, forwarding
// remotePort to localPort. localPort == 0 requests a dynamic, OS-assigned
// local port, available afterwards via LocalPort. Open blocks until kubectl
// reports the tunnel is ready or ctx is done.
func (a *Adapter) OpenPortForward(ctx context.Context, opts xec.KubernetesOptions, localPort, remotePort int) (*PortForward, error) {
	pf := &PortForward{
		base:       serverbase.NewBase(),
		adapter:    a,
		opts:       opts,
		remotePort: remotePort,
		localPort:  localPort,
	}
	if err := pf.start(ctx); err != nil {
		return nil, err
	}
	return pf, nil
}

func (pf *PortForward) start(ctx context.Context) error {
	if err := pf.base.TransitionToStarting(ctx); err != nil {
		return &xec.PortForwardError{Pod: pf.opts.Pod, RemotePort: pf.remotePort, Cause: err}
	}

	pf.cmd = exec.CommandContext(pf.base.Context(), pf.adapter.binary(), portForwardArgs(pf.opts, pf.localPort, pf.remotePort)...)
	stdout, err := pf.cmd.StdoutPipe()
	if err != nil {
		pf.base.TransitionToFailed(err)
		return &xec.PortForwardError{Pod: pf.opts.Pod, RemotePort: pf.remotePort, Cause: err}
	}
	if err := pf.cmd.Start(); err != nil {
		pf.base.TransitionToFailed(err)
		return &xec.PortForwardError{Pod: pf.opts.Pod, RemotePort: pf.remotePort, Cause: err}
	}

	ready := make(chan error, 1)
	pf.base.AddGoroutine()
	go func() {
		defer pf.base.DoneGoroutine()
		scanner := bufio.NewScanner(stdout)
		reported := false
		for scanner.Scan() {
			line := scanner.Text()
			if !reported {
				if m := forwardingLine.FindStringSubmatch(line); m != nil {
					if port, perr := strconv.Atoi(m[1]); perr == nil {
						pf.localPort = port
					}
					reported = true
					ready <- nil
				}
			}
		}
		if !reported {
			ready <- fmt.Errorf("kubectl port-forward: tunnel never became ready")
		}
		err := pf.cmd.Wait()
		if pf.base.IsRunning() {
			if err != nil {
				pf.adapter.publish(xec.EventConnectionClose, pf.opts.Pod, xec.Fields{"type": "kubernetes-port-forward", "error": err.Error()})
				pf.base.TransitionToFailed(err)
				pf.base.SendError(err)
			} else {
				pf.adapter.publish(xec.EventConnectionClose, pf.opts.Pod, xec.Fields{"type": "kubernetes-port-forward"})
				pf.base.TransitionToStopped()
			}
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			_ = pf.cmd.Process.Kill()
			pf.base.TransitionToFailed(err)
			return &xec.PortForwardError{Pod: pf.opts.Pod, RemotePort: pf.remotePort, Cause: err}
		}
	case <-time.After(10 * time.Second):
		_ = pf.cmd.Process.Kill()
		err := fmt.Errorf("kubectl port-forward: timed out waiting for tunnel")
		pf.base.TransitionToFailed(err)
		return &xec.PortForwardError{Pod: pf.opts.Pod, RemotePort: pf.remotePort, Cause: err}
	case <-ctx.Done():
		_ = pf.cmd.Process.Kill()
		pf.base.TransitionToFailed(ctx.Err())
		return &xec.PortForwardError{Pod: pf.opts.Pod, RemotePort: pf.remotePort, Cause: ctx.Err()}
	}

	pf.base.TransitionToRunning()
	pf.adapter.publish(xec.EventConnectionOpen, pf.opts.Pod, xec.Fields{
		"type": "kubernetes-port-forward", "local_port": pf.localPort, "remote_port": pf.remotePort,
	})
	return nil
}

// LocalPort returns the resolved local port, including the OS-assigned port
// for a dynamic forward once IsOpen is true.
func (pf *PortForward) LocalPort() int { return pf.localPort }

// IsOpen reports whether the tunnel is currently forwarding traffic.
func (pf *PortForward) IsOpen() bool { return pf.base.IsRunning() }

// Close tears down the tunnel and waits for its goroutine to exit.
func (pf *PortForward) Close() error {
	wasRunning := pf.base.TransitionToStopping()
	if wasRunning && pf.cmd.Process != nil {
		_ = pf.cmd.Process.Kill()
	}
	pf.base.WaitForShutdown()
	if wasRunning {
		pf.base.TransitionToStopped()
		pf.adapter.publish(xec.EventConnectionClose, pf.opts.Pod, xec.Fields{"type": "kubernetes-port-forward"})
	}
	return nil
}

// Err returns a channel that receives at most one error if the tunnel dies
// unexpectedly (as opposed to a caller-initiated Close).
func (pf *PortForward) Err() <-chan error { return pf.base.Err() }
