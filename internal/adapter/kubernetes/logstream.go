// SPDX-License-Identifier: MPL-2.0

package kubernetes

import (
	"bytes"
	"context"
	"os/exec"
	"sync/atomic"

	"github.com/xecgo/xec/internal/core/serverbase"
	"github.com/xecgo/xec/pkg/xec"
)

// LogStream is a handle to a running "kubectl logs -f" process. Unlike
// StreamLogs, which blocks the caller for the lifetime of the stream, a
// LogStream runs in the background and can be paused, resumed, and stopped.
type LogStream struct {
	base *serverbase.Base

	adapter *Adapter
	opts    xec.KubernetesOptions
	onLine  func(line string)

	cmd    *exec.Cmd
	paused atomic.Bool
}

// OpenLogStream starts "kubectl logs -f" for opts in the background,
// invoking onLine for each line read while the stream isn't paused.
func (a *Adapter) OpenLogStream(ctx context.Context, opts xec.KubernetesOptions, onLine func(line string)) (*LogStream, error) {
	ls := &LogStream{
		base:    serverbase.NewBase(),
		adapter: a,
		opts:    opts,
		onLine:  onLine,
	}
	if err := ls.start(ctx); err != nil {
		return nil, err
	}
	return ls, nil
}

func (ls *LogStream) start(ctx context.Context) error {
	if err := ls.base.TransitionToStarting(ctx); err != nil {
		return err
	}

	ls.cmd = exec.CommandContext(ls.base.Context(), ls.adapter.binary(), logsArgs(ls.opts, true, 0)...)
	stdout, err := ls.cmd.StdoutPipe()
	if err != nil {
		ls.base.TransitionToFailed(err)
		return err
	}
	if err := ls.cmd.Start(); err != nil {
		ls.base.TransitionToFailed(err)
		return err
	}
	ls.base.TransitionToRunning()

	ls.base.AddGoroutine()
	go func() {
		defer ls.base.DoneGoroutine()
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
					line := string(buf[:idx])
					buf = buf[idx+1:]
					if !ls.paused.Load() {
						ls.onLine(line)
					}
				}
			}
			if rerr != nil {
				break
			}
		}
		err := ls.cmd.Wait()
		if ls.base.IsRunning() {
			if err != nil {
				ls.base.TransitionToFailed(err)
				ls.base.SendError(err)
			} else {
				ls.base.TransitionToStopped()
			}
		}
	}()

	return nil
}

// Pause stops delivering lines to the callback without killing the
// underlying kubectl process; buffered/incoming lines are silently dropped
// until Resume.
func (ls *LogStream) Pause() { ls.paused.Store(true) }

// Resume re-enables line delivery after Pause.
func (ls *LogStream) Resume() { ls.paused.Store(false) }

// Paused reports whether the stream is currently paused.
func (ls *LogStream) Paused() bool { return ls.paused.Load() }

// Stop tears down the underlying kubectl process and waits for its
// goroutine to exit.
func (ls *LogStream) Stop() error {
	wasRunning := ls.base.TransitionToStopping()
	if wasRunning && ls.cmd.Process != nil {
		_ = ls.cmd.Process.Kill()
	}
	ls.base.WaitForShutdown()
	if wasRunning {
		ls.base.TransitionToStopped()
	}
	return nil
}

// Err returns a channel that receives at most one error if the stream dies
// unexpectedly.
func (ls *LogStream) Err() <-chan error { return ls.base.Err() }
