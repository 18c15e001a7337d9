// SPDX-License-Identifier: MPL-2.0

package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/xecgo/xec/pkg/xec"
)

func dialTCP(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// runCLI invokes binary with args, returning combined stdout; stderr is
// folded into the returned error on failure.
func (a *Adapter) runCLI(ctx context.Context, binary string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s %s: %w: %s", binary, strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Create declares a container from opts without starting it, returning the
// new container ID.
func (a *Adapter) Create(ctx context.Context, opts xec.DockerOptions) (string, error) {
	out, err := a.runCLI(ctx, resolveBinary(opts), createArgs(opts)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Start starts a stopped container.
func (a *Adapter) Start(ctx context.Context, opts xec.DockerOptions) error {
	_, err := a.runCLI(ctx, resolveBinary(opts), "start", opts.Container)
	return err
}

// Stop stops a running container, waiting up to timeout before killing it.
func (a *Adapter) Stop(ctx context.Context, opts xec.DockerOptions, timeout time.Duration) error {
	args := []string{"stop"}
	if timeout > 0 {
		args = append(args, "-t", fmt.Sprintf("%d", int(timeout.Seconds())))
	}
	args = append(args, opts.Container)
	_, err := a.runCLI(ctx, resolveBinary(opts), args...)
	return err
}

// Restart restarts a container.
func (a *Adapter) Restart(ctx context.Context, opts xec.DockerOptions, timeout time.Duration) error {
	args := []string{"restart"}
	if timeout > 0 {
		args = append(args, "-t", fmt.Sprintf("%d", int(timeout.Seconds())))
	}
	args = append(args, opts.Container)
	_, err := a.runCLI(ctx, resolveBinary(opts), args...)
	return err
}

// Pause freezes all processes in a container.
func (a *Adapter) Pause(ctx context.Context, opts xec.DockerOptions) error {
	_, err := a.runCLI(ctx, resolveBinary(opts), "pause", opts.Container)
	return err
}

// Unpause resumes a paused container.
func (a *Adapter) Unpause(ctx context.Context, opts xec.DockerOptions) error {
	_, err := a.runCLI(ctx, resolveBinary(opts), "unpause", opts.Container)
	return err
}

// Kill sends signal (default SIGKILL) to a container's main process.
func (a *Adapter) Kill(ctx context.Context, opts xec.DockerOptions, signal string) error {
	args := []string{"kill"}
	if signal != "" {
		args = append(args, "-s", signal)
	}
	args = append(args, opts.Container)
	_, err := a.runCLI(ctx, resolveBinary(opts), args...)
	return err
}

// Remove deletes a container, optionally forcing removal of a running one.
func (a *Adapter) Remove(ctx context.Context, opts xec.DockerOptions, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, opts.Container)
	_, err := a.runCLI(ctx, resolveBinary(opts), args...)
	return err
}

// Inspect returns the parsed "inspect" JSON for a container.
func (a *Adapter) Inspect(ctx context.Context, opts xec.DockerOptions) (map[string]any, error) {
	out, err := a.runCLI(ctx, resolveBinary(opts), "inspect", opts.Container)
	if err != nil {
		return nil, err
	}
	var parsed []map[string]any
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, &xec.DecoderError{Decoder: "json", Raw: out, Cause: err}
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("inspect %s: no such container", opts.Container)
	}
	return parsed[0], nil
}

// Stats returns one "docker stats --no-stream" sample for a container.
func (a *Adapter) Stats(ctx context.Context, opts xec.DockerOptions) (map[string]string, error) {
	format := "{{json .}}"
	out, err := a.runCLI(ctx, resolveBinary(opts), "stats", "--no-stream", "--format", format, opts.Container)
	if err != nil {
		return nil, err
	}
	var parsed map[string]string
	if err := json.Unmarshal(bytes.TrimSpace(out), &parsed); err != nil {
		return nil, &xec.DecoderError{Decoder: "json", Raw: out, Cause: err}
	}
	return parsed, nil
}

// Logs returns the full log output of a container.
func (a *Adapter) Logs(ctx context.Context, opts xec.DockerOptions, tail int) ([]byte, error) {
	args := []string{"logs"}
	if tail > 0 {
		args = append(args, "--tail", fmt.Sprintf("%d", tail))
	}
	args = append(args, opts.Container)
	return a.runCLI(ctx, resolveBinary(opts), args...)
}

// StreamLogs follows a container's log output, invoking onLine for each
// line until ctx is cancelled or the stream ends.
func (a *Adapter) StreamLogs(ctx context.Context, opts xec.DockerOptions, onLine func(line string, stderr bool)) error {
	c := exec.CommandContext(ctx, resolveBinary(opts), "logs", "-f", opts.Container)
	stdout, err := c.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}

	done := make(chan struct{}, 2)
	scan := func(r io.Reader, isStderr bool) {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 0, 4096)
		chunk := make([]byte, 4096)
		for {
			n, err := r.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
				for {
					idx := bytes.IndexByte(buf, '\n')
					if idx < 0 {
						break
					}
					onLine(string(buf[:idx]), isStderr)
					buf = buf[idx+1:]
				}
			}
			if err != nil {
				return
			}
		}
	}
	go scan(stdout, false)
	go scan(stderr, true)
	<-done
	<-done
	return c.Wait()
}

// CopyTo copies a local file/directory into the container via "docker cp",
// emitting transfer:start/complete/error.
func (a *Adapter) CopyTo(ctx context.Context, opts xec.DockerOptions, localPath, containerPath string) error {
	started := time.Now()
	a.publishTransfer(xec.EventTransferStart, "upload", localPath, containerPath, nil)
	dest := opts.Container + ":" + containerPath
	if _, err := a.runCLI(ctx, resolveBinary(opts), "cp", localPath, dest); err != nil {
		a.publishTransfer(xec.EventTransferError, "upload", localPath, containerPath, xec.Fields{"error": err.Error()})
		return &xec.TransferError{Direction: "upload", Source: localPath, Destination: containerPath, Cause: err}
	}
	a.publishTransfer(xec.EventTransferComplete, "upload", localPath, containerPath, xec.Fields{"duration": time.Since(started)})
	return nil
}

// CopyFrom copies a file/directory out of the container via "docker cp".
func (a *Adapter) CopyFrom(ctx context.Context, opts xec.DockerOptions, containerPath, localPath string) error {
	started := time.Now()
	a.publishTransfer(xec.EventTransferStart, "download", containerPath, localPath, nil)
	src := opts.Container + ":" + containerPath
	if _, err := a.runCLI(ctx, resolveBinary(opts), "cp", src, localPath); err != nil {
		a.publishTransfer(xec.EventTransferError, "download", containerPath, localPath, xec.Fields{"error": err.Error()})
		return &xec.TransferError{Direction: "download", Source: containerPath, Destination: localPath, Cause: err}
	}
	a.publishTransfer(xec.EventTransferComplete, "download", containerPath, localPath, xec.Fields{"duration": time.Since(started)})
	return nil
}

// Commit creates an image from a container's current state.
func (a *Adapter) Commit(ctx context.Context, opts xec.DockerOptions, tag string) error {
	_, err := a.runCLI(ctx, resolveBinary(opts), "commit", opts.Container, tag)
	return err
}

// GetIPAddress returns a container's primary network IP address.
func (a *Adapter) GetIPAddress(ctx context.Context, opts xec.DockerOptions) (string, error) {
	format := "{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}"
	out, err := a.runCLI(ctx, resolveBinary(opts), "inspect", "-f", format, opts.Container)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// WaitForPort polls until a TCP dial inside the container's network
// namespace (via GetIPAddress + a local dial) succeeds or ctx is done.
func (a *Adapter) WaitForPort(ctx context.Context, opts xec.DockerOptions, port int, interval time.Duration) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ip, err := a.GetIPAddress(ctx, opts)
		if err == nil && ip != "" {
			if dialTCP(ip, port) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForLog polls container logs until substr appears or ctx is done.
func (a *Adapter) WaitForLog(ctx context.Context, opts xec.DockerOptions, substr string, interval time.Duration) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		out, err := a.Logs(ctx, opts, 0)
		if err == nil && strings.Contains(string(out), substr) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForHealthy polls a container's healthcheck status until "healthy" or
// ctx is done.
func (a *Adapter) WaitForHealthy(ctx context.Context, opts xec.DockerOptions, interval time.Duration) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		info, err := a.Inspect(ctx, opts)
		if err == nil {
			if state, ok := info["State"].(map[string]any); ok {
				if health, ok := state["Health"].(map[string]any); ok {
					if status, _ := health["Status"].(string); status == "healthy" {
						return nil
					}
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Adapter) publishTransfer(name xec.EventName, direction, source, destination string, extra xec.Fields) {
	if a.bus == nil {
		return
	}
	fields := xec.Fields{"direction": direction, "source": source, "destination": destination}
	for k, v := range extra {
		fields[k] = v
	}
	a.bus.Publish(xec.Event{Name: name, Timestamp: time.Now(), Adapter: xec.AdapterDocker, Fields: fields})
}
