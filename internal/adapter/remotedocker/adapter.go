// SPDX-License-Identifier: MPL-2.0

package remotedocker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xecgo/xec/internal/adapter"
	"github.com/xecgo/xec/internal/adapter/docker"
	"github.com/xecgo/xec/internal/adapter/ssh"
	"github.com/xecgo/xec/internal/eventbus"
	"github.com/xecgo/xec/pkg/xec"
)

// Adapter executes commands against a Docker/Podman daemon reachable only
// from a remote host, by composing an ssh.Adapter (for the connection and
// command execution) with the Docker adapter's argv builders (for the
// docker/podman command line itself).
type Adapter struct {
	bus *eventbus.Bus
	ssh *ssh.Adapter
}

// New constructs a remote-docker Adapter backed by its own SSH connection
// pool. bus may be nil to disable event emission.
func New(bus *eventbus.Bus) *Adapter {
	return &Adapter{bus: bus, ssh: ssh.New(bus)}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Kind returns xec.AdapterRemoteDocker.
func (a *Adapter) Kind() xec.AdapterKind { return xec.AdapterRemoteDocker }

// Capabilities reports the feature set available when driving a remote
// Docker daemon over SSH.
func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Streaming: true, TTY: true, Transfer: true}
}

// IsAvailable reports true unconditionally; the SSH host/port is only known
// per-Command, and the remote docker/podman binary's presence is discovered
// at Execute time.
func (a *Adapter) IsAvailable(ctx context.Context) bool { return true }

// Dispose closes every pooled SSH connection.
func (a *Adapter) Dispose(ctx context.Context) error { return a.ssh.Dispose(ctx) }

// Execute builds the docker/podman argv for cmd using opts.Docker, then
// runs it as a single remote shell command over opts.SSH.
func (a *Adapter) Execute(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error) {
	opts, ok := cmd.AdapterOptions.(xec.RemoteDockerOptions)
	if !ok {
		return nil, &xec.ValidationError{Reason: "remote-docker adapter requires xec.RemoteDockerOptions"}
	}

	command := commandFor(cmd)
	stdinAttached := cmd.StdinMode != xec.StdinNone
	args, err := docker.BuildArgs(opts.Docker, command, stdinAttached, cmd.Env)
	if err != nil {
		return nil, err
	}
	line := remoteCommandLine(docker.ResolveBinary(opts.Docker), args)

	eventName := xec.EventDockerExec
	if opts.Docker.Container == "" {
		eventName = xec.EventDockerRun
	}
	a.publish(eventName, opts.SSH.Host, opts.Docker.Container, xec.Fields{
		"command": line, "image": opts.Docker.Image,
	})

	synthetic := &xec.Command{
		ShellLine:      line,
		Shell:          xec.ShellDefault,
		StdinMode:      cmd.StdinMode,
		StdinBytes:     cmd.StdinBytes,
		StdinReader:    cmd.StdinReader,
		Timeout:        cmd.Timeout,
		TimeoutSignal:  cmd.TimeoutSignal,
		Grace:          cmd.Grace,
		Cancel:         cmd.Cancel,
		Nothrow:        cmd.Nothrow,
		Interactive:    cmd.Interactive || opts.Docker.TTY,
		AdapterOptions: opts.SSH,
	}

	result, execErr := a.ssh.Execute(ctx, synthetic)
	if result != nil {
		result.Adapter = xec.AdapterRemoteDocker
		result.Container = opts.Docker.Container
	}
	return result, execErr
}

// CopyTo copies a local file to the remote host via SFTP, then moves it
// into the container with a remote "docker cp" shell command.
func (a *Adapter) CopyTo(ctx context.Context, opts xec.RemoteDockerOptions, localPath, containerPath string) error {
	staging := remoteStagingPath(containerPath)
	if err := a.sftpUpload(ctx, opts.SSH, localPath, staging); err != nil {
		return err
	}
	line := remoteCommandLine(docker.ResolveBinary(opts.Docker), []string{
		"cp", staging, opts.Docker.Container + ":" + containerPath,
	})
	return a.runShell(ctx, opts.SSH, line)
}

// CopyFrom copies a file out of the container onto the remote host with
// "docker cp", then pulls it locally via SFTP.
func (a *Adapter) CopyFrom(ctx context.Context, opts xec.RemoteDockerOptions, containerPath, localPath string) error {
	staging := remoteStagingPath(containerPath)
	line := remoteCommandLine(docker.ResolveBinary(opts.Docker), []string{
		"cp", opts.Docker.Container + ":" + containerPath, staging,
	})
	if err := a.runShell(ctx, opts.SSH, line); err != nil {
		return err
	}
	return a.sftpDownload(ctx, opts.SSH, staging, localPath)
}

func (a *Adapter) runShell(ctx context.Context, sshOpts xec.SSHOptions, line string) error {
	cmd := &xec.Command{ShellLine: line, Shell: xec.ShellDefault, AdapterOptions: sshOpts}
	_, err := a.ssh.Execute(ctx, cmd)
	return err
}

func (a *Adapter) sftpUpload(ctx context.Context, sshOpts xec.SSHOptions, localPath, remotePath string) error {
	client, release, err := a.ssh.DialRaw(ctx, sshOpts)
	if err != nil {
		return err
	}
	defer release()
	return ssh.NewTransfer(a.bus, client).UploadFile(ctx, localPath, remotePath)
}

func (a *Adapter) sftpDownload(ctx context.Context, sshOpts xec.SSHOptions, remotePath, localPath string) error {
	client, release, err := a.ssh.DialRaw(ctx, sshOpts)
	if err != nil {
		return err
	}
	defer release()
	return ssh.NewTransfer(a.bus, client).DownloadFile(ctx, remotePath, localPath)
}

func remoteStagingPath(containerPath string) string {
	base := containerPath
	if idx := strings.LastIndex(containerPath, "/"); idx >= 0 {
		base = containerPath[idx+1:]
	}
	return "/tmp/xec-" + fmt.Sprintf("%d", time.Now().UnixNano()) + "-" + base
}

func remoteCommandLine(binary string, args []string) string {
	var b strings.Builder
	b.WriteString(binary)
	for _, arg := range args {
		b.WriteString(" ")
		b.WriteString(xec.Sh([]string{"", ""}, arg))
	}
	return b.String()
}

func commandFor(cmd *xec.Command) []string {
	if cmd.HasShellLine() {
		return []string{"sh", "-c", cmd.ShellLine}
	}
	return append([]string{cmd.Program}, cmd.Args...)
}

func (a *Adapter) publish(name xec.EventName, host, container string, fields xec.Fields) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(xec.Event{
		Name: name, Timestamp: time.Now(), Adapter: xec.AdapterRemoteDocker,
		Host: host, Container: container, Fields: fields,
	})
}
