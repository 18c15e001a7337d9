// SPDX-License-Identifier: MPL-2.0

package docker

import (
	"fmt"
	"os/exec"

	"github.com/xecgo/xec/pkg/xec"
)

// ResolveBinary returns the CLI binary to invoke: opts.Binary verbatim if
// set, else "docker" if present on PATH, else "podman". Exported for the
// remote-docker adapter, which builds the same argv but runs it over SSH
// instead of a local subprocess.
func ResolveBinary(opts xec.DockerOptions) string { return resolveBinary(opts) }

// BuildArgs builds the full docker/podman argv (run or exec, depending on
// whether opts.Container or opts.Image is set) for command. cmdEnv is the
// command's own env (may be nil); its keys take precedence over
// opts.Env per xec's "command env > adapter default env" rule. Exported for
// the remote-docker adapter.
func BuildArgs(opts xec.DockerOptions, command []string, stdinAttached bool, cmdEnv *xec.Env) ([]string, error) {
	env := mergedEnv(opts.Env, cmdEnv)
	switch {
	case opts.Container != "":
		return execArgs(opts, env, command, stdinAttached), nil
	case opts.Image != "":
		return runArgs(opts, env, command), nil
	default:
		return nil, &xec.ValidationError{Reason: "DockerOptions requires Container or Image"}
	}
}

// mergedEnv overlays override (a command's own xec.Env) onto base
// (DockerOptions.Env, the adapter-level default), with override's keys
// winning on conflict. Returns base unchanged when override is empty, so
// callers that never set Command.Env see no behavior change.
func mergedEnv(base map[string]string, override *xec.Env) map[string]string {
	if override == nil || override.Len() == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+override.Len())
	for k, v := range base {
		merged[k] = v
	}
	for _, k := range override.Keys() {
		v, _ := override.Get(k)
		merged[k] = v
	}
	return merged
}

// resolveBinary returns the CLI binary to invoke: opts.Binary verbatim if
// set, else "docker" if present on PATH, else "podman".
func resolveBinary(opts xec.DockerOptions) string {
	if opts.Binary != "" {
		return opts.Binary
	}
	if _, err := exec.LookPath("docker"); err == nil {
		return "docker"
	}
	return "podman"
}

// runArgs builds "run" arguments for an ephemeral container per opts,
// ending with the image and the command to execute inside it. env is the
// already-merged env (opts.Env overridden by the command's own Env).
func runArgs(opts xec.DockerOptions, env map[string]string, command []string) []string {
	args := []string{"run"}

	if opts.AutoRemove {
		args = append(args, "--rm")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.Workdir != "" {
		args = append(args, "-w", opts.Workdir)
	}
	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}
	if opts.TTY {
		args = append(args, "-t")
	}
	args = append(args, "-i")

	if opts.Network != "" {
		args = append(args, "--network", opts.Network)
	}
	if opts.Hostname != "" {
		args = append(args, "-h", opts.Hostname)
	}
	if opts.Memory != "" {
		args = append(args, "-m", opts.Memory)
	}
	if opts.CPUs != "" {
		args = append(args, "--cpus", opts.CPUs)
	}
	if opts.Privileged {
		args = append(args, "--privileged")
	}
	if opts.RestartPolicy != "" {
		args = append(args, "--restart", opts.RestartPolicy)
	}
	for _, c := range opts.CapAdd {
		args = append(args, "--cap-add", c)
	}
	for k, v := range opts.Labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	if opts.EnvFile != "" {
		args = append(args, "--env-file", opts.EnvFile)
	}
	for _, v := range opts.Volumes {
		args = append(args, "-v", formatVolumeMount(v))
	}
	for _, p := range opts.Ports {
		args = append(args, "-p", formatPortMapping(p))
	}
	if opts.Healthcheck != nil {
		args = append(args, healthcheckArgs(opts.Healthcheck)...)
	}
	if len(opts.Entrypoint) > 0 {
		args = append(args, "--entrypoint", opts.Entrypoint[0])
	}

	args = append(args, opts.Image)
	if len(opts.Entrypoint) > 1 {
		args = append(args, opts.Entrypoint[1:]...)
	}
	args = append(args, command...)
	return args
}

// createArgs builds "create" arguments for a container declared but not yet
// started: exactly runArgs's flags with the subcommand swapped to "create",
// so -i (and -t when TTY is set) are kept as well. There is no Command in
// play yet at declare-time, so only opts.Env applies.
func createArgs(opts xec.DockerOptions) []string {
	args := runArgs(opts, opts.Env, nil)
	args[0] = "create"
	return args
}

// execArgs builds "exec" arguments against an existing container. env is
// the already-merged env (opts.Env overridden by the command's own Env).
func execArgs(opts xec.DockerOptions, env map[string]string, command []string, stdinAttached bool) []string {
	args := []string{"exec"}
	if stdinAttached {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}
	if opts.Workdir != "" {
		args = append(args, "-w", opts.Workdir)
	}
	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}
	for k, v := range env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, opts.Container)
	args = append(args, command...)
	return args
}

func healthcheckArgs(h *xec.HealthcheckSpec) []string {
	var args []string
	if len(h.Cmd) > 0 {
		args = append(args, "--health-cmd", shJoin(h.Cmd))
	}
	if h.Interval != "" {
		args = append(args, "--health-interval", h.Interval)
	}
	if h.Timeout != "" {
		args = append(args, "--health-timeout", h.Timeout)
	}
	if h.Retries > 0 {
		args = append(args, "--health-retries", fmt.Sprintf("%d", h.Retries))
	}
	return args
}

func shJoin(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

func formatVolumeMount(v xec.VolumeMount) string {
	s := v.HostPath + ":" + v.ContainerPath
	mode := ""
	if v.ReadOnly {
		mode = "ro"
	}
	if v.SELinux != "" {
		if mode != "" {
			mode += ","
		}
		mode += v.SELinux
	}
	if mode != "" {
		s += ":" + mode
	}
	return s
}

func formatPortMapping(p xec.PortMapping) string {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	s := fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort)
	if proto != "tcp" {
		s += "/" + proto
	}
	return s
}
