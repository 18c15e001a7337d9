// SPDX-License-Identifier: MPL-2.0

package kubernetes

import (
	"strconv"

	"github.com/xecgo/xec/pkg/xec"
)

func globalFlags(opts xec.KubernetesOptions) []string {
	var args []string
	if opts.Kubeconfig != "" {
		args = append(args, "--kubeconfig", opts.Kubeconfig)
	}
	if opts.Context != "" {
		args = append(args, "--context", opts.Context)
	}
	args = append(args, "-n", opts.EffectiveNamespace())
	return args
}

// targetArgs resolves either a pod name or a label selector into the flags
// kubectl expects, in that order of preference.
func targetArgs(opts xec.KubernetesOptions) []string {
	if opts.Pod != "" {
		return []string{opts.Pod}
	}
	return []string{"-l", opts.Selector}
}

// execArgs builds "exec" arguments for running command inside a pod.
func execArgs(opts xec.KubernetesOptions, command []string, stdinAttached bool) []string {
	args := []string{"exec"}
	args = append(args, globalFlags(opts)...)
	if stdinAttached || opts.Stdin {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}
	if opts.Container != "" {
		args = append(args, "-c", opts.Container)
	}
	args = append(args, opts.ExecFlags...)
	args = append(args, targetArgs(opts)...)
	args = append(args, "--")
	args = append(args, command...)
	return args
}

// logsArgs builds "logs" arguments, optionally following.
func logsArgs(opts xec.KubernetesOptions, follow bool, tail int) []string {
	args := []string{"logs"}
	args = append(args, globalFlags(opts)...)
	if opts.Container != "" {
		args = append(args, "-c", opts.Container)
	}
	if follow {
		args = append(args, "-f")
	}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	args = append(args, targetArgs(opts)...)
	return args
}

// portForwardArgs builds "port-forward" arguments for a local:remote pair.
// localPort == 0 requests a dynamic, OS-assigned local port ("kubectl
// port-forward POD :REMOTE"), which kubectl reports back on stdout as
// "Forwarding from 127.0.0.1:<port> -> <remote>".
func portForwardArgs(opts xec.KubernetesOptions, localPort, remotePort int) []string {
	args := []string{"port-forward"}
	args = append(args, globalFlags(opts)...)
	args = append(args, targetArgs(opts)...)
	spec := strconv.Itoa(remotePort)
	if localPort > 0 {
		spec = strconv.Itoa(localPort) + ":" + spec
	} else {
		spec = ":" + spec
	}
	args = append(args, spec)
	return args
}

// cpArgs builds "cp" arguments between a local path and pod:path.
func cpArgs(opts xec.KubernetesOptions, src, dst string) []string {
	args := []string{"cp"}
	args = append(args, globalFlags(opts)...)
	if opts.Container != "" {
		args = append(args, "-c", opts.Container)
	}
	args = append(args, src, dst)
	return args
}
