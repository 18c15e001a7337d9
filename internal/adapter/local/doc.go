// SPDX-License-Identifier: MPL-2.0

// Package local implements the local-host adapter: spawns a child process
// via os/exec, honoring cwd, merged env, shell-line-vs-argv dispatch, stdin
// mode, and timeout-then-grace-then-SIGKILL escalation. Command.Interactive
// attaches the child to a
// pseudo-terminal instead of pipes, for full-screen or prompt-driven
// programs.
package local
