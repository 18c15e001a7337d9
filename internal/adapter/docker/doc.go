// SPDX-License-Identifier: MPL-2.0

// Package docker implements command execution against Docker (and
// Podman-compatible) containers by shelling out to the CLI: "exec" against
// an existing container, "run" to create and use an ephemeral one, plus the
// container lifecycle operations (start, stop, restart, pause, kill,
// remove, inspect, logs, cp) needed to manage what it creates.
package docker
