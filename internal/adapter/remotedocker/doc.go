// SPDX-License-Identifier: MPL-2.0

// Package remotedocker composes the SSH and Docker adapters: it builds the
// same docker/podman argv the Docker adapter would run locally, then
// executes that line as a remote shell command over a pooled SSH
// connection, so a Docker daemon reachable only from a bastion or remote
// host can be driven without a local docker CLI or daemon.
package remotedocker
