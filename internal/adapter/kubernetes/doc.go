// SPDX-License-Identifier: MPL-2.0

// Package kubernetes implements command execution inside pods by shelling
// out to kubectl: exec, log following, port-forward, and cp, built the same
// CLI-arg-construction way as the Docker adapter since kubectl's surface for
// these operations mirrors docker/podman's.
package kubernetes
