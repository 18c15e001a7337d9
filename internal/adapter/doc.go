// SPDX-License-Identifier: MPL-2.0

// Package adapter defines the uniform backend interface implemented by the
// local, SSH, Docker, Kubernetes, and remote-docker adapters under its
// sibling packages, plus the capability set each adapter advertises and the
// autodetect fallback order.
package adapter
