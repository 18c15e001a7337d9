// SPDX-License-Identifier: MPL-2.0

// Package ssh implements command execution over remote hosts via
// golang.org/x/crypto/ssh: a connection pool keyed by host/port/user/auth
// fingerprint with idle eviction and keepalive health checks,
// exponential-backoff reconnect, local port-forward tunnels, and SFTP file
// transfer via github.com/pkg/sftp.
package ssh
