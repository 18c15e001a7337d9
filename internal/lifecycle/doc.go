// SPDX-License-Identifier: MPL-2.0

// Package lifecycle provides a small state-machine helper for the engine's
// managed resources; in this module its user is the Docker adapter's
// Container handle. Each resource declares its own state enum
// and transition table; Machine only supplies the atomic storage and the
// race-free transition guard, adapted from the server lifecycle helper this
// module's longer-running components have always used.
package lifecycle
