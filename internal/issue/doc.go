// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// This package defines error types that include remediation steps, improving
// the diagnostic experience for callers that surface errors raised by the
// execution engine and its adapters.
package issue
