// SPDX-License-Identifier: MPL-2.0

// Package xec is the public surface of the execution engine: the Command and
// ExecutionResult value types, the adapter addressing options, the retry and
// cache policies, the event catalogue, and the tagged-string command builder.
//
// The engine itself (adapter dispatch, connection pooling, the
// ProcessPromise runtime) lives in github.com/xecgo/xec/pkg/engine, which
// builds Command values out of the types in this package and reaches the
// adapters under internal/ on the caller's behalf.
package xec
