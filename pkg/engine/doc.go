// SPDX-License-Identifier: MPL-2.0

// Package engine is the front door of the execution engine: it builds a
// Command against a context (cwd/env/shell/timeout/adapter), resolves which
// Adapter runs it, and wraps dispatch with the cache and retry decorators
// before returning a ProcessPromise. Everything under internal/adapter,
// internal/eventbus, internal/cache, and internal/retryx is reached only
// through this package and github.com/xecgo/xec/pkg/xec's value types.
package engine
