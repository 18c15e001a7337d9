// SPDX-License-Identifier: MPL-2.0

package xec

import "time"

// CachePolicy configures result memoization for a Command. The engine keys
// the cache on a fingerprint of the resolved Command (program/args/shell
// line, cwd, env, adapter, and adapter options) unless Key overrides it, and
// coalesces concurrent callers sharing a key through a single in-flight
// builder (golang.org/x/sync/singleflight).
type CachePolicy struct {
	// Key overrides the default fingerprint. Leave empty to let the engine
	// derive one from the Command's resolved fields.
	Key string

	// TTL is how long a cached ExecutionResult remains valid. Zero means
	// the entry never expires on its own (only eviction or invalidation
	// removes it).
	TTL time.Duration

	// Tags are invalidation labels; Invalidate(tag) evicts every entry
	// carrying that tag.
	Tags []string

	// RefreshOnHit resets the TTL clock whenever a cached entry is served.
	RefreshOnHit bool
}
