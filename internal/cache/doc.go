// SPDX-License-Identifier: MPL-2.0

// Package cache implements the engine's execution result cache: a
// fingerprinted, keyed store with TTL expiry, invalidation tags,
// size-bounded LRU eviction, and single-flight coalescing of concurrent
// builders for the same key via golang.org/x/sync/singleflight.
package cache
