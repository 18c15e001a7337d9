// SPDX-License-Identifier: MPL-2.0

// Package eventbus implements the engine's typed publish/subscribe bus:
// synchronous dispatch with respect to the emitting call site, wildcard
// pattern subscription ("group:*", "*"), and a handler_error event raised
// when a subscriber panics instead of letting the panic propagate into the
// emitter.
package eventbus
