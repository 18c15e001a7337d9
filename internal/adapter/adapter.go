// SPDX-License-Identifier: MPL-2.0

package adapter

import (
	"context"

	"github.com/xecgo/xec/pkg/xec"
)

// Capabilities declares which optional features an adapter supports. The
// engine consults this before wiring progress/tunnel/transfer behavior that
// an adapter cannot honor.
type Capabilities struct {
	Streaming   bool
	TTY         bool
	Transfer    bool
	Tunnel      bool
	PortForward bool
	Health      bool
}

// Adapter executes a Command against one kind of target environment. Every
// method must be safe for concurrent use: the engine may dispatch many
// Commands through the same Adapter instance at once.
type Adapter interface {
	// Kind identifies which AdapterKind this instance implements.
	Kind() xec.AdapterKind

	// Execute runs cmd to completion (or until cmd.Cancel fires, or the
	// context is done) and returns the settled result. Execute does not
	// itself apply cmd.Retry or cmd.Cache; the engine wraps those around
	// the call.
	Execute(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error)

	// IsAvailable reports whether this adapter's backend (a binary, a
	// reachable daemon, a resolvable host) is currently usable.
	IsAvailable(ctx context.Context) bool

	// Capabilities reports this adapter's supported feature set.
	Capabilities() Capabilities

	// Dispose releases any resources the adapter holds (pools, cached
	// connections, background goroutines). Safe to call more than once.
	Dispose(ctx context.Context) error
}

// Autodetect resolves Command.Adapter == xec.AdapterAuto to a concrete
// adapter. It never speculatively selects SSH, Docker, or Kubernetes: those
// require addressing information the command itself must carry via
// AdapterOptions, so an explicit Adapter value is required to reach them.
// It tries mock first (only if one was registered) then always falls back
// to local.
func Autodetect(mock, local Adapter) Adapter {
	if mock != nil {
		return mock
	}
	return local
}
