// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/xecgo/xec/internal/adapter"
	"github.com/xecgo/xec/pkg/xec"
)

// MockAdapter is a test double implementing the Adapter interface:
// WithMockAdapter(m) makes autodetection (Command.Adapter left at
// xec.AdapterAuto) prefer it over local, and Engine tests can register
// canned responses instead of spawning real processes.
type MockAdapter struct {
	mu sync.Mutex

	// Responder, if set, computes a result for each Execute call. It takes
	// priority over a fixed Result/Err pair.
	Responder func(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error)

	// Result/Err are used when Responder is nil. Execute returns a copy of
	// Result with Command, StartedAt and FinishedAt filled in; if that
	// copy is not Ok, Err is nil and the command is not Nothrow, the error
	// is a CommandFailureError, otherwise it is Err. A nil Result yields
	// (nil, Err).
	Result *xec.ExecutionResult
	Err    error

	calls []*xec.Command
}

var _ adapter.Adapter = (*MockAdapter)(nil)

// NewMockAdapter constructs a MockAdapter that, absent further
// configuration, returns a zero-exit-code empty result for every command.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{Result: &xec.ExecutionResult{Adapter: xec.AdapterMock}}
}

// Kind returns xec.AdapterMock.
func (m *MockAdapter) Kind() xec.AdapterKind { return xec.AdapterMock }

// Capabilities reports every optional feature as supported, so tests
// exercising adapter-capability gating can opt a mock in freely.
func (m *MockAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Streaming: true, TTY: true, Transfer: true, Tunnel: true, PortForward: true, Health: true}
}

// IsAvailable always reports true.
func (m *MockAdapter) IsAvailable(ctx context.Context) bool { return true }

// Dispose is a no-op.
func (m *MockAdapter) Dispose(ctx context.Context) error { return nil }

// Execute records cmd and returns the configured Responder's result, or the
// fixed Result/Err pair.
func (m *MockAdapter) Execute(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	responder := m.Responder
	result, err := m.Result, m.Err
	m.mu.Unlock()

	if responder != nil {
		return responder(ctx, cmd)
	}
	if result != nil {
		out := *result
		out.Command = cmd.String()
		out.StartedAt = time.Now()
		out.FinishedAt = out.StartedAt
		if !out.Ok() && !cmd.Nothrow && err == nil {
			return &out, &xec.CommandFailureError{Result: &out}
		}
		return &out, err
	}
	return nil, err
}

// Calls returns every Command previously passed to Execute, in order.
func (m *MockAdapter) Calls() []*xec.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*xec.Command, len(m.calls))
	copy(out, m.calls)
	return out
}
