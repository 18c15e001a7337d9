// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is a resource's lifecycle state, represented as a small integer so
// each resource (tunnel, pooled connection, container) can define its own
// enum without this package knowing its members.
type State int32

// Transitions is a transition table: Transitions[from] lists the states
// reachable directly from from. A Machine with a nil or missing entry for a
// state treats that state as having no legal outgoing transitions.
type Transitions map[State][]State

// Machine guards a resource's state with lock-free reads and a
// mutex-serialized transition check, mirroring the atomic-state-plus-mutex
// pattern used elsewhere in this module for long-running components.
type Machine struct {
	transitions Transitions

	state atomic.Int32
	mu    sync.Mutex
}

// NewMachine constructs a Machine starting in initial, allowed to move
// between states only along the edges in transitions.
func NewMachine(initial State, transitions Transitions) *Machine {
	m := &Machine{transitions: transitions}
	m.state.Store(int32(initial))
	return m
}

// State returns the current state without blocking on in-flight
// transitions.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Transition moves the machine from its current state to to, failing if to
// is not a legal successor of the current state. The check-and-set is
// atomic with respect to concurrent Transition callers.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := State(m.state.Load())
	for _, next := range m.transitions[from] {
		if next == to {
			m.state.Store(int32(to))
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// TransitionError reports an illegal state transition attempt.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: illegal transition from %d to %d", e.From, e.To)
}
