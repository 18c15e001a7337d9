// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/xecgo/xec/pkg/xec"
)

func TestMockAdapter_FixedErrIsReturnedVerbatim(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("boom")
	m := NewMockAdapter()
	m.Result = nil
	m.Err = sentinel

	_, err := m.Execute(context.Background(), &xec.Command{Program: "x"})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestMockAdapter_RecordsCallsInOrder(t *testing.T) {
	t.Parallel()

	m := NewMockAdapter()
	for _, name := range []string{"one", "two", "three"} {
		if _, err := m.Execute(context.Background(), &xec.Command{Program: name}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	calls := m.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	for i, name := range []string{"one", "two", "three"} {
		if calls[i].Program != name {
			t.Fatalf("call %d = %q, want %q", i, calls[i].Program, name)
		}
	}
}

func TestMockAdapter_CapabilitiesReportEverythingSupported(t *testing.T) {
	t.Parallel()

	caps := NewMockAdapter().Capabilities()
	if !caps.Streaming || !caps.TTY || !caps.Transfer || !caps.Tunnel || !caps.PortForward || !caps.Health {
		t.Fatalf("expected every capability enabled, got %+v", caps)
	}
}
