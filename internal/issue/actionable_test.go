// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewErrorContext().
		WithOperation("connect to host").
		WithResource("db.internal:22").
		WithSuggestion("check that the SSH agent is running").
		Wrap(cause).
		BuildError()

	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if !strings.Contains(err.Error(), "connect to host") {
		t.Errorf("error message missing operation: %q", err.Error())
	}
	if !strings.Contains(err.Error(), "db.internal:22") {
		t.Errorf("error message missing resource: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorContext_BuildError_NoOperation(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().WithResource("x").BuildError()
	if err != nil {
		t.Errorf("expected nil error when operation is unset, got %v", err)
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().
		WithOperation("acquire connection").
		WithSuggestion("increase max_total").
		WithSuggestion("reduce concurrent commands").
		Wrap(errors.New("pool exhausted")).
		Build()

	concise := err.Format(false)
	if !strings.Contains(concise, "increase max_total") {
		t.Errorf("concise format missing suggestion: %q", concise)
	}

	verbose := err.Format(true)
	if !strings.Contains(verbose, "Error chain:") {
		t.Errorf("verbose format missing error chain header: %q", verbose)
	}
}

func TestActionableError_HasSuggestions(t *testing.T) {
	t.Parallel()

	withSug := NewErrorContext().WithOperation("x").WithSuggestion("y").Build()
	if !withSug.HasSuggestions() {
		t.Error("expected HasSuggestions to be true")
	}

	withoutSug := NewErrorContext().WithOperation("x").Build()
	if withoutSug.HasSuggestions() {
		t.Error("expected HasSuggestions to be false")
	}
}
