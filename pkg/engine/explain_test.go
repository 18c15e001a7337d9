// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"strings"
	"testing"

	"github.com/xecgo/xec/pkg/xec"
)

func TestExplain_NilErrorIsEmptyString(t *testing.T) {
	t.Parallel()

	if got := Explain(nil); got != "" {
		t.Fatalf("Explain(nil) = %q, want empty string", got)
	}
}

func TestExplain_AdapterUnavailableMentionsReason(t *testing.T) {
	t.Parallel()

	err := &xec.AdapterUnavailableError{Adapter: xec.AdapterDocker, Reason: `binary "docker" not found`}
	got := Explain(err)
	if !strings.Contains(got, "docker") {
		t.Fatalf("Explain output = %q, want it to mention the adapter", got)
	}
	if !strings.Contains(got, "PATH") {
		t.Fatalf("Explain output = %q, want a suggestion about PATH", got)
	}
}

func TestExplain_CommandFailureMentionsCommand(t *testing.T) {
	t.Parallel()

	err := &xec.CommandFailureError{Result: &xec.ExecutionResult{Command: "false", ExitCode: 1}}
	got := Explain(err)
	if !strings.Contains(got, "false") {
		t.Fatalf("Explain output = %q, want it to mention the command", got)
	}
}

func TestExplain_TimeoutMentionsDuration(t *testing.T) {
	t.Parallel()

	err := &xec.TimeoutError{Command: "sleep 10", Timeout: 5_000_000_000}
	got := Explain(err)
	if !strings.Contains(got, "5s") {
		t.Fatalf("Explain output = %q, want it to mention the 5s timeout", got)
	}
}

func TestExplain_UnknownErrorStillProducesOutput(t *testing.T) {
	t.Parallel()

	got := Explain(errNotInTaxonomy{})
	if got == "" {
		t.Fatal("expected non-empty output even for an error outside the closed taxonomy")
	}
}

type errNotInTaxonomy struct{}

func (errNotInTaxonomy) Error() string { return "something unusual happened" }
