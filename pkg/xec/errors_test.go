// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"errors"
	"testing"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection error", &ConnectionError{Host: "h", Cause: errors.New("refused")}, true},
		{"timeout error", &TimeoutError{Command: "c"}, true},
		{"adapter unavailable", &AdapterUnavailableError{Adapter: AdapterDocker}, true},
		{"resource exhausted", &ResourceExhaustedError{Resource: "ssh-pool", Limit: 4}, true},
		{"authentication error", &AuthenticationError{Host: "h"}, false},
		{"validation error", &ValidationError{Reason: "bad"}, false},
		{"command failure", &CommandFailureError{Result: &ExecutionResult{ExitCode: 1}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestConnectionError_UnwrapsToSentinel(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := &ConnectionError{Host: "db.internal", Cause: cause}

	if !errors.Is(err, ErrConnection) {
		t.Fatal("expected errors.Is to match ErrConnection")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestCommandFailureError_Message(t *testing.T) {
	t.Parallel()

	exitErr := &CommandFailureError{Result: &ExecutionResult{Command: "false", ExitCode: 1}}
	if got := exitErr.Error(); got != `command "false" exited with code 1` {
		t.Fatalf("unexpected message: %q", got)
	}

	signalErr := &CommandFailureError{Result: &ExecutionResult{Command: "sleep 10", Signal: "SIGKILL"}}
	if got := signalErr.Error(); got != `command "sleep 10" killed by signal SIGKILL` {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	t.Parallel()

	err := &ValidationError{Reason: "exactly one of Program or ShellLine must be set"}
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected errors.Is to match ErrValidation")
	}
}
