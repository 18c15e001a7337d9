// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/xecgo/xec/pkg/xec"
)

func TestProcessPromise_WaitSettlesOnce(t *testing.T) {
	t.Parallel()

	mock := NewMockAdapter()
	mock.Result = &xec.ExecutionResult{ExitCode: 0, Stdout: []byte("ok")}
	e := New(WithMockAdapter(mock))
	defer e.Dispose(context.Background())

	p := e.Spawn(context.Background(), &xec.Command{Program: "true"})
	first, err1 := p.Wait(context.Background())
	second, err2 := p.Wait(context.Background())

	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if first != second {
		t.Fatalf("expected the same settled result both times")
	}
	if len(mock.Calls()) != 1 {
		t.Fatalf("expected exactly one Execute call, got %d", len(mock.Calls()))
	}
}

func TestProcessPromise_MutatorsRejectedAfterSpawn(t *testing.T) {
	t.Parallel()

	mock := NewMockAdapter()
	e := New(WithMockAdapter(mock))
	defer e.Dispose(context.Background())

	p := e.Command(&xec.Command{Program: "true"})
	p.Go(context.Background())
	p.Cwd("/tmp")

	if _, err := p.Wait(context.Background()); err == nil {
		t.Fatal("expected an error from mutating after spawn")
	}
}

func TestProcessPromise_CommandFailureSurfacesResult(t *testing.T) {
	t.Parallel()

	mock := NewMockAdapter()
	mock.Result = &xec.ExecutionResult{ExitCode: 1, Stdout: []byte("partial")}
	e := New(WithMockAdapter(mock))
	defer e.Dispose(context.Background())

	result, err := e.Run(context.Background(), &xec.Command{Program: "false"})
	if err == nil {
		t.Fatal("expected a CommandFailureError")
	}
	var cfe *xec.CommandFailureError
	if !errors.As(err, &cfe) {
		t.Fatalf("expected *xec.CommandFailureError, got %T", err)
	}
	if result == nil || result.StdoutText() != "partial" {
		t.Fatalf("expected the partial result alongside the error, got %+v", result)
	}
}

func TestProcessPromise_NothrowSettlesWithoutError(t *testing.T) {
	t.Parallel()

	mock := NewMockAdapter()
	mock.Result = &xec.ExecutionResult{ExitCode: 1}
	e := New(WithMockAdapter(mock))
	defer e.Dispose(context.Background())

	result, err := e.Run(context.Background(), &xec.Command{Program: "false", Nothrow: true})
	if err != nil {
		t.Fatalf("expected no error with Nothrow set, got %v", err)
	}
	if result.Ok() {
		t.Fatal("expected a non-ok result")
	}
}

func TestProcessPromise_TextLinesJSON(t *testing.T) {
	t.Parallel()

	mock := NewMockAdapter()
	mock.Result = &xec.ExecutionResult{Stdout: []byte("a\nb\nc")}
	e := New(WithMockAdapter(mock))
	defer e.Dispose(context.Background())

	t.Run("text", func(t *testing.T) {
		text, err := e.Spawn(context.Background(), &xec.Command{Program: "x"}).Text(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text != "a\nb\nc" {
			t.Fatalf("text = %q", text)
		}
	})

	t.Run("lines", func(t *testing.T) {
		lines, err := e.Spawn(context.Background(), &xec.Command{Program: "x"}).Lines(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"a", "b", "c"}
		if len(lines) != len(want) {
			t.Fatalf("lines = %v, want %v", lines, want)
		}
		for i := range want {
			if lines[i] != want[i] {
				t.Fatalf("lines = %v, want %v", lines, want)
			}
		}
	})

	t.Run("json decode error is a DecoderError", func(t *testing.T) {
		var v map[string]any
		err := e.Spawn(context.Background(), &xec.Command{Program: "x"}).JSON(context.Background(), &v)
		if err == nil {
			t.Fatal("expected a decode error for non-JSON stdout")
		}
		var de *xec.DecoderError
		if !errors.As(err, &de) {
			t.Fatalf("expected *xec.DecoderError, got %T", err)
		}
	})
}

func TestProcessPromise_StdinBufferedThenFlushed(t *testing.T) {
	t.Parallel()

	var gotStdin []byte
	mock := NewMockAdapter()
	mock.Responder = func(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error) {
		if cmd.StdinReader != nil {
			gotStdin, _ = io.ReadAll(cmd.StdinReader)
		}
		return &xec.ExecutionResult{}, nil
	}
	e := New(WithMockAdapter(mock))
	defer e.Dispose(context.Background())

	p := e.Command(&xec.Command{Program: "cat"})
	stdin := p.Stdin()
	if _, err := stdin.Write([]byte("hello")); err != nil {
		t.Fatalf("buffered write: %v", err)
	}
	p.Go(context.Background())
	stdin.Close()

	if _, err := p.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(gotStdin) != "hello" {
		t.Fatalf("stdin seen by adapter = %q, want %q", gotStdin, "hello")
	}
}

func TestProcessPromise_PipeToSink(t *testing.T) {
	t.Parallel()

	mock := NewMockAdapter()
	mock.Result = &xec.ExecutionResult{Stdout: []byte("piped")}
	e := New(WithMockAdapter(mock))
	defer e.Dispose(context.Background())

	var sink writeBuffer
	result := e.Spawn(context.Background(), &xec.Command{Program: "x"}).Pipe(context.Background(), &sink)
	if _, err := result.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.String() != "piped" {
		t.Fatalf("sink = %q, want %q", sink.String(), "piped")
	}
}

func TestProcessPromise_PipeToTemplate(t *testing.T) {
	t.Parallel()

	mock := NewMockAdapter()
	mock.Responder = func(ctx context.Context, cmd *xec.Command) (*xec.ExecutionResult, error) {
		if cmd.Program == "upstream" {
			return &xec.ExecutionResult{Stdout: []byte("needle\n")}, nil
		}
		return &xec.ExecutionResult{Stdout: cmd.StdinBytes}, nil
	}
	e := New(WithMockAdapter(mock))
	defer e.Dispose(context.Background())

	downstream := e.Spawn(context.Background(), &xec.Command{Program: "upstream"}).
		Pipe(context.Background(), Template(func(input []byte) *xec.Command {
			return &xec.Command{Program: "grep", Args: []string{"needle"}, StdinMode: xec.StdinBytes, StdinBytes: input}
		}))

	result, err := downstream.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StdoutText() != "needle\n" {
		t.Fatalf("downstream stdout = %q", result.StdoutText())
	}
}

// writeBuffer is a minimal io.Writer double; avoids pulling in bytes.Buffer
// just to prove Pipe reaches an arbitrary sink.
type writeBuffer struct {
	data []byte
}

func (w *writeBuffer) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *writeBuffer) String() string { return string(w.data) }
