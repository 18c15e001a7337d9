// SPDX-License-Identifier: MPL-2.0

// Package streamio implements the engine's stream plumbing: capturing stdio
// into in-memory sinks, tee-ing a stream to both a capture buffer and an
// external io.Writer, splitting a byte stream into lines in source order,
// and piping one process's stdout into another's stdin.
package streamio
