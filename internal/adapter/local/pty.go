// SPDX-License-Identifier: MPL-2.0

package local

import (
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"

	"github.com/xecgo/xec/internal/streamio"
)

// startPty starts c attached to a new pseudo-terminal instead of plain
// pipes, for Command.Interactive. The pty merges stdout and stderr onto a
// single stream, same as a real terminal session, so stderrSink is left
// empty; the caller's os.Stdin is copied in and the combined output is
// copied to both os.Stdout and stdoutSink.
func startPty(c *exec.Cmd, stdoutSink *streamio.CaptureSink) (*os.File, error) {
	ptmx, err := pty.Start(c)
	if err != nil {
		return nil, err
	}
	go io.Copy(ptmx, os.Stdin)
	go io.Copy(io.MultiWriter(os.Stdout, stdoutSink), ptmx)
	return ptmx, nil
}
