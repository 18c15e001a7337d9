// SPDX-License-Identifier: MPL-2.0

package streamio

import (
	"bufio"
	"io"
)

// LineWriter splits a byte stream into lines (stripping the trailing "\n" or
// "\r\n") and invokes onLine for each, in the order bytes were written. It
// implements io.Writer so it can sit alongside a CaptureSink in an
// io.MultiWriter without disturbing the raw capture.
//
// LineWriter buffers a partial final line until Close is called, at which
// point it is flushed to onLine even without a trailing newline.
type LineWriter struct {
	onLine func(line string)
	pw     *io.PipeWriter
	done   chan struct{}
}

// NewLineWriter starts a background scanner that calls onLine for each
// completed line. Callers must Close the returned LineWriter once no more
// data will be written, to flush any trailing partial line and release the
// background goroutine.
func NewLineWriter(onLine func(line string)) *LineWriter {
	pr, pw := io.Pipe()
	lw := &LineWriter{onLine: onLine, pw: pw, done: make(chan struct{})}

	go func() {
		defer close(lw.done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
	}()

	return lw
}

func (lw *LineWriter) Write(p []byte) (int, error) {
	return lw.pw.Write(p)
}

// Close signals end-of-stream and waits for the final partial line (if any)
// to be delivered to onLine.
func (lw *LineWriter) Close() error {
	err := lw.pw.Close()
	<-lw.done
	return err
}
