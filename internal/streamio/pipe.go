// SPDX-License-Identifier: MPL-2.0

package streamio

import "io"

// Pipe copies from src to dst until src returns EOF or an error, then closes
// dst if it implements io.Closer. It is used to connect one process's
// stdout to another's stdin without buffering the whole stream in memory.
func Pipe(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if closer, ok := dst.(io.Closer); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
