// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/xecgo/xec/internal/eventbus"
	"github.com/xecgo/xec/pkg/xec"
)

// Transfer performs SFTP file operations over client, emitting
// transfer:start/complete/error events. Large files stream through
// io.Copy-backed calls rather than being buffered whole.
type Transfer struct {
	bus    *eventbus.Bus
	client *xssh.Client
}

// NewTransfer constructs a Transfer bound to an established SSH client.
func NewTransfer(bus *eventbus.Bus, client *xssh.Client) *Transfer {
	return &Transfer{bus: bus, client: client}
}

func (t *Transfer) newSFTPClient() (*sftp.Client, error) {
	c, err := sftp.NewClient(t.client)
	if err != nil {
		return nil, &xec.TransferError{Cause: err}
	}
	return c, nil
}

// UploadFile streams localPath to remotePath.
func (t *Transfer) UploadFile(ctx context.Context, localPath, remotePath string) error {
	started := time.Now()
	t.publish(xec.EventTransferStart, "upload", localPath, remotePath, nil)

	client, err := t.newSFTPClient()
	if err != nil {
		return t.fail("upload", localPath, remotePath, err)
	}
	defer client.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return t.fail("upload", localPath, remotePath, err)
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return t.fail("upload", localPath, remotePath, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return t.fail("upload", localPath, remotePath, err)
	}

	t.publish(xec.EventTransferComplete, "upload", localPath, remotePath, xec.Fields{
		"bytes_transferred": n, "duration": time.Since(started),
	})
	return nil
}

// DownloadFile streams remotePath to localPath.
func (t *Transfer) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	started := time.Now()
	t.publish(xec.EventTransferStart, "download", remotePath, localPath, nil)

	client, err := t.newSFTPClient()
	if err != nil {
		return t.fail("download", remotePath, localPath, err)
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return t.fail("download", remotePath, localPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return t.fail("download", remotePath, localPath, err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return t.fail("download", remotePath, localPath, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return t.fail("download", remotePath, localPath, err)
	}

	t.publish(xec.EventTransferComplete, "download", remotePath, localPath, xec.Fields{
		"bytes_transferred": n, "duration": time.Since(started),
	})
	return nil
}

// UploadDirectory recursively uploads localDir to remoteDir, honoring an
// optional filter and running up to concurrency transfers in parallel.
func (t *Transfer) UploadDirectory(ctx context.Context, localDir, remoteDir string, filter func(path string) bool, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 4
	}

	client, err := t.newSFTPClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.MkdirAll(remoteDir); err != nil {
		return &xec.TransferError{Direction: "upload", Source: localDir, Destination: remoteDir, Cause: err}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	err = filepath.WalkDir(localDir, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if filter != nil && !filter(rel) {
			return nil
		}
		remotePath := path.Join(remoteDir, filepath.ToSlash(rel))

		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
				return err
			}
			return t.UploadFile(ctx, p, remotePath)
		})
		return nil
	})
	if err != nil {
		return err
	}
	return g.Wait()
}

// DownloadDirectory recursively downloads remoteDir to localDir.
func (t *Transfer) DownloadDirectory(ctx context.Context, remoteDir, localDir string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 4
	}

	client, err := t.newSFTPClient()
	if err != nil {
		return err
	}
	defer client.Close()

	walker := client.Walk(remoteDir)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for walker.Step() {
		if err := walker.Err(); err != nil {
			return &xec.TransferError{Direction: "download", Source: remoteDir, Destination: localDir, Cause: err}
		}
		if walker.Stat().IsDir() {
			continue
		}
		remotePath := walker.Path()
		rel, err := filepath.Rel(remoteDir, remotePath)
		if err != nil {
			return err
		}
		localPath := filepath.Join(localDir, rel)

		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			return t.DownloadFile(ctx, remotePath, localPath)
		})
	}
	return g.Wait()
}

// UploadStream uploads from src (without requiring a local file) to
// remotePath, streaming rather than buffering.
func (t *Transfer) UploadStream(ctx context.Context, src io.Reader, remotePath string) error {
	started := time.Now()
	t.publish(xec.EventTransferStart, "upload", "<stream>", remotePath, nil)

	client, err := t.newSFTPClient()
	if err != nil {
		return t.fail("upload", "<stream>", remotePath, err)
	}
	defer client.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return t.fail("upload", "<stream>", remotePath, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return t.fail("upload", "<stream>", remotePath, err)
	}

	t.publish(xec.EventTransferComplete, "upload", "<stream>", remotePath, xec.Fields{
		"bytes_transferred": n, "duration": time.Since(started),
	})
	return nil
}

func (t *Transfer) fail(direction, source, destination string, cause error) error {
	t.publish(xec.EventTransferError, direction, source, destination, xec.Fields{"error": cause.Error()})
	return &xec.TransferError{Direction: direction, Source: source, Destination: destination, Cause: cause}
}

func (t *Transfer) publish(name xec.EventName, direction, source, destination string, extra xec.Fields) {
	if t.bus == nil {
		return
	}
	fields := xec.Fields{"direction": direction, "source": source, "destination": destination}
	for k, v := range extra {
		fields[k] = v
	}
	t.bus.Publish(xec.Event{Name: name, Timestamp: time.Now(), Adapter: xec.AdapterSSH, Fields: fields})
}
