package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
)

// Upload copies localPath to remotePath over SFTP, creating missing remote
// directories. A non-zero mode is applied to the remote file.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) (*FileTransferResult, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: err}
	}
	defer src.Close()

	client, err := c.sftp()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("mkdir %s: %w", path.Dir(remotePath), err)}
	}
	dst, err := client.Create(remotePath)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	defer dst.Close()

	res, err := transfer(ctx, dst, src)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	if mode != 0 {
		if err := client.Chmod(remotePath, mode); err != nil {
			return nil, &TransportError{Op: "upload", Err: fmt.Errorf("chmod %s: %w", remotePath, err)}
		}
	}

	c.logger.Debug().Str("local", localPath).Str("remote", remotePath).
		Int64("bytes", res.BytesTransferred).Msg("Uploaded file")
	return res, nil
}

// Download copies remotePath to localPath, creating missing local
// directories.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) (*FileTransferResult, error) {
	client, err := c.sftp()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	defer dst.Close()

	res, err := transfer(ctx, dst, src)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err, IsTemporary: true}
	}

	c.logger.Debug().Str("remote", remotePath).Str("local", localPath).
		Int64("bytes", res.BytesTransferred).Msg("Downloaded file")
	return res, nil
}

func (c *Client) sftp() (*sftp.Client, error) {
	conn, err := c.session()
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: err}
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: err, IsTemporary: true}
	}
	return client, nil
}

// transfer copies src to dst while hashing it, checking ctx between reads.
func transfer(ctx context.Context, dst io.Writer, src io.Reader) (*FileTransferResult, error) {
	start := time.Now()
	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, hash), ctxReader{ctx, src})
	if err != nil {
		return nil, err
	}
	return &FileTransferResult{
		BytesTransferred: n,
		Duration:         time.Since(start),
		Checksum:         hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
