// Package transfer copies files between the local machine and instances
// over SFTP.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/sftp"

	"github.com/vastctl/vastctl/internal/ssh"
)

// Endpoint is one side of a copy: a local path, or a path on an instance.
type Endpoint struct {
	InstanceID int
	Path       string
}

// Local reports whether the endpoint is on this machine.
func (e Endpoint) Local() bool {
	return e.InstanceID == 0
}

func (e Endpoint) String() string {
	if e.Local() {
		return e.Path
	}
	return fmt.Sprintf("%d:%s", e.InstanceID, e.Path)
}

// ParseEndpoint parses "path", "local:path", "<id>:path" or "C.<id>:path".
// A prefix that is not a number is part of a local path.
func ParseEndpoint(s string) (Endpoint, error) {
	if s == "" {
		return Endpoint{}, errors.New("path cannot be empty")
	}
	if rest, ok := strings.CutPrefix(s, "local:"); ok {
		if rest == "" {
			return Endpoint{}, errors.New("local path cannot be empty")
		}
		return Endpoint{Path: rest}, nil
	}

	prefix, rest, found := strings.Cut(s, ":")
	if !found {
		return Endpoint{Path: s}, nil
	}
	prefix = strings.TrimPrefix(prefix, "C.")
	id, err := strconv.Atoi(prefix)
	if err != nil {
		return Endpoint{Path: s}, nil
	}
	if id <= 0 {
		return Endpoint{}, fmt.Errorf("invalid instance id %q", prefix)
	}
	if rest == "" {
		rest = "/root"
	}
	return Endpoint{InstanceID: id, Path: rest}, nil
}

// Stats summarises a finished copy.
type Stats struct {
	Files int
	Bytes int64
}

// Copier moves files over an established SSH connection.
type Copier struct {
	client *sftp.Client
}

// New opens an SFTP session on conn. Close the copier before conn.
func New(conn *ssh.Connection) (*Copier, error) {
	if conn == nil || conn.Client() == nil {
		return nil, errors.New("connection is nil or closed")
	}
	client, err := sftp.NewClient(conn.Client())
	if err != nil {
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &Copier{client: client}, nil
}

// Close ends the SFTP session
func (c *Copier) Close() error {
	return c.client.Close()
}

// Upload copies a local file or directory tree to remotePath. A trailing
// slash on remotePath, or an existing remote directory, places the source
// inside it.
func (c *Copier) Upload(ctx context.Context, localPath, remotePath string) (Stats, error) {
	if localPath == "" {
		return Stats{}, fmt.Errorf("local path cannot be empty")
	}
	if remotePath == "" {
		return Stats{}, fmt.Errorf("remote path cannot be empty")
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to stat local file: %w", err)
	}

	dst := remotePath
	if strings.HasSuffix(remotePath, "/") {
		dst = path.Join(remotePath, filepath.Base(localPath))
	} else if st, err := c.client.Stat(remotePath); err == nil && st.IsDir() {
		dst = path.Join(remotePath, filepath.Base(localPath))
	}

	var stats Stats
	if !info.IsDir() {
		n, err := c.uploadFile(ctx, localPath, dst, info.Mode())
		if err != nil {
			return stats, err
		}
		return Stats{Files: 1, Bytes: n}, nil
	}

	err = filepath.WalkDir(localPath, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		target := path.Join(dst, filepath.ToSlash(rel))
		if d.IsDir() {
			if err := c.client.MkdirAll(target); err != nil {
				return fmt.Errorf("failed to create remote directory %s: %w", target, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		n, err := c.uploadFile(ctx, p, target, fi.Mode())
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += n
		return nil
	})
	return stats, err
}

func (c *Copier) uploadFile(ctx context.Context, localPath, remotePath string, mode fs.FileMode) (int64, error) {
	localFile, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := c.client.MkdirAll(dir); err != nil {
			return 0, fmt.Errorf("failed to create remote directory %s: %w", dir, err)
		}
	}

	remoteFile, err := c.client.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer remoteFile.Close()

	n, err := io.Copy(remoteFile, &ctxReader{ctx: ctx, r: localFile})
	if err != nil {
		return n, fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	_ = c.client.Chmod(remotePath, mode.Perm())
	return n, nil
}

// Download copies a remote file or directory tree to localPath.
func (c *Copier) Download(ctx context.Context, remotePath, localPath string) (Stats, error) {
	if remotePath == "" {
		return Stats{}, fmt.Errorf("remote path cannot be empty")
	}
	if localPath == "" {
		return Stats{}, fmt.Errorf("local path cannot be empty")
	}

	info, err := c.client.Stat(remotePath)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to stat remote file %s: %w", remotePath, err)
	}

	dst := localPath
	if strings.HasSuffix(localPath, string(os.PathSeparator)) {
		dst = filepath.Join(localPath, path.Base(remotePath))
	} else if st, err := os.Stat(localPath); err == nil && st.IsDir() {
		dst = filepath.Join(localPath, path.Base(remotePath))
	}

	var stats Stats
	if !info.IsDir() {
		n, err := c.downloadFile(ctx, remotePath, dst, info.Mode())
		if err != nil {
			return stats, err
		}
		return Stats{Files: 1, Bytes: n}, nil
	}

	walker := c.client.Walk(remotePath)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return stats, fmt.Errorf("failed to walk %s: %w", walker.Path(), err)
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), remotePath), "/")
		target := filepath.Join(dst, filepath.FromSlash(rel))
		st := walker.Stat()
		if st.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return stats, fmt.Errorf("failed to create local directory: %w", err)
			}
			continue
		}
		if !st.Mode().IsRegular() {
			continue
		}
		n, err := c.downloadFile(ctx, walker.Path(), target, st.Mode())
		if err != nil {
			return stats, err
		}
		stats.Files++
		stats.Bytes += n
	}
	return stats, nil
}

func (c *Copier) downloadFile(ctx context.Context, remotePath, localPath string, mode fs.FileMode) (int64, error) {
	remoteFile, err := c.client.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer remoteFile.Close()

	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create local directory: %w", err)
		}
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	localFile, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file: %w", err)
	}

	n, err := io.Copy(localFile, &ctxReader{ctx: ctx, r: remoteFile})
	closeErr := localFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		// partial files are removed
		os.Remove(localPath)
		return n, fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	return n, nil
}

// Exists reports whether remotePath exists on the instance.
func (c *Copier) Exists(remotePath string) (bool, error) {
	if remotePath == "" {
		return false, fmt.Errorf("remote path cannot be empty")
	}
	_, err := c.client.Stat(remotePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat remote file: %w", err)
	}
	return true, nil
}

// ctxReader stops a copy between chunks once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
