package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/docker/docker/api/types"
)

// ListFiles implements driver.Driver. It has no caller in this repo: the
// control plane surface spec.md §4.2 defines for C2 (create_session,
// run_in_session, execute, read_file, write_file, upload, ...) never
// includes a directory-listing operation, and Upload's directory branch
// (internal/actor/upload.go) walks the host-side source tree with
// filepath.Walk rather than listing the container side. It stays on
// driver.Driver because every other backend (fakedriver included) must
// satisfy the same interface; resolvePath's absolute-path handling
// matches PutFile/GetFile's below rather than duplicating path logic.
func (d *DockerDriver) ListFiles(ctx context.Context, id, path string) ([]*driver.FileEntry, error) {
	absPath, err := d.resolvePath(ctx, id, path)
	if err != nil {
		return nil, err
	}

	// We use CopyFromContainer to get a tar stream of the path.
	reader, _, err := d.cli.CopyFromContainer(ctx, id, absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read path: %w", err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	var entries []*driver.FileEntry

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar read error: %w", err)
		}

		name := header.Name
		name = strings.TrimPrefix(name, "/")

		entry := &driver.FileEntry{
			Name:         filepath.Base(name),
			Path:         name,
			Size:         header.Size,
			Mode:         header.Mode,
			IsDir:        header.Typeflag == tar.TypeDir,
			LastModified: header.ModTime,
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// PutFile implements driver.Driver. Per spec.md §4.2's upload contract, a
// partial write must never leave a half-written target: the content lands
// at "<path>.part" first and is renamed into place only once the copy into
// the container has fully succeeded, so a reader racing the write either
// sees the old file or the new one, never a truncated one.
func (d *DockerDriver) PutFile(ctx context.Context, id, path string, content io.Reader) error {
	absPath, err := d.resolvePath(ctx, id, path)
	if err != nil {
		return err
	}
	partPath := absPath + ".part"

	// Create a tar stream
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	header := &tar.Header{
		Name:    filepath.Base(partPath),
		Size:    int64(len(data)),
		Mode:    0644,
		ModTime: time.Now(),
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("tar write header failed: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("tar write body failed: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close failed: %w", err)
	}

	// CopyToContainer expects the path to be the directory *containing* the file.
	dir := filepath.Dir(absPath)

	if err := d.cli.CopyToContainer(ctx, id, dir, &buf, types.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("docker copy failed: %w", err)
	}

	renameCmd := fmt.Sprintf("mv -f %q %q", partPath, absPath)
	if _, code, err := d.Exec(ctx, id, []string{"sh", "-c", renameCmd}); err != nil {
		return fmt.Errorf("rename into place failed: %w", err)
	} else if code != 0 {
		return fmt.Errorf("rename into place exited %d", code)
	}
	return nil
}

// GetFile implements driver.Driver.
func (d *DockerDriver) GetFile(ctx context.Context, id, path string) (io.ReadCloser, error) {
	absPath, err := d.resolvePath(ctx, id, path)
	if err != nil {
		return nil, err
	}

	reader, _, err := d.cli.CopyFromContainer(ctx, id, absPath)
	if err != nil {
		return nil, fmt.Errorf("docker copy failed: %w", err)
	}

	// The reader is a Tar stream. We need to extract the single file content.
	tr := tar.NewReader(reader)

	// Advance to first entry
	_, err = tr.Next()
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("file not found in tar: %w", err)
	}

	return &tarReadCloser{tr: tr, closer: reader}, nil
}

func (d *DockerDriver) resolvePath(ctx context.Context, id, path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", err
	}
	workDir := info.Config.WorkingDir
	if workDir == "" {
		workDir = "/"
	}
	return filepath.Join(workDir, path), nil
}

type tarReadCloser struct {
	tr     *tar.Reader
	closer io.Closer
}

func (t *tarReadCloser) Read(p []byte) (int, error) {
	return t.tr.Read(p)
}

func (t *tarReadCloser) Close() error {
	return t.closer.Close()
}
