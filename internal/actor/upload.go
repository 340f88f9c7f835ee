package actor

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/akshayaggarwal99/boxed/internal/apierr"
)

// Upload transfers sourcePath (a local file or directory on the control
// plane host) into the sandbox at targetPath. A directory is archived to
// a zip first and unpacked on the far side; a single file is written
// directly. This mirrors the original SDK's directory-vs-file branch
// (shutil.make_archive then multipart unzip=true, versus a plain
// unzip=false upload for one file) without the HTTP multipart framing,
// since Upload runs against the in-process Actor rather than over the
// wire.
func (a *Actor) Upload(ctx context.Context, sourcePath, targetPath string) error {
	if err := a.requireReady(); err != nil {
		return err
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrInvalidArgument, err)
	}

	if !info.IsDir() {
		f, err := os.Open(sourcePath)
		if err != nil {
			return fmt.Errorf("%w: %s", apierr.ErrInvalidArgument, err)
		}
		defer f.Close()
		return a.drv.PutFile(ctx, a.id, targetPath, f)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err = filepath.Walk(sourcePath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourcePath, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("%w: archiving %s: %s", apierr.ErrInternal, sourcePath, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrInternal, err)
	}

	zipTarget := targetPath + ".zip"
	if err := a.drv.PutFile(ctx, a.id, zipTarget, &buf); err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrInternal, err)
	}

	unzipCmd := fmt.Sprintf("mkdir -p %q && unzip -o -q %q -d %q && rm -f %q", targetPath, zipTarget, targetPath, zipTarget)
	_, code, err := a.drv.Exec(ctx, a.id, []string{"sh", "-c", unzipCmd})
	if err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrInternal, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: unzip exited %d", apierr.ErrInternal, code)
	}
	return nil
}
