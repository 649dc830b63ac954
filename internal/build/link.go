package build

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/zjrosen/aircc/internal/log"
	"github.com/zjrosen/aircc/internal/toolchain"
)

// LinkCommand combines objs into the deliverable: a shared library via the
// host clang, otherwise a static archive.
func LinkCommand(opts Options, layout Layout, objs []string) toolchain.Command {
	lib := layout.Deliverable(opts.Shared)
	if opts.Shared {
		return toolchain.New(opts.Tools.Clang, append([]string{"-shared", "-o", lib}, objs...)...)
	}
	return toolchain.New(opts.Tools.Archiver, append([]string{"rc", lib}, objs...)...)
}

// removeStale deletes an archive left by an earlier build in the same
// directory; the archiver appends to existing archives.
func removeStale(path string) (bool, error) {
	err := os.Remove(path)
	switch {
	case err == nil:
		log.Debug(log.CatLink, "removed stale archive", "path", path)
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("remove stale archive: %w", err)
	}
}

// Publish places src at dst. The destination only ever holds a complete
// file: content is staged in dst's directory and renamed into place. With
// move the source is consumed.
func Publish(src, dst string, move bool) error {
	if move {
		err := os.Rename(src, dst)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syscall.EXDEV) {
			return fmt.Errorf("publish %s: %w", dst, err)
		}
		log.Debug(log.CatLink, "cross-device move, copying", "src", src, "dst", dst)
	}

	if err := stageAndRename(src, dst); err != nil {
		return err
	}
	if move {
		if err := os.Remove(src); err != nil {
			return fmt.Errorf("publish %s: %w", dst, err)
		}
	}
	return nil
}

func stageAndRename(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: build artifact
	if err != nil {
		return fmt.Errorf("publish %s: %w", dst, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("publish %s: %w", dst, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".aircc-publish-*")
	if err != nil {
		return fmt.Errorf("publish %s: %w", dst, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("publish %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("publish %s: %w", dst, err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		cleanup()
		return fmt.Errorf("publish %s: %w", dst, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return fmt.Errorf("publish %s: %w", dst, err)
	}
	return nil
}
