// Package osfs is the narrow filesystem facade kept external
// to the core: stat, mkdir, rmdir, and atomic move, behind an
// interface so the engine's file registry, job runner, and clean path
// never call the os package directly.
//
// Grounded on rclone-rclone's backend/local/local.go (stat caching,
// directory creation before writes) and the teacher's
// internal/db/store.go (os.MkdirAll before opening a file, os.Remove
// for cleanup), adapted into one small interface rather than a
// backend-specific struct.
package osfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tundra-build/tundra/internal/filereg"
)

// FS is the OS facade the engine depends on.
type FS interface {
	Stat(path string) (filereg.Stat, error)
	MkdirAll(path string) error
	Remove(path string) error
	Rmdir(path string) error
	Move(oldpath, newpath string) error
}

// OS is the production FS backed directly by the os package.
type OS struct{}

var _ FS = OS{}

// Stat returns a filereg.Stat with Exists=false rather than an error
// when the path does not exist ("failure yields a
// Stat with flags=0"). Other errors (permission denied, etc.) are
// still returned so callers can log them.
func (OS) Stat(path string) (filereg.Stat, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return filereg.Stat{}, nil
		}
		return filereg.Stat{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return filereg.Stat{
		Exists:  true,
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}, nil
}

// MkdirAll creates path and any missing parents.
func (OS) MkdirAll(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// Remove deletes a single file. A missing file is not an error, since
// callers use Remove to ensure an output doesn't exist before an
// action runs.
func (OS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Rmdir removes an empty directory. Failure (almost always
// "directory not empty") is returned so the clean path can ignore it,
// so the clean path can ignore it.
func (OS) Rmdir(path string) error {
	return os.Remove(path)
}

// Move atomically replaces newpath with oldpath's contents, creating
// newpath's parent directory chain first.
func (OS) Move(oldpath, newpath string) error {
	if err := os.MkdirAll(filepath.Dir(newpath), 0o755); err != nil {
		return fmt.Errorf("mkdir for move target %s: %w", newpath, err)
	}
	if err := os.Rename(oldpath, newpath); err != nil {
		return fmt.Errorf("move %s to %s: %w", oldpath, newpath, err)
	}
	return nil
}

// EnsureParent ensures the parent directory chain of path exists,
// used before a node's action writes its outputs ("for each
// output, ensure the parent directory chain exists").
func EnsureParent(fs FS, path string) error {
	return fs.MkdirAll(filepath.Dir(path))
}
