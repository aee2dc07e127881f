package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// UnsafeRemovalError is returned instead of deleting a directory that does
// not carry the cache's ownership marker.
type UnsafeRemovalError struct {
	Path   string
	Marker string
}

func (e *UnsafeRemovalError) Error() string {
	return fmt.Sprintf("refusing to remove %s: %s not found, it does not look like a cached instance", e.Path, e.Marker)
}

type removeOptions struct {
	force   bool
	confirm func(path string) (bool, error)
}

// RemoveOption adjusts removal of unmarked directories.
type RemoveOption func(*removeOptions)

// Force removes unmarked directories without asking.
func Force() RemoveOption {
	return func(o *removeOptions) { o.force = true }
}

// Confirm asks fn before removing an unmarked directory.
func Confirm(fn func(path string) (bool, error)) RemoveOption {
	return func(o *removeOptions) { o.confirm = fn }
}

func removeOwned(dir string, o removeOptions) error {
	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, MarkerFile)); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if !o.force {
			unsafe := &UnsafeRemovalError{Path: dir, Marker: MarkerFile}
			if o.confirm == nil {
				return unsafe
			}
			ok, err := o.confirm(dir)
			if err != nil {
				return err
			}
			if !ok {
				return unsafe
			}
		}
	}
	clearReadOnly(dir)
	return os.RemoveAll(dir)
}

// clearReadOnly makes every entry under dir writable so RemoveAll can
// delete read-only files and directories.
func clearReadOnly(dir string) {
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		want := info.Mode().Perm() | 0o200
		if d.IsDir() {
			want |= 0o700
		}
		if want != info.Mode().Perm() {
			os.Chmod(p, want)
		}
		return nil
	})
}
