package fsutil

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/crateutil/crate"
	"golang.org/x/sys/unix"
)

// withEPERMRetry runs op and, if it fails with EPERM, clears all file flags
// on path (including the user- and system-immutable flags) and retries op.
// This implements the EPERM policy: an EPERM on unlink/rmdir is interpreted
// as the immutable/undeletable extended flag being set; clear it and retry
// exactly once.
func withEPERMRetry(path string, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EPERM) {
		return err
	}
	if chErr := unix.Lchflags(path, 0); chErr != nil {
		// Clearing the flag failed too; report the original error.
		return err
	}
	return op()
}

// Unlink removes a single file, applying the EPERM-retry policy.
func Unlink(path string) error {
	err := withEPERMRetry(path, func() error { return os.Remove(path) })
	return ioErr("unlink", path, err)
}

// Rmdir removes a single empty directory, applying the EPERM-retry policy.
func Rmdir(path string) error {
	err := withEPERMRetry(path, func() error { return os.Remove(path) })
	return ioErr("rmdir", path, err)
}

func removeEntry(path string, isDir bool) error {
	if isDir {
		return withEPERMRetry(path, func() error { return os.RemoveAll(path) })
	}
	return withEPERMRetry(path, func() error { return os.Remove(path) })
}

// RmdirFlat removes the entries at the top of dir, then dir itself. It does
// not recurse into subdirectories beyond a single RemoveAll per top-level
// entry.
func RmdirFlat(dir string) error {
	return rmdirFlatExcept(dir, nil)
}

// RmdirFlatExcept is RmdirFlat but skips any entry whose path is in keep. If
// any entry of dir was skipped, dir itself is preserved.
func RmdirFlatExcept(dir string, keep map[string]bool) error {
	return rmdirFlatExcept(dir, keep)
}

func rmdirFlatExcept(dir string, keep map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ioErr("readdir", dir, err)
	}
	anyKept := false
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if keep[path] {
			anyKept = true
			continue
		}
		if err := removeEntry(path, e.IsDir()); err != nil {
			return ioErr("remove", path, err)
		}
	}
	if anyKept {
		return nil
	}
	return Rmdir(dir)
}

// RmdirHier recursively removes dir's contents, then dir itself. Symlinks
// are unlinked, never followed into.
func RmdirHier(dir string) error {
	return rmdirHierExcept(dir, nil)
}

// RmdirHierExcept is RmdirHier but preserves any path present in keep
// (and, transitively, the directories that contain it). If keep intersects
// dir's tree, dir itself is preserved.
func RmdirHierExcept(dir string, keep map[string]bool) error {
	return rmdirHierExcept(dir, keep)
}

func rmdirHierExcept(dir string, keep map[string]bool) error {
	if len(keep) == 0 {
		err := withEPERMRetry(dir, func() error { return os.RemoveAll(dir) })
		return ioErr("rmdir -r", dir, err)
	}

	kept, err := removeExceptRecursive(dir, keep)
	if err != nil {
		return err
	}
	if kept {
		return nil
	}
	return Rmdir(dir)
}

// removeExceptRecursive removes everything under dir except paths in keep.
// It reports whether anything under dir (including dir itself) was kept.
func removeExceptRecursive(dir string, keep map[string]bool) (kept bool, err error) {
	if keep[dir] {
		return true, nil
	}

	info, lerr := os.Lstat(dir)
	if lerr != nil {
		if os.IsNotExist(lerr) {
			return false, nil
		}
		return false, ioErr("lstat", dir, lerr)
	}
	if info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
		if err := removeEntry(dir, false); err != nil {
			return false, ioErr("remove", dir, err)
		}
		return false, nil
	}

	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		return false, ioErr("readdir", dir, rerr)
	}

	anyKept := false
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		childKept, err := removeExceptRecursive(path, keep)
		if err != nil {
			return false, err
		}
		anyKept = anyKept || childKept
	}
	if anyKept {
		return true, nil
	}
	if err := Rmdir(dir); err != nil {
		return false, err
	}
	return false, nil
}
