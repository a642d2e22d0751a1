// Package fsutil implements the filesystem primitives shared by the create
// and run pipelines: basic operations that fail fast with a descriptive
// *crate.IoError, the
// EPERM/immutable-flag retry policy, and the ELF/XZ signature sniffers used
// throughout the create and run pipelines.
package fsutil

import (
	"bufio"
	"io"
	"os"

	"github.com/crateutil/crate"
	"github.com/google/renameio"
)

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &crate.IoError{Op: op, Path: path, Err: err}
}

// Mkdir creates dir (and nothing above it) with the given mode.
func Mkdir(dir string, mode os.FileMode) error {
	return ioErr("mkdir", dir, os.Mkdir(dir, mode))
}

// MkdirAll creates dir and any missing parents.
func MkdirAll(dir string, mode os.FileMode) error {
	return ioErr("mkdir -p", dir, os.MkdirAll(dir, mode))
}

// Chown changes ownership of path.
func Chown(path string, uid, gid int) error {
	return ioErr("chown", path, os.Chown(path, uid, gid))
}

// Chmod changes the mode bits of path.
func Chmod(path string, mode os.FileMode) error {
	return ioErr("chmod", path, os.Chmod(path, mode))
}

// Link creates a hard link newname -> oldname.
func Link(oldname, newname string) error {
	return ioErr("link", newname, os.Link(oldname, newname))
}

// CopyFile copies src to dest, creating dest with src's permission bits if
// it does not exist. dest's parent directory must already exist.
func CopyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return ioErr("open", src, err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return ioErr("stat", src, err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return ioErr("create", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return ioErr("copy", dest, err)
	}
	return ioErr("close", dest, out.Close())
}

// Write atomically replaces path's contents with data, via a temp file in
// the same directory plus rename, so a crash never leaves a half-written
// sentinel file behind.
func Write(path string, data []byte, mode os.FileMode) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return ioErr("write", path, err)
	}
	defer t.Cleanup()
	if err := t.Chmod(mode); err != nil {
		return ioErr("write", path, err)
	}
	if _, err := t.Write(data); err != nil {
		return ioErr("write", path, err)
	}
	return ioErr("write", path, t.CloseAtomicallyReplace())
}

// Append appends data to path, creating it with mode if absent.
func Append(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, mode)
	if err != nil {
		return ioErr("open", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return ioErr("append", path, err)
	}
	return nil
}

// ReadLines reads path and returns its lines as read, without trimming and
// including empty lines.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErr("open", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, ioErr("read", path, err)
	}
	return lines, nil
}
