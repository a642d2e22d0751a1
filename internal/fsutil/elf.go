package fsutil

import (
	"os"
	"path/filepath"
)

// Kind classifies a filesystem entry for pruning and closure purposes.
type Kind int

const (
	// Other is any entry that is neither a directory nor an ELF binary.
	Other Kind = iota
	// Dir is a directory.
	Dir
	// ELF is a regular, owner-executable file at least 128 bytes long whose
	// first four bytes are the ELF magic number.
	ELF
)

const elfMinSize = 128

var elfMagic = [4]byte{0x7F, 'E', 'L', 'F'}

// IsElfOrDir classifies path: ELF iff it is a regular file
// with the owner-execute bit set, at least elfMinSize bytes long, and its
// first four bytes equal the ELF magic number; Dir if it is a directory;
// Other otherwise.
func IsElfOrDir(path string) (Kind, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return Other, ioErr("lstat", path, err)
	}
	if fi.IsDir() {
		return Dir, nil
	}
	if !fi.Mode().IsRegular() {
		return Other, nil
	}
	if fi.Mode()&0100 == 0 { // owner execute bit
		return Other, nil
	}
	if fi.Size() < elfMinSize {
		return Other, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Other, ioErr("open", path, err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := f.Read(magic[:]); err != nil {
		return Other, nil
	}
	if magic != elfMagic {
		return Other, nil
	}
	return ELF, nil
}

// FindElfFiles walks dir depth-first, classifying every entry. It returns
// the set of paths classified ELF. Directories are recursed into;
// everything else is skipped.
func FindElfFiles(dir string) (map[string]bool, error) {
	found := make(map[string]bool)
	if err := findElfFiles(dir, found); err != nil {
		return nil, err
	}
	return found, nil
}

func findElfFiles(dir string, found map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ioErr("readdir", dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		kind, err := IsElfOrDir(path)
		if err != nil {
			return err
		}
		switch kind {
		case Dir:
			if err := findElfFiles(path, found); err != nil {
				return err
			}
		case ELF:
			found[path] = true
		}
	}
	return nil
}
