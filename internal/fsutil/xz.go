package fsutil

import "os"

const xzMinSize = 256

var xzMagic = [5]byte{0xFD, 0x37, 0x7A, 0x58, 0x5A}

// IsXzArchive reports whether path is a regular file larger than xzMinSize
// bytes whose first five bytes are the XZ signature.
func IsXzArchive(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() <= xzMinSize {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var magic [5]byte
	if _, err := f.Read(magic[:]); err != nil {
		return false
	}
	return magic == xzMagic
}
