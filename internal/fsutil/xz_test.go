package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestIsXzArchive(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.txz")
	data := append([]byte{0xFD, 0x37, 0x7A, 0x58, 0x5A}, make([]byte, 300)...)
	writeFile(t, good, data)
	if !IsXzArchive(good) {
		t.Error("expected valid xz signature to be detected")
	}

	tooSmall := filepath.Join(dir, "small.txz")
	writeFile(t, tooSmall, []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A})
	if IsXzArchive(tooSmall) {
		t.Error("expected file under the size threshold to be rejected")
	}

	wrongMagic := filepath.Join(dir, "wrong.txz")
	writeFile(t, wrongMagic, append([]byte{0x00, 0x00, 0x00, 0x00, 0x00}, make([]byte, 300)...))
	if IsXzArchive(wrongMagic) {
		t.Error("expected wrong magic to be rejected")
	}

	if IsXzArchive(filepath.Join(dir, "missing.txz")) {
		t.Error("expected missing file to be rejected")
	}
}
