package runpipe

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFirstNameserverParsesResolvConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(path, []byte("search example.com\nnameserver 10.0.0.1\nnameserver 10.0.0.2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ns, err := firstNameserver(path)
	if err != nil {
		t.Fatal(err)
	}
	if ns != "10.0.0.1" {
		t.Errorf("firstNameserver = %q, want 10.0.0.1", ns)
	}
}

func TestFirstNameserverErrorsWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(path, []byte("search example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := firstNameserver(path); err == nil {
		t.Fatal("expected error when no nameserver entry is present")
	}
}
