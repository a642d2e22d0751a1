package jailmgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crateutil/crate/internal/specmodel"
)

func TestShareFileLinksHostIntoMissingJailSide(t *testing.T) {
	root := t.TempDir()
	host := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(host, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	jailRel := "/etc/app.conf"
	if err := os.MkdirAll(filepath.Join(root, "etc"), 0o755); err != nil {
		t.Fatal(err)
	}

	pair := specmodel.SharePair{Host: host, Jail: jailRel}
	if err := ShareFile(root, pair); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(root + jailRel)
	if err != nil {
		t.Fatalf("expected linked file in jail: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("got %q, want hi", data)
	}
}

func TestShareFileFailsWhenNeitherSideExists(t *testing.T) {
	root := t.TempDir()
	pair := specmodel.SharePair{Host: "/nonexistent/host/file", Jail: "/nonexistent/jail/file"}
	if err := ShareFile(root, pair); err == nil {
		t.Fatal("expected error when neither host nor jail file exists")
	}
}

func TestShareFileReplacesJailCopyWithHostLink(t *testing.T) {
	root := t.TempDir()
	host := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(host, []byte("host-version"), 0o644); err != nil {
		t.Fatal(err)
	}
	jailRel := "/etc/app.conf"
	if err := os.MkdirAll(filepath.Join(root, "etc"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root+jailRel, []byte("stale-jail-version"), 0o644); err != nil {
		t.Fatal(err)
	}

	pair := specmodel.SharePair{Host: host, Jail: jailRel}
	if err := ShareFile(root, pair); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(root + jailRel)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "host-version" {
		t.Errorf("got %q, want host-version", data)
	}
}
