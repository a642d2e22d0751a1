package prune

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/crateutil/crate/internal/specmodel"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSweepRemovesDocsButKeepsSeeded(t *testing.T) {
	jail := t.TempDir()
	writeFile(t, filepath.Join(jail, "usr/share/doc/README"))
	writeFile(t, filepath.Join(jail, "bin/keepme"))
	writeFile(t, filepath.Join(jail, "bin/dropme"))

	keep := map[string]bool{
		filepath.Join(jail, "bin/keepme"): true,
	}
	if err := sweep(jail, keep, false); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(jail, "usr/share/doc")); !os.IsNotExist(err) {
		t.Errorf("usr/share/doc should have been removed entirely, err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(jail, "bin/keepme")); err != nil {
		t.Errorf("bin/keepme should have survived: %v", err)
	}
	if _, err := os.Stat(filepath.Join(jail, "bin/dropme")); !os.IsNotExist(err) {
		t.Errorf("bin/dropme should have been removed, err=%v", err)
	}
}

func TestSweepSkipsPkgOnlyDirsWhenNoPackagesInstalled(t *testing.T) {
	jail := t.TempDir()
	writeFile(t, filepath.Join(jail, "var/cache/pkg/foo.txz"))

	if err := sweep(jail, nil, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(jail, "var/cache/pkg/foo.txz")); err != nil {
		t.Errorf("pkg cache should survive when no packages were installed: %v", err)
	}
}

func TestSweepRemovesPkgCacheWhenPackagesInstalled(t *testing.T) {
	jail := t.TempDir()
	writeFile(t, filepath.Join(jail, "var/cache/pkg/foo.txz"))

	if err := sweep(jail, nil, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(jail, "var/cache/pkg")); !os.IsNotExist(err) {
		t.Errorf("pkg cache should be removed, err=%v", err)
	}
}

func TestBuildKeepSetSeedsBaselineAndSpecEntries(t *testing.T) {
	jail := t.TempDir()
	writeFile(t, filepath.Join(jail, "opt/app/data.txt"))

	spec := &specmodel.Spec{
		Base: specmodel.Base{Keep: []string{"opt/app/data.txt"}},
	}
	keep, err := buildKeepSet(context.Background(), Options{JailRoot: jail, Spec: spec})
	if err != nil {
		t.Fatal(err)
	}
	if !keep[filepath.Join(jail, "opt/app/data.txt")] {
		t.Error("expected base.keep entry to be present in keep set")
	}
	if !keep[filepath.Join(jail, "/bin/sh")] {
		t.Error("expected baseline utility /bin/sh to be seeded")
	}
}
