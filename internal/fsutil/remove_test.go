package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func mkTree(t *testing.T, dir string) {
	t.Helper()
	for _, p := range []string{"a", "b", "sub/c", "sub/d"} {
		full := filepath.Join(dir, p)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRmdirHierRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	mkTree(t, tree)
	if err := RmdirHier(tree); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(tree); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be gone, stat err = %v", tree, err)
	}
}

func TestRmdirHierExceptPreservesKeptPaths(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	mkTree(t, tree)

	kept := filepath.Join(tree, "sub", "c")
	keep := map[string]bool{kept: true}
	if err := RmdirHierExcept(tree, keep); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(kept); err != nil {
		t.Fatalf("expected %s to survive: %v", kept, err)
	}
	if _, err := os.Stat(filepath.Join(tree, "a")); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed", filepath.Join(tree, "a"))
	}
	// tree itself must survive because the keep set intersected it.
	if _, err := os.Stat(tree); err != nil {
		t.Fatalf("expected tree root to survive: %v", err)
	}
}

func TestRmdirFlatExceptKeepsDirWhenSetIntersects(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	if err := os.MkdirAll(tree, 0755); err != nil {
		t.Fatal(err)
	}
	keepPath := filepath.Join(tree, "keepme")
	dropPath := filepath.Join(tree, "dropme")
	if err := os.WriteFile(keepPath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dropPath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := RmdirFlatExcept(tree, map[string]bool{keepPath: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(keepPath); err != nil {
		t.Fatalf("expected %s to survive: %v", keepPath, err)
	}
	if _, err := os.Stat(dropPath); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed", dropPath)
	}
}

func TestRmdirFlatRemovesDirWhenNothingKept(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	if err := os.MkdirAll(tree, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tree, "f"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := RmdirFlat(tree); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(tree); !os.IsNotExist(err) {
		t.Fatalf("expected tree to be removed entirely")
	}
}
