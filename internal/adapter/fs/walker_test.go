package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWalkerPatterns(t *testing.T) {
	root := t.TempDir()
	wanted := writeFile(t, root, "notes/a.txt", "a")
	writeFile(t, root, "notes/b.log", "b")
	writeFile(t, root, "vendor/c.txt", "c")
	nested := writeFile(t, root, "notes/deep/d.txt", "d")

	w := NewWalker([]string{"**/*.txt"}, []string{"vendor/**"})
	paths, err := w.Walk(root)
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]bool, len(paths))
	for _, p := range paths {
		got[p] = true
	}
	if !got[wanted] || !got[nested] {
		t.Errorf("expected %s and %s in results, got %v", wanted, nested, paths)
	}
	if len(paths) != 2 {
		t.Errorf("expected 2 files, got %d: %v", len(paths), paths)
	}
}

func TestWalkerExcludedDirNotDescended(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "node_modules/pkg/index.txt", "x")
	kept := writeFile(t, root, "src/readme.txt", "y")

	w := NewWalker(nil, []string{"**/node_modules/**"})
	paths, err := w.Walk(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != kept {
		t.Errorf("expected only %s, got %v", kept, paths)
	}
}

func TestHashFileTracksContent(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "doc.txt", "original")

	first, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	same, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != same {
		t.Error("hash differs for unchanged content")
	}

	if err := os.WriteFile(path, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if changed == first {
		t.Error("hash did not change with content")
	}
}
