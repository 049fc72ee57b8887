package digest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFiles(t *testing.T, contents map[string]string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(contents))
	for name, content := range contents {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", p, err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestHashFilesetEmpty(t *testing.T) {
	d, err := HashFileset(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsZero() {
		t.Error("expected zero digest for empty fileset")
	}
}

func TestHashFilesetDeterministic(t *testing.T) {
	paths := writeTempFiles(t, map[string]string{
		"a.txt": "alpha",
		"b.txt": "beta",
		"c.txt": "gamma",
	})

	d1, err := HashFileset(paths)
	if err != nil {
		t.Fatalf("HashFileset failed: %v", err)
	}
	d2, err := HashFileset(paths)
	if err != nil {
		t.Fatalf("HashFileset failed: %v", err)
	}
	if !d1.Equal(d2) {
		t.Errorf("expected repeated hashing to be stable, got %s != %s", d1, d2)
	}
}

func TestHashFilesetOrderIndependent(t *testing.T) {
	paths := writeTempFiles(t, map[string]string{
		"x.txt": "one",
		"y.txt": "two",
	})
	reversed := []string{paths[1], paths[0]}

	forward, err := HashFileset(paths)
	if err != nil {
		t.Fatalf("HashFileset failed: %v", err)
	}
	backward, err := HashFileset(reversed)
	if err != nil {
		t.Fatalf("HashFileset failed: %v", err)
	}
	if !forward.Equal(backward) {
		t.Error("expected fileset digest to be independent of slice order")
	}
}

func TestHashFilesetSensitiveToRename(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "name1.txt")
	p2 := filepath.Join(dir, "name2.txt")
	if err := os.WriteFile(p1, []byte("same contents"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.WriteFile(p2, []byte("same contents"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	d1, err := HashFileset([]string{p1})
	if err != nil {
		t.Fatalf("HashFileset failed: %v", err)
	}
	d2, err := HashFileset([]string{p2})
	if err != nil {
		t.Fatalf("HashFileset failed: %v", err)
	}
	if d1.Equal(d2) {
		t.Error("expected different digests for same contents under different paths")
	}
}

func TestHashFilesetMissingFile(t *testing.T) {
	_, err := HashFileset([]string{"/nonexistent/path/to/file"})
	if err == nil {
		t.Error("expected error for missing file")
	}
}
