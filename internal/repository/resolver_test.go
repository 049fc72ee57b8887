package repository

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"bldr/internal/cas"
	"bldr/internal/digest"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	store, err := cas.Open(filepath.Join(t.TempDir(), "cas"), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	r, err := NewResolver(store, filepath.Join(t.TempDir(), "roots"), filepath.Join(t.TempDir(), "repo.lock.json"))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestResolveLocalSourceNoFetch(t *testing.T) {
	r := newTestResolver(t)
	localDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(localDir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	root, err := r.Resolve(t.Context(), Source{Name: "local-dep", Kind: KindLocal, Path: localDir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if root.Root != localDir {
		t.Errorf("expected root to point directly at %q, got %q", localDir, root.Root)
	}
}

func TestResolveLocalSourceMissingPathFails(t *testing.T) {
	r := newTestResolver(t)
	if _, err := r.Resolve(t.Context(), Source{Name: "gone", Kind: KindLocal, Path: filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("expected missing local path to fail")
	}
}

func TestResolveArchiveIngestsIntoStoreAndLockfile(t *testing.T) {
	body := buildTarGz(t, map[string]string{"pkg/hello.txt": "hi"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	r := newTestResolver(t)
	want := digest.HashBytes(body)
	src := Source{
		Name: "archived", Kind: KindHTTPArchive, URL: srv.URL, StripPrefix: "pkg",
		Integrity: Integrity{Algorithm: "sha256", Hex: want.Hex()},
	}

	root, err := r.Resolve(t.Context(), src)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(root.Root, "hello.txt"))
	if err != nil || string(content) != "hi" {
		t.Fatalf("expected extracted hello.txt = hi, got %q err=%v", content, err)
	}
	if root.RootDigest == "" {
		t.Error("expected a non-empty root digest")
	}

	lf, err := ReadLockfile(r.LockPath)
	if err != nil {
		t.Fatalf("ReadLockfile: %v", err)
	}
	entry, ok := lf.Get("archived")
	if !ok || entry.RootDigest != root.RootDigest {
		t.Errorf("expected lockfile entry to record root digest, got %+v", entry)
	}

	resolvedPath, err := r.RootOf("archived")
	if err != nil || resolvedPath != root.Root {
		t.Errorf("RootOf mismatch: %q (%v)", resolvedPath, err)
	}
}

func TestResolveArchiveServesFromLockfileCacheWithoutRefetch(t *testing.T) {
	calls := 0
	body := buildTarGz(t, map[string]string{"hello.txt": "hi"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(body)
	}))
	defer srv.Close()

	r := newTestResolver(t)
	want := digest.HashBytes(body)
	src := Source{Name: "cached", Kind: KindHTTPArchive, URL: srv.URL, Integrity: Integrity{Algorithm: "sha256", Hex: want.Hex()}}

	if _, err := r.Resolve(t.Context(), src); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one fetch, got %d", calls)
	}

	if _, err := r.Resolve(t.Context(), src); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected second resolve to be served from cache, but fetch was called %d times", calls)
	}
}

func TestRootOfUnresolvedNameFails(t *testing.T) {
	r := newTestResolver(t)
	if _, err := r.RootOf("never-resolved"); err == nil {
		t.Error("expected RootOf to fail for an unresolved name")
	}
}
