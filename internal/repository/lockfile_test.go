package repository

import (
	"path/filepath"
	"testing"
)

func TestReadLockfileMissingReturnsEmpty(t *testing.T) {
	lf, err := ReadLockfile(filepath.Join(t.TempDir(), "nope.lock.json"))
	if err != nil {
		t.Fatalf("ReadLockfile: %v", err)
	}
	if lf.SchemaVersion != LockSchemaVersion || len(lf.Entries) != 0 {
		t.Errorf("expected empty default lockfile, got %+v", lf)
	}
}

func TestWriteReadLockfileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.lock.json")
	lf := Lockfile{}.Put(LockEntry{Name: "foo", Kind: KindGit, Resolved: "deadbeef", RootDigest: "abc123"})

	if err := WriteLockfile(path, lf); err != nil {
		t.Fatalf("WriteLockfile: %v", err)
	}
	got, err := ReadLockfile(path)
	if err != nil {
		t.Fatalf("ReadLockfile: %v", err)
	}
	entry, ok := got.Get("foo")
	if !ok || entry.Resolved != "deadbeef" || entry.RootDigest != "abc123" {
		t.Errorf("unexpected round trip: %+v", entry)
	}
}

func TestLockfilePutReplacesExistingEntry(t *testing.T) {
	lf := Lockfile{}.Put(LockEntry{Name: "foo", Resolved: "v1"})
	lf = lf.Put(LockEntry{Name: "foo", Resolved: "v2"})
	if len(lf.Entries) != 1 {
		t.Fatalf("expected Put to replace, got %d entries", len(lf.Entries))
	}
	entry, _ := lf.Get("foo")
	if entry.Resolved != "v2" {
		t.Errorf("expected replaced entry to have v2, got %q", entry.Resolved)
	}
}
