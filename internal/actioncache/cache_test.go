package actioncache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bldr/internal/digest"
	"bldr/internal/storage"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	db, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestLookupMiss(t *testing.T) {
	c := newTestCache(t)
	fp := digest.HashBytes([]byte("action-1"))

	_, hit, err := c.Lookup(context.Background(), fp)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if hit {
		t.Error("expected miss for unrecorded fingerprint")
	}
}

func TestRecordThenLookupHit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	fp := digest.HashBytes([]byte("action-2"))

	entry := Entry{
		Outputs:    map[string]digest.Digest{"out.bin": digest.HashBytes([]byte("payload"))},
		ExitStatus: 0,
		Duration:   250 * time.Millisecond,
	}
	if err := c.Record(ctx, fp, entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, hit, err := c.Lookup(ctx, fp)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !hit {
		t.Fatal("expected hit after Record")
	}
	if got.Duration != entry.Duration {
		t.Errorf("expected duration %v, got %v", entry.Duration, got.Duration)
	}
	if !got.Outputs["out.bin"].Equal(entry.Outputs["out.bin"]) {
		t.Error("expected output digest to round-trip")
	}
}

func TestAcquireBuildLeaseExcludesConcurrentCaller(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	fp := digest.HashBytes([]byte("action-3"))

	lease, err := c.AcquireBuildLease(ctx, fp)
	if err != nil {
		t.Fatalf("AcquireBuildLease failed: %v", err)
	}

	released := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		l2, err := c.AcquireBuildLease(ctx, fp)
		if err != nil {
			t.Errorf("second AcquireBuildLease failed: %v", err)
			return
		}
		close(acquired)
		l2.Release(context.Background())
	}()

	select {
	case <-acquired:
		t.Fatal("second lease acquired before first was released")
	case <-time.After(100 * time.Millisecond):
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	close(released)

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lease never acquired after release")
	}
}

func TestAcquireBuildLeaseRespectsContextCancellation(t *testing.T) {
	c := newTestCache(t)
	fp := digest.HashBytes([]byte("action-4"))

	lease, err := c.AcquireBuildLease(context.Background(), fp)
	if err != nil {
		t.Fatalf("AcquireBuildLease failed: %v", err)
	}
	defer lease.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.AcquireBuildLease(ctx, fp)
	if err == nil {
		t.Fatal("expected AcquireBuildLease to fail on context cancellation")
	}
}
