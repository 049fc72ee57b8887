package actioncache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"bldr/internal/digest"
	bldrerrors "bldr/internal/errors"
	"bldr/internal/storage"
)

// DefaultLeaseTTL bounds how long a build lease is honored before another
// caller may reclaim it, guarding against a leaseholder that crashed without
// releasing.
const DefaultLeaseTTL = 10 * time.Minute

// Cache is the action fingerprint -> output-digest mapping, backed by a
// SQLite store for crash-safe persistence across process restarts.
type Cache struct {
	db    *storage.SQLiteStore
	group singleflight.Group
}

// New wraps an opened store as an action cache.
func New(db *storage.SQLiteStore) *Cache {
	return &Cache{db: db}
}

// Stats summarizes the cache's current size.
type Stats struct {
	Entries int64
}

// Stats reports how many entries the cache currently holds.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	n, err := c.db.CountCacheEntries(ctx)
	if err != nil {
		return Stats{}, bldrerrors.Wrap(err, bldrerrors.CodeStorageReadFailed, "counting cache entries")
	}
	return Stats{Entries: n}, nil
}

// Lookup is a pure read: it never blocks on an in-flight build.
func (c *Cache) Lookup(ctx context.Context, fp digest.Digest) (Entry, bool, error) {
	rec, err := c.db.GetCacheEntry(ctx, fp.Hex())
	if err == storage.ErrNotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, bldrerrors.Wrap(err, bldrerrors.CodeCacheCorrupt, "reading cache entry")
	}
	entry, err := entryFromRecord(rec)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Record persists a build result for fp, making it visible to future lookups.
func (c *Cache) Record(ctx context.Context, fp digest.Digest, entry Entry) error {
	rec, err := entry.toRecord(fp)
	if err != nil {
		return err
	}
	if err := c.db.PutCacheEntry(ctx, rec); err != nil {
		return bldrerrors.Wrap(err, bldrerrors.CodeCacheCorrupt, "writing cache entry")
	}
	return nil
}

// Lease represents a held at-most-one-build slot for a fingerprint. The
// holder must call Release (directly, or implicitly via Record followed by
// Release) once the build concludes, successfully or not.
type Lease struct {
	fp    digest.Digest
	token string
	cache *Cache
	// done signals the in-process singleflight waiters once this lease's
	// underlying group call returns.
	done chan struct{}
}

// Release drops the lease, allowing the next contender (in this process or
// another) to acquire it for the same fingerprint.
func (l *Lease) Release(ctx context.Context) error {
	defer close(l.done)
	return l.cache.db.ReleaseLease(ctx, l.fp.Hex(), l.token)
}

// AcquireBuildLease blocks until this goroutine holds the sole build lease
// for fp, or ctx is cancelled. Other in-process callers for the same fp
// block on the shared singleflight call and observe its outcome instead of
// separately contending for the database row; cross-process callers arbitrate
// via the database's lease table directly.
func (c *Cache) AcquireBuildLease(ctx context.Context, fp digest.Digest) (*Lease, error) {
	type result struct {
		lease *Lease
		err   error
	}

	ch := c.group.DoChan(fp.Hex(), func() (interface{}, error) {
		token := uuid.NewString()
		done := make(chan struct{})

		backoff := 10 * time.Millisecond
		const maxBackoff = 500 * time.Millisecond
		for {
			err := c.db.TryAcquireLease(ctx, fp.Hex(), token, time.Now(), DefaultLeaseTTL)
			if err == nil {
				return &Lease{fp: fp, token: token, cache: c, done: done}, nil
			}
			if err != storage.ErrLeaseHeld {
				return nil, bldrerrors.Wrap(err, bldrerrors.CodeCacheCorrupt, "acquiring build lease")
			}
			select {
			case <-ctx.Done():
				return nil, bldrerrors.Wrap(ctx.Err(), bldrerrors.CodeCacheLeaseHeld, "waiting for build lease")
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		l := r.Val.(*Lease)
		if r.Shared {
			// A shared singleflight result means this goroutine did not run
			// the acquire loop itself; the original lease belongs to the
			// goroutine that did, so wait for it to release before treating
			// the fingerprint as ours to contend for again on retry.
			<-l.done
			return c.AcquireBuildLease(ctx, fp)
		}
		return l, nil
	case <-ctx.Done():
		return nil, bldrerrors.Wrap(ctx.Err(), bldrerrors.CodeCacheLeaseHeld, "waiting for build lease")
	}
}
