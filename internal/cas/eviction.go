package cas

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"bldr/internal/digest"
)

type lruCandidate struct {
	digest   digest.Digest
	kind     Kind
	accessed time.Time
	size     int64
}

// EvictLRU removes least-recently-used objects until targetBytes have been
// freed. A no-op unless the store's eviction policy is EvictionLRU. Objects
// with no recorded access (restored from a prior process) are treated as
// older than anything tracked this run, so they evict first.
func (s *Store) EvictLRU(targetBytes int64) (int64, error) {
	if s.config.EvictionPolicy != EvictionLRU {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []lruCandidate
	for kind := range validKinds {
		dir := filepath.Join(s.root, string(kind))
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !validKind(e.Name()) {
				continue
			}
			d, err := digest.Parse(e.Name())
			if err != nil {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if _, pinned := s.pinned[d]; pinned {
				continue
			}
			accessed, tracked := s.lastUsed[d]
			if !tracked {
				accessed = time.Now().Add(-s.config.LRUWindow * 2)
			}
			candidates = append(candidates, lruCandidate{digest: d, kind: kind, accessed: accessed, size: info.Size()})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].accessed.Equal(candidates[j].accessed) {
			return candidates[i].accessed.Before(candidates[j].accessed)
		}
		return candidates[i].digest.Less(candidates[j].digest)
	})

	var freed int64
	for _, c := range candidates {
		if freed >= targetBytes {
			break
		}
		path := s.objectPath(c.kind, c.digest)
		if err := os.Remove(path); err != nil {
			continue
		}
		freed += c.size
		delete(s.lastUsed, c.digest)
	}

	return freed, nil
}

// evictStaleLRU drops tracked-access entries for digests older than the
// configured retention window, without necessarily deleting their blobs
// (EvictLRU handles space reclamation; this only prunes stale bookkeeping).
func (s *Store) evictStaleLRU() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.config.LRUWindow)
	deleted := 0
	for d, accessed := range s.lastUsed {
		if accessed.Before(cutoff) {
			delete(s.lastUsed, d)
			deleted++
		}
	}
	return deleted, nil
}

// EvictSizeCap reclaims space with LRU ordering until total size is at or
// below config.MaxBytes. A no-op unless the policy is EvictionSizeCap.
func (s *Store) EvictSizeCap() (int64, error) {
	if s.config.EvictionPolicy != EvictionSizeCap || s.config.MaxBytes <= 0 {
		return 0, nil
	}

	status, err := s.StatusEx()
	if err != nil {
		return 0, err
	}
	if status.TotalSizeBytes <= s.config.MaxBytes {
		return 0, nil
	}

	target := status.TotalSizeBytes - s.config.MaxBytes
	// Size-cap eviction reuses the same LRU ordering as EvictionLRU; the
	// only difference is the trigger (explicit call vs. policy check above).
	prevPolicy := s.config.EvictionPolicy
	s.config.EvictionPolicy = EvictionLRU
	freed, err := s.EvictLRU(target)
	s.config.EvictionPolicy = prevPolicy
	return freed, err
}
