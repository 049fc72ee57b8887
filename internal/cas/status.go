package cas

import (
	"os"
	"path/filepath"
)

// Status summarizes the store's on-disk state for reporting.
type Status struct {
	Root               string         `json:"root"`
	FormatVersion      string         `json:"format_version"`
	TotalSizeBytes     int64          `json:"total_size_bytes"`
	ObjectCount        int            `json:"object_count"`
	FragmentationRatio float64        `json:"fragmentation_ratio"`
	ObjectsByKind      map[string]int `json:"objects_by_kind"`
	EvictionPolicy     string         `json:"eviction_policy"`
	MaxSizeBytes       int64          `json:"max_size_bytes"`
}

// Status returns basic per-kind object counts.
func (s *Store) Status() (map[Kind]int, error) {
	counts := map[Kind]int{}
	for kind := range validKinds {
		n, err := s.countKind(kind)
		if err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, nil
}

// StatusEx returns a detailed status report including disk usage and an
// estimated fragmentation ratio (bytes beyond a naive 1KB-per-object floor).
func (s *Store) StatusEx() (*Status, error) {
	status := &Status{
		Root:           s.root,
		FormatVersion:  FormatVersion,
		ObjectsByKind:  make(map[string]int),
		EvictionPolicy: string(s.config.EvictionPolicy),
		MaxSizeBytes:   s.config.MaxBytes,
	}

	var totalBytes int64
	for kind := range validKinds {
		dir := filepath.Join(s.root, string(kind))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				status.ObjectsByKind[string(kind)] = 0
				continue
			}
			return nil, err
		}
		count := 0
		for _, e := range entries {
			if e.IsDir() || !validKind(e.Name()) {
				continue
			}
			count++
			if info, err := e.Info(); err == nil {
				totalBytes += info.Size()
			}
		}
		status.ObjectsByKind[string(kind)] = count
		status.ObjectCount += count
	}
	status.TotalSizeBytes = totalBytes

	minExpected := int64(status.ObjectCount) * 1024
	if totalBytes > minExpected {
		status.FragmentationRatio = float64(totalBytes-minExpected) / float64(totalBytes)
	}

	return status, nil
}

func (s *Store) countKind(kind Kind) (int, error) {
	dir := filepath.Join(s.root, string(kind))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && validKind(e.Name()) {
			n++
		}
	}
	return n, nil
}

// GC removes stray non-object files (e.g. abandoned .tmp writes) from every
// kind directory. It never touches a file whose name is a valid digest.
func (s *Store) GC() (int, error) {
	deleted := 0
	for kind := range validKinds {
		dir := filepath.Join(s.root, string(kind))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return deleted, err
		}
		for _, e := range entries {
			if e.IsDir() || validKind(e.Name()) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, nil
}

// Compact runs GC, and in aggressive mode also purges LRU entries outside
// the retention window even if the size cap hasn't been hit yet.
func (s *Store) Compact(aggressive bool) (int, error) {
	deleted, err := s.GC()
	if err != nil {
		return deleted, err
	}

	if aggressive && s.config.EvictionPolicy == EvictionLRU {
		n, err := s.evictStaleLRU()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}

	return deleted, nil
}
