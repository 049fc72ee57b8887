// Package cas implements the local content-addressable store: objects are
// named by their SHA-256 digest, written once via temp-file-then-rename, and
// never mutated — eviction deletes, it never edits.
package cas

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bldr/internal/digest"
	bldrerrors "bldr/internal/errors"
)

// Kind partitions the store into subdirectories by the shape of the blob,
// so a reader can bound a directory scan to one kind without inspecting
// contents.
type Kind string

const (
	// KindFile holds raw file contents referenced by action inputs/outputs.
	KindFile Kind = "file"
	// KindActionMetadata holds serialized action-cache entries (command,
	// exit status, timing) keyed by their own digest.
	KindActionMetadata Kind = "action-metadata"
	// KindTreeManifest holds serialized directory trees produced by the
	// repository resolver (path -> digest mappings for a fetched tree).
	KindTreeManifest Kind = "tree-manifest"
	// KindLog holds captured stdout/stderr blobs from sandboxed execution.
	KindLog Kind = "log"
)

var validKinds = map[Kind]struct{}{
	KindFile:           {},
	KindActionMetadata: {},
	KindTreeManifest:   {},
	KindLog:            {},
}

// FormatVersion identifies the on-disk object layout, bumped whenever the
// directory structure or naming scheme changes.
const FormatVersion = "1"

// EvictionPolicy selects how Evict reclaims space.
type EvictionPolicy string

const (
	EvictionNone    EvictionPolicy = "none"
	EvictionLRU     EvictionPolicy = "lru"
	EvictionSizeCap EvictionPolicy = "size-cap"
)

// Config configures a Store's capacity and eviction behavior.
type Config struct {
	MaxBytes       int64
	EvictionPolicy EvictionPolicy
	LRUWindow      time.Duration
}

// Store is the content-addressable object store rooted at a directory.
type Store struct {
	root   string
	config Config

	mu       sync.RWMutex
	lastUsed map[digest.Digest]time.Time
	pinned   map[digest.Digest]struct{}
}

// DefaultRoot returns ~/.bldr/cas, falling back to a relative path if the
// home directory cannot be determined.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join("data", "cas")
	}
	return filepath.Join(home, ".bldr", "cas")
}

// Open creates or opens a store rooted at dir with the given configuration.
func Open(root string, config Config) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("cas root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cas root: %w", err)
	}
	if config.LRUWindow == 0 {
		config.LRUWindow = 24 * time.Hour
	}
	if config.EvictionPolicy == "" {
		config.EvictionPolicy = EvictionLRU
	}
	return &Store{
		root:     root,
		config:   config,
		lastUsed: make(map[digest.Digest]time.Time),
		pinned:   make(map[digest.Digest]struct{}),
	}, nil
}

// Put writes payload under the given kind, returning its content digest.
// Writes are atomic (temp file + rename) and idempotent: a second Put of the
// same bytes is a no-op that still returns the correct digest.
func (s *Store) Put(kind Kind, payload []byte) (digest.Digest, error) {
	if err := validateKind(kind); err != nil {
		return digest.Digest{}, err
	}
	d := digest.HashBytes(payload)
	path := s.objectPath(kind, d)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return digest.Digest{}, bldrerrors.Wrap(err, bldrerrors.CodeCASWriteFailed, "creating object directory")
	}
	if _, err := os.Stat(path); err == nil {
		s.touch(d)
		return d, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return digest.Digest{}, bldrerrors.Wrap(err, bldrerrors.CodeCASWriteFailed, "writing temp object")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		if _, statErr := os.Stat(path); statErr == nil {
			// A concurrent Put of the same bytes already committed the file.
			s.touch(d)
			return d, nil
		}
		return digest.Digest{}, bldrerrors.Wrap(err, bldrerrors.CodeCASWriteFailed, "committing object")
	}

	s.touch(d)
	return d, nil
}

// Get returns the bytes for d under kind, or a CASNotFound error.
func (s *Store) Get(kind Kind, d digest.Digest) ([]byte, error) {
	if err := validateKind(kind); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.objectPath(kind, d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bldrerrors.New(bldrerrors.CodeCASNotFound, "object not found: "+d.Hex())
		}
		return nil, bldrerrors.Wrap(err, bldrerrors.CodeCASWriteFailed, "reading object")
	}
	s.touch(d)
	return b, nil
}

// Has reports whether d is present under kind.
func (s *Store) Has(kind Kind, d digest.Digest) bool {
	_, err := os.Stat(s.objectPath(kind, d))
	return err == nil
}

// Verify re-hashes the stored bytes for d and confirms they still match.
func (s *Store) Verify(kind Kind, d digest.Digest) error {
	b, err := s.Get(kind, d)
	if err != nil {
		return err
	}
	if !digest.HashBytes(b).Equal(d) {
		return bldrerrors.New(bldrerrors.CodeCASCorrupt, "object digest mismatch: "+d.Hex())
	}
	return nil
}

// Link materializes d at destPath via a hard link, falling back to a copy
// when the store and destination are on different filesystems. The
// destination is made read-only to preserve blob immutability.
func (s *Store) Link(kind Kind, d digest.Digest, destPath string) error {
	if err := validateKind(kind); err != nil {
		return err
	}
	srcPath := s.objectPath(kind, d)
	if _, err := os.Stat(srcPath); err != nil {
		if os.IsNotExist(err) {
			return bldrerrors.New(bldrerrors.CodeCASNotFound, "object not found: "+d.Hex())
		}
		return bldrerrors.Wrap(err, bldrerrors.CodeCASWriteFailed, "stat source object")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return bldrerrors.Wrap(err, bldrerrors.CodeCASWriteFailed, "creating destination directory")
	}
	_ = os.Remove(destPath)

	if err := os.Link(srcPath, destPath); err != nil {
		if copyErr := copyFile(srcPath, destPath); copyErr != nil {
			return bldrerrors.Wrap(copyErr, bldrerrors.CodeCASWriteFailed, "materializing object")
		}
	}

	s.touch(d)
	return os.Chmod(destPath, 0o444)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func (s *Store) touch(d digest.Digest) {
	if s.config.EvictionPolicy != EvictionLRU {
		return
	}
	s.mu.Lock()
	s.lastUsed[d] = time.Now()
	s.mu.Unlock()
}

// objectPath lays out blobs as root/<kind>/<full-hex>, one flat directory
// per kind rather than a two-level hex-prefix shard: build-action object
// counts per kind stay small enough that directory-entry lookup cost never
// becomes a bottleneck.
func (s *Store) objectPath(kind Kind, d digest.Digest) string {
	return filepath.Join(s.root, string(kind), d.Hex())
}

// Pin marks a digest as exempt from EvictLRU, e.g. a toolchain blob a build
// is actively depending on that must survive eviction pressure regardless
// of recency.
func (s *Store) Pin(d digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[d] = struct{}{}
}

// Unpin clears a digest's pin, making it eligible for eviction again.
func (s *Store) Unpin(d digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pinned, d)
}

// IsPinned reports whether a digest is currently exempt from eviction.
func (s *Store) IsPinned(d digest.Digest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pinned[d]
	return ok
}

func validKind(s string) bool {
	return len(s) == 64 && func() bool {
		for _, r := range s {
			if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
				return false
			}
		}
		return true
	}()
}

func validateKind(k Kind) error {
	if _, ok := validKinds[k]; !ok {
		return bldrerrors.New(bldrerrors.CodeInvalidArgument, fmt.Sprintf("invalid object kind %q", k))
	}
	return nil
}
