package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"bldr/internal/cas"
	"bldr/internal/digest"
	"bldr/internal/errors"
)

// treeManifest maps a materialized tree's relative file paths to their CAS
// digests, the same shape the sandbox's input/output ingestion already
// produces — so a resolved external tree can be fed straight into an
// action's Inputs without translation.
type treeManifest map[string]digest.Digest

// Resolver turns Source declarations into materialized local trees,
// verifying integrity and recording the mapping (ref, kind, integrity) ->
// root_digest so a repeat resolve of the same pinned source is free.
type Resolver struct {
	Store    *cas.Store
	RootsDir string // where extracted trees live, one subdirectory per name
	LockPath string

	mu   sync.Mutex
	lock Lockfile
}

// NewResolver creates a resolver rooted at rootsDir, loading any existing
// lockfile at lockPath.
func NewResolver(store *cas.Store, rootsDir, lockPath string) (*Resolver, error) {
	lf, err := ReadLockfile(lockPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeRepoFetchFailed, "reading lockfile")
	}
	if err := os.MkdirAll(rootsDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeRepoFetchFailed, "creating roots directory")
	}
	return &Resolver{Store: store, RootsDir: rootsDir, LockPath: lockPath, lock: lf}, nil
}

// Resolve fetches, verifies, and extracts src, returning a stable local
// root. A source already satisfied by the lockfile and still present on
// disk is served from cache without a network round trip.
func (r *Resolver) Resolve(ctx context.Context, src Source) (LocalRoot, error) {
	root := filepath.Join(r.RootsDir, src.Name)

	r.mu.Lock()
	locked, isLocked := r.lock.Get(src.Name)
	r.mu.Unlock()
	if isLocked && dirExists(root) {
		return LocalRoot{Name: src.Name, Root: root, RootDigest: locked.RootDigest, FromCache: true}, nil
	}

	switch src.Kind {
	case KindLocal:
		return r.resolveLocal(src)
	case KindGit:
		return r.resolveGit(ctx, src, root)
	case KindHTTPArchive:
		return r.resolveArchive(ctx, src, root)
	default:
		return LocalRoot{}, errors.Newf(errors.CodeRepoInvalidReference, "unknown source kind %q", src.Kind)
	}
}

// resolveLocal points directly at a filesystem path with no fetch and no
// integrity check — explicitly weaker, for development use only.
func (r *Resolver) resolveLocal(src Source) (LocalRoot, error) {
	if !dirExists(src.Path) {
		return LocalRoot{}, errors.Newf(errors.CodeRepoNotFound, "local source %q: path %q does not exist", src.Name, src.Path)
	}
	return LocalRoot{Name: src.Name, Root: src.Path}, nil
}

func (r *Resolver) resolveArchive(ctx context.Context, src Source, root string) (LocalRoot, error) {
	archivePath, err := fetchArchive(ctx, src)
	if err != nil {
		return LocalRoot{}, err
	}
	defer os.Remove(archivePath)

	if err := os.RemoveAll(root); err != nil {
		return LocalRoot{}, errors.Wrap(err, errors.CodeRepoFetchFailed, "clearing stale root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return LocalRoot{}, errors.Wrap(err, errors.CodeRepoFetchFailed, "creating root")
	}
	if err := extractTarGz(archivePath, root, src.StripPrefix); err != nil {
		os.RemoveAll(root)
		return LocalRoot{}, err
	}

	return r.ingest(src, root, src.URL)
}

func (r *Resolver) resolveGit(ctx context.Context, src Source, root string) (LocalRoot, error) {
	cloned, err := fetchGit(ctx, src)
	if err != nil {
		return LocalRoot{}, err
	}
	defer os.RemoveAll(cloned)

	if err := os.RemoveAll(root); err != nil {
		return LocalRoot{}, errors.Wrap(err, errors.CodeRepoFetchFailed, "clearing stale root")
	}
	if err := os.Rename(cloned, root); err != nil {
		return LocalRoot{}, errors.Wrap(err, errors.CodeRepoFetchFailed, "moving clone into place")
	}
	// Remove VCS metadata; it carries no build-relevant content and its
	// presence would make the tree digest depend on clone-time history.
	os.RemoveAll(filepath.Join(root, ".git"))

	resolvedRef := src.Commit
	if resolvedRef == "" {
		resolvedRef = src.Tag
	}
	return r.ingest(src, root, resolvedRef)
}

// ingest walks root, Puts every regular file into the store, builds and
// stores its tree manifest, records the lockfile entry, and returns the
// LocalRoot.
func (r *Resolver) ingest(src Source, root, resolvedRef string) (LocalRoot, error) {
	manifest := treeManifest{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		d, err := r.Store.Put(cas.KindFile, b)
		if err != nil {
			return err
		}
		manifest[filepath.ToSlash(rel)] = d
		return nil
	})
	if err != nil {
		return LocalRoot{}, errors.Wrap(err, errors.CodeRepoFetchFailed, "ingesting tree into store")
	}

	manifestDigest, err := putManifest(r.Store, manifest)
	if err != nil {
		return LocalRoot{}, err
	}

	r.mu.Lock()
	r.lock = r.lock.Put(LockEntry{
		Name:       src.Name,
		Kind:       src.Kind,
		Resolved:   resolvedRef,
		Algorithm:  "sha256",
		Hex:        src.Integrity.Hex,
		RootDigest: manifestDigest.Hex(),
	})
	lf := r.lock
	r.mu.Unlock()
	if err := WriteLockfile(r.LockPath, lf); err != nil {
		return LocalRoot{}, errors.Wrap(err, errors.CodeRepoFetchFailed, "writing lockfile")
	}

	return LocalRoot{Name: src.Name, Root: root, RootDigest: manifestDigest.Hex()}, nil
}

// RootOf returns the stable local path for an already-resolved name.
func (r *Resolver) RootOf(name string) (string, error) {
	root := filepath.Join(r.RootsDir, name)
	if !dirExists(root) {
		return "", errors.Newf(errors.CodeRepoNotFound, "no resolved root for %q", name)
	}
	return root, nil
}

func putManifest(store *cas.Store, m treeManifest) (digest.Digest, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	ordered := make([]struct {
		Path   string        `json:"path"`
		Digest digest.Digest `json:"digest"`
	}, len(names))
	for i, name := range names {
		ordered[i].Path = name
		ordered[i].Digest = m[name]
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return digest.Digest{}, errors.Wrap(err, errors.CodeRepoFetchFailed, "marshaling tree manifest")
	}
	return store.Put(cas.KindTreeManifest, b)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
