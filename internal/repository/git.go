package repository

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"bldr/internal/errors"
)

var fullSHARe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// fetchGit shallow-clones src.URL into a fresh temp directory at the
// declared commit (an exact 40-character SHA) or tag, and returns that
// directory. A tag is cloned as given and is not resolved to a commit, and
// the clone is not checked against src.Integrity — unlike an http_archive,
// a git tag is not itself a content hash.
func fetchGit(ctx context.Context, src Source) (string, error) {
	if src.Commit == "" && src.Tag == "" {
		return "", errors.Newf(errors.CodeRepoInvalidReference, "git source %q requires an exact commit or a tag", src.Name)
	}
	if src.Commit != "" && !fullSHARe.MatchString(src.Commit) {
		return "", errors.Newf(errors.CodeRepoInvalidReference, "git source %q commit must be a full 40-character SHA, got %q", src.Name, src.Commit)
	}
	if !gitAvailable {
		return "", errors.New(errors.CodeRepoFetchFailed, "git is not available on PATH")
	}

	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "repo-git-*")
	if err != nil {
		return "", errors.Wrap(err, errors.CodeRepoFetchFailed, "creating clone directory")
	}

	ref := src.Commit
	if ref == "" {
		ref = src.Tag
	}

	if err := shallowClone(ctx, src.URL, ref, dir); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

func shallowClone(ctx context.Context, url, ref, dir string) error {
	clone := exec.CommandContext(ctx, "git", "clone", "--no-checkout", "--depth", "1", "--branch", ref, url, dir)
	if out, err := clone.CombinedOutput(); err != nil {
		// Some refs (an exact commit not at a branch/tag tip) can't be
		// shallow-cloned by branch name; fall back to init+fetch+checkout.
		if fallbackErr := fetchAndCheckout(ctx, url, ref, dir); fallbackErr != nil {
			return errors.Wrapf(err, errors.CodeRepoFetchFailed, "git clone failed: %s", strings.TrimSpace(string(out)))
		}
		return nil
	}
	return checkoutRef(ctx, dir, ref)
}

func fetchAndCheckout(ctx context.Context, url, ref, dir string) error {
	steps := [][]string{
		{"init"},
		{"remote", "add", "origin", url},
		{"fetch", "--depth", "1", "origin", ref},
		{"checkout", "FETCH_HEAD"},
	}
	for _, args := range steps {
		cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
		if args[0] == "init" {
			cmd = exec.CommandContext(ctx, "git", "init", dir)
		}
		if out, err := cmd.CombinedOutput(); err != nil {
			return errors.Newf(errors.CodeRepoFetchFailed, "git %s failed: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
		}
	}
	return nil
}

func checkoutRef(ctx context.Context, dir, ref string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "checkout", ref, "--", ".")
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Newf(errors.CodeRepoFetchFailed, "git checkout failed: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// gitAvailable reports whether a git binary is on PATH, checked once at
// package init so callers fail fast with a clear error.
var gitAvailable = func() bool {
	_, err := exec.LookPath("git")
	return err == nil
}()

// gitTimeout bounds a single clone attempt before it's treated as hung.
const gitTimeout = 2 * time.Minute
