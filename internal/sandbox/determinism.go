package sandbox

import (
	"context"
	"fmt"
	"sort"

	"bldr/internal/digest"
	bldrerrors "bldr/internal/errors"
)

// VerifyDeterminism runs spec n times (n >= 2) through exec and asserts every
// trial produced identical output digests at every declared output path. It
// returns the first trial's outputs on success, or an error naming the first
// path whose digest diverged.
func VerifyDeterminism(ctx context.Context, exec *Executor, spec ActionSpec, n int) (Result, error) {
	if n < 2 {
		return Result{}, bldrerrors.New(bldrerrors.CodeInvalidArgument, "determinism verification requires at least 2 trials")
	}

	var first Result
	for trial := 0; trial < n; trial++ {
		result, err := exec.Execute(ctx, spec)
		if err != nil {
			return Result{}, fmt.Errorf("trial %d of action %s: %w", trial, spec.ID, err)
		}

		if trial == 0 {
			first = result
			continue
		}
		if path, ok := firstDivergence(first.Outputs, result.Outputs); ok {
			return first, bldrerrors.New(bldrerrors.CodeSandboxNonDeterministic,
				fmt.Sprintf("action %s is nondeterministic: output %q diverged on trial %d", spec.ID, path, trial))
		}
	}
	return first, nil
}

// firstDivergence returns the lexicographically first output path whose
// digest differs between two trials, scanning the union of both paths so a
// trial that drops or adds an output also counts as a divergence.
func firstDivergence(a, b map[string]digest.Digest) (string, bool) {
	paths := make(map[string]struct{}, len(a)+len(b))
	for p := range a {
		paths[p] = struct{}{}
	}
	for p := range b {
		paths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	for _, p := range sorted {
		da, okA := a[p]
		db, okB := b[p]
		if okA != okB || !da.Equal(db) {
			return p, true
		}
	}
	return "", false
}
