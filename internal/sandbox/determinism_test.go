package sandbox

import (
	"context"
	"runtime"
	"testing"

	"bldr/internal/cas"
	"bldr/internal/digest"
)

func TestVerifyDeterminismPassesForStableOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	e := newTestExecutor(t)
	spec := ActionSpec{
		ID:          "stable",
		Command:     []string{"/bin/sh", "-c", "printf fixed > out.txt"},
		OutputPaths: []string{"out.txt"},
	}

	if _, err := VerifyDeterminism(context.Background(), e, spec, 3); err != nil {
		t.Fatalf("expected deterministic action to pass, got: %v", err)
	}
}

func TestVerifyDeterminismCatchesNondeterministicOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	store, err := cas.Open(t.TempDir(), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open failed: %v", err)
	}
	e := &Executor{Store: store, Backend: fallbackBackend{}}
	spec := ActionSpec{
		ID:          "flaky",
		Command:     []string{"/bin/sh", "-c", "date +%s%N > out.txt"},
		OutputPaths: []string{"out.txt"},
	}

	if _, err := VerifyDeterminism(context.Background(), e, spec, 3); err == nil {
		t.Error("expected nondeterminism to be detected")
	}
}

func TestVerifyDeterminismRejectsFewerThanTwoTrials(t *testing.T) {
	e := newTestExecutor(t)
	if _, err := VerifyDeterminism(context.Background(), e, ActionSpec{ID: "x", Command: []string{"true"}}, 1); err == nil {
		t.Error("expected an error for n < 2")
	}
}

func TestFirstDivergenceReportsFirstMismatchingPath(t *testing.T) {
	a := map[string]digest.Digest{
		"a.txt": digest.HashBytes([]byte("one")),
		"b.txt": digest.HashBytes([]byte("same")),
	}
	b := map[string]digest.Digest{
		"a.txt": digest.HashBytes([]byte("two")),
		"b.txt": digest.HashBytes([]byte("same")),
	}

	path, ok := firstDivergence(a, b)
	if !ok || path != "a.txt" {
		t.Errorf("expected divergence at a.txt, got path=%q ok=%v", path, ok)
	}

	if _, ok := firstDivergence(a, a); ok {
		t.Error("expected no divergence comparing a map to itself")
	}
}
