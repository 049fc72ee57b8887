package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"bldr/internal/cas"
	"bldr/internal/digest"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	store, err := cas.Open(t.TempDir(), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open failed: %v", err)
	}
	return &Executor{Store: store, Backend: fallbackBackend{}, SourceDateEpoch: 1700000000}
}

func TestExecuteRunsCommandAndIngestsOutputs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	e := newTestExecutor(t)
	spec := ActionSpec{
		ID:          "echo-action",
		Command:     []string{"/bin/sh", "-c", "echo hi > out.txt"},
		OutputPaths: []string{"out.txt"},
	}

	result, err := e.Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", result.ExitCode)
	}
	if _, ok := result.Outputs["out.txt"]; !ok {
		t.Error("expected out.txt to be ingested")
	}

	b, err := e.Store.Get(cas.KindFile, result.Outputs["out.txt"])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(b) != "hi\n" {
		t.Errorf("expected content %q, got %q", "hi\n", b)
	}
}

func TestExecuteMaterializesDeclaredInputs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	e := newTestExecutor(t)
	d, err := e.Store.Put(cas.KindFile, []byte("input payload"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	spec := ActionSpec{
		ID:          "cat-action",
		Command:     []string{"/bin/sh", "-c", "cat in.txt > out.txt"},
		Inputs:      []digest.InputPair{{Path: "in.txt", Digest: d}},
		OutputPaths: []string{"out.txt"},
	}

	result, err := e.Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	b, _ := e.Store.Get(cas.KindFile, result.Outputs["out.txt"])
	if string(b) != "input payload" {
		t.Errorf("expected materialized input to be echoed back, got %q", b)
	}
}

func TestExecuteMissingOutputFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	e := newTestExecutor(t)
	spec := ActionSpec{
		ID:          "no-op",
		Command:     []string{"/bin/sh", "-c", "true"},
		OutputPaths: []string{"never-written.txt"},
	}

	if _, err := e.Execute(context.Background(), spec); err == nil {
		t.Error("expected an error for a missing declared output")
	}
}

func TestExecuteTimesOutSlowCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	e := newTestExecutor(t)
	spec := ActionSpec{
		ID:      "sleeper",
		Command: []string{"/bin/sh", "-c", "sleep 5"},
		Limits:  ResourceLimits{WallClock: 50 * time.Millisecond, GracePeriod: 10 * time.Millisecond},
	}

	result, err := e.Execute(context.Background(), spec)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !result.TimedOut {
		t.Error("expected Result.TimedOut to be set")
	}
}

func TestFallbackBackendWarns(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	store, err := cas.Open(t.TempDir(), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open failed: %v", err)
	}
	var warnings []string
	e := &Executor{
		Store:     store,
		Backend:   fallbackBackend{warning: "no sandbox available"},
		OnWarning: func(w string) { warnings = append(warnings, w) },
	}

	_, err = e.Execute(context.Background(), ActionSpec{ID: "x", Command: []string{"/bin/sh", "-c", "true"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %v", warnings)
	}
}

func TestIngestOutputsNestedPath(t *testing.T) {
	dir := t.TempDir()
	store, err := cas.Open(t.TempDir(), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "out.bin"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	outputs, err := ingestOutputs(store, dir, []string{"nested/out.bin"})
	if err != nil {
		t.Fatalf("ingestOutputs failed: %v", err)
	}
	if _, ok := outputs["nested/out.bin"]; !ok {
		t.Error("expected nested output to be captured")
	}
}
