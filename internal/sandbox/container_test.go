package sandbox

import (
	"context"
	"testing"

	"bldr/internal/cas"
)

// TestContainerExecutorExecutesAgainstDaemon only runs when a Docker daemon
// is actually reachable; CI and most dev sandboxes have none, so this
// exercises the happy path opportunistically rather than gating the suite.
func TestContainerExecutorExecutesAgainstDaemon(t *testing.T) {
	store, err := cas.Open(t.TempDir(), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open failed: %v", err)
	}
	ce, err := NewContainerExecutor(store, "alpine:3", 1700000000)
	if err != nil {
		t.Skipf("no docker daemon reachable: %v", err)
	}
	defer ce.Close()

	spec := ActionSpec{
		ID:          "container-echo",
		Command:     []string{"/bin/sh", "-c", "echo hi > out.txt"},
		OutputPaths: []string{"out.txt"},
	}
	result, err := ce.Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", result.ExitCode)
	}
	if _, ok := result.Outputs["out.txt"]; !ok {
		t.Error("expected out.txt to be ingested")
	}
}

func TestContainerNetworkModeMapping(t *testing.T) {
	if got := containerNetworkMode(true); got != "bridge" {
		t.Errorf("expected bridge, got %q", got)
	}
	if got := containerNetworkMode(false); got != "none" {
		t.Errorf("expected none, got %q", got)
	}
}
