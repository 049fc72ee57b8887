package cluster

import (
	"context"
	"net"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"bldr/internal/cas"
	"bldr/internal/graph"
	"bldr/internal/sandbox"
	"bldr/internal/scheduler"
	"bldr/internal/storage"
)

func newTestCoordinator(t *testing.T) (*Coordinator, net.Listener) {
	t.Helper()
	store, err := cas.Open(t.TempDir(), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	g := graph.New()
	sched := scheduler.New(g, 16)
	coord := NewCoordinator(sched, store, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go coord.Serve(ln)
	t.Cleanup(func() {
		coord.Close()
		ln.Close()
	})
	return coord, ln
}

func TestWorkerRegistersAndHeartbeats(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	coord, ln := newTestCoordinator(t)

	store, err := cas.Open(t.TempDir(), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	exec := sandbox.NewExecutor(store, 0)
	w := NewWorker(Identity{WorkerID: "worker-a", Platform: "linux/amd64"}, exec, store)
	w.HeartbeatInterval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Connect(ctx, ln.Addr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer w.Close()

	go w.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if info, ok := coord.Registry.Get("worker-a"); ok && info.Alive {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("coordinator never observed worker registration")
}

func TestCoordinatorAssignsActionAndReceivesResult(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	coord, ln := newTestCoordinator(t)

	store, err := cas.Open(t.TempDir(), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	exec := sandbox.NewExecutor(store, 0)
	w := NewWorker(Identity{WorkerID: "worker-a", Platform: "linux/amd64"}, exec, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Connect(ctx, ln.Addr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer w.Close()
	go w.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := coord.Registry.Get("worker-a"); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	result, err := coord.Assign("worker-a", AssignPayload{
		ActionID: "action-1",
		Command:  []string{"/bin/sh", "-c", "echo hello"},
	})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful result, got %+v", result)
	}
}

func newTestCoordinatorWithCache(t *testing.T) (*Coordinator, net.Listener) {
	t.Helper()
	store, err := cas.Open(t.TempDir(), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	db, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("storage.NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	g := graph.New()
	sched := scheduler.New(g, 16)
	coord := NewCoordinator(sched, store, db)
	coord.DispatchInterval = 5 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go coord.Serve(ln)
	t.Cleanup(func() {
		coord.Close()
		ln.Close()
	})
	return coord, ln
}

func connectTestWorker(t *testing.T, ln net.Listener, workerID string) *Worker {
	t.Helper()
	store, err := cas.Open(t.TempDir(), cas.Config{})
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	exec := sandbox.NewExecutor(store, 0)
	w := NewWorker(Identity{WorkerID: workerID, Platform: "linux/amd64"}, exec, store)
	w.HeartbeatInterval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Connect(ctx, ln.Addr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return w
}

// TestDispatchLoopRunsSubmittedAction exercises the path a populated build
// graph takes end to end: Submit queues it, the dispatch loop picks up the
// idle worker and hands it the action, and the graph node lands Completed
// once the worker's Result comes back.
func TestDispatchLoopRunsSubmittedAction(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	coord, ln := newTestCoordinatorWithCache(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w := connectTestWorker(t, ln, "worker-a")
	defer w.Close()
	go w.Run(ctx)

	action := Action{ID: "build-1", Command: []string{"/bin/sh", "-c", "echo hi"}}
	if err := coord.Submit([]Action{action}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if state, err := coord.Scheduler.Graph().State("build-1"); err == nil && state == graph.StateCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("submitted action never completed via the dispatch loop")
}

// TestDispatchLoopCacheHitSkipsWorker builds a cache entry for one action,
// then disconnects the worker and submits a second action with an identical
// fingerprint: it must still complete, proving the hit was served from the
// cache rather than requiring a live worker.
func TestDispatchLoopCacheHitSkipsWorker(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	coord, ln := newTestCoordinatorWithCache(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w := connectTestWorker(t, ln, "worker-a")
	go w.Run(ctx)

	first := Action{ID: "build-1", Command: []string{"/bin/sh", "-c", "echo hi"}}
	if err := coord.Submit([]Action{first}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if state, err := coord.Scheduler.Graph().State("build-1"); err == nil && state == graph.StateCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	w.Close()
	cancel()

	second := Action{ID: "build-2", Command: []string{"/bin/sh", "-c", "echo hi"}}
	if err := coord.Submit([]Action{second}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state, err := coord.Scheduler.Graph().State("build-2"); err == nil && state == graph.StateCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("cache-hit action never completed without a connected worker")
}
