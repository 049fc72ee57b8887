// Package scheduler owns action state, dispatches ready work to executors,
// and handles retry/failure propagation. The ready queue is sharded, each
// shard with its own lock; per-action bookkeeping (priority, retries, worker
// assignment) is kept in one map under a single scheduler-wide lock.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"bldr/internal/backpressure"
	bldrerrors "bldr/internal/errors"
	"bldr/internal/graph"
)

// MaxRetries bounds how many times a transiently-failed action is re-queued
// before it is marked permanently Failed.
const MaxRetries = 3

// MinShardCount is the minimum number of shards a Scheduler will honor; the
// spec requires a power-of-two shard count of at least 16.
const MinShardCount = 16

// Outcome is what an executor reports after running an action.
type Outcome struct {
	Success   bool
	Retryable bool // only consulted when Success is false
}

// Report applies an executor's outcome: Complete on success, Fail otherwise.
// It returns the dependents newly made Ready (success) or Failed (failure).
func (s *Scheduler) Report(actionID string, outcome Outcome) ([]string, error) {
	if outcome.Success {
		return s.Complete(actionID)
	}
	return s.Fail(actionID, outcome.Retryable)
}

// Assignment is a ready action handed to a caller for execution.
type Assignment struct {
	ActionID string
	Priority backpressure.Priority
	Attempt  int
}

type actionState struct {
	id       string
	priority backpressure.Priority
	retries  int
	worker   string // non-empty while Scheduled/Running
}

// Scheduler tracks the Ready/Scheduled/Running/Completed/Failed lifecycle of
// every action registered with it, and decides dispatch order.
type Scheduler struct {
	g      *graph.Graph
	shards []*shard

	mu      sync.RWMutex
	actions map[string]*actionState
	byWorker map[string]map[string]struct{}

	tick atomic.Uint64
	rng  *rand.Rand
	rngMu sync.Mutex
}

// New creates a scheduler over an existing build graph with the given shard
// count, rounded up to the nearest power of two no smaller than MinShardCount.
func New(g *graph.Graph, shardCount int) *Scheduler {
	n := nextPowerOfTwo(shardCount)
	if n < MinShardCount {
		n = MinShardCount
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = newShard()
	}
	return &Scheduler{
		g:        g,
		shards:   shards,
		actions:  make(map[string]*actionState),
		byWorker: make(map[string]map[string]struct{}),
		rng:      rand.New(rand.NewSource(1)),
	}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Submit registers an action at the given priority. The caller must have
// already added it to the graph (and any dependency edges) via Graph();
// Submit enqueues it to its shard's ready heap only if it has no outstanding
// dependencies.
func (s *Scheduler) Submit(actionID string, priority backpressure.Priority) error {
	depth, err := s.g.Depth(actionID)
	if err != nil {
		return err
	}
	remaining, err := s.g.RemainingDeps(actionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.actions[actionID] = &actionState{id: actionID, priority: priority}
	s.mu.Unlock()

	if remaining == 0 {
		s.enqueueReady(actionID, priority, depth)
	}
	return nil
}

func (s *Scheduler) enqueueReady(actionID string, priority backpressure.Priority, depth int) {
	sh := s.shards[shardFor(actionID, len(s.shards))]
	sh.push(readyItem{actionID: actionID, priority: priority, depth: depth, tick: s.tick.Add(1)})
}

// Dispatch picks and marks Scheduled the next ready action, preferring
// High/Critical work across all shards before falling back to any priority,
// with the shard scan start index randomized to avoid hot-spotting shard 0.
func (s *Scheduler) Dispatch(workerID string) (Assignment, bool) {
	if item, ok := s.dequeue(backpressure.PriorityHigh); ok {
		return s.assign(item, workerID), true
	}
	if item, ok := s.dequeue(backpressure.PriorityLow); ok {
		return s.assign(item, workerID), true
	}
	return Assignment{}, false
}

func (s *Scheduler) dequeue(min backpressure.Priority) (readyItem, bool) {
	s.rngMu.Lock()
	start := s.rng.Intn(len(s.shards))
	s.rngMu.Unlock()

	for i := 0; i < len(s.shards); i++ {
		idx := (start + i) % len(s.shards)
		if item, ok := s.shards[idx].popAtLeast(min); ok {
			return item, ok
		}
	}
	return readyItem{}, false
}

func (s *Scheduler) assign(item readyItem, workerID string) Assignment {
	s.mu.Lock()
	st := s.actions[item.actionID]
	st.worker = workerID
	if _, ok := s.byWorker[workerID]; !ok {
		s.byWorker[workerID] = make(map[string]struct{})
	}
	s.byWorker[workerID][item.actionID] = struct{}{}
	attempt := st.retries + 1
	s.mu.Unlock()

	s.g.SetState(item.actionID, graph.StateScheduled)
	return Assignment{ActionID: item.actionID, Priority: item.priority, Attempt: attempt}
}

// Complete marks an action Completed and returns the dependents that became
// newly ready (already re-enqueued into their shards).
func (s *Scheduler) Complete(actionID string) ([]string, error) {
	s.clearAssignment(actionID)

	ready, err := s.g.CompleteNode(actionID)
	if err != nil {
		return nil, err
	}
	for _, id := range ready {
		s.requeue(id)
	}
	return ready, nil
}

func (s *Scheduler) requeue(actionID string) {
	s.mu.RLock()
	st, ok := s.actions[actionID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	depth, err := s.g.Depth(actionID)
	if err != nil {
		return
	}
	s.enqueueReady(actionID, st.priority, depth)
}

func (s *Scheduler) clearAssignment(actionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.actions[actionID]
	if !ok {
		return
	}
	if st.worker != "" {
		delete(s.byWorker[st.worker], actionID)
		st.worker = ""
	}
}

// Fail handles a reported failure. Transient failures are re-queued Ready
// with retries incremented, capped at MaxRetries; beyond the cap, or for a
// permanent failure, the action and all its transitive dependents become
// Failed.
func (s *Scheduler) Fail(actionID string, transient bool) (failed []string, err error) {
	s.clearAssignment(actionID)

	if transient {
		s.mu.Lock()
		st := s.actions[actionID]
		st.retries++
		exceeded := st.retries > MaxRetries
		s.mu.Unlock()

		if !exceeded {
			depth, derr := s.g.Depth(actionID)
			if derr != nil {
				return nil, derr
			}
			s.g.SetState(actionID, graph.StateReady)
			s.enqueueReady(actionID, st.priority, depth)
			return nil, nil
		}
	}

	failedDeps, err := s.g.FailNode(actionID)
	if err != nil {
		return nil, err
	}
	return append([]string{actionID}, failedDeps...), nil
}

// ReassignWorker handles worker death: every action assigned to workerID is
// returned to Ready with retries incremented, or Failed if that exceeds
// MaxRetries.
func (s *Scheduler) ReassignWorker(workerID string) (requeued, failed []string, err error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.byWorker[workerID]))
	for id := range s.byWorker[workerID] {
		ids = append(ids, id)
	}
	delete(s.byWorker, workerID)
	s.mu.Unlock()

	for _, id := range ids {
		fs, err := s.Fail(id, true)
		if err != nil {
			return nil, nil, err
		}
		if len(fs) > 0 {
			failed = append(failed, fs...)
		} else {
			requeued = append(requeued, id)
		}
	}
	return requeued, failed, nil
}

// Graph returns the underlying build graph, for callers that need to add
// nodes/edges before Submit.
func (s *Scheduler) Graph() *graph.Graph { return s.g }

// Retries reports the current retry count for an action.
func (s *Scheduler) Retries(actionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.actions[actionID]
	if !ok {
		return 0, bldrerrors.New(bldrerrors.CodeGraphUnknownNode, "unknown action: "+actionID)
	}
	return st.retries, nil
}

// ShardCount reports the number of internal shards.
func (s *Scheduler) ShardCount() int { return len(s.shards) }

// Shutdown drops every shard's queued ready actions concurrently via an
// errgroup and waits for all shards to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for i := range s.shards {
		sh := s.shards[i]
		g.Go(func() error {
			sh.mu.Lock()
			defer sh.mu.Unlock()
			sh.ready = nil
			return nil
		})
	}
	return g.Wait()
}
