package scheduler

import (
	"container/heap"
	"sync"

	"github.com/cespare/xxhash/v2"

	"bldr/internal/backpressure"
)

// shardFor selects the shard index for an action id via a non-cryptographic
// hash, kept separate from the content digest in internal/digest so shard
// routing never waits on the slower, stronger hash.
func shardFor(actionID string, shardCount int) int {
	return int(xxhash.Sum64String(actionID) % uint64(shardCount))
}

// readyItem is one entry in a shard's ready-action heap.
type readyItem struct {
	actionID string
	priority backpressure.Priority
	depth    int
	tick     uint64
}

// readyHeap orders by (priority desc, depth desc, insertion tick asc), so
// Critical actions preempt and, within a priority, deeper actions (closer to
// the leaves of the dependency graph) run first to keep the graph draining.
type readyHeap []readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	if h[i].depth != h[j].depth {
		return h[i].depth > h[j].depth
	}
	return h[i].tick < h[j].tick
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(readyItem)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// shard owns one slice of the ready queue with its own lock, so pushes and
// pops on different shards do not contend. Per-action state is not held here.
type shard struct {
	mu    sync.Mutex
	ready readyHeap
}

func newShard() *shard {
	s := &shard{}
	heap.Init(&s.ready)
	return s
}

func (s *shard) push(item readyItem) {
	s.mu.Lock()
	heap.Push(&s.ready, item)
	s.mu.Unlock()
}

// popAtLeast pops the top item only if its priority is >= min, used for the
// two-pass dequeue (High/Critical first, then anything).
func (s *shard) popAtLeast(min backpressure.Priority) (readyItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 || s.ready[0].priority < min {
		return readyItem{}, false
	}
	return heap.Pop(&s.ready).(readyItem), true
}

func (s *shard) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}
