package cluster

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bldr/internal/storage"
)

// DefaultStaleThreshold is how long a worker may go without a heartbeat
// before the coordinator considers it dead and reassigns its work.
const DefaultStaleThreshold = 15 * time.Second

// WorkerInfo is everything the coordinator knows about a registered worker.
type WorkerInfo struct {
	WorkerID     string
	Address      string
	Capabilities []string
	Platform     string
	QueueDepth   int
	LoadFactor   float64
	LastSeen     time.Time
	Alive        bool
}

// score ranks a worker for work-stealing victim selection: higher queue
// depth and lower load favor being picked as a steal source.
func (w WorkerInfo) score(weightQueue, weightLoad float64) float64 {
	return float64(w.QueueDepth)*weightQueue - w.LoadFactor*weightLoad
}

// Registry tracks every worker the coordinator has registered, their most
// recently advertised load, and liveness derived from heartbeat recency.
type Registry struct {
	mu             sync.RWMutex
	workers        map[string]*WorkerInfo
	staleThreshold time.Duration
	store          *storage.SQLiteStore
}

// NewRegistry creates an empty registry with the given stale threshold
// (DefaultStaleThreshold if zero).
func NewRegistry(staleThreshold time.Duration) *Registry {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	return &Registry{workers: make(map[string]*WorkerInfo), staleThreshold: staleThreshold}
}

// WithStore attaches a durable backing store: every Register/Heartbeat is
// mirrored into it so the peer set survives a coordinator restart, and
// LoadPeers can repopulate from it on startup.
func (r *Registry) WithStore(store *storage.SQLiteStore) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
	return r
}

// LoadPeers repopulates the registry from the backing store, marking every
// restored peer not-yet-alive until it re-registers or heartbeats.
func (r *Registry) LoadPeers(ctx context.Context) error {
	r.mu.Lock()
	store := r.store
	r.mu.Unlock()
	if store == nil {
		return nil
	}
	recs, err := store.ListPeers(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		var caps []string
		_ = json.Unmarshal([]byte(rec.CapabilitiesJSON), &caps)
		if _, exists := r.workers[rec.ID]; exists {
			continue
		}
		r.workers[rec.ID] = &WorkerInfo{
			WorkerID:     rec.ID,
			Address:      rec.Address,
			Capabilities: caps,
			LastSeen:     rec.LastHeartbeatAt,
			Alive:        false,
		}
	}
	return nil
}

// Register adds or updates a worker's static identity and capabilities.
func (r *Registry) Register(workerID, address string, capabilities []string, platform string) {
	r.mu.Lock()
	w := &WorkerInfo{
		WorkerID:     workerID,
		Address:      address,
		Capabilities: capabilities,
		Platform:     platform,
		LastSeen:     time.Now(),
		Alive:        true,
	}
	r.workers[workerID] = w
	store := r.store
	r.mu.Unlock()
	persistPeer(store, *w)
}

// Heartbeat records a worker's current load and marks it alive.
func (r *Registry) Heartbeat(workerID string, queueDepth int, loadFactor float64) bool {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	w.QueueDepth = queueDepth
	w.LoadFactor = loadFactor
	w.LastSeen = time.Now()
	w.Alive = true
	snapshot := *w
	store := r.store
	r.mu.Unlock()
	persistPeer(store, snapshot)
	return true
}

// persistPeer mirrors a worker's current record into the backing store, if
// any. Persistence failures are not fatal to scheduling: the in-memory
// registry remains the source of truth for the running process.
func persistPeer(store *storage.SQLiteStore, w WorkerInfo) {
	if store == nil {
		return
	}
	capsJSON, err := json.Marshal(w.Capabilities)
	if err != nil {
		return
	}
	_ = store.UpsertPeer(context.Background(), storage.PeerRecord{
		ID:               w.WorkerID,
		Address:          w.Address,
		CapabilitiesJSON: string(capsJSON),
		LastHeartbeatAt:  w.LastSeen,
		CreatedAt:        w.LastSeen,
		UpdatedAt:        w.LastSeen,
	})
}

// Get returns a copy of a worker's current info.
func (r *Registry) Get(workerID string) (WorkerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	if !ok {
		return WorkerInfo{}, false
	}
	return *w, true
}

// Alive returns every worker currently considered alive.
func (r *Registry) Alive() []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		if w.Alive {
			out = append(out, *w)
		}
	}
	return out
}

// SweepStale marks every worker whose last heartbeat exceeds the stale
// threshold as dead and returns their IDs, so the caller can reassign their
// in-flight actions (spec.md's coordinator-side worker-death handling).
func (r *Registry) SweepStale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dead []string
	cutoff := time.Now().Add(-r.staleThreshold)
	for id, w := range r.workers {
		if w.Alive && w.LastSeen.Before(cutoff) {
			w.Alive = false
			dead = append(dead, id)
		}
	}
	return dead
}

// Remove drops a worker from the registry entirely, e.g. on graceful
// disconnect.
func (r *Registry) Remove(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, workerID)
}
