package cluster

import (
	"context"
	"net"
	"sync"
	"time"

	"bldr/internal/actioncache"
	"bldr/internal/cas"
	bldrerrors "bldr/internal/errors"
	"bldr/internal/scheduler"
	"bldr/internal/storage"
)

// DefaultDispatchInterval is how often the coordinator scans for idle,
// eligible workers to hand ready actions to.
const DefaultDispatchInterval = 50 * time.Millisecond

// Coordinator listens for worker connections and dispatches ready actions
// from a Scheduler across them, per spec.md's distributed layer. It owns
// the worker registry and reputation tracker; scheduling itself (graph
// state, retries, priority) is delegated to the embedded Scheduler exactly
// as in the single-process case. Cache consults the action cache before
// handing an action to a worker at all, and records its result afterward.
type Coordinator struct {
	Scheduler  *scheduler.Scheduler
	Store      *cas.Store
	Cache      *actioncache.Cache
	Registry   *Registry
	Reputation *ReputationTracker

	DispatchInterval time.Duration

	mu      sync.Mutex
	conns   map[string]*Conn // workerID -> live connection
	pending map[string]chan ResultPayload
	specs   map[string]Action // actionID -> full spec, submitted via Submit
	busy    map[string]bool   // workerID -> has an assignment in flight

	sweepInterval time.Duration
	stopSweep     chan struct{}
}

// NewCoordinator builds a coordinator dispatching over sched and backed by
// store for blob transport. db backs both the action cache and the
// persisted peer registry; pass nil to run without either (tests that
// don't care about cache hits or registry restarts).
func NewCoordinator(sched *scheduler.Scheduler, store *cas.Store, db *storage.SQLiteStore) *Coordinator {
	registry := NewRegistry(DefaultStaleThreshold)
	var cache *actioncache.Cache
	if db != nil {
		cache = actioncache.New(db)
		registry.WithStore(db)
		_ = registry.LoadPeers(context.Background())
	}
	return &Coordinator{
		Scheduler:        sched,
		Store:            store,
		Cache:            cache,
		Registry:         registry,
		Reputation:       NewReputationTracker(),
		DispatchInterval: DefaultDispatchInterval,
		conns:            make(map[string]*Conn),
		pending:          make(map[string]chan ResultPayload),
		specs:            make(map[string]Action),
		busy:             make(map[string]bool),
		sweepInterval:    DefaultStaleThreshold / 3,
	}
}

// Serve accepts worker connections on ln until it is closed, handling each
// on its own goroutine, and runs the heartbeat staleness sweep and the
// dispatch loop in the background until Close is called.
func (c *Coordinator) Serve(ln net.Listener) error {
	c.stopSweep = make(chan struct{})
	go c.sweepLoop()
	go c.dispatchLoop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-c.stopSweep:
				return nil
			default:
				return err
			}
		}
		go c.handleWorker(&Conn{Conn: conn, ReadTimeout: 2 * DefaultStaleThreshold})
	}
}

// Close stops the staleness sweep and dispatch loops. It does not close
// accepted connections already in flight.
func (c *Coordinator) Close() {
	if c.stopSweep != nil {
		close(c.stopSweep)
	}
}

// dispatchLoop is the bridge from a populated Build Graph to dispatched
// actions: on every tick it looks for an alive, eligible, idle worker and a
// ready action for it, consulting the action cache before ever touching the
// network.
func (c *Coordinator) dispatchLoop() {
	interval := c.DispatchInterval
	if interval <= 0 {
		interval = DefaultDispatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			c.dispatchTick()
		}
	}
}

func (c *Coordinator) dispatchTick() {
	for _, w := range c.Registry.Alive() {
		if !c.Reputation.Get(w.WorkerID).Eligible() {
			continue
		}
		c.mu.Lock()
		if c.busy[w.WorkerID] {
			c.mu.Unlock()
			continue
		}
		c.busy[w.WorkerID] = true
		c.mu.Unlock()

		assignment, ok := c.Scheduler.Dispatch(w.WorkerID)
		if !ok {
			c.mu.Lock()
			delete(c.busy, w.WorkerID)
			c.mu.Unlock()
			continue
		}
		go c.runAssignment(w.WorkerID, assignment)
	}
}

// runAssignment carries one dispatched assignment through the cache
// lookup/lease/execute/record cycle described by spec.md's dispatch step:
// a cache hit completes the action without ever reaching the worker: a miss
// acquires the at-most-one-build lease, assigns to the worker, and records
// the result before releasing it.
func (c *Coordinator) runAssignment(workerID string, a scheduler.Assignment) {
	defer func() {
		c.mu.Lock()
		delete(c.busy, workerID)
		c.mu.Unlock()
	}()

	c.mu.Lock()
	action, ok := c.specs[a.ActionID]
	c.mu.Unlock()
	if !ok {
		_, _ = c.Scheduler.Fail(a.ActionID, false)
		return
	}

	ctx := context.Background()
	fp := action.fingerprint()

	if c.Cache != nil {
		if _, hit, err := c.Cache.Lookup(ctx, fp); err == nil && hit {
			_, _ = c.Scheduler.Complete(a.ActionID)
			return
		}
	}

	var lease *actioncache.Lease
	if c.Cache != nil {
		l, err := c.Cache.AcquireBuildLease(ctx, fp)
		if err == nil {
			lease = l
			defer lease.Release(ctx)
		}
	}

	result, err := c.Assign(workerID, action.assignPayload())
	if err != nil {
		_, _ = c.Scheduler.Fail(a.ActionID, true)
		return
	}

	// Scheduler.Complete/Fail for this action already happened inside
	// handleResult, which fed the Assign call above its result.
	if c.Cache != nil && result.Success {
		_ = c.Cache.Record(ctx, fp, actioncache.Entry{
			Outputs:      result.Outputs,
			ExitStatus:   result.ExitCode,
			StderrDigest: result.StderrDigest,
			Duration:     time.Duration(result.DurationMS) * time.Millisecond,
		})
	}
}

func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			for _, workerID := range c.Registry.SweepStale() {
				c.onWorkerDead(workerID)
			}
		}
	}
}

// onWorkerDead reassigns every action in-flight on a worker whose heartbeat
// went stale, per spec.md's worker-death reassignment semantics.
func (c *Coordinator) onWorkerDead(workerID string) {
	requeued, failed, err := c.Scheduler.ReassignWorker(workerID)
	if err != nil {
		return
	}
	for range requeued {
		c.Reputation.RecordOutcome(workerID, false)
	}
	for range failed {
		c.Reputation.RecordOutcome(workerID, false)
	}
	c.mu.Lock()
	delete(c.conns, workerID)
	c.mu.Unlock()
}

func (c *Coordinator) handleWorker(conn *Conn) {
	defer conn.Close()

	var workerID string
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			if workerID != "" {
				c.onWorkerDead(workerID)
			}
			return
		}

		switch env.Type {
		case MsgRegister:
			var p RegisterPayload
			if err := decode(env, &p); err != nil {
				continue
			}
			workerID = p.WorkerID
			c.Registry.Register(p.WorkerID, p.Address, p.Capabilities, p.Platform)
			c.mu.Lock()
			c.conns[workerID] = conn
			c.mu.Unlock()
			c.reply(conn, env.ID, MsgAck, struct{}{})

		case MsgHeartbeat:
			var p HeartbeatPayload
			if err := decode(env, &p); err != nil {
				continue
			}
			c.Registry.Heartbeat(p.WorkerID, p.QueueDepth, p.LoadFactor)
			c.reply(conn, env.ID, MsgAck, PeerListPayload{Peers: c.peerViews(p.WorkerID)})

		case MsgResult:
			var p ResultPayload
			if err := decode(env, &p); err != nil {
				continue
			}
			c.handleResult(workerID, p)
			c.reply(conn, env.ID, MsgAck, struct{}{})

		case MsgFetch:
			var p FetchPayload
			if err := decode(env, &p); err != nil {
				continue
			}
			b, err := c.Store.Get(cas.KindFile, p.Digest)
			if err != nil {
				c.reply(conn, env.ID, MsgError, struct {
					Message string `json:"message"`
				}{err.Error()})
				continue
			}
			c.reply(conn, env.ID, MsgStore, StorePayload{Digest: p.Digest, Bytes: b})

		case MsgStore:
			var p StorePayload
			if err := decode(env, &p); err != nil {
				continue
			}
			if _, err := c.Store.Put(cas.KindFile, p.Bytes); err != nil {
				c.reply(conn, env.ID, MsgError, struct {
					Message string `json:"message"`
				}{err.Error()})
				continue
			}
			c.reply(conn, env.ID, MsgAck, struct{}{})
		}
	}
}

func (c *Coordinator) handleResult(workerID string, p ResultPayload) {
	if p.Success {
		_, _ = c.Scheduler.Complete(p.ActionID)
	} else {
		_, _ = c.Scheduler.Fail(p.ActionID, p.FailureKind != "permanent")
	}
	c.Reputation.RecordOutcome(workerID, p.Success)

	c.mu.Lock()
	ch, ok := c.pending[p.ActionID]
	delete(c.pending, p.ActionID)
	c.mu.Unlock()
	if ok {
		ch <- p
	}
}

// peerViews builds the peer list relayed to a worker on its heartbeat ack,
// excluding the worker itself and any worker whose reputation makes it
// ineligible, so its Stealer has victim candidates without a separate
// worker-to-worker discovery protocol.
func (c *Coordinator) peerViews(exclude string) []PeerView {
	alive := c.Registry.Alive()
	views := make([]PeerView, 0, len(alive))
	for _, w := range alive {
		if w.WorkerID == exclude || !c.Reputation.Get(w.WorkerID).Eligible() {
			continue
		}
		views = append(views, PeerView{
			WorkerID:   w.WorkerID,
			Address:    w.Address,
			QueueDepth: w.QueueDepth,
			LoadFactor: w.LoadFactor,
		})
	}
	return views
}

func (c *Coordinator) reply(conn *Conn, id string, msgType MessageType, payload any) {
	env, err := encode(id, msgType, payload)
	if err != nil {
		return
	}
	_ = conn.WriteEnvelope(env)
}

// Assign dispatches a ready action from the scheduler to the named worker
// and waits for its Result.
func (c *Coordinator) Assign(workerID string, spec AssignPayload) (ResultPayload, error) {
	c.mu.Lock()
	conn, ok := c.conns[workerID]
	if !ok {
		c.mu.Unlock()
		return ResultPayload{}, bldrerrors.New(bldrerrors.CodeSchedulerNoCapacity, "worker not connected: "+workerID)
	}
	ch := make(chan ResultPayload, 1)
	c.pending[spec.ActionID] = ch
	c.mu.Unlock()

	env, err := encode(spec.ActionID, MsgAssign, spec)
	if err != nil {
		return ResultPayload{}, err
	}
	if err := conn.WriteEnvelope(env); err != nil {
		return ResultPayload{}, bldrerrors.Wrap(err, bldrerrors.CodeSandboxExecFailed, "sending assignment to worker "+workerID)
	}

	result := <-ch
	return result, nil
}
