package cluster

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"bldr/internal/cas"
	"bldr/internal/digest"
	"bldr/internal/sandbox"
)

// executor is satisfied by both sandbox.Executor and sandbox.ContainerExecutor
// so a Worker can run either backend without caring which.
type executor interface {
	Execute(ctx context.Context, spec sandbox.ActionSpec) (sandbox.Result, error)
}

// DefaultMaxConcurrentActions bounds how many assignments a worker runs at
// once when its caller doesn't override it (spec.md's worker startup
// contract "maximum concurrent actions" argument).
const DefaultMaxConcurrentActions = 4

// Worker connects to a coordinator, registers itself, executes assigned
// actions against a local sandbox executor, and reports results back. It
// also answers blob Fetch/Store requests from the coordinator against its
// local CAS, so the coordinator can pull inputs it already has cached.
//
// Assignments land in a local pending queue rather than running
// immediately: a bounded pool of dispatcher goroutines drains it, and
// whatever sits in the queue at any moment is exactly what a peer's Steal
// request is entitled to take (HandleSteal operates on the same queue).
type Worker struct {
	Identity Identity
	Executor executor
	Store    *cas.Store

	HeartbeatInterval time.Duration
	// MaxConcurrent bounds how many assignments run at once.
	// DefaultMaxConcurrentActions if zero.
	MaxConcurrent int
	// PeerListenAddr is advertised to the coordinator at Register time and
	// relayed to other workers as this worker's steal-serving address.
	// Empty means this worker never serves incoming Steal requests.
	PeerListenAddr string

	// Peers holds the most recently heard load of every other known
	// worker, refreshed from the coordinator's heartbeat-ack relay.
	Peers *PeerTable

	conn *Conn

	mu         sync.Mutex
	pending    []AssignPayload
	loadFactor float64

	// slots bounds concurrent execution: pre-filled with MaxConcurrent
	// tokens, one acquired per running assignment and returned when it
	// finishes.
	slots chan struct{}
	// notify wakes dispatchLoop when Enqueue adds work to an empty queue.
	notify chan struct{}
}

// NewWorker builds a worker with the given identity, executing actions via
// exec (a sandbox.Executor or sandbox.ContainerExecutor) and serving blobs
// from store.
func NewWorker(id Identity, exec executor, store *cas.Store) *Worker {
	max := DefaultMaxConcurrentActions
	slots := make(chan struct{}, max)
	for i := 0; i < max; i++ {
		slots <- struct{}{}
	}
	return &Worker{
		Identity:          id,
		Executor:          exec,
		Store:             store,
		HeartbeatInterval: DefaultStaleThreshold / 3,
		MaxConcurrent:     max,
		Peers:             NewPeerTable(),
		slots:             slots,
		notify:            make(chan struct{}, 1),
	}
}

// SetMaxConcurrent resizes the concurrency bound. Must be called before Run;
// it replaces the token pool outright, so any slots already in flight would
// otherwise be double-counted.
func (w *Worker) SetMaxConcurrent(n int) {
	if n <= 0 {
		return
	}
	w.MaxConcurrent = n
	slots := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		slots <- struct{}{}
	}
	w.slots = slots
}

// QueueDepth reports how many assignments are waiting to start, i.e. how
// many a peer could steal right now. Satisfies Stealer.QueueDepth.
func (w *Worker) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Enqueue adds actions to the local pending queue, whether freshly assigned
// by the coordinator or just stolen from a peer.
func (w *Worker) Enqueue(actions ...AssignPayload) {
	if len(actions) == 0 {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, actions...)
	w.mu.Unlock()
	w.wake()
}

func (w *Worker) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Worker) dequeue() (AssignPayload, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return AssignPayload{}, false
	}
	p := w.pending[0]
	w.pending = w.pending[1:]
	return p, true
}

// Connect dials the coordinator at address and sends the initial Register
// message.
func (w *Worker) Connect(ctx context.Context, address string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("dialing coordinator %s: %w", address, err)
	}
	w.conn = &Conn{Conn: conn, ReadTimeout: 2 * DefaultStaleThreshold}

	env, err := encode(w.Identity.WorkerID, MsgRegister, RegisterPayload{
		WorkerID:     w.Identity.WorkerID,
		Address:      w.PeerListenAddr,
		Capabilities: []string{w.Identity.Platform},
		Platform:     w.Identity.Platform,
	})
	if err != nil {
		return err
	}
	return w.conn.WriteEnvelope(env)
}

// ListenPeers opens a TCP listener serving incoming Steal requests against
// this worker's local pending queue, until ctx is canceled. It is the
// "listen address for peer steals" spec.md's worker startup contract
// requires a worker to advertise.
func (w *Worker) ListenPeers(ctx context.Context, address string) (net.Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening for peer steals on %s: %w", address, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go w.handleStealConn(&Conn{Conn: conn, ReadTimeout: DefaultStaleThreshold})
		}
	}()
	return ln, nil
}

func (w *Worker) handleStealConn(conn *Conn) {
	defer conn.Close()

	env, err := conn.ReadEnvelope()
	if err != nil || env.Type != MsgSteal {
		return
	}
	var p StealPayload
	if err := decode(env, &p); err != nil {
		return
	}

	w.mu.Lock()
	stolen, remaining := HandleSteal(w.pending, p.Count)
	w.pending = remaining
	w.mu.Unlock()

	reply, err := encode(env.ID, MsgAck, stolen)
	if err != nil {
		return
	}
	_ = conn.WriteEnvelope(reply)
}

// Close shuts down the worker's coordinator connection.
func (w *Worker) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

// Run starts the heartbeat loop and the assignment-handling loop, blocking
// until ctx is canceled or the connection fails.
func (w *Worker) Run(ctx context.Context) error {
	if w.conn == nil {
		return fmt.Errorf("worker not connected")
	}

	errCh := make(chan error, 2)
	go func() { errCh <- w.heartbeatLoop(ctx) }()
	go func() { errCh <- w.assignmentLoop(ctx) }()
	go w.dispatchLoop(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.mu.Lock()
			depth := len(w.pending)
			load := w.loadFactor
			w.mu.Unlock()
			env, err := encode(w.Identity.WorkerID, MsgHeartbeat, HeartbeatPayload{
				WorkerID:   w.Identity.WorkerID,
				QueueDepth: depth,
				LoadFactor: load,
			})
			if err != nil {
				continue
			}
			if err := w.conn.WriteEnvelope(env); err != nil {
				return fmt.Errorf("sending heartbeat: %w", err)
			}
		}
	}
}

func (w *Worker) assignmentLoop(ctx context.Context) error {
	for {
		env, err := w.conn.ReadEnvelope()
		if err != nil {
			return fmt.Errorf("reading from coordinator: %w", err)
		}

		switch env.Type {
		case MsgAssign:
			var p AssignPayload
			if err := decode(env, &p); err != nil {
				continue
			}
			w.Enqueue(p)

		case MsgAck:
			var p PeerListPayload
			if err := decode(env, &p); err != nil {
				continue
			}
			for _, peer := range p.Peers {
				if peer.WorkerID == w.Identity.WorkerID {
					continue
				}
				w.Peers.Update(peer)
			}

		case MsgFetch:
			var p FetchPayload
			if err := decode(env, &p); err != nil {
				continue
			}
			w.serveFetch(env.ID, p)

		case MsgStore:
			var p StorePayload
			if err := decode(env, &p); err != nil {
				continue
			}
			_, _ = w.Store.Put(cas.KindFile, p.Bytes)
		}
	}
}

// dispatchLoop drains the pending queue, running up to MaxConcurrent
// assignments at once, until ctx is canceled. notify wakes it whenever
// Enqueue adds work; it also polls so a steal-thinned queue never stalls
// waiting on a signal that already fired.
func (w *Worker) dispatchLoop(ctx context.Context) {
outer:
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.notify:
		case <-time.After(50 * time.Millisecond):
		}

		for {
			select {
			case <-w.slots:
			default:
				// no free slot right now; stop draining so anything still
				// queued stays stealable until a slot frees up.
				continue outer
			}

			p, ok := w.dequeue()
			if !ok {
				w.slots <- struct{}{}
				continue outer
			}
			go func(p AssignPayload) {
				defer func() { w.slots <- struct{}{} }()
				w.handleAssign(ctx, p)
			}(p)
		}
	}
}

func (w *Worker) serveFetch(id string, p FetchPayload) {
	b, err := w.Store.Get(cas.KindFile, p.Digest)
	if err != nil {
		return
	}
	env, err := encode(id, MsgStore, StorePayload{Digest: p.Digest, Bytes: b})
	if err != nil {
		return
	}
	_ = w.conn.WriteEnvelope(env)
}

// handleAssign executes one assigned action and reports its Result,
// fetching any input not already present in the local store from the
// coordinator first.
func (w *Worker) handleAssign(ctx context.Context, p AssignPayload) {
	if err := w.ensureInputs(p.Inputs); err != nil {
		w.reportFailure(p.ActionID, "transient", err.Error())
		return
	}

	spec := sandbox.ActionSpec{
		ID:          p.ActionID,
		Command:     p.Command,
		Env:         p.Env,
		Inputs:      p.Inputs,
		OutputPaths: p.OutputPaths,
	}

	start := time.Now()
	result, err := w.Executor.Execute(ctx, spec)
	duration := time.Since(start)
	if err != nil {
		w.reportFailure(p.ActionID, "permanent", err.Error())
		return
	}

	env, encErr := encode(p.ActionID, MsgResult, ResultPayload{
		ActionID:     p.ActionID,
		Success:      result.ExitCode == 0 && !result.TimedOut,
		ExitCode:     result.ExitCode,
		StdoutDigest: result.StdoutDigest,
		StderrDigest: result.StderrDigest,
		Outputs:      result.Outputs,
		DurationMS:   duration.Milliseconds(),
	})
	if encErr != nil {
		return
	}
	_ = w.conn.WriteEnvelope(env)
}

func (w *Worker) reportFailure(actionID, kind, message string) {
	env, err := encode(actionID, MsgResult, ResultPayload{
		ActionID:    actionID,
		Success:     false,
		FailureKind: kind,
		Message:     message,
	})
	if err != nil {
		return
	}
	_ = w.conn.WriteEnvelope(env)
}

// ensureInputs pulls any declared input not already in the local store from
// the coordinator via Fetch, so a worker that didn't previously execute a
// dependency's producing action can still materialize it.
func (w *Worker) ensureInputs(inputs []digest.InputPair) error {
	for _, in := range inputs {
		if w.Store.Has(cas.KindFile, in.Digest) {
			continue
		}
		env, err := encode(in.Digest.String(), MsgFetch, FetchPayload{Digest: in.Digest})
		if err != nil {
			return err
		}
		if err := w.conn.WriteEnvelope(env); err != nil {
			return err
		}
		reply, err := w.conn.ReadEnvelope()
		if err != nil {
			return err
		}
		if reply.Type == MsgError {
			return fmt.Errorf("fetching input %s: coordinator reported error", in.Digest)
		}
		var sp StorePayload
		if err := decode(reply, &sp); err != nil {
			return err
		}
		if _, err := w.Store.Put(cas.KindFile, sp.Bytes); err != nil {
			return err
		}
	}
	return nil
}
