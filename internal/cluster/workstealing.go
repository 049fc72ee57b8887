package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Stealing parameters, named after spec.md's work-stealing algorithm:
// a worker announces its load periodically, and steals from a
// power-of-two-chosen peer when its own ready queue runs dry.
const (
	DefaultPeerAnnounceInterval = 2 * time.Second
	DefaultMinLocalQueue        = 1
	DefaultRetryBackoff         = 500 * time.Millisecond
	DefaultMinQueueForSteal     = 2
	DefaultMaxStealRetries      = 3

	weightQueue = 1.0
	weightLoad  = 1.0
)

// PeerView is what a worker knows about one peer for steal victim
// selection: the (queue_depth, load_factor) pair that peer last reported in
// its heartbeat, as relayed by the coordinator.
type PeerView struct {
	WorkerID   string
	Address    string
	QueueDepth int
	LoadFactor float64
}

func (p PeerView) score() float64 {
	return float64(p.QueueDepth)*weightQueue - p.LoadFactor*weightLoad
}

// PeerTable holds the most recently reported load of every known peer.
// Workers do not announce their load to each other directly: the table is
// refreshed from the peer list the coordinator returns on each heartbeat
// ack, so it is only as fresh as the heartbeat interval, and
// DefaultPeerAnnounceInterval does not drive these updates.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[string]PeerView
}

// NewPeerTable creates an empty peer table.
func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[string]PeerView)}
}

// Update records a peer's most recent announced load.
func (t *PeerTable) Update(view PeerView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[view.WorkerID] = view
}

// Remove drops a peer, e.g. once the registry reports it dead.
func (t *PeerTable) Remove(workerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, workerID)
}

// eligible returns every peer with at least minQueue queued actions,
// excluding self.
func (t *PeerTable) eligible(self string, minQueue int) []PeerView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerView, 0, len(t.peers))
	for id, p := range t.peers {
		if id == self || p.QueueDepth < minQueue {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ChooseVictim samples two eligible peers at random and returns whichever
// scores higher, per spec.md's power-of-two-choices victim selection. It
// returns false if fewer than one peer is eligible.
func ChooseVictim(t *PeerTable, self string, minQueue int, rng *rand.Rand) (PeerView, bool) {
	candidates := t.eligible(self, minQueue)
	if len(candidates) == 0 {
		return PeerView{}, false
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	i, j := rng.Intn(len(candidates)), rng.Intn(len(candidates))
	a, b := candidates[i], candidates[j]
	if a.score() >= b.score() {
		return a, true
	}
	return b, true
}

// Stealer drives a worker's side of work stealing: it watches its own
// queue depth and, when idle, attempts to pull actions from a peer chosen
// via ChooseVictim.
type Stealer struct {
	Self             string
	Peers            *PeerTable
	MinLocalQueue    int
	RetryBackoff     time.Duration
	MinQueueForSteal int
	MaxRetries       int

	rng *rand.Rand

	// QueueDepth reports the worker's current local ready-queue depth.
	QueueDepth func() int
	// Dial opens a connection to a peer's steal-serving address.
	Dial func(ctx context.Context, address string) (*Conn, error)
	// OnStolen is invoked with whatever actions a successful steal
	// transferred, for the caller to feed into its local scheduler.
	OnStolen func(actions []AssignPayload)
}

// NewStealer builds a Stealer with spec.md's default parameters.
func NewStealer(self string, peers *PeerTable) *Stealer {
	return &Stealer{
		Self:             self,
		Peers:            peers,
		MinLocalQueue:    DefaultMinLocalQueue,
		RetryBackoff:     DefaultRetryBackoff,
		MinQueueForSteal: DefaultMinQueueForSteal,
		MaxRetries:       DefaultMaxStealRetries,
		rng:              rand.New(rand.NewSource(1)),
	}
}

// Run watches the local queue depth and attempts steals when it runs dry,
// until ctx is canceled.
func (s *Stealer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.RetryBackoff)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.QueueDepth == nil || s.QueueDepth() >= s.MinLocalQueue {
				continue
			}
			s.attempt(ctx)
		}
	}
}

// attempt runs up to MaxRetries steal attempts with exponential backoff,
// stopping at the first success.
func (s *Stealer) attempt(ctx context.Context) {
	backoff := s.RetryBackoff
	for i := 0; i < s.MaxRetries; i++ {
		victim, ok := ChooseVictim(s.Peers, s.Self, s.MinQueueForSteal, s.rng)
		if !ok {
			return
		}
		if s.steal(ctx, victim) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *Stealer) steal(ctx context.Context, victim PeerView) bool {
	if s.Dial == nil {
		return false
	}
	conn, err := s.Dial(ctx, victim.Address)
	if err != nil {
		return false
	}
	defer conn.Close()

	count := victim.QueueDepth / 2
	if count < 1 {
		count = 1
	}
	env, err := encode(fmt.Sprintf("steal-%s-%s", s.Self, victim.WorkerID), MsgSteal, StealPayload{
		ThiefWorkerID: s.Self,
		Count:         count,
	})
	if err != nil {
		return false
	}
	if err := conn.WriteEnvelope(env); err != nil {
		return false
	}
	reply, err := conn.ReadEnvelope()
	if err != nil || reply.Type == MsgError {
		return false
	}
	var actions []AssignPayload
	if err := decode(reply, &actions); err != nil {
		return false
	}
	if len(actions) == 0 {
		return false
	}
	if s.OnStolen != nil {
		s.OnStolen(actions)
	}
	return true
}

// HandleSteal is called on the victim side on receiving a Steal message: it
// pulls up to count ready actions that haven't already started running out
// of the caller's own ready set and returns them for transfer.
func HandleSteal(ready []AssignPayload, count int) (stolen, remaining []AssignPayload) {
	if count > len(ready) {
		count = len(ready)
	}
	return ready[:count], ready[count:]
}
