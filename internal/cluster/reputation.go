package cluster

import "sync"

// TrustLevel classifies how much a coordinator trusts a worker's reported
// results, independent of its current liveness.
type TrustLevel int

const (
	TrustUnverified TrustLevel = iota
	TrustProvisional
	TrustTrusted
	TrustBlocked
)

func (t TrustLevel) String() string {
	switch t {
	case TrustUnverified:
		return "unverified"
	case TrustProvisional:
		return "provisional"
	case TrustTrusted:
		return "trusted"
	case TrustBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Reputation tracks a worker's delegation history: how often actions
// assigned to it completed successfully versus failed or were reassigned
// after a stale heartbeat.
type Reputation struct {
	Level            TrustLevel
	DelegationCount  int
	SuccessCount     int
	FailureCount     int
	Quarantined      bool
	QuarantineReason string
}

// Score summarizes a worker's reputation as 0-100: a new worker with no
// history gets a neutral starting score so it can earn trust, while a
// worker with a track record is scored on its actual success rate.
func (r Reputation) Score() int {
	if r.DelegationCount == 0 {
		if r.Level == TrustTrusted {
			return 75
		}
		return 50
	}
	score := int(float64(r.SuccessCount) / float64(r.DelegationCount) * 100)
	if r.Level == TrustTrusted {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Eligible reports whether work may still be assigned to a worker with this
// reputation: quarantined or explicitly blocked workers are excluded from
// both coordinator dispatch and peer work-stealing victim selection.
func (r Reputation) Eligible() bool {
	return !r.Quarantined && r.Level != TrustBlocked
}

// ReputationTracker holds reputation records for every worker the
// coordinator has ever seen, keyed by worker ID.
type ReputationTracker struct {
	mu      sync.RWMutex
	records map[string]*Reputation
}

// NewReputationTracker creates an empty tracker.
func NewReputationTracker() *ReputationTracker {
	return &ReputationTracker{records: make(map[string]*Reputation)}
}

func (t *ReputationTracker) record(workerID string) *Reputation {
	r, ok := t.records[workerID]
	if !ok {
		r = &Reputation{Level: TrustProvisional}
		t.records[workerID] = r
	}
	return r
}

// RecordOutcome updates a worker's delegation history after an action
// assigned to it completes, successfully or not.
func (t *ReputationTracker) RecordOutcome(workerID string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.record(workerID)
	r.DelegationCount++
	if success {
		r.SuccessCount++
	} else {
		r.FailureCount++
	}
}

// Quarantine marks a worker ineligible for new assignments or steals,
// e.g. after it returns results that fail CAS digest verification.
func (t *ReputationTracker) Quarantine(workerID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.record(workerID)
	r.Quarantined = true
	r.QuarantineReason = reason
}

// Get returns a copy of a worker's reputation record.
func (t *ReputationTracker) Get(workerID string) Reputation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.records[workerID]; ok {
		return *r
	}
	return Reputation{Level: TrustUnverified}
}
