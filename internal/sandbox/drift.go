package sandbox

import (
	"sync"

	"bldr/internal/digest"
)

// DriftMonitor tracks, across repeated builds, whether an action's output at
// a given path keeps matching the digest it produced the first time it was
// ever observed (its "golden" digest). Unlike VerifyDeterminism, which
// checks N trials run back-to-back in one process, DriftMonitor accumulates
// observations across the lifetime of a build server, catching
// nondeterminism that only shows up days or hosts apart.
type DriftMonitor struct {
	mu     sync.RWMutex
	golden map[string]digest.Digest // "actionID/path" -> first-observed digest
	drifts map[string]int           // actionID -> cumulative drifted-path count
}

// NewDriftMonitor creates an empty monitor.
func NewDriftMonitor() *DriftMonitor {
	return &DriftMonitor{
		golden: make(map[string]digest.Digest),
		drifts: make(map[string]int),
	}
}

func driftKey(actionID, path string) string { return actionID + "/" + path }

// Observe records path's digest for actionID, establishing it as golden if
// this is the first observation, or comparing against the golden digest
// otherwise. It returns the path names that diverged from golden in this
// observation.
func (m *DriftMonitor) Observe(actionID string, outputs map[string]digest.Digest) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var diverged []string
	for path, d := range outputs {
		key := driftKey(actionID, path)
		gold, ok := m.golden[key]
		if !ok {
			m.golden[key] = d
			continue
		}
		if !gold.Equal(d) {
			m.drifts[actionID]++
			diverged = append(diverged, path)
		}
	}
	return diverged
}

// Score returns the cumulative count of drifted output observations for an
// action across its whole observed history.
func (m *DriftMonitor) Score(actionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drifts[actionID]
}

// Reset discards the golden baseline for an action, e.g. after an
// intentional change to its inputs makes the previous golden output stale.
func (m *DriftMonitor) Reset(actionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.golden {
		if len(key) > len(actionID) && key[:len(actionID)+1] == actionID+"/" {
			delete(m.golden, key)
		}
	}
	delete(m.drifts, actionID)
}
