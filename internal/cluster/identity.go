// Package cluster implements the coordinator/worker distributed layer: a
// worker registry with reputation tracking, a length-prefixed message
// protocol for Register/Heartbeat/Assign/Result/Fetch/Store, and
// peer-to-peer work stealing between overloaded and idle workers.
package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
)

// Identity deterministically names a worker process: the same public key on
// the same host always yields the same worker ID, so a restarted worker
// reclaims its prior reputation instead of starting over as a stranger.
type Identity struct {
	WorkerID string      `json:"worker_id"`
	Platform string      `json:"platform"`
	Env      Environment `json:"environment"`
}

// Environment captures a worker's runtime (host, OS, architecture, labels)
// for operational visibility. It is not sent in Register, which carries
// only the platform string.
type Environment struct {
	Hostname string            `json:"hostname"`
	OS       string             `json:"os"`
	Arch     string             `json:"arch"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// DeterministicWorkerID derives a stable ID from a public key and hostname.
func DeterministicWorkerID(pubKey []byte, hostname string) string {
	h := sha256.New()
	h.Write(pubKey)
	h.Write([]byte("|"))
	h.Write([]byte(hostname))
	sum := h.Sum(nil)
	return "worker-" + hex.EncodeToString(sum[:8])
}

// DetectEnvironment reads the current process's runtime environment.
func DetectEnvironment() Environment {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return Environment{Hostname: hostname, OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// Platform returns the GOOS/GOARCH platform triple used for action dispatch
// matching (spec's "target platform" field on an action specification).
func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
