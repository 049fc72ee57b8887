package sandbox

import (
	"time"

	"bldr/internal/digest"
)

// ResourceLimits describes what a sandboxed execution may consume. Zero
// values mean "no limit" except where noted. The executors apply only
// WallClock and GracePeriod; MaxMemoryBytes and MaxCPUSeconds are carried
// on the spec but no backend enforces them.
type ResourceLimits struct {
	MaxMemoryBytes int64
	MaxCPUSeconds  int64
	// WallClock is the soft timeout: the process is sent an interrupt signal
	// and given GracePeriod to exit before being killed outright.
	WallClock   time.Duration
	GracePeriod time.Duration
}

// DefaultGracePeriod is used when ResourceLimits.GracePeriod is zero.
const DefaultGracePeriod = 5 * time.Second

// Capabilities states what a sandboxed execution is allowed to touch beyond
// its private working tree: network access and any additional writable
// regions of the host filesystem it needs (toolchain caches, build scratch
// directories shared across actions).
type Capabilities struct {
	AllowNetwork bool
	WriteRegions []string
	BlockAWSCredentials bool
}

// ActionSpec is everything a Backend needs to run one build action: the
// command to run, its private inputs staged into the working tree, the
// output paths to capture afterward, and the policy constraining it.
type ActionSpec struct {
	ID          string
	Command     []string
	Env         map[string]string
	Inputs      []digest.InputPair
	OutputPaths []string
	Capabilities Capabilities
	Limits      ResourceLimits
}

// Result is what a sandboxed execution produced.
type Result struct {
	ExitCode     int
	StdoutDigest digest.Digest
	StderrDigest digest.Digest
	Outputs      map[string]digest.Digest
	Duration     time.Duration
	TimedOut     bool
}
