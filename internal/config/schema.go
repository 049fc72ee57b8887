// Package config provides typed, validated configuration for the build
// engine.
// Configuration resolution order (highest priority first):
// 1. Environment variables (BLDR_*)
// 2. Config file (~/.bldr/config.json or BLDR_CONFIG_PATH)
// 3. Defaults
package config

import (
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	// Execution controls scheduler and action-execution behavior.
	Execution ExecutionConfig `json:"execution"`

	// Cache controls the CAS and action cache.
	Cache CacheConfig `json:"cache"`

	// Sandbox controls hermetic execution.
	Sandbox SandboxConfig `json:"sandbox"`

	// Repository controls the repository/toolchain resolver.
	Repository RepositoryConfig `json:"repository"`

	// Telemetry controls observability.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Determinism controls determinism enforcement and verification.
	Determinism DeterminismConfig `json:"determinism"`

	// WorkerMode controls resource-constrained worker behavior.
	WorkerMode WorkerModeConfig `json:"worker_mode"`

	// Cluster controls the distributed coordinator/worker layer.
	// Disabled by default — must be explicitly enabled. Single-node users
	// are never affected.
	Cluster ClusterConfig `json:"cluster"`
}

// ClusterConfig controls the distributed coordinator/worker layer.
// The entire cluster layer is gated behind Enabled=false by default.
type ClusterConfig struct {
	// Enabled is the master switch for distributed scheduling. Disabled by default.
	Enabled bool `json:"enabled" env:"BLDR_CLUSTER_ENABLED" default:"false"`

	// DataDir is where cluster state (keys, peer store) is persisted.
	DataDir string `json:"data_dir" env:"BLDR_CLUSTER_DATA_DIR" default:""`

	// ListenPort is the cluster transport port (0 = random).
	ListenPort int `json:"listen_port" env:"BLDR_CLUSTER_LISTEN_PORT" default:"0"`

	// HeartbeatInterval is how often workers report liveness to the coordinator.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" env:"BLDR_CLUSTER_HEARTBEAT_INTERVAL" default:"5s"`

	// HeartbeatTimeout is how long a worker may go silent before reassignment.
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout" env:"BLDR_CLUSTER_HEARTBEAT_TIMEOUT" default:"20s"`

	// RateLimitPerPeerPerMinute limits inbound requests from any single peer.
	RateLimitPerPeerPerMinute int `json:"rate_limit_per_peer_per_minute" env:"BLDR_CLUSTER_RATE_LIMIT_PER_PEER" default:"600"`

	// MaxConcurrentActions limits simultaneous cluster action executions per worker.
	MaxConcurrentActions int `json:"max_concurrent_actions" env:"BLDR_CLUSTER_MAX_CONCURRENT_ACTIONS" default:"10"`

	// WorkStealingEnabled lets idle workers steal queued work from busy peers.
	WorkStealingEnabled bool `json:"work_stealing_enabled" env:"BLDR_CLUSTER_WORK_STEALING" default:"true"`

	// QuarantineThreshold is consecutive failures before a peer is quarantined.
	QuarantineThreshold int `json:"quarantine_threshold" env:"BLDR_CLUSTER_QUARANTINE_THRESHOLD" default:"3"`
}

// ExecutionConfig controls scheduler and action-execution behavior.
type ExecutionConfig struct {
	// MaxConcurrentActions limits concurrent local executions (0 = unlimited).
	MaxConcurrentActions int `json:"max_concurrent_actions" env:"BLDR_MAX_CONCURRENT_ACTIONS" default:"10"`

	// ShardCount is the number of scheduler shards (rounded up to a power of two).
	ShardCount int `json:"shard_count" env:"BLDR_SCHEDULER_SHARD_COUNT" default:"16"`

	// MaxActionRetries limits retries of a failed action before it is marked Failed.
	MaxActionRetries int `json:"max_action_retries" env:"BLDR_MAX_ACTION_RETRIES" default:"3"`

	// ActionTimeout is the default timeout for a single action execution.
	ActionTimeout time.Duration `json:"action_timeout" env:"BLDR_ACTION_TIMEOUT" default:"10m"`
}

// CacheConfig controls the content-addressable store and action cache.
type CacheConfig struct {
	// Dir is the root directory for the CAS and action cache database.
	Dir string `json:"dir" env:"BLDR_CACHE_DIR" default:""`

	// MaxBytes caps total CAS size (0 = unlimited).
	MaxBytes int64 `json:"max_bytes" env:"BLDR_CACHE_MAX_BYTES" default:"10737418240"` // 10GB

	// EvictionPolicy is "none", "lru", or "size-cap".
	EvictionPolicy string `json:"eviction_policy" env:"BLDR_CACHE_EVICTION_POLICY" default:"lru"`

	// LeaseTimeout bounds how long an in-flight build may hold an action-cache lease.
	LeaseTimeout time.Duration `json:"lease_timeout" env:"BLDR_CACHE_LEASE_TIMEOUT" default:"15m"`
}

// SandboxConfig controls hermetic execution.
type SandboxConfig struct {
	// Backend selects the isolation strategy: "namespace" (bwrap/sandbox-exec),
	// "container" (docker), or "none" (unsandboxed, local dev only).
	Backend string `json:"backend" env:"BLDR_SANDBOX_BACKEND" default:"namespace"`

	// NetworkAllowed permits network access inside the sandbox (breaks hermeticity).
	NetworkAllowed bool `json:"network_allowed" env:"BLDR_SANDBOX_NETWORK_ALLOWED" default:"false"`

	// BlockCredentialDirs denies read access to ~/.ssh and ~/.aws inside the sandbox.
	BlockCredentialDirs bool `json:"block_credential_dirs" env:"BLDR_SANDBOX_BLOCK_CREDENTIAL_DIRS" default:"true"`

	// SoftKillGrace is how long to wait after SIGTERM before SIGKILL.
	SoftKillGrace time.Duration `json:"soft_kill_grace" env:"BLDR_SANDBOX_SOFT_KILL_GRACE" default:"5s"`

	// IsolationBinPath overrides the path to the namespace-isolation helper
	// binary (bwrap on Linux, sandbox-exec on macOS). Empty resolves from PATH.
	IsolationBinPath string `json:"isolation_bin_path" env:"BLDR_SANDBOX_ISOLATION_BIN_PATH" default:""`
}

// RepositoryConfig controls the repository/toolchain resolver.
type RepositoryConfig struct {
	// CacheDir is where fetched repositories and toolchains are cached.
	CacheDir string `json:"cache_dir" env:"BLDR_REPOSITORY_CACHE_DIR" default:""`

	// VerifyIntegrity requires a matching content digest for every fetch.
	VerifyIntegrity bool `json:"verify_integrity" env:"BLDR_REPOSITORY_VERIFY_INTEGRITY" default:"true"`

	// FetchRetries bounds exponential-backoff retries for archive/git fetches.
	FetchRetries int `json:"fetch_retries" env:"BLDR_REPOSITORY_FETCH_RETRIES" default:"5"`

	// LockfilePath is the path to the resolved-version lockfile.
	LockfilePath string `json:"lockfile_path" env:"BLDR_REPOSITORY_LOCKFILE_PATH" default:""`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	// LogLevel is the minimum log level.
	LogLevel string `json:"log_level" env:"BLDR_LOG_LEVEL" default:"info"`

	// LogDir is where logs are written.
	LogDir string `json:"log_dir" env:"BLDR_LOG_DIR" default:""`

	// MetricsEnabled controls whether Prometheus metrics are collected.
	MetricsEnabled bool `json:"metrics_enabled" env:"BLDR_METRICS_ENABLED" default:"true"`

	// MetricsAddr is the address the /metrics endpoint is served on.
	MetricsAddr string `json:"metrics_addr" env:"BLDR_METRICS_ADDR" default:":9090"`
}

// DeterminismConfig controls determinism enforcement and verification.
type DeterminismConfig struct {
	// StrictMode fails the build on any detected non-determinism rather than warning.
	StrictMode bool `json:"strict_mode" env:"BLDR_DETERMINISM_STRICT" default:"false"`

	// VerifyReruns is the number of independent reruns used to verify a declared-deterministic action (0 disables).
	VerifyReruns int `json:"verify_reruns" env:"BLDR_DETERMINISM_VERIFY_RERUNS" default:"0"`

	// DriftBaselineSize bounds the rolling per-fingerprint digest history kept for drift detection.
	DriftBaselineSize int `json:"drift_baseline_size" env:"BLDR_DETERMINISM_DRIFT_BASELINE_SIZE" default:"20"`
}

// WorkerModeConfig controls resource-constrained worker behavior, used when
// a worker process runs on a small CI runner or an edge build box.
type WorkerModeConfig struct {
	// Enabled forces constrained-worker mode regardless of auto-detection.
	Enabled bool `json:"enabled" env:"BLDR_WORKER_CONSTRAINED" default:"false"`

	// AutoDetect enables automatic detection based on available CPU/memory.
	AutoDetect bool `json:"auto_detect" env:"BLDR_WORKER_AUTO_DETECT" default:"true"`

	// MaxConcurrentActions overrides ExecutionConfig when constrained mode is active.
	MaxConcurrentActions int `json:"max_concurrent_actions" env:"BLDR_WORKER_MAX_CONCURRENT_ACTIONS" default:"2"`

	// MemoryCapMB limits memory usage (0 = no limit).
	MemoryCapMB int `json:"memory_cap_mb" env:"BLDR_WORKER_MEMORY_CAP_MB" default:"512"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Execution: ExecutionConfig{
			MaxConcurrentActions: 10,
			ShardCount:           16,
			MaxActionRetries:     3,
			ActionTimeout:        10 * time.Minute,
		},
		Cache: CacheConfig{
			MaxBytes:       10 * 1024 * 1024 * 1024,
			EvictionPolicy: "lru",
			LeaseTimeout:   15 * time.Minute,
		},
		Sandbox: SandboxConfig{
			Backend:             "namespace",
			NetworkAllowed:      false,
			BlockCredentialDirs: true,
			SoftKillGrace:       5 * time.Second,
		},
		Repository: RepositoryConfig{
			VerifyIntegrity: true,
			FetchRetries:    5,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
			MetricsAddr:    ":9090",
		},
		Determinism: DeterminismConfig{
			StrictMode:        false,
			VerifyReruns:      0,
			DriftBaselineSize: 20,
		},
		WorkerMode: WorkerModeConfig{
			AutoDetect:            true,
			MaxConcurrentActions:  2,
			MemoryCapMB:           512,
		},
		Cluster: ClusterConfig{
			Enabled:                   false,
			HeartbeatInterval:         5 * time.Second,
			HeartbeatTimeout:          20 * time.Second,
			RateLimitPerPeerPerMinute: 600,
			MaxConcurrentActions:      10,
			WorkStealingEnabled:       true,
			QuarantineThreshold:       3,
		},
	}
}
