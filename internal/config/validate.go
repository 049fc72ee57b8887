package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s: %s", e.Field, e.Message)
}

// ValidationResult contains validation errors.
type ValidationResult struct {
	Errors []*ValidationError
}

// Valid returns true if there are no validation errors.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Error returns a formatted error string.
func (r *ValidationResult) Error() string {
	if r.Valid() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{
		Errors: make([]*ValidationError, 0),
	}

	result.validateExecution(c)
	result.validateCache(c)
	result.validateSandbox(c)
	result.validateRepository(c)
	result.validateTelemetry(c)
	result.validateDeterminism(c)
	result.validateWorkerMode(c)
	result.validateCluster(c)

	return result
}

func (r *ValidationResult) validateExecution(c *Config) {
	if c.Execution.MaxConcurrentActions < 0 {
		r.add("execution.max_concurrent_actions", "must be >= 0 (0 = unlimited)")
	}
	if c.Execution.ShardCount < 1 {
		r.add("execution.shard_count", "must be >= 1")
	}
	if c.Execution.MaxActionRetries < 0 {
		r.add("execution.max_action_retries", "must be >= 0")
	}
	if c.Execution.ActionTimeout <= 0 {
		r.add("execution.action_timeout", "must be > 0")
	}
}

func (r *ValidationResult) validateCache(c *Config) {
	if c.Cache.MaxBytes < 0 {
		r.add("cache.max_bytes", "must be >= 0 (0 = unlimited)")
	}
	switch c.Cache.EvictionPolicy {
	case "none", "lru", "size-cap":
	default:
		r.add("cache.eviction_policy", "must be one of: none, lru, size-cap")
	}
	if c.Cache.EvictionPolicy == "size-cap" && c.Cache.MaxBytes == 0 {
		r.add("cache.max_bytes", "must be > 0 when eviction_policy is size-cap")
	}
	if c.Cache.LeaseTimeout <= 0 {
		r.add("cache.lease_timeout", "must be > 0")
	}
	if c.Cache.Dir != "" && !filepath.IsAbs(c.Cache.Dir) {
		r.add("cache.dir", "must be an absolute path")
	}
}

func (r *ValidationResult) validateSandbox(c *Config) {
	switch c.Sandbox.Backend {
	case "namespace", "container", "none":
	default:
		r.add("sandbox.backend", "must be one of: namespace, container, none")
	}
	if c.Sandbox.SoftKillGrace <= 0 {
		r.add("sandbox.soft_kill_grace", "must be > 0")
	}
}

func (r *ValidationResult) validateRepository(c *Config) {
	if c.Repository.FetchRetries < 0 {
		r.add("repository.fetch_retries", "must be >= 0")
	}
	if c.Repository.CacheDir != "" && !filepath.IsAbs(c.Repository.CacheDir) {
		r.add("repository.cache_dir", "must be an absolute path")
	}
	if c.Repository.LockfilePath != "" && !filepath.IsAbs(c.Repository.LockfilePath) {
		r.add("repository.lockfile_path", "must be an absolute path")
	}
}

func (r *ValidationResult) validateTelemetry(c *Config) {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.Telemetry.LogLevel] {
		r.add("telemetry.log_level", "must be one of: debug, info, warn, error, fatal")
	}
	if c.Telemetry.LogDir != "" && !filepath.IsAbs(c.Telemetry.LogDir) {
		r.add("telemetry.log_dir", "must be an absolute path")
	}
}

func (r *ValidationResult) validateDeterminism(c *Config) {
	if c.Determinism.VerifyReruns < 0 {
		r.add("determinism.verify_reruns", "must be >= 0")
	}
	if c.Determinism.DriftBaselineSize < 0 {
		r.add("determinism.drift_baseline_size", "must be >= 0")
	}
}

func (r *ValidationResult) validateWorkerMode(c *Config) {
	if c.WorkerMode.MaxConcurrentActions < 0 {
		r.add("worker_mode.max_concurrent_actions", "must be >= 0")
	}
	if c.WorkerMode.MemoryCapMB < 0 {
		r.add("worker_mode.memory_cap_mb", "must be >= 0 (0 = no limit)")
	}
}

func (r *ValidationResult) validateCluster(c *Config) {
	if !c.Cluster.Enabled {
		return
	}
	if c.Cluster.ListenPort < 0 || c.Cluster.ListenPort > 65535 {
		r.add("cluster.listen_port", "must be between 0 and 65535")
	}
	if c.Cluster.HeartbeatInterval <= 0 {
		r.add("cluster.heartbeat_interval", "must be > 0")
	}
	if c.Cluster.HeartbeatTimeout <= c.Cluster.HeartbeatInterval {
		r.add("cluster.heartbeat_timeout", "must be > heartbeat_interval")
	}
	if c.Cluster.RateLimitPerPeerPerMinute < 1 {
		r.add("cluster.rate_limit_per_peer_per_minute", "must be >= 1")
	}
	if c.Cluster.MaxConcurrentActions < 1 {
		r.add("cluster.max_concurrent_actions", "must be >= 1")
	}
	if c.Cluster.QuarantineThreshold < 1 {
		r.add("cluster.quarantine_threshold", "must be >= 1")
	}
}

func (r *ValidationResult) add(field, message string) {
	r.Errors = append(r.Errors, &ValidationError{
		Field:   field,
		Message: message,
	})
}

// MustValidate validates the config and panics if invalid.
func (c *Config) MustValidate() {
	result := c.Validate()
	if !result.Valid() {
		panic(result.Error())
	}
}

// ValidateWithDefaults validates and applies defaults for missing values.
func (c *Config) ValidateWithDefaults() error {
	defaults := Default()

	if c.Execution.MaxConcurrentActions == 0 {
		c.Execution.MaxConcurrentActions = defaults.Execution.MaxConcurrentActions
	}
	if c.Execution.ShardCount == 0 {
		c.Execution.ShardCount = defaults.Execution.ShardCount
	}
	if c.Execution.ActionTimeout == 0 {
		c.Execution.ActionTimeout = defaults.Execution.ActionTimeout
	}
	if c.Cache.EvictionPolicy == "" {
		c.Cache.EvictionPolicy = defaults.Cache.EvictionPolicy
	}
	if c.Cache.LeaseTimeout == 0 {
		c.Cache.LeaseTimeout = defaults.Cache.LeaseTimeout
	}
	if c.Sandbox.Backend == "" {
		c.Sandbox.Backend = defaults.Sandbox.Backend
	}
	if c.Sandbox.SoftKillGrace == 0 {
		c.Sandbox.SoftKillGrace = defaults.Sandbox.SoftKillGrace
	}
	if c.Repository.FetchRetries == 0 {
		c.Repository.FetchRetries = defaults.Repository.FetchRetries
	}
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = defaults.Telemetry.LogLevel
	}
	if c.Telemetry.MetricsAddr == "" {
		c.Telemetry.MetricsAddr = defaults.Telemetry.MetricsAddr
	}
	if c.WorkerMode.MaxConcurrentActions == 0 {
		c.WorkerMode.MaxConcurrentActions = defaults.WorkerMode.MaxConcurrentActions
	}
	if c.Cluster.HeartbeatInterval == 0 {
		c.Cluster.HeartbeatInterval = defaults.Cluster.HeartbeatInterval
	}
	if c.Cluster.HeartbeatTimeout == 0 {
		c.Cluster.HeartbeatTimeout = defaults.Cluster.HeartbeatTimeout
	}
	if c.Cluster.RateLimitPerPeerPerMinute == 0 {
		c.Cluster.RateLimitPerPeerPerMinute = defaults.Cluster.RateLimitPerPeerPerMinute
	}
	if c.Cluster.MaxConcurrentActions == 0 {
		c.Cluster.MaxConcurrentActions = defaults.Cluster.MaxConcurrentActions
	}
	if c.Cluster.QuarantineThreshold == 0 {
		c.Cluster.QuarantineThreshold = defaults.Cluster.QuarantineThreshold
	}

	result := c.Validate()
	if !result.Valid() {
		return fmt.Errorf("configuration validation failed: %s", result.Error())
	}

	return nil
}
