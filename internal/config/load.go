package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load loads configuration from defaults, file, and environment.
// Resolution order (highest priority last):
// 1. Defaults
// 2. Config file
// 3. Environment variables
func Load() (*Config, error) {
	cfg := Default()

	// Load from config file if present
	if path := configFilePath(); path != "" {
		if err := loadFromFile(cfg, path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Load from environment (overrides file)
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if err := loadFromFile(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) error {
	return loadStructFromEnv(reflect.ValueOf(cfg).Elem(), "")
}

// loadStructFromEnv recursively loads struct fields from environment.
func loadStructFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// Skip unexported fields
		if !field.CanSet() {
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			// No env tag, check if it's a nested struct
			if field.Kind() == reflect.Struct {
				if err := loadStructFromEnv(field, prefix); err != nil {
					return err
				}
			}
			continue
		}

		// Check environment variable
		if value := os.Getenv(envTag); value != "" {
			if err := setField(field, value); err != nil {
				return fmt.Errorf("setting %s: %w", envTag, err)
			}
		}
	}

	return nil
}

// setField sets a struct field from a string value.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			// Handle duration
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("parsing duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			// Handle int
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("parsing int: %w", err)
			}
			field.SetInt(n)
		}
	case reflect.Int32:
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("parsing int32: %w", err)
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parsing bool: %w", err)
		}
		field.SetBool(b)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("parsing float64: %w", err)
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// configFilePath returns the path to the config file.
func configFilePath() string {
	// Check environment override
	if path := os.Getenv("BLDR_CONFIG_PATH"); path != "" {
		return path
	}

	// Check default locations
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	paths := []string{
		filepath.Join(home, ".bldr", "config.json"),
		filepath.Join(home, ".bldr.json"),
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Save saves configuration to a file.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// GetEnvDocs returns documentation for all environment variables.
func GetEnvDocs() map[string]string {
	return map[string]string{
		"BLDR_MAX_CONCURRENT_ACTIONS":       "Maximum concurrent local action executions, 0 = unlimited (default: 10)",
		"BLDR_SCHEDULER_SHARD_COUNT":        "Number of scheduler shards, rounded up to a power of two (default: 16)",
		"BLDR_MAX_ACTION_RETRIES":           "Max retries of a failed action before it is marked Failed (default: 3)",
		"BLDR_ACTION_TIMEOUT":               "Default timeout for a single action execution (default: 10m)",
		"BLDR_CACHE_DIR":                    "Root directory for the CAS and action cache database",
		"BLDR_CACHE_MAX_BYTES":              "Cap on total CAS size in bytes, 0 = unlimited (default: 10737418240)",
		"BLDR_CACHE_EVICTION_POLICY":        "CAS eviction policy: none, lru, or size-cap (default: lru)",
		"BLDR_CACHE_LEASE_TIMEOUT":          "Max duration an in-flight build may hold an action-cache lease (default: 15m)",
		"BLDR_SANDBOX_BACKEND":              "Isolation backend: namespace, container, or none (default: namespace)",
		"BLDR_SANDBOX_NETWORK_ALLOWED":      "Permit network access inside the sandbox (default: false)",
		"BLDR_SANDBOX_BLOCK_CREDENTIAL_DIRS": "Deny read access to ~/.ssh and ~/.aws inside the sandbox (default: true)",
		"BLDR_SANDBOX_SOFT_KILL_GRACE":      "Wait after SIGTERM before SIGKILL (default: 5s)",
		"BLDR_SANDBOX_ISOLATION_BIN_PATH":   "Path to the namespace-isolation helper binary, empty resolves from PATH",
		"BLDR_REPOSITORY_CACHE_DIR":         "Directory where fetched repositories and toolchains are cached",
		"BLDR_REPOSITORY_VERIFY_INTEGRITY":  "Require a matching content digest for every fetch (default: true)",
		"BLDR_REPOSITORY_FETCH_RETRIES":     "Exponential-backoff retries for archive/git fetches (default: 5)",
		"BLDR_REPOSITORY_LOCKFILE_PATH":     "Path to the resolved-version lockfile",
		"BLDR_LOG_LEVEL":                    "Log level: debug, info, warn, error, fatal (default: info)",
		"BLDR_LOG_DIR":                      "Log directory",
		"BLDR_METRICS_ENABLED":              "Enable Prometheus metrics collection (default: true)",
		"BLDR_METRICS_ADDR":                 "Address the /metrics endpoint is served on (default: :9090)",
		"BLDR_DETERMINISM_STRICT":           "Fail the build on any detected non-determinism rather than warning (default: false)",
		"BLDR_DETERMINISM_VERIFY_RERUNS":    "Independent reruns used to verify a declared-deterministic action, 0 disables (default: 0)",
		"BLDR_DETERMINISM_DRIFT_BASELINE_SIZE": "Rolling per-fingerprint digest history kept for drift detection (default: 20)",
		"BLDR_WORKER_CONSTRAINED":           "Force constrained-worker mode regardless of auto-detection (default: false)",
		"BLDR_WORKER_AUTO_DETECT":           "Auto-detect constrained mode from available CPU/memory (default: true)",
		"BLDR_WORKER_MAX_CONCURRENT_ACTIONS": "Concurrent action cap used when constrained mode is active (default: 2)",
		"BLDR_WORKER_MEMORY_CAP_MB":         "Memory cap in MB for a constrained worker, 0 = no limit (default: 512)",
		"BLDR_CLUSTER_ENABLED":              "Master switch for distributed scheduling (default: false)",
		"BLDR_CLUSTER_DATA_DIR":             "Directory where cluster state (keys, peer store) is persisted",
		"BLDR_CLUSTER_LISTEN_PORT":          "Cluster transport port, 0 = random (default: 0)",
		"BLDR_CLUSTER_HEARTBEAT_INTERVAL":   "How often workers report liveness to the coordinator (default: 5s)",
		"BLDR_CLUSTER_HEARTBEAT_TIMEOUT":    "How long a worker may go silent before reassignment (default: 20s)",
		"BLDR_CLUSTER_RATE_LIMIT_PER_PEER":  "Inbound request limit per peer per minute (default: 600)",
		"BLDR_CLUSTER_MAX_CONCURRENT_ACTIONS": "Simultaneous cluster action executions per worker (default: 10)",
		"BLDR_CLUSTER_WORK_STEALING":        "Let idle workers steal queued work from busy peers (default: true)",
		"BLDR_CLUSTER_QUARANTINE_THRESHOLD": "Consecutive failures before a peer is quarantined (default: 3)",
		"BLDR_CONFIG_PATH":                  "Path to config file",
	}
}

// PrintEnvDocs prints environment variable documentation.
func PrintEnvDocs() {
	fmt.Println("bldr Environment Variables")
	fmt.Println("==========================")
	fmt.Println()

	categories := map[string][]string{
		"Execution":   {},
		"Cache":       {},
		"Sandbox":     {},
		"Repository":  {},
		"Telemetry":   {},
		"Determinism": {},
		"WorkerMode":  {},
		"Cluster":     {},
		"General":     {},
	}

	docs := GetEnvDocs()
	for env, doc := range docs {
		category := "General"
		switch {
		case strings.HasPrefix(env, "BLDR_CLUSTER"):
			category = "Cluster"
		case strings.HasPrefix(env, "BLDR_WORKER"):
			category = "WorkerMode"
		case strings.HasPrefix(env, "BLDR_DETERMINISM"):
			category = "Determinism"
		case strings.HasPrefix(env, "BLDR_LOG") || strings.HasPrefix(env, "BLDR_METRICS"):
			category = "Telemetry"
		case strings.HasPrefix(env, "BLDR_REPOSITORY"):
			category = "Repository"
		case strings.HasPrefix(env, "BLDR_SANDBOX"):
			category = "Sandbox"
		case strings.HasPrefix(env, "BLDR_CACHE"):
			category = "Cache"
		case strings.Contains(env, "CONCURRENT") || strings.Contains(env, "SHARD") || strings.Contains(env, "ACTION_RETRIES") || strings.Contains(env, "ACTION_TIMEOUT"):
			category = "Execution"
		}
		categories[category] = append(categories[category], fmt.Sprintf("  %-40s %s", env, doc))
	}

	for category, vars := range categories {
		if len(vars) > 0 {
			fmt.Printf("%s:\n", category)
			for _, v := range vars {
				fmt.Println(v)
			}
			fmt.Println()
		}
	}
}
