package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Execution.MaxConcurrentActions != 10 {
		t.Errorf("expected MaxConcurrentActions=10, got: %d", cfg.Execution.MaxConcurrentActions)
	}
	if cfg.Execution.ShardCount != 16 {
		t.Errorf("expected ShardCount=16, got: %d", cfg.Execution.ShardCount)
	}
	if cfg.Sandbox.Backend != "namespace" {
		t.Errorf("expected Sandbox.Backend='namespace', got: %s", cfg.Sandbox.Backend)
	}
	if cfg.Cluster.Enabled {
		t.Error("expected Cluster.Enabled=false by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configContent := `{
		"execution": {
			"max_concurrent_actions": 20
		},
		"sandbox": {
			"backend": "container"
		}
	}`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Execution.MaxConcurrentActions != 20 {
		t.Errorf("expected MaxConcurrentActions=20, got: %d", cfg.Execution.MaxConcurrentActions)
	}
	if cfg.Sandbox.Backend != "container" {
		t.Errorf("expected Sandbox.Backend='container', got: %s", cfg.Sandbox.Backend)
	}
	// Check default is preserved for unspecified fields
	if cfg.Execution.ShardCount != 16 {
		t.Errorf("expected ShardCount=16 (default), got: %d", cfg.Execution.ShardCount)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("BLDR_MAX_CONCURRENT_ACTIONS", "25")
	os.Setenv("BLDR_SANDBOX_BACKEND", "container")
	os.Setenv("BLDR_CLUSTER_ENABLED", "true")
	os.Setenv("BLDR_ACTION_TIMEOUT", "10m")
	defer func() {
		os.Unsetenv("BLDR_MAX_CONCURRENT_ACTIONS")
		os.Unsetenv("BLDR_SANDBOX_BACKEND")
		os.Unsetenv("BLDR_CLUSTER_ENABLED")
		os.Unsetenv("BLDR_ACTION_TIMEOUT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Execution.MaxConcurrentActions != 25 {
		t.Errorf("expected MaxConcurrentActions=25, got: %d", cfg.Execution.MaxConcurrentActions)
	}
	if cfg.Sandbox.Backend != "container" {
		t.Errorf("expected Sandbox.Backend='container', got: %s", cfg.Sandbox.Backend)
	}
	if !cfg.Cluster.Enabled {
		t.Error("expected Cluster.Enabled=true")
	}
	if cfg.Execution.ActionTimeout != 10*time.Minute {
		t.Errorf("expected ActionTimeout=10m, got: %v", cfg.Execution.ActionTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		config func() *Config
		valid  bool
		errors int
	}{
		{
			name: "valid default config",
			config: func() *Config {
				return Default()
			},
			valid: true,
		},
		{
			name: "negative max concurrent actions",
			config: func() *Config {
				cfg := Default()
				cfg.Execution.MaxConcurrentActions = -1
				return cfg
			},
			valid:  false,
			errors: 1,
		},
		{
			name: "invalid eviction policy",
			config: func() *Config {
				cfg := Default()
				cfg.Cache.EvictionPolicy = "invalid"
				return cfg
			},
			valid:  false,
			errors: 1,
		},
		{
			name: "invalid sandbox backend",
			config: func() *Config {
				cfg := Default()
				cfg.Sandbox.Backend = "invalid"
				return cfg
			},
			valid:  false,
			errors: 1,
		},
		{
			name: "invalid log level",
			config: func() *Config {
				cfg := Default()
				cfg.Telemetry.LogLevel = "invalid"
				return cfg
			},
			valid:  false,
			errors: 1,
		},
		{
			name: "cluster heartbeat timeout not greater than interval",
			config: func() *Config {
				cfg := Default()
				cfg.Cluster.Enabled = true
				cfg.Cluster.HeartbeatInterval = 10 * time.Second
				cfg.Cluster.HeartbeatTimeout = 5 * time.Second
				return cfg
			},
			valid:  false,
			errors: 1,
		},
		{
			name: "size-cap eviction without max bytes",
			config: func() *Config {
				cfg := Default()
				cfg.Cache.EvictionPolicy = "size-cap"
				cfg.Cache.MaxBytes = 0
				return cfg
			},
			valid:  false,
			errors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			result := cfg.Validate()

			if tt.valid && !result.Valid() {
				t.Errorf("expected valid config, got errors: %s", result.Error())
			}
			if !tt.valid && result.Valid() {
				t.Error("expected invalid config, but validation passed")
			}
			if !tt.valid && len(result.Errors) != tt.errors {
				t.Errorf("expected %d errors, got: %d (%s)", tt.errors, len(result.Errors), result.Error())
			}
		})
	}
}

func TestValidateWithDefaults(t *testing.T) {
	cfg := &Config{}

	err := cfg.ValidateWithDefaults()
	if err != nil {
		t.Fatalf("ValidateWithDefaults failed: %v", err)
	}

	if cfg.Execution.MaxConcurrentActions != 10 {
		t.Errorf("expected MaxConcurrentActions=10 (default), got: %d", cfg.Execution.MaxConcurrentActions)
	}
	if cfg.Sandbox.Backend != "namespace" {
		t.Errorf("expected Sandbox.Backend='namespace' (default), got: %s", cfg.Sandbox.Backend)
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := Default()
	cfg.Execution.MaxConcurrentActions = 50

	if err := Save(cfg, configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if loaded.Execution.MaxConcurrentActions != 50 {
		t.Errorf("expected MaxConcurrentActions=50, got: %d", loaded.Execution.MaxConcurrentActions)
	}
}

func TestGetEnvDocs(t *testing.T) {
	docs := GetEnvDocs()
	if len(docs) == 0 {
		t.Error("expected some environment variable documentation")
	}

	if _, ok := docs["BLDR_MAX_CONCURRENT_ACTIONS"]; !ok {
		t.Error("expected BLDR_MAX_CONCURRENT_ACTIONS in docs")
	}
	if _, ok := docs["BLDR_LOG_LEVEL"]; !ok {
		t.Error("expected BLDR_LOG_LEVEL in docs")
	}
}

func TestValidationResult(t *testing.T) {
	result := &ValidationResult{
		Errors: []*ValidationError{
			{Field: "test", Message: "error 1"},
			{Field: "test2", Message: "error 2"},
		},
	}

	if result.Valid() {
		t.Error("result with errors should not be valid")
	}

	errStr := result.Error()
	if errStr == "" {
		t.Error("Error() should return non-empty string for invalid result")
	}
	if !contains(errStr, "error 1") || !contains(errStr, "error 2") {
		t.Error("Error() should include all error messages")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
