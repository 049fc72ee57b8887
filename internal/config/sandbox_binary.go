package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ValidateIsolationBin checks a configured sandbox isolation binary path and
// returns non-fatal warnings plus an error for conditions that make the path
// unusable outright. An empty path is valid — it means "resolve from PATH".
func ValidateIsolationBin(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sandbox isolation binary %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("sandbox isolation binary %q is a directory", path)
	}

	var warnings []string
	if !filepath.IsAbs(path) {
		warnings = append(warnings, fmt.Sprintf("isolation bin path %q is not absolute, resolution depends on working directory", path))
	}
	if info.Mode()&0111 == 0 {
		warnings = append(warnings, fmt.Sprintf("isolation bin path %q is not executable", path))
	}

	return warnings, nil
}
