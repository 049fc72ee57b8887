//go:build darwin

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// generateSBPLProfile builds a Scheme-based sandbox profile that denies
// read access to ~/.ssh (always) and ~/.aws (when requested), allows writes
// to workDir and any extra capability binds, and otherwise allows the rest
// of the operations a build toolchain needs: process exec, mach lookups,
// signals, and sysctl reads.
func generateSBPLProfile(workDir string, writeRegions []string, blockAWS bool) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(allow default)\n")

	home, err := os.UserHomeDir()
	if err == nil {
		sshDir := filepath.Join(home, ".ssh")
		fmt.Fprintf(&b, "(deny file-read* (subpath %q))\n", sshDir)
		if blockAWS {
			awsDir := filepath.Join(home, ".aws")
			fmt.Fprintf(&b, "(deny file-read* (subpath %q))\n", awsDir)
		}
	}

	fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", workDir)
	for _, region := range writeRegions {
		fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", region)
	}

	b.WriteString("(allow process-exec)\n")
	b.WriteString("(allow mach-lookup)\n")
	b.WriteString("(allow signal)\n")
	b.WriteString("(allow sysctl-read)\n")
	return b.String()
}

// sandboxExecAvailable is overridden in tests.
var sandboxExecAvailable = func() bool {
	_, err := exec.LookPath("sandbox-exec")
	return err == nil
}

type darwinBackend struct{}

func newOSBackend() Backend {
	if sandboxExecAvailable() {
		return darwinBackend{}
	}
	return fallbackBackend{warning: "sandbox-exec not found on PATH; falling back to an unsandboxed execution"}
}

func (darwinBackend) Run(ctx context.Context, workDir string, caps Capabilities, env map[string]string, command []string) *exec.Cmd {
	for _, region := range caps.WriteRegions {
		_ = os.MkdirAll(region, 0o755)
	}
	profile := generateSBPLProfile(workDir, caps.WriteRegions, caps.BlockAWSCredentials)
	args := append([]string{"-p", profile}, command...)
	cmd := exec.CommandContext(ctx, "sandbox-exec", args...)
	cmd.Dir = workDir
	cmd.Env = mapToEnv(env)
	return cmd
}
