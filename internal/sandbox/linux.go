//go:build linux

package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
)

// bubblewrapAvailable is overridden in tests.
var bubblewrapAvailable = func() bool {
	_, err := exec.LookPath("bwrap")
	return err == nil
}

// buildBubblewrapArgs assembles a bwrap invocation that: binds the host root
// read-only, gives the process a writable tmpfs at /tmp, overlays empty
// tmpfs mounts over credential directories, rebinds the declared writable
// regions (the action's own working directory plus any extra capability
// binds) so they take effect over the tmpfs, and unshares every namespace
// except network unless the action declared network access.
func buildBubblewrapArgs(workDir string, caps Capabilities, command []string) []string {
	args := []string{
		"--ro-bind", "/", "/",
		"--tmpfs", "/tmp",
	}

	if home, err := os.UserHomeDir(); err == nil {
		sshDir := filepath.Join(home, ".ssh")
		if _, err := os.Stat(sshDir); err == nil {
			args = append(args, "--tmpfs", sshDir)
		}
		if caps.BlockAWSCredentials {
			awsDir := filepath.Join(home, ".aws")
			if _, err := os.Stat(awsDir); err == nil {
				args = append(args, "--tmpfs", awsDir)
			}
		}
	}

	for _, region := range caps.WriteRegions {
		if err := os.MkdirAll(region, 0o755); err != nil {
			continue
		}
		args = append(args, "--bind", region, region)
	}

	args = append(args,
		"--bind", workDir, workDir,
		"--dev", "/dev",
		"--proc", "/proc",
		"--unshare-all",
	)
	if caps.AllowNetwork {
		args = append(args, "--share-net")
	}
	args = append(args,
		"--die-with-parent",
		"--chdir", workDir,
		"--",
	)
	args = append(args, command...)
	return args
}

type linuxBackend struct{}

func newOSBackend() Backend {
	if bubblewrapAvailable() {
		return linuxBackend{}
	}
	return fallbackBackend{warning: "bwrap not found on PATH; falling back to an unsandboxed execution"}
}

func (linuxBackend) Run(ctx context.Context, workDir string, caps Capabilities, env map[string]string, command []string) *exec.Cmd {
	args := buildBubblewrapArgs(workDir, caps, command)
	cmd := exec.CommandContext(ctx, "bwrap", args...)
	cmd.Dir = workDir
	cmd.Env = mapToEnv(env)
	return cmd
}
