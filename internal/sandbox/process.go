package sandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"bldr/internal/cas"
	bldrerrors "bldr/internal/errors"
)

// Backend builds the *exec.Cmd that will run command inside workDir under
// whatever OS-level isolation the platform supports. Env has already been
// reduced to the action's declared whitelist plus the deterministic
// overrides; Run must not add anything beyond what Capabilities allows.
type Backend interface {
	Run(ctx context.Context, workDir string, caps Capabilities, env map[string]string, command []string) *exec.Cmd
}

// fallbackBackend runs the command directly with no OS-level isolation at
// all, beyond the private working directory. It is used when the host has
// no supported sandbox mechanism, and every execution through it emits a
// warning so a non-hermetic build is never silently trusted as hermetic.
type fallbackBackend struct {
	warning string
	warned  func(string)
}

func (b fallbackBackend) Run(ctx context.Context, workDir string, caps Capabilities, env map[string]string, command []string) *exec.Cmd {
	if b.warned != nil {
		b.warned(b.warning)
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = workDir
	cmd.Env = mapToEnv(env)
	return cmd
}

func mapToEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// deterministicEnv returns the fixed environment variables every sandboxed
// execution sees regardless of the action's own declared env, so that two
// runs of the same action on different hosts or at different times still
// agree on wall-clock-derived and locale-derived inputs.
func deterministicEnv(epoch int64) map[string]string {
	return map[string]string{
		"SOURCE_DATE_EPOCH": fmtInt(epoch),
		"TZ":                "UTC",
		"LC_ALL":            "C",
		"LANG":              "C",
	}
}

func fmtInt(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var b [20]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// Executor runs build actions through the host's OS-level sandbox backend,
// materializing declared inputs from a content-addressable store beforehand
// and ingesting declared outputs back into it afterward.
type Executor struct {
	Store   *cas.Store
	Backend Backend
	// SourceDateEpoch is mixed into every execution's environment so that
	// tools honoring it (most compilers and archivers do) produce
	// byte-identical output across runs and hosts.
	SourceDateEpoch int64
	// OnWarning receives non-hermetic-fallback notices; may be nil.
	OnWarning func(string)
}

// NewExecutor builds an executor using the best OS-level sandbox backend
// available on this host, falling back to a warned unsandboxed execution
// when none is supported.
func NewExecutor(store *cas.Store, sourceDateEpoch int64) *Executor {
	return &Executor{Store: store, Backend: newOSBackend(), SourceDateEpoch: sourceDateEpoch}
}

// Execute runs one action to completion: materialize inputs, run the
// command under the configured backend with a whitelisted, deterministic
// environment, enforce the wall-clock timeout (soft interrupt then hard
// kill after the grace period), and ingest declared outputs into the store.
func (e *Executor) Execute(ctx context.Context, spec ActionSpec) (Result, error) {
	if len(spec.Command) == 0 {
		return Result{}, bldrerrors.New(bldrerrors.CodeInvalidArgument, "action has no command")
	}

	workDir, err := os.MkdirTemp("", "bldr-action-*")
	if err != nil {
		return Result{}, bldrerrors.Wrap(err, bldrerrors.CodeSandboxCreateFailed, "creating private working tree")
	}
	defer os.RemoveAll(workDir)

	if err := materialize(e.Store, workDir, spec.Inputs); err != nil {
		return Result{}, err
	}

	env := make(map[string]string, len(spec.Env)+4)
	for k, v := range spec.Env {
		env[k] = v
	}
	for k, v := range deterministicEnv(e.SourceDateEpoch) {
		env[k] = v
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Limits.WallClock > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Limits.WallClock)
		defer cancel()
	}

	if fb, ok := e.Backend.(fallbackBackend); ok && e.OnWarning != nil {
		fb.warned = e.OnWarning
		e.Backend = fb
	}

	cmd := e.Backend.Run(runCtx, workDir, spec.Capabilities, env, spec.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := runWithGrace(cmd, spec.Limits.GracePeriod)
	duration := time.Since(start)

	timedOut := runCtx.Err() == context.DeadlineExceeded
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if !timedOut {
			return Result{}, bldrerrors.Wrap(runErr, bldrerrors.CodeSandboxExecFailed, "running action "+spec.ID)
		}
	}
	if timedOut {
		return Result{TimedOut: true, Duration: duration}, bldrerrors.New(bldrerrors.CodeSandboxTimeout, "action "+spec.ID+" exceeded its wall-clock limit")
	}

	outputs, err := ingestOutputs(e.Store, workDir, spec.OutputPaths)
	if err != nil {
		return Result{ExitCode: exitCode, Duration: duration}, err
	}

	stdoutDigest, err := e.Store.Put(cas.KindLog, stdout.Bytes())
	if err != nil {
		return Result{}, bldrerrors.Wrap(err, bldrerrors.CodeSandboxCreateFailed, "storing stdout")
	}
	stderrDigest, err := e.Store.Put(cas.KindLog, stderr.Bytes())
	if err != nil {
		return Result{}, bldrerrors.Wrap(err, bldrerrors.CodeSandboxCreateFailed, "storing stderr")
	}

	return Result{
		ExitCode:     exitCode,
		StdoutDigest: stdoutDigest,
		StderrDigest: stderrDigest,
		Outputs:      outputs,
		Duration:     duration,
	}, nil
}

// runWithGrace runs cmd to completion, and if its context is cancelled
// sends SIGTERM first, giving the process grace to exit cleanly before
// Go's context machinery kills it outright via SIGKILL.
func runWithGrace(cmd *exec.Cmd, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace
	return cmd.Run()
}
