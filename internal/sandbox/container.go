package sandbox

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"bldr/internal/cas"
	bldrerrors "bldr/internal/errors"
)

func workDirFor(actionID string) (string, error) {
	dir, err := os.MkdirTemp("", "bldr-action-*")
	if err != nil {
		return "", bldrerrors.Wrap(err, bldrerrors.CodeSandboxCreateFailed, "creating private working tree for action "+actionID)
	}
	return dir, nil
}

func removeWorkDir(dir string) { _ = os.RemoveAll(dir) }

// ContainerExecutor runs actions inside throwaway Docker containers instead
// of bwrap/sandbox-exec. It trades the lighter namespace-only isolation for
// a fully isolated kernel-independent environment, useful for actions whose
// toolchain needs a different base image than the host. It has no fallback
// of its own: where no Docker daemon is reachable, NewContainerExecutor
// returns an error.
type ContainerExecutor struct {
	Store           *cas.Store
	Image           string
	SourceDateEpoch int64
	api             *client.Client
}

// NewContainerExecutor connects to the Docker daemon reachable via the
// standard DOCKER_HOST/DOCKER_* environment, returning an error when the
// daemon cannot be reached; it does not fall back to NewExecutor.
func NewContainerExecutor(store *cas.Store, image string, sourceDateEpoch int64) (*ContainerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, bldrerrors.Wrap(err, bldrerrors.CodeSandboxCreateFailed, "connecting to docker daemon")
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, bldrerrors.Wrap(err, bldrerrors.CodeSandboxCreateFailed, "docker daemon unreachable")
	}
	return &ContainerExecutor{Store: store, Image: image, SourceDateEpoch: sourceDateEpoch, api: cli}, nil
}

// Close releases the underlying Docker API client.
func (e *ContainerExecutor) Close() error {
	if e.api == nil {
		return nil
	}
	return e.api.Close()
}

// Execute mirrors Executor.Execute's contract (materialize, run, ingest) but
// runs the action inside a fresh container bind-mounted to its private
// working tree, removed unconditionally once the run concludes.
func (e *ContainerExecutor) Execute(ctx context.Context, spec ActionSpec) (Result, error) {
	if len(spec.Command) == 0 {
		return Result{}, bldrerrors.New(bldrerrors.CodeInvalidArgument, "action has no command")
	}

	workDir, err := workDirFor(spec.ID)
	if err != nil {
		return Result{}, err
	}
	defer removeWorkDir(workDir)

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

	const containerWorkDir = "/workspace"
	created, err := e.api.ContainerCreate(ctx, &container.Config{
		Image:      e.Image,
		Cmd:        spec.Command,
		Env:        mapToEnv(env),
		WorkingDir: containerWorkDir,
		Tty:        false,
	}, &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: workDir, Target: containerWorkDir},
		},
		NetworkMode: container.NetworkMode(containerNetworkMode(spec.Capabilities.AllowNetwork)),
		AutoRemove:  false,
	}, nil, nil, "")
	if err != nil {
		return Result{}, bldrerrors.Wrap(err, bldrerrors.CodeSandboxCreateFailed, "creating container for action "+spec.ID)
	}
	defer e.api.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Limits.WallClock > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Limits.WallClock)
		defer cancel()
	}

	start := time.Now()
	if err := e.api.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return Result{}, bldrerrors.Wrap(err, bldrerrors.CodeSandboxExecFailed, "starting container for action "+spec.ID)
	}

	statusCh, errCh := e.api.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{TimedOut: true, Duration: time.Since(start)}, bldrerrors.New(bldrerrors.CodeSandboxTimeout, "action "+spec.ID+" exceeded its wall-clock limit")
		}
		if err != nil {
			return Result{}, bldrerrors.Wrap(err, bldrerrors.CodeSandboxExecFailed, "waiting for container")
		}
	case st := <-statusCh:
		exitCode = st.StatusCode
	}
	duration := time.Since(start)

	stdout, stderr, err := e.containerLogs(context.Background(), created.ID)
	if err != nil {
		return Result{}, err
	}

	outputs, err := ingestOutputs(e.Store, workDir, spec.OutputPaths)
	if err != nil {
		return Result{ExitCode: int(exitCode), Duration: duration}, err
	}

	stdoutDigest, err := e.Store.Put(cas.KindLog, stdout)
	if err != nil {
		return Result{}, bldrerrors.Wrap(err, bldrerrors.CodeSandboxCreateFailed, "storing stdout")
	}
	stderrDigest, err := e.Store.Put(cas.KindLog, stderr)
	if err != nil {
		return Result{}, bldrerrors.Wrap(err, bldrerrors.CodeSandboxCreateFailed, "storing stderr")
	}

	return Result{
		ExitCode:     int(exitCode),
		StdoutDigest: stdoutDigest,
		StderrDigest: stderrDigest,
		Outputs:      outputs,
		Duration:     duration,
	}, nil
}

func (e *ContainerExecutor) containerLogs(ctx context.Context, containerID string) ([]byte, []byte, error) {
	logs, err := e.api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, bldrerrors.Wrap(err, bldrerrors.CodeSandboxExecFailed, "fetching container logs")
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil && err != io.EOF {
		return nil, nil, bldrerrors.Wrap(err, bldrerrors.CodeSandboxExecFailed, "demultiplexing container logs")
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// containerNetworkMode maps the declared capability onto a Docker network
// mode; actions without network access run fully isolated ("none").
func containerNetworkMode(allowNetwork bool) string {
	if allowNetwork {
		return "bridge"
	}
	return "none"
}
