package relay

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRunner executes commands in the session's worker container over
// the Docker Engine API. The container is named after the session id by
// the local provisioner, so no lookup table is needed.
type DockerRunner struct {
	cli *client.Client
}

// NewDockerRunner creates a runner from the environment's Docker settings.
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRunner{cli: cli}, nil
}

// RunCommand runs `run-command <payload>` inside the worker container
// and returns its stdout, which carries the JSON result.
func (r *DockerRunner) RunCommand(ctx context.Context, sessionID string, payload []byte) ([]byte, error) {
	exec, err := r.cli.ContainerExecCreate(ctx, sessionID, container.ExecOptions{
		Cmd:          []string{"run-command", string(payload)},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	resp, err := r.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return nil, fmt.Errorf("exec read: %w", err)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}
	if inspect.ExitCode != 0 {
		return nil, fmt.Errorf("run-command exited %d: %s", inspect.ExitCode, stderr.String())
	}

	return stdout.Bytes(), nil
}

// StopWorker stops the session's worker container. The provisioner runs
// it with auto-remove, so stop is all the cleanup needed.
func (r *DockerRunner) StopWorker(ctx context.Context, sessionID string) error {
	timeout := 10
	err := r.cli.ContainerStop(ctx, sessionID, container.StopOptions{Timeout: &timeout})
	if err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}
