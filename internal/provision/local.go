package provision

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

// brokerEmulatorHost is where a worker container reaches a broker
// emulator running on the host machine.
const brokerEmulatorHost = "host.docker.internal:8085"

// workerHTTPPort is the worker's readiness/control port, published to an
// ephemeral host port so local runs can probe /ready.
const workerHTTPPort = nat.Port("8000/tcp")

// LocalProvisioner starts workers as local Docker containers, named
// after the session id so the local channel backend can exec into them.
type LocalProvisioner struct {
	cli       *client.Client
	image     string
	projectID string
	useBroker bool
}

// NewLocalProvisioner creates the strategy from the environment's Docker
// settings.
func NewLocalProvisioner(image, projectID string, useBroker bool) (*LocalProvisioner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &LocalProvisioner{
		cli:       cli,
		image:     image,
		projectID: projectID,
		useBroker: useBroker,
	}, nil
}

func (p *LocalProvisioner) Start(ctx context.Context, sessionID string, cfg models.SessionConfig) error {
	log.Printf("creating local worker for session %s", sessionID)

	envStrings := renderEnv(WorkerEnv(sessionID, cfg, p.projectID, p.useBroker))

	hostConfig := &container.HostConfig{
		AutoRemove: true,
		PortBindings: nat.PortMap{
			workerHTTPPort: []nat.PortBinding{{HostIP: "127.0.0.1"}},
		},
	}

	if p.useBroker {
		// Point the worker at a broker emulator on the host machine.
		envStrings = append(envStrings, "PUBSUB_EMULATOR_HOST="+brokerEmulatorHost)
		hostConfig.ExtraHosts = []string{"host.docker.internal:host-gateway"}
	}

	containerConfig := &container.Config{
		Image: p.image,
		Env:   envStrings,
		ExposedPorts: nat.PortSet{
			workerHTTPPort: struct{}{},
		},
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": "computer-use-relay",
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, sessionID)
	if err != nil {
		return fmt.Errorf("%w: create container: %v", ErrProvision, err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("%w: start container: %v", ErrProvision, err)
	}

	return nil
}

// renderEnv formats derived env vars as KEY=VALUE container settings.
func renderEnv(env []EnvVar) []string {
	out := make([]string, 0, len(env)+1)
	for _, v := range env {
		out = append(out, v.Name+"="+v.Value)
	}
	return out
}

// EnsureImage pulls the worker image if it is not already present.
func (p *LocalProvisioner) EnsureImage(ctx context.Context) error {
	images, err := p.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	reader, err := p.cli.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the Docker client.
func (p *LocalProvisioner) Close() error {
	return p.cli.Close()
}
