// Package engine starts and stops the devnet containers through the Docker
// Engine API. It never builds images: the launch stage fails fast when an
// image declared by the topology is missing from the local runtime.
package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// API is the subset of the Docker Engine client the launcher depends on.
// *client.Client satisfies it; tests substitute a fake.
type API interface {
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	VolumeInspect(ctx context.Context, volumeID string) (volume.Volume, error)
	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)
	VolumeRemove(ctx context.Context, volumeID string, force bool) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// Engine wraps the Docker client with devnet-shaped operations.
type Engine struct {
	api API
}

// New connects to the local Docker daemon using the standard environment
// configuration (DOCKER_HOST etc.).
func New() (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Engine{api: cli}, nil
}

// NewWithAPI wires an explicit API implementation, used by tests.
func NewWithAPI(api API) *Engine {
	return &Engine{api: api}
}

// Close releases the underlying client when it owns a real connection.
func (e *Engine) Close() error {
	if closer, ok := e.api.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// ImageExists reports whether the exact reference is present in the local
// runtime.
func (e *Engine) ImageExists(ctx context.Context, ref string) (bool, error) {
	summaries, err := e.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, fmt.Errorf("list images for %s: %w", ref, err)
	}
	return len(summaries) > 0, nil
}
