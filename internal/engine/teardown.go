package engine

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"go.uber.org/zap"

	"github.com/sebasti810/lumina/internal/devnet"
)

// Teardown stops and removes every devnet container, then removes the
// ephemeral genesis volume. The credentials volume (and the bind directory
// behind it) is left alone: token material survives a stack restart, which
// is exactly the persistence split the devnet relies on.
func (e *Engine) Teardown(ctx context.Context, topo *devnet.Topology, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	summaries, err := e.devnetContainers(ctx)
	if err != nil {
		return err
	}
	for _, summary := range summaries {
		timeout := 10
		if err := e.api.ContainerStop(ctx, summary.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			logger.Warn("stop container", zap.String("id", summary.ID), zap.Error(err))
		}
		if err := e.api.ContainerRemove(ctx, summary.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("remove container %s: %w", summary.ID, err)
		}
		logger.Info("container removed", zap.String("id", summary.ID), zap.String("service", summary.Labels[devnet.LabelService]))
	}

	for _, vol := range topo.Volumes {
		if vol.Kind != devnet.VolumeTmpfs {
			continue
		}
		name := volumeName(topo, vol.Name)
		if _, err := e.api.VolumeInspect(ctx, name); err != nil {
			continue
		}
		if err := e.api.VolumeRemove(ctx, name, true); err != nil {
			return fmt.Errorf("remove volume %s: %w", name, err)
		}
		logger.Info("ephemeral volume removed", zap.String("volume", name))
	}
	return nil
}

func (e *Engine) devnetContainers(ctx context.Context) ([]container.Summary, error) {
	summaries, err := e.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", devnet.LabelService)),
	})
	if err != nil {
		return nil, fmt.Errorf("list devnet containers: %w", err)
	}
	return summaries, nil
}
