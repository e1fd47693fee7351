package engine

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/sebasti810/lumina/internal/devnet"
)

// Launch starts every topology service detached. Images must already exist
// locally; a missing image aborts before any container is created so a
// partial stack never comes up by accident. Existing containers for the same
// service are replaced, which makes re-running the launch stage idempotent.
// No start ordering is enforced between the validator and the bridges; the
// node software carries its own genesis-availability retry logic.
func (e *Engine) Launch(ctx context.Context, topo *devnet.Topology, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, svc := range topo.Services {
		ok, err := e.ImageExists(ctx, svc.Image)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("image %s for service %s not found locally; run the build stage first", svc.Image, svc.Name)
		}
	}

	if err := e.EnsureVolumes(ctx, topo); err != nil {
		return err
	}

	for _, svc := range topo.Services {
		if err := e.launchService(ctx, topo, svc, logger); err != nil {
			return err
		}
	}
	return nil
}

// EnsureVolumes creates the topology's named volumes when absent. The bind
// volume's host directory is created too, so a first run on a clean checkout
// does not fail on a missing ./credentials directory.
func (e *Engine) EnsureVolumes(ctx context.Context, topo *devnet.Topology) error {
	for _, vol := range topo.Volumes {
		name := volumeName(topo, vol.Name)
		if _, err := e.api.VolumeInspect(ctx, name); err == nil {
			continue
		}

		opts := volume.CreateOptions{
			Name:   name,
			Driver: "local",
			Labels: map[string]string{devnet.LabelService: vol.Name},
		}
		switch vol.Kind {
		case devnet.VolumeBind:
			if err := os.MkdirAll(vol.Source, 0o755); err != nil {
				return fmt.Errorf("create bind directory %s: %w", vol.Source, err)
			}
			opts.DriverOpts = map[string]string{
				"type":   "none",
				"o":      "bind",
				"device": vol.Source,
			}
		case devnet.VolumeTmpfs:
			opts.DriverOpts = map[string]string{
				"type":   "tmpfs",
				"device": "tmpfs",
			}
		default:
			return fmt.Errorf("volume %q has unknown kind %q", vol.Name, vol.Kind)
		}

		if _, err := e.api.VolumeCreate(ctx, opts); err != nil {
			return fmt.Errorf("create volume %s: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) launchService(ctx context.Context, topo *devnet.Topology, svc devnet.Service, logger *zap.Logger) error {
	name := topo.ContainerName(svc.Name)

	if err := e.removeContainer(ctx, name); err != nil {
		return err
	}

	exposed, bindings, err := PortConfig(svc.Ports)
	if err != nil {
		return fmt.Errorf("service %s: %w", svc.Name, err)
	}

	cfg := &container.Config{
		Image:        svc.Image,
		Env:          EnvList(svc.Env),
		ExposedPorts: exposed,
		Labels: map[string]string{
			devnet.LabelService: svc.Name,
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Mounts:       volumeMounts(topo, svc.Volumes),
	}

	created, err := e.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return fmt.Errorf("create container %s: %w", name, err)
	}
	if err := e.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", name, err)
	}
	logger.Info("service started",
		zap.String("service", svc.Name),
		zap.String("container", name),
		zap.String("image", svc.Image))
	return nil
}

// removeContainer force-removes a container by name; absence is not an error.
func (e *Engine) removeContainer(ctx context.Context, name string) error {
	summaries, err := e.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return fmt.Errorf("list containers named %s: %w", name, err)
	}
	for _, summary := range summaries {
		if err := e.api.ContainerRemove(ctx, summary.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("remove existing container %s: %w", name, err)
		}
	}
	return nil
}

// EnvList renders an env map into docker's KEY=VALUE form, sorted for
// deterministic container specs.
func EnvList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}

// PortConfig converts topology port bindings into the engine's exposed-port
// set and host binding map.
func PortConfig(ports []devnet.PortBinding) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, fmt.Sprintf("%d", p.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("container port %d/%s: %w", p.ContainerPort, proto, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: fmt.Sprintf("%d", p.HostPort),
		})
	}
	return exposed, bindings, nil
}

func volumeMounts(topo *devnet.Topology, mounts []devnet.VolumeMount) []mount.Mount {
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, mount.Mount{
			Type:   mount.TypeVolume,
			Source: volumeName(topo, m.Volume),
			Target: m.Target,
		})
	}
	return out
}

// volumeName scopes a logical volume name by project so concurrent devnets
// on one host do not collide.
func volumeName(topo *devnet.Topology, name string) string {
	project := topo.Project
	if project == "" {
		project = "lumina-devnet"
	}
	return fmt.Sprintf("%s-%s", project, name)
}
