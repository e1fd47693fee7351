// Package devnet models the local Lumina devnet: one validator, a set of
// bridge nodes, and the shared volumes that connect them. The topology is a
// static configuration record; it is produced once at invocation time and
// consumed by the build, launch, and token stages.
package devnet

import (
	"fmt"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// Volume kinds supported by the stack launcher.
const (
	VolumeBind  = "bind"
	VolumeTmpfs = "tmpfs"
)

// Well-known volume names. The credentials volume persists across runs; the
// genesis volume is ephemeral and cleared on teardown.
const (
	CredentialsVolume = "credentials"
	GenesisVolume     = "genesis"
)

// Default mount points inside the node containers.
const (
	credentialsTarget = "/credentials"
	genesisTarget     = "/genesis"
)

// LabelService is applied to every devnet container so the launcher can find
// its own containers without guessing by name.
const LabelService = "lumina.devnet/service"

// DefaultBridgeCount matches the CI devnet: two bridge nodes.
const DefaultBridgeCount = 2

// Bridge host ports start at 26658 and step by 10000 per node so that the RPC
// port of every bridge is reachable from the host without conflicts.
const (
	bridgeContainerPort = 26658
	bridgeHostPortBase  = 26658
	bridgeHostPortStep  = 10000

	validatorContainerPort = 9090
	validatorHostPort      = 19090
)

// PortBinding maps a host port to a container port.
type PortBinding struct {
	HostPort      int
	ContainerPort int
	Protocol      string // tcp when empty
}

func (p PortBinding) String() string {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return fmt.Sprintf("%d->%d/%s", p.HostPort, p.ContainerPort, proto)
}

// VolumeMount attaches a named volume to a container path.
type VolumeMount struct {
	Volume string
	Target string
}

// BuildSpec references the build recipe for a service image.
type BuildSpec struct {
	ContextDir string
	Dockerfile string
	Target     string
	Args       map[string]string
}

// Service is one devnet container definition. Definitions are immutable once
// the topology is assembled.
type Service struct {
	Name     string
	Image    string
	Platform string
	Build    BuildSpec
	Env      map[string]string
	Ports    []PortBinding
	Volumes  []VolumeMount
}

// Volume is a named shared storage definition.
type Volume struct {
	Name    string
	Kind    string // bind | tmpfs
	Source  string // bind only; host directory
	Options map[string]string
}

// Topology is the full devnet description.
type Topology struct {
	Project  string
	Services []Service
	Volumes  []Volume
}

// Validator returns the validator service. The default topology always has
// exactly one.
func (t *Topology) Validator() (Service, bool) {
	for _, svc := range t.Services {
		if svc.Name == "validator" {
			return svc, true
		}
	}
	return Service{}, false
}

// Bridges returns the bridge services in declaration order.
func (t *Topology) Bridges() []Service {
	out := make([]Service, 0, len(t.Services))
	for _, svc := range t.Services {
		if _, ok := svc.Env["NODE_ID"]; ok {
			out = append(out, svc)
		}
	}
	return out
}

// Service looks a service up by name.
func (t *Topology) Service(name string) (Service, bool) {
	for _, svc := range t.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// VolumeByName looks a volume up by name.
func (t *Topology) VolumeByName(name string) (Volume, bool) {
	for _, vol := range t.Volumes {
		if vol.Name == name {
			return vol, true
		}
	}
	return Volume{}, false
}

// ContainerName returns the runtime container name for a service.
func (t *Topology) ContainerName(service string) string {
	project := t.Project
	if project == "" {
		project = "lumina-devnet"
	}
	return fmt.Sprintf("%s-%s", project, service)
}

// Options configure DefaultTopology.
type Options struct {
	BridgeCount    int
	CredentialsDir string
	Platform       string
	ImagePrefix    string
}

// DefaultTopology assembles the canonical CI devnet: a validator configured
// with the bridge count, bridgeCount bridge nodes with contiguous zero-based
// NODE_IDs, and the credentials/genesis shared volumes mounted everywhere.
//
// bridge-0 runs with SKIP_AUTH=true while the remaining bridges keep auth
// enabled. The asymmetry is intentional and mirrors the CI configuration.
func DefaultTopology(opts Options) (*Topology, error) {
	count := opts.BridgeCount
	if count == 0 {
		count = DefaultBridgeCount
	}
	if count < 1 {
		return nil, fmt.Errorf("bridge count must be at least 1, got %d", count)
	}

	credentialsDir := opts.CredentialsDir
	if credentialsDir == "" {
		credentialsDir = "./credentials"
	}
	expanded, err := homedir.Expand(credentialsDir)
	if err != nil {
		return nil, fmt.Errorf("expand credentials dir %q: %w", credentialsDir, err)
	}
	if abs, err := filepath.Abs(expanded); err == nil {
		expanded = abs
	}

	prefix := opts.ImagePrefix
	if prefix == "" {
		prefix = "lumina-ci"
	}

	sharedMounts := []VolumeMount{
		{Volume: CredentialsVolume, Target: credentialsTarget},
		{Volume: GenesisVolume, Target: genesisTarget},
	}

	topo := &Topology{
		Project: "lumina-devnet",
		Volumes: []Volume{
			{Name: CredentialsVolume, Kind: VolumeBind, Source: expanded},
			{Name: GenesisVolume, Kind: VolumeTmpfs},
		},
	}

	validator := Service{
		Name:     "validator",
		Image:    fmt.Sprintf("%s/validator:latest", prefix),
		Platform: opts.Platform,
		Build: BuildSpec{
			ContextDir: ".",
			Dockerfile: "ci/Dockerfile.validator",
		},
		Env: map[string]string{
			"BRIDGE_COUNT": fmt.Sprintf("%d", count),
		},
		Ports: []PortBinding{
			{HostPort: validatorHostPort, ContainerPort: validatorContainerPort},
		},
		Volumes: append([]VolumeMount(nil), sharedMounts...),
	}
	topo.Services = append(topo.Services, validator)

	for i := 0; i < count; i++ {
		env := map[string]string{
			"NODE_ID":              fmt.Sprintf("%d", i),
			"CELESTIA_ENABLE_QUIC": "1",
		}
		if i == 0 {
			env["SKIP_AUTH"] = "true"
		}
		bridge := Service{
			Name:     fmt.Sprintf("bridge-%d", i),
			Image:    fmt.Sprintf("%s/bridge-%d:latest", prefix, i),
			Platform: opts.Platform,
			Build: BuildSpec{
				ContextDir: ".",
				Dockerfile: "ci/Dockerfile.bridge",
			},
			Env: env,
			Ports: []PortBinding{
				{HostPort: bridgeHostPortBase + i*bridgeHostPortStep, ContainerPort: bridgeContainerPort},
			},
			Volumes: append([]VolumeMount(nil), sharedMounts...),
		}
		topo.Services = append(topo.Services, bridge)
	}

	return topo, nil
}
