package devnet

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/containerd/platforms"
	"github.com/distribution/reference"
)

// Validate checks the topology invariants before any external tool is
// invoked. A topology that fails validation is a configuration inconsistency,
// not a runtime error: nothing has been built or started yet.
//
// Checked invariants:
//   - service and volume names are non-empty and unique
//   - image references parse as docker references
//   - platform strings, when set, parse as OCI platforms
//   - bridge NODE_IDs are unique, zero-based, and contiguous
//   - the validator BRIDGE_COUNT equals the number of bridge services
//   - host ports are unique across all services
//   - every service mounts both shared volumes, and every mount resolves to
//     a declared volume
func Validate(t *Topology) error {
	if t == nil {
		return fmt.Errorf("topology is nil")
	}
	if len(t.Services) == 0 {
		return fmt.Errorf("topology has no services")
	}

	volumes := make(map[string]Volume, len(t.Volumes))
	for _, vol := range t.Volumes {
		if vol.Name == "" {
			return fmt.Errorf("volume with empty name")
		}
		if _, dup := volumes[vol.Name]; dup {
			return fmt.Errorf("duplicate volume %q", vol.Name)
		}
		switch vol.Kind {
		case VolumeBind:
			if vol.Source == "" {
				return fmt.Errorf("bind volume %q has no source directory", vol.Name)
			}
		case VolumeTmpfs:
		default:
			return fmt.Errorf("volume %q has unknown kind %q", vol.Name, vol.Kind)
		}
		volumes[vol.Name] = vol
	}
	for _, required := range []string{CredentialsVolume, GenesisVolume} {
		if _, ok := volumes[required]; !ok {
			return fmt.Errorf("required volume %q is not declared", required)
		}
	}

	seenServices := make(map[string]struct{}, len(t.Services))
	hostPorts := make(map[int]string)
	var nodeIDs []int
	bridgeCount := 0

	for _, svc := range t.Services {
		if svc.Name == "" {
			return fmt.Errorf("service with empty name")
		}
		if _, dup := seenServices[svc.Name]; dup {
			return fmt.Errorf("duplicate service %q", svc.Name)
		}
		seenServices[svc.Name] = struct{}{}

		if svc.Image == "" {
			return fmt.Errorf("service %q has no image tag", svc.Name)
		}
		if _, err := reference.ParseNormalizedNamed(svc.Image); err != nil {
			return fmt.Errorf("service %q image %q: %w", svc.Name, svc.Image, err)
		}
		if svc.Platform != "" {
			if _, err := platforms.Parse(svc.Platform); err != nil {
				return fmt.Errorf("service %q platform %q: %w", svc.Name, svc.Platform, err)
			}
		}

		for _, port := range svc.Ports {
			if port.HostPort <= 0 || port.HostPort > 65535 {
				return fmt.Errorf("service %q host port %d out of range", svc.Name, port.HostPort)
			}
			if port.ContainerPort <= 0 || port.ContainerPort > 65535 {
				return fmt.Errorf("service %q container port %d out of range", svc.Name, port.ContainerPort)
			}
			if owner, taken := hostPorts[port.HostPort]; taken {
				return fmt.Errorf("host port %d claimed by both %q and %q", port.HostPort, owner, svc.Name)
			}
			hostPorts[port.HostPort] = svc.Name
		}

		mounted := make(map[string]struct{}, len(svc.Volumes))
		for _, mount := range svc.Volumes {
			if _, ok := volumes[mount.Volume]; !ok {
				return fmt.Errorf("service %q mounts undeclared volume %q", svc.Name, mount.Volume)
			}
			if mount.Target == "" {
				return fmt.Errorf("service %q mounts %q without a target path", svc.Name, mount.Volume)
			}
			mounted[mount.Volume] = struct{}{}
		}
		for _, required := range []string{CredentialsVolume, GenesisVolume} {
			if _, ok := mounted[required]; !ok {
				return fmt.Errorf("service %q does not mount the shared %q volume", svc.Name, required)
			}
		}

		if raw, ok := svc.Env["NODE_ID"]; ok {
			id, err := strconv.Atoi(raw)
			if err != nil || id < 0 {
				return fmt.Errorf("service %q has invalid NODE_ID %q", svc.Name, raw)
			}
			nodeIDs = append(nodeIDs, id)
			bridgeCount++
		}
	}

	sort.Ints(nodeIDs)
	for i, id := range nodeIDs {
		if id != i {
			return fmt.Errorf("bridge NODE_IDs must form a contiguous zero-based sequence, got %v", nodeIDs)
		}
	}

	validator, ok := t.Validator()
	if !ok {
		return fmt.Errorf("topology has no validator service")
	}
	raw, ok := validator.Env["BRIDGE_COUNT"]
	if !ok {
		return fmt.Errorf("validator is missing BRIDGE_COUNT")
	}
	declared, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("validator BRIDGE_COUNT %q is not a number", raw)
	}
	if declared != bridgeCount {
		return fmt.Errorf("validator declares BRIDGE_COUNT=%d but topology has %d bridge service(s)", declared, bridgeCount)
	}

	return nil
}
