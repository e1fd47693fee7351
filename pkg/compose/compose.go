// Package compose loads the devnet's docker-compose file and maps it onto
// the topology records the pipeline stages consume. The same compose file
// that CI hands to the container tooling drives the CLI, so there is a single
// source of truth for service wiring.
package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"

	"github.com/sebasti810/lumina/internal/devnet"
)

// LoadProject loads and interpolates a compose project from the given files.
func LoadProject(files []string, projectName string, profiles []string) (*composetypes.Project, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no compose files specified")
	}

	env := make(composetypes.Mapping)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[key] = value
	}

	configFiles := make([]composetypes.ConfigFile, 0, len(files))
	for _, path := range files {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("abs %s: %w", path, err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read compose file %s: %w", abs, err)
		}
		configFiles = append(configFiles, composetypes.ConfigFile{Filename: abs, Content: data})
	}

	details := composetypes.ConfigDetails{
		WorkingDir:  filepath.Dir(configFiles[0].Filename),
		ConfigFiles: configFiles,
		Environment: env,
	}

	project, err := loader.Load(details, func(o *loader.Options) {
		if projectName != "" {
			o.SetProjectName(projectName, true)
		}
		if len(profiles) > 0 {
			o.Profiles = append(o.Profiles, profiles...)
		}
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// Topology converts a compose project into a devnet topology. Service build
// contexts are resolved relative to the project working directory; bind
// volume sources relative to it as well. The result still goes through
// devnet.Validate, so a compose file that breaks the devnet invariants is
// rejected with the same diagnostics as a hand-assembled topology.
func Topology(project *composetypes.Project) (*devnet.Topology, error) {
	if project == nil {
		return nil, fmt.Errorf("nil compose project")
	}

	topo := &devnet.Topology{Project: project.Name}

	volNames := make([]string, 0, len(project.Volumes))
	for name := range project.Volumes {
		volNames = append(volNames, name)
	}
	sort.Strings(volNames)
	for _, name := range volNames {
		vol, err := convertVolume(project, name, project.Volumes[name])
		if err != nil {
			return nil, err
		}
		topo.Volumes = append(topo.Volumes, vol)
	}

	for _, name := range project.ServiceNames() {
		cfg, err := project.GetService(name)
		if err != nil {
			return nil, err
		}
		svc, err := convertService(project, name, cfg)
		if err != nil {
			return nil, err
		}
		topo.Services = append(topo.Services, svc)
	}

	return topo, nil
}

func convertVolume(project *composetypes.Project, name string, cfg composetypes.VolumeConfig) (devnet.Volume, error) {
	opts := map[string]string{}
	for k, v := range cfg.DriverOpts {
		opts[strings.ToLower(k)] = v
	}

	if opts["type"] == "tmpfs" || cfg.Driver == "tmpfs" {
		return devnet.Volume{Name: name, Kind: devnet.VolumeTmpfs, Options: opts}, nil
	}

	if strings.Contains(opts["o"], "bind") {
		source := opts["device"]
		if source == "" {
			return devnet.Volume{}, fmt.Errorf("bind volume %q has no device option", name)
		}
		if !filepath.IsAbs(source) {
			source = filepath.Join(project.WorkingDir, source)
		}
		return devnet.Volume{Name: name, Kind: devnet.VolumeBind, Source: source, Options: opts}, nil
	}

	return devnet.Volume{}, fmt.Errorf("volume %q: only bind and tmpfs backed volumes are supported", name)
}

func convertService(project *composetypes.Project, name string, cfg composetypes.ServiceConfig) (devnet.Service, error) {
	svc := devnet.Service{
		Name:     name,
		Image:    cfg.Image,
		Platform: cfg.Platform,
		Env:      map[string]string{},
	}

	if cfg.Build != nil {
		contextDir := cfg.Build.Context
		if contextDir == "" {
			contextDir = project.WorkingDir
		}
		if !filepath.IsAbs(contextDir) {
			contextDir = filepath.Join(project.WorkingDir, contextDir)
		}
		svc.Build = devnet.BuildSpec{
			ContextDir: contextDir,
			Dockerfile: cfg.Build.Dockerfile,
			Target:     cfg.Build.Target,
			Args:       resolveBuildArgs(cfg.Build.Args),
		}
	}

	for key, value := range cfg.Environment {
		if value == nil {
			if envVal, ok := os.LookupEnv(key); ok {
				svc.Env[key] = envVal
			}
			continue
		}
		svc.Env[key] = *value
	}

	for _, port := range cfg.Ports {
		if port.Published == "" {
			continue
		}
		host, err := strconv.Atoi(port.Published)
		if err != nil {
			return devnet.Service{}, fmt.Errorf("service %q port %q: host port ranges are not supported", name, port.Published)
		}
		svc.Ports = append(svc.Ports, devnet.PortBinding{
			HostPort:      host,
			ContainerPort: int(port.Target),
			Protocol:      port.Protocol,
		})
	}

	for _, vol := range cfg.Volumes {
		if vol.Type != composetypes.VolumeTypeVolume {
			return devnet.Service{}, fmt.Errorf("service %q mount %q: only named volume mounts are supported", name, vol.Target)
		}
		svc.Volumes = append(svc.Volumes, devnet.VolumeMount{Volume: vol.Source, Target: vol.Target})
	}

	return svc, nil
}

func resolveBuildArgs(args composetypes.MappingWithEquals) map[string]string {
	resolved := make(map[string]string, len(args))
	for k, v := range args {
		if v != nil {
			resolved[k] = *v
			continue
		}
		if envVal, ok := os.LookupEnv(k); ok {
			resolved[k] = envVal
		}
	}
	return resolved
}
