// Package config defines the flag plumbing shared by the devnet commands,
// translating Cobra/Viper flag values into the topology and stage options the
// pipeline consumes.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/pflag"

	"github.com/sebasti810/lumina/internal/devnet"
	"github.com/sebasti810/lumina/pkg/build"
	"github.com/sebasti810/lumina/pkg/compose"
)

// Options holds all CLI configuration used by the devnet stages.
type Options struct {
	ComposeFiles   []string
	ProjectName    string
	Bridges        int
	CredentialsDir string
	Platform       string
	ImagePrefix    string

	BuilderAddr  string
	CacheDir     string
	CacheRefBase string
	CacheMeta    string
	NoCache      bool
	Pull         bool
	Parallelism  int
	BuildArgs    []string

	TokenScript  string
	TokenTimeout time.Duration
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		Bridges:      devnet.DefaultBridgeCount,
		CacheDir:     build.DefaultCacheDir(),
		CacheMeta:    "ci/cache-config.json",
		Parallelism:  runtime.NumCPU(),
		TokenScript:  "ci/generate-tokens.sh",
		TokenTimeout: 5 * time.Minute,
	}
}

// BindStackFlags attaches the topology-shaping flags.
func (o *Options) BindStackFlags(fs *pflag.FlagSet) {
	fs.StringArrayVarP(&o.ComposeFiles, "file", "f", nil, "Compose file describing the devnet (repeatable); omit to use the built-in topology")
	fs.StringVar(&o.ProjectName, "project-name", "", "Override the devnet project name")
	fs.IntVar(&o.Bridges, "bridges", o.Bridges, "Number of bridge nodes in the built-in topology")
	fs.StringVar(&o.CredentialsDir, "credentials-dir", "", "Host directory bind-mounted as the credentials volume (default ./credentials)")
	fs.StringVar(&o.Platform, "platform", "", "Target platform for service images (e.g. linux/amd64)")
	fs.StringVar(&o.ImagePrefix, "image-prefix", "", "Image name prefix for built-in topology tags")
}

// BindBuildFlags attaches the image-build flags.
func (o *Options) BindBuildFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.BuilderAddr, "builder", "", "BuildKit address (override with DEVNET_BUILDKIT_HOST)")
	fs.StringVar(&o.CacheDir, "cache-dir", o.CacheDir, "Local layer cache directory")
	fs.StringVar(&o.CacheRefBase, "cache-ref-base", "", "Registry prefix for per-service cache refs; empty selects the CI layer cache")
	fs.StringVar(&o.CacheMeta, "cache-meta", o.CacheMeta, "Path the cache configuration document is written to")
	fs.BoolVar(&o.NoCache, "no-cache", false, "Disable build caching entirely")
	fs.BoolVar(&o.Pull, "pull", false, "Always pull base images")
	fs.IntVar(&o.Parallelism, "parallelism", o.Parallelism, "Maximum concurrent service builds")
	fs.StringArrayVar(&o.BuildArgs, "build-arg", nil, "Inject a build argument (KEY=VALUE, repeatable)")
}

// BindTokenFlags attaches the credential-initializer flags.
func (o *Options) BindTokenFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.TokenScript, "script", o.TokenScript, "Token generation command, shell-style quoting allowed")
	fs.DurationVar(&o.TokenTimeout, "timeout", o.TokenTimeout, "Timeout for the token generation script (0 disables)")
}

// Topology resolves the effective devnet topology: a compose file when given,
// otherwise the built-in one. The result is always validated.
func (o *Options) Topology() (*devnet.Topology, error) {
	var topo *devnet.Topology
	if len(o.ComposeFiles) > 0 {
		project, err := compose.LoadProject(o.ComposeFiles, o.ProjectName, nil)
		if err != nil {
			return nil, err
		}
		topo, err = compose.Topology(project)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		topo, err = devnet.DefaultTopology(devnet.Options{
			BridgeCount:    o.Bridges,
			CredentialsDir: o.CredentialsDir,
			Platform:       o.Platform,
			ImagePrefix:    o.ImagePrefix,
		})
		if err != nil {
			return nil, err
		}
		if o.ProjectName != "" {
			topo.Project = o.ProjectName
		}
	}
	if err := devnet.Validate(topo); err != nil {
		return nil, fmt.Errorf("invalid devnet topology: %w", err)
	}
	return topo, nil
}

// CredentialsPath returns the host directory behind the credentials volume
// for the resolved topology.
func CredentialsPath(topo *devnet.Topology) (string, error) {
	vol, ok := topo.VolumeByName(devnet.CredentialsVolume)
	if !ok {
		return "", fmt.Errorf("topology has no credentials volume")
	}
	return vol.Source, nil
}
