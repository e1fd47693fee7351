// Package build drives BuildKit solves for the devnet service images. It
// keeps the surface small: one Dockerfile build per service, cache imports
// and exports scoped per service, and results loaded into the local
// container runtime so the stack launcher never has to pull or rebuild.
package build

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/containerd/console"
	"github.com/docker/cli/cli/config/configfile"
)

// CacheSpec represents a cache import or export entry in a user-friendly
// form, e.g. {Type: "gha", Attrs: {"scope": "validator"}}.
type CacheSpec struct {
	Type  string
	Attrs map[string]string
}

// ImageBuildOptions configures a single Dockerfile-based build invocation.
type ImageBuildOptions struct {
	BuilderAddr          string
	AllowBuilderFallback bool
	ContextDir           string
	DockerfilePath       string
	Platforms            []string
	BuildArgs            map[string]string
	Target               string
	Tags                 []string
	Load                 bool
	CacheDir             string
	CacheExports         []CacheSpec
	CacheImports         []CacheSpec
	NoCache              bool
	Pull                 bool
	ProgressMode         string
	ProgressOutput       console.File
	DockerConfig         *configfile.ConfigFile
}

// Result describes the outcome of an image build.
type Result struct {
	Digest           string
	ExporterResponse map[string]string
	LoadedTags       []string
}

// Runner is the programmable contract for invoking builds; the pipeline and
// tests depend on this rather than on a concrete BuildKit client.
type Runner interface {
	BuildImage(ctx context.Context, opts ImageBuildOptions) (*Result, error)
}

type defaultRunner struct{}

// NewRunner returns the default BuildKit-backed runner.
func NewRunner() Runner {
	return defaultRunner{}
}

func (defaultRunner) BuildImage(ctx context.Context, opts ImageBuildOptions) (*Result, error) {
	return BuildImage(ctx, opts)
}

// DefaultBuilderAddress returns the best-effort rootless BuildKit socket.
func DefaultBuilderAddress() string {
	if v := os.Getenv("DEVNET_BUILDKIT_HOST"); v != "" {
		return v
	}
	if v := os.Getenv("BUILDKIT_HOST"); v != "" {
		return v
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/buildkitd"
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix://" + filepath.Join(dir, "buildkit", "buildkitd.sock")
	}
	if uid := os.Getenv("UID"); uid != "" {
		return fmt.Sprintf("unix:///run/user/%s/buildkit/buildkitd.sock", uid)
	}
	if u, err := user.Current(); err == nil && u.Uid != "" {
		return fmt.Sprintf("unix:///run/user/%s/buildkit/buildkitd.sock", u.Uid)
	}
	return "unix:///run/user/1000/buildkit/buildkitd.sock"
}

// DefaultCacheDir returns the local layer cache folder.
func DefaultCacheDir() string {
	if v := os.Getenv("DEVNET_BUILDKIT_CACHE"); v != "" {
		return v
	}
	if cacheDir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cacheDir, "lumina-devnet", "buildkit-cache")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".cache", "lumina-devnet", "buildkit-cache")
	}
	return filepath.Join(os.TempDir(), "lumina-devnet-buildkit-cache")
}

// NormalizePlatforms trims whitespace and removes duplicates while preserving
// order.
func NormalizePlatforms(platforms []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// ParseCacheSpec parses a CSV-style cache entry such as
// "type=gha,scope=validator,mode=max". A bare value is treated as a registry
// ref, matching the buildx shorthand.
func ParseCacheSpec(value string) (CacheSpec, error) {
	spec := CacheSpec{Attrs: map[string]string{}}
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			if spec.Type == "" {
				spec.Type = field
			} else {
				spec.Attrs[field] = ""
			}
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		if key == "type" {
			spec.Type = val
			continue
		}
		spec.Attrs[key] = val
	}
	if spec.Type == "" {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return CacheSpec{}, fmt.Errorf("invalid cache spec %q", value)
		}
		spec.Type = "registry"
		spec.Attrs["ref"] = trimmed
	}
	return spec, nil
}
