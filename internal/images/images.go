// Package images orchestrates the per-service image builds for a devnet
// topology. Builds are independent (separate recipes, separate cache scopes)
// and may run in parallel; the first failure cancels the rest so the launch
// stage never sees a partially built set.
package images

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/containerd/console"
	"github.com/docker/cli/cli/config/configfile"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sebasti810/lumina/internal/cachemeta"
	"github.com/sebasti810/lumina/internal/devnet"
	"github.com/sebasti810/lumina/pkg/build"
)

// BuildOptions configure a full devnet build.
type BuildOptions struct {
	BuilderAddr          string
	AllowBuilderFallback bool
	CacheDir             string
	NoCache              bool
	Pull                 bool
	Parallelism          int
	BuildArgs            map[string]string
	ProgressMode         string
	ProgressOutput       console.File
	DockerConfig         *configfile.ConfigFile
	Logger               *zap.Logger
}

// ServiceResult captures the outcome of one service build.
type ServiceResult struct {
	Service string
	Image   string
	Digest  string
}

// BuildAll builds every topology service with the cache wiring from the
// document. Unreachable registry cache backends are dropped up front so a
// transient cache failure degrades to a full rebuild instead of failing the
// run.
func BuildAll(ctx context.Context, runner build.Runner, topo *devnet.Topology, doc *cachemeta.Document, opts BuildOptions) ([]ServiceResult, error) {
	if runner == nil {
		runner = build.NewRunner()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = len(topo.Services)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	var mu sync.Mutex
	results := make([]ServiceResult, 0, len(topo.Services))

	for _, svc := range topo.Services {
		svc := svc
		g.Go(func() error {
			imports, exports, err := cacheSpecsFor(doc, svc.Name)
			if err != nil {
				return err
			}
			imports, exports, reasons := build.DegradeCacheSpecs(gctx, imports, exports)
			for _, reason := range reasons {
				logger.Warn("cache backend degraded", zap.String("service", svc.Name), zap.String("reason", reason))
			}

			buildOpts := build.ImageBuildOptions{
				BuilderAddr:          opts.BuilderAddr,
				AllowBuilderFallback: opts.AllowBuilderFallback,
				ContextDir:           svc.Build.ContextDir,
				DockerfilePath:       svc.Build.Dockerfile,
				Target:               svc.Build.Target,
				BuildArgs:            mergeArgs(opts.BuildArgs, svc.Build.Args),
				Tags:                 []string{svc.Image},
				Load:                 true,
				CacheDir:             opts.CacheDir,
				CacheImports:         imports,
				CacheExports:         exports,
				NoCache:              opts.NoCache,
				Pull:                 opts.Pull,
				ProgressMode:         opts.ProgressMode,
				ProgressOutput:       opts.ProgressOutput,
				DockerConfig:         opts.DockerConfig,
			}
			if svc.Platform != "" {
				buildOpts.Platforms = []string{svc.Platform}
			}

			res, err := runner.BuildImage(gctx, buildOpts)
			if err != nil {
				return fmt.Errorf("build service %s: %w", svc.Name, err)
			}

			mu.Lock()
			results = append(results, ServiceResult{Service: svc.Name, Image: svc.Image, Digest: res.Digest})
			mu.Unlock()
			logger.Info("image built", zap.String("service", svc.Name), zap.String("image", svc.Image), zap.String("digest", res.Digest))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Service < results[j].Service })
	return results, nil
}

// cacheSpecsFor resolves the document target for a service into parsed cache
// specs. Every service must have exactly one target; the document generator
// guarantees that, and loaded documents are checked here.
func cacheSpecsFor(doc *cachemeta.Document, service string) (imports, exports []build.CacheSpec, err error) {
	if doc == nil {
		return nil, nil, nil
	}
	target, ok := doc.Target[service]
	if !ok {
		return nil, nil, fmt.Errorf("cache document has no target for service %s", service)
	}
	for _, raw := range target.CacheFrom {
		spec, err := build.ParseCacheSpec(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("service %s cache-from: %w", service, err)
		}
		imports = append(imports, spec)
	}
	for _, raw := range target.CacheTo {
		spec, err := build.ParseCacheSpec(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("service %s cache-to: %w", service, err)
		}
		exports = append(exports, spec)
	}
	return imports, exports, nil
}

func mergeArgs(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
