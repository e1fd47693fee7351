package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sebasti810/lumina/internal/cachemeta"
	"github.com/sebasti810/lumina/internal/config"
	"github.com/sebasti810/lumina/internal/devnet"
	"github.com/sebasti810/lumina/internal/dockerconfig"
	"github.com/sebasti810/lumina/internal/engine"
	"github.com/sebasti810/lumina/internal/images"
	"github.com/sebasti810/lumina/internal/tokens"
)

// runBuildStage generates the cache document and builds every service image.
// The document is written before the first solve starts so CI can archive it
// even when a build fails.
func runBuildStage(ctx context.Context, cmd *cobra.Command, opts *config.Options, topo *devnet.Topology, logger *zap.Logger) ([]images.ServiceResult, error) {
	doc, err := cachemeta.Generate(topo, cachemeta.Options{RefBase: opts.CacheRefBase})
	if err != nil {
		return nil, err
	}
	if opts.CacheMeta != "" {
		if err := cachemeta.Write(doc, opts.CacheMeta); err != nil {
			return nil, err
		}
		logger.Info("cache document written", zap.String("path", opts.CacheMeta), zap.Strings("targets", doc.ServiceNames()))
	}

	buildArgs, err := parseKeyValueArgs("--build-arg", opts.BuildArgs)
	if err != nil {
		return nil, err
	}
	dockerCfg, err := dockerconfig.LoadConfigFile("", cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("load docker config: %w", err)
	}

	builderAddr := opts.BuilderAddr
	allowFallback := builderAddr == ""
	return images.BuildAll(ctx, nil, topo, doc, images.BuildOptions{
		BuilderAddr:          builderAddr,
		AllowBuilderFallback: allowFallback,
		CacheDir:             opts.CacheDir,
		NoCache:              opts.NoCache,
		Pull:                 opts.Pull,
		Parallelism:          opts.Parallelism,
		BuildArgs:            buildArgs,
		ProgressMode:         progressMode(cmd),
		ProgressOutput:       resolveConsoleFile(cmd.ErrOrStderr()),
		DockerConfig:         dockerCfg,
		Logger:               logger,
	})
}

// runLaunchStage starts every topology container detached. It refuses to run
// when any service image is missing from the local runtime.
func runLaunchStage(ctx context.Context, topo *devnet.Topology, logger *zap.Logger) error {
	eng, err := engine.New()
	if err != nil {
		return err
	}
	defer eng.Close()
	return eng.Launch(ctx, topo, logger)
}

// runTokensStage invokes the external token generation script exactly once,
// with the stack layout exported through the environment.
func runTokensStage(ctx context.Context, topo *devnet.Topology, opts *config.Options, logger *zap.Logger) error {
	credentials, err := config.CredentialsPath(topo)
	if err != nil {
		return err
	}
	logger.Info("generating node tokens", zap.String("command", opts.TokenScript), zap.String("credentials", credentials))
	return tokens.Generate(ctx, tokens.Options{
		Command: opts.TokenScript,
		Timeout: opts.TokenTimeout,
		Env: map[string]string{
			"BRIDGE_COUNT":    strconv.Itoa(len(topo.Bridges())),
			"CREDENTIALS_DIR": credentials,
			"DEVNET_PROJECT":  topo.Project,
		},
	})
}
