package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sebasti810/lumina/internal/config"
	"github.com/sebasti810/lumina/internal/pipeline"
)

func newUpCommand(opts *config.Options, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Build images, launch the stack, and generate node tokens",
		Long: `up runs the full bootstrap: build the validator and bridge images with
per-service build caches, start every container detached, then run the token
generation script once. Stages run strictly in order and the first failure
aborts the rest.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd, opts, logLevel)
		},
	}
	opts.BindStackFlags(cmd.Flags())
	opts.BindBuildFlags(cmd.Flags())
	opts.BindTokenFlags(cmd.Flags())
	return cmd
}

func runUp(cmd *cobra.Command, opts *config.Options, logLevel *string) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	topo, err := opts.Topology()
	if err != nil {
		return err
	}

	p := pipeline.New(logger,
		pipeline.Stage{
			Name: pipeline.StageBuild,
			Done: pipeline.StateBuilt,
			Run: func(ctx context.Context) error {
				_, err := runBuildStage(ctx, cmd, opts, topo, logger)
				return err
			},
		},
		pipeline.Stage{
			Name: pipeline.StageLaunch,
			Done: pipeline.StateRunning,
			Run: func(ctx context.Context) error {
				return runLaunchStage(ctx, topo, logger)
			},
		},
		pipeline.Stage{
			Name: pipeline.StageTokens,
			Done: pipeline.StateInitialized,
			Run: func(ctx context.Context) error {
				return runTokensStage(ctx, topo, opts, logger)
			},
		},
	)
	if err := p.Run(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "devnet %s is up: %d services initialized\n", topo.Project, len(topo.Services))
	return nil
}
