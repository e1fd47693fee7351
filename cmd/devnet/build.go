package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sebasti810/lumina/internal/config"
)

func newBuildCommand(opts *config.Options, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the devnet service images",
		Long: `build runs only the first stage: generate the cache document and build the
validator and bridge images, loading each into the local container runtime.
Nothing is launched.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			topo, err := opts.Topology()
			if err != nil {
				return err
			}
			results, err := runBuildStage(cmd.Context(), cmd, opts, topo, logger)
			if err != nil {
				return err
			}
			for _, res := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", res.Service, res.Image, res.Digest)
			}
			return nil
		},
	}
	opts.BindStackFlags(cmd.Flags())
	opts.BindBuildFlags(cmd.Flags())
	return cmd
}
