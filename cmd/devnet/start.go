package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sebasti810/lumina/internal/config"
)

func newStartCommand(opts *config.Options, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the devnet containers from already-built images",
		Long: `start runs only the launch stage. Every service image must already exist in
the local runtime (see 'devnet build'); a single missing image aborts before
any container is created.`,
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
			if err := runLaunchStage(cmd.Context(), topo, logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "devnet %s is running: %d containers\n", topo.Project, len(topo.Services))
			return nil
		},
	}
	opts.BindStackFlags(cmd.Flags())
	return cmd
}
