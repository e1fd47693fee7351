package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sebasti810/lumina/internal/config"
	"github.com/sebasti810/lumina/internal/engine"
)

func newDownCommand(opts *config.Options, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the devnet containers",
		Long: `down stops and removes every devnet container and the shared in-memory
genesis volume. The credentials volume is backed by a host directory and is
left untouched so tokens survive a restart.`,
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
			eng, err := engine.New()
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := eng.Teardown(cmd.Context(), topo, logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "devnet %s is down\n", topo.Project)
			return nil
		},
	}
	opts.BindStackFlags(cmd.Flags())
	return cmd
}
