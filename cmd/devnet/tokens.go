package main

import (
	"github.com/spf13/cobra"

	"github.com/sebasti810/lumina/internal/config"
)

func newTokensCommand(opts *config.Options, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Run the node token generation script against the running stack",
		Long: `tokens runs only the credential-initialization stage. The stack must already
be running; the script is executed once and its exit code decides success.`,
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
			return runTokensStage(cmd.Context(), topo, opts, logger)
		},
	}
	opts.BindStackFlags(cmd.Flags())
	opts.BindTokenFlags(cmd.Flags())
	return cmd
}
