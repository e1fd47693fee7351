package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sebasti810/lumina/internal/config"
	"github.com/sebasti810/lumina/internal/engine"
)

func newStatusCommand(opts *config.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show the devnet containers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := engine.New()
			if err != nil {
				return err
			}
			defer eng.Close()
			statuses, err := eng.Status(cmd.Context())
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no devnet containers found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tCONTAINER\tIMAGE\tSTATE\tPORTS")
			for _, st := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					st.Service, st.Container, st.Image, colorizeState(st.State), strings.Join(st.Ports, ", "))
			}
			return w.Flush()
		},
	}
	opts.BindStackFlags(cmd.Flags())
	return cmd
}

func colorizeState(state string) string {
	switch state {
	case "running":
		return color.GreenString(state)
	case "exited", "dead":
		return color.RedString(state)
	case "restarting", "paused":
		return color.YellowString(state)
	default:
		return state
	}
}
