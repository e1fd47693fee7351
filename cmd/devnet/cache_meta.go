package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sebasti810/lumina/internal/cachemeta"
	"github.com/sebasti810/lumina/internal/config"
)

func newCacheMetaCommand(opts *config.Options) *cobra.Command {
	var stdout bool
	cmd := &cobra.Command{
		Use:   "cache-meta",
		Short: "Generate the per-service build cache document without building",
		Long: `cache-meta writes the cache configuration document: one target per service
with its cache-from, cache-to, and output entries. CI workflows archive this
file so later jobs resolve the same cache scopes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := opts.Topology()
			if err != nil {
				return err
			}
			doc, err := cachemeta.Generate(topo, cachemeta.Options{RefBase: opts.CacheRefBase})
			if err != nil {
				return err
			}
			if stdout {
				return cachemeta.Encode(doc, cmd.OutOrStdout())
			}
			if err := cachemeta.Write(doc, opts.CacheMeta); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d targets)\n", opts.CacheMeta, len(doc.Target))
			return nil
		},
	}
	opts.BindStackFlags(cmd.Flags())
	cmd.Flags().StringVar(&opts.CacheRefBase, "cache-ref-base", "", "Registry prefix for per-service cache refs; empty selects the CI layer cache")
	cmd.Flags().StringVar(&opts.CacheMeta, "output", opts.CacheMeta, "Path the document is written to")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "Print the document to stdout instead of writing a file")
	return cmd
}
