package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"prism/internal/catalog"
)

func newModelsCmd(withApp appWrapper) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List catalog models",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tKIND\tPROVIDER\tVISION")
			for _, m := range a.catalog.Models(catalog.Kind(kind)) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", m.ID, m.Capabilities.Kind, m.ProviderID, m.Capabilities.SupportsImages)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "filter by kind: chat, image-generate, image-edit")
	return cmd
}
