package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newKeyCmd(withApp appWrapper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage provider API keys",
		Long: `Manage provider API keys. Keys are sealed with the master key before they
are stored and override keys from the catalog or its api_key_env variables.

Examples:
  prism key set openai sk-...     # store a key
  echo sk-... | prism key set openai
  prism key status                # where each provider's key comes from
  prism key rm openai`,
	}

	set := &cobra.Command{
		Use:   "set <provider> [api_key]",
		Short: "Store an API key (read from stdin when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 2 {
				key = args[1]
			} else {
				sc := bufio.NewScanner(cmd.InOrStdin())
				if sc.Scan() {
					key = sc.Text()
				}
				if err := sc.Err(); err != nil {
					return fmt.Errorf("read api key: %w", err)
				}
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("api key is empty")
			}
			if err := a.resolver.SetKey(ctx, args[0], key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key for %s saved.\n", args[0])
			return nil
		}),
	}

	rm := &cobra.Command{
		Use:     "rm <provider>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a stored API key",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.resolver.DeleteKey(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key for %s deleted.\n", args[0])
			return nil
		}),
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show which providers have a usable key",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			statuses, err := a.resolver.Status(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tSOURCE\tUSABLE\tBASE URL")
			for _, s := range statuses {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.ProviderID, s.Source, s.Usable, s.BaseURL)
			}
			return tw.Flush()
		}),
	}

	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Re-seal stored keys with the current master key",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			n, err := a.resolver.Rotate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Re-sealed %d keys.\n", n)
			return nil
		}),
	}

	cmd.AddCommand(set, rm, status, rotate)
	return cmd
}
