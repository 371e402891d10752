package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"prism/internal/history"
)

func newHistoryCmd(withApp appWrapper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and prune the chat, vision and images logs",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:       "list <chat|vision|images>",
		Short:     "List a log, newest first",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{history.LogChat, history.LogVision, history.LogImages},
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return listLog(ctx, a.studio.History(), args[0], cmd.OutOrStdout(), asJSON)
		}),
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")

	rm := &cobra.Command{
		Use:     "rm <log> <id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove one record",
		Args:    cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			store := a.studio.History()
			var err error
			if args[0] == history.LogImages {
				err = store.Images.Remove(ctx, args[1])
			} else {
				var log *history.Log[history.ConversationMessage]
				if log, err = store.Conversation(args[0]); err == nil {
					err = log.Remove(ctx, args[1])
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s.\n", args[1], args[0])
			return nil
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear <log>",
		Short: "Remove every record of a log",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			store := a.studio.History()
			var err error
			if args[0] == history.LogImages {
				err = store.Images.Clear(ctx)
			} else {
				var log *history.Log[history.ConversationMessage]
				if log, err = store.Conversation(args[0]); err == nil {
					err = log.Clear(ctx)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s.\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(list, rm, clearCmd)
	return cmd
}

func listLog(ctx context.Context, store *history.Store, name string, w io.Writer, asJSON bool) error {
	var (
		rows [][]string
		out  any
	)
	switch name {
	case history.LogImages:
		recs, err := store.Images.List(ctx)
		if err != nil {
			return err
		}
		out = recs
		for _, r := range recs {
			rows = append(rows, []string{r.ID, r.CreatedAt.Local().Format(time.DateTime), r.ModelID, oneLine(r.Prompt, 50), r.ImageRef})
		}
	default:
		log, err := store.Conversation(name)
		if err != nil {
			return err
		}
		msgs, err := log.List(ctx)
		if err != nil {
			return err
		}
		out = msgs
		for _, m := range msgs {
			text := oneLine(m.Text, 70)
			if m.Interrupted {
				text += " [interrupted]"
			}
			rows = append(rows, []string{m.ID, m.CreatedAt.Local().Format(time.DateTime), string(m.Role), m.ModelID, text})
		}
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if len(rows) == 0 {
		fmt.Fprintf(w, "No %s history.\n", name)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
