package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"prism/internal/history"
	"prism/internal/imagestore"
	"prism/internal/providers"
	"prism/internal/studio"
)

func newChatCmd(withApp appWrapper) *cobra.Command {
	var (
		model    string
		images   []string
		noStream bool
	)
	cmd := &cobra.Command{
		Use:   "chat <text>",
		Short: "Send a message and print the answer",
		Long: `Send a message to a chat model. Earlier turns of the chat log are sent
along. With --image the message goes to the vision log instead; images can be
URLs or local files.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			refs := make([]string, 0, len(images))
			for _, img := range images {
				ref, err := imagestore.Reference(img)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}
			out := newDeltaPrinter(cmd.OutOrStdout())
			_, err := a.studio.SendChat(ctx, studio.SendInput{
				ModelID: model,
				Text:    strings.Join(args, " "),
				Images:  refs,
				Stream:  !noStream,
			}, out.Publish)
			return out.Finish(err)
		}),
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id (defaults to DEFAULT_CHAT_MODEL)")
	cmd.Flags().StringArrayVarP(&images, "image", "i", nil, "attach an image url or file (repeatable)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole answer instead of streaming")
	return cmd
}

func newRegenCmd(withApp appWrapper) *cobra.Command {
	var (
		model    string
		logName  string
		noStream bool
	)
	cmd := &cobra.Command{
		Use:   "regen",
		Short: "Answer the newest user message again",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			out := newDeltaPrinter(cmd.OutOrStdout())
			_, err := a.studio.Regenerate(ctx, logName, model, !noStream, out.Publish)
			return out.Finish(err)
		}),
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id (defaults to the model of the original turn)")
	cmd.Flags().StringVar(&logName, "log", history.LogChat, "conversation log: chat or vision")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole answer instead of streaming")
	return cmd
}

// deltaPrinter writes only the new suffix of each accumulated answer.
type deltaPrinter struct {
	w       io.Writer
	printed int
}

func newDeltaPrinter(w io.Writer) *deltaPrinter {
	return &deltaPrinter{w: w}
}

func (p *deltaPrinter) Publish(acc string) {
	if len(acc) <= p.printed {
		return
	}
	_, _ = io.WriteString(p.w, acc[p.printed:])
	p.printed = len(acc)
}

// Finish ends the output line. A partial answer kept after a dropped stream
// is reported as an error too.
func (p *deltaPrinter) Finish(err error) error {
	if p.printed > 0 {
		fmt.Fprintln(p.w)
	}
	var si *providers.StreamInterrupted
	if errors.As(err, &si) && p.printed == 0 && si.Partial != "" {
		fmt.Fprintln(p.w, si.Partial)
	}
	return err
}
