package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"prism/internal/history"
	"prism/internal/imagestore"
	"prism/internal/providers"
	"prism/internal/studio"
)

func newImageCmd(withApp appWrapper) *cobra.Command {
	var (
		model string
		size  string
		refs  []string
	)
	cmd := &cobra.Command{
		Use:   "image <prompt>",
		Short: "Generate an image and print its URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			references := make([]string, 0, len(refs))
			for _, r := range refs {
				ref, err := imagestore.Reference(r)
				if err != nil {
					return err
				}
				references = append(references, ref)
			}
			rec, err := a.studio.GenerateImage(ctx, studio.GenerateInput{
				ModelID:    model,
				Prompt:     strings.Join(args, " "),
				Size:       size,
				References: references,
			})
			if err != nil {
				return err
			}
			printRecord(cmd, rec)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id (defaults to DEFAULT_IMAGE_MODEL)")
	cmd.Flags().StringVarP(&size, "size", "s", providers.DefaultSize, "image size, e.g. 1024x1024")
	cmd.Flags().StringArrayVarP(&refs, "ref", "r", nil, "reference image url or file (repeatable)")
	return cmd
}

func newEditCmd(withApp appWrapper) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "edit <image> <prompt>",
		Short: "Edit an image (url or local file) and print the result URL",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			ref, err := imagestore.Reference(args[0])
			if err != nil {
				return err
			}
			rec, err := a.studio.EditImage(ctx, studio.EditInput{
				ModelID: model,
				Prompt:  strings.Join(args[1:], " "),
				Image:   ref,
			})
			if err != nil {
				return err
			}
			printRecord(cmd, rec)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id (defaults to DEFAULT_EDIT_MODEL)")
	return cmd
}

func printRecord(cmd *cobra.Command, rec history.GenerationRecord) {
	fmt.Fprintln(cmd.OutOrStdout(), rec.ImageRef)
	if rec.SourceURL != "" && rec.SourceURL != rec.ImageRef {
		fmt.Fprintf(cmd.ErrOrStderr(), "provider url: %s\n", rec.SourceURL)
	}
}
