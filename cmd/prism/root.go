package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"prism/internal/config"
)

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "prism",
		Short: "Chat and image studio over OpenAI-compatible providers",
		Long: `prism talks to OpenAI-compatible chat and image APIs.

It keeps bounded chat, vision and image histories, stores provider API keys
encrypted, and can run as a CLI, a local HTTP API or a Telegram bot.

Examples:
  prism chat "explain goroutines"
  prism image -s 1024x1024 "a red fox in snow"
  prism edit ./photo.png "make it night"
  prism key set openai
  prism serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			setupLogger(cfg.Log.Level)
			return nil
		},
	}

	var withApp appWrapper = func(run runFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			log.Debug().Str("command", cmd.CommandPath()).Msg("running")
			return run(cmd.Context(), a, cmd, args)
		}
	}

	root.AddCommand(
		newChatCmd(withApp),
		newRegenCmd(withApp),
		newImageCmd(withApp),
		newEditCmd(withApp),
		newHistoryCmd(withApp),
		newKeyCmd(withApp),
		newModelsCmd(withApp),
		newServeCmd(withApp),
		newBotCmd(withApp),
	)
	return root
}

type runFunc = func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

type appWrapper = func(run runFunc) func(*cobra.Command, []string) error
