package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"prism/internal/server"
	"prism/internal/telegram"
)

var errNoBotToken = errors.New("BOT_TOKEN is required to run the telegram bot")

func newServeCmd(withApp appWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API, plus the Telegram bot when BOT_TOKEN is set",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			g, gctx := errgroup.WithContext(ctx)
			srv := server.New(server.Config{
				Addr:        a.cfg.Server.ListenAddr,
				HealthPath:  a.cfg.Server.HealthPath,
				MetricsPath: a.cfg.Server.MetricsPath,
				Studio:      a.studio,
				Logger:      log.Logger.With().Str("component", "server").Logger(),
			})
			g.Go(func() error { return srv.Run(gctx) })
			if a.cfg.Bot.Token != "" {
				g.Go(func() error { return runBot(gctx, a) })
			} else {
				log.Info().Msg("BOT_TOKEN not set, telegram bot disabled")
			}
			err := g.Wait()
			log.Info().Msg("stopped")
			return err
		}),
	}
}

func newBotCmd(withApp appWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run only the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if a.cfg.Bot.Token == "" {
				return errNoBotToken
			}
			return runBot(ctx, a)
		}),
	}
}

// runBot long-polls Telegram until ctx is cancelled.
func runBot(ctx context.Context, a *app) error {
	token := a.cfg.Bot.Token
	bot, err := gotgbot.NewBot(token, nil)
	if err != nil {
		return fmt.Errorf("create telegram bot: %s", sanitizeTelegramErr(err, token))
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, token))
	}
	logger := log.Logger.With().Str("component", "telegram").Logger()

	var dedupe *telegram.UpdateDeduplicator
	if a.redis != nil {
		dedupe = telegram.NewUpdateDeduplicator(a.redis, a.cfg.Redis.KeyPrefix, a.cfg.Redis.DedupeTTL)
	}
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      100,
		UnhandledErrFunc: logTelegramErr,
		Processor: telegram.Processor{
			Dedupe:        dedupe,
			Metrics:       a.metrics,
			Logger:        logger,
			AllowedUserID: a.cfg.Bot.AllowedUserID,
		},
	})
	service := telegram.NewService(telegram.Config{
		Studio:       a.studio,
		Keys:         a.resolver,
		Redis:        a.redis,
		KeyPrefix:    a.cfg.Redis.KeyPrefix,
		Logger:       logger,
		Metrics:      a.metrics,
		EditInterval: a.cfg.Bot.EditInterval,
	})
	service.Register(dispatcher)

	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})
	if err := updater.StartPolling(bot, &ext.PollingOpts{
		EnableWebhookDeletion: true,
		DropPendingUpdates:    true,
		GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
			Timeout: 50,
			RequestOpts: &gotgbot.RequestOpts{
				Timeout: 60 * time.Second,
			},
		},
	}); err != nil {
		return fmt.Errorf("start polling: %s", sanitizeTelegramErr(err, token))
	}
	log.Info().Msg("polling mode started")

	<-ctx.Done()
	if err := updater.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop updater")
	}
	return nil
}
