package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"prism/internal/catalog"
	"prism/internal/config"
	"prism/internal/crypto"
	"prism/internal/history"
	"prism/internal/imagestore"
	"prism/internal/metrics"
	"prism/internal/providers/registry"
	"prism/internal/resolver"
	"prism/internal/storage"
	"prism/internal/studio"
)

// app holds everything a command needs, wired from config.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	redis    *redis.Client
	catalog  *catalog.Catalog
	resolver *resolver.Resolver
	studio   *studio.Studio
	metrics  *metrics.Metrics
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.Global()}

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	a.store = store

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = rdb
	}

	cm, err := crypto.NewManagerWithBuiltin(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize crypto manager: %w", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	cat, err = cat.WithEnvKeys(cm.EncryptString, os.LookupEnv)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = cat

	a.resolver = resolver.New(resolver.Config{
		Catalog: cat,
		Keys:    store,
		Crypto:  cm,
		Logger:  log.Logger.With().Str("component", "resolver").Logger(),
	})

	var backend history.Backend = store
	if cfg.History.Backend == config.HistoryBackendRedis {
		backend = history.NewRedisBackend(a.redis, cfg.Redis.KeyPrefix)
	}

	reg := registry.New(registry.Options{
		HTTPClient:      registry.NewHTTPClient(cfg.HTTP.HeaderTimeout),
		PollInterval:    cfg.Poll.Interval,
		PollTimeout:     cfg.Poll.Timeout,
		PollMaxAttempts: cfg.Poll.MaxAttempts,
		Logger:          log.Logger.With().Str("component", "providers").Logger(),
		Metrics:         a.metrics,
	})

	var publisher studio.ImagePublisher
	if cfg.Objects.Enabled() {
		objects, err := imagestore.NewMinioStore(ctx, cfg.Objects.Endpoint, cfg.Objects.AccessKey, cfg.Objects.SecretKey, cfg.Objects.Bucket, cfg.Objects.UseSSL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("initialize object store: %w", err)
		}
		publisher = imagestore.NewPublisher(imagestore.Config{
			Store:      objects,
			PresignTTL: cfg.Objects.PresignTTL,
			Logger:     log.Logger.With().Str("component", "imagestore").Logger(),
		})
	}

	a.studio = studio.New(studio.Config{
		Catalog:           cat,
		Endpoints:         a.resolver,
		Clients:           reg,
		History:           history.NewStore(backend, cfg.History.Limit, a.metrics),
		Publisher:         publisher,
		RequestTimeout:    cfg.HTTP.RequestTimeout,
		DefaultChatModel:  cfg.DefaultChatModel,
		DefaultImageModel: cfg.DefaultImageModel,
		DefaultEditModel:  cfg.DefaultEditModel,
		Logger:            log.Logger.With().Str("component", "studio").Logger(),
	})
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
