// Package main is the entry point for the ptmscout API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ptmscout/internal/api"
	"github.com/dharsanguruparan/ptmscout/internal/config"
	"github.com/dharsanguruparan/ptmscout/internal/database"
	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/logger"
	"github.com/dharsanguruparan/ptmscout/internal/ptm"
	"github.com/dharsanguruparan/ptmscout/internal/queue"
	"github.com/dharsanguruparan/ptmscout/internal/repository"
	"github.com/dharsanguruparan/ptmscout/internal/s3storage"
	"github.com/dharsanguruparan/ptmscout/internal/session"
	"github.com/dharsanguruparan/ptmscout/internal/signing"
)

func main() {
	// Step 1: configuration comes from defaults, an optional YAML file and
	// the environment.
	cfg, err := config.Load()
	if err != nil {
		l := logger.Get()
		l.Fatal().Err(err).Msg("load config")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.With("api")

	// Step 2: a context that cancels when SIGINT/SIGTERM arrive.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 3: construct dependencies.
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	repo := repository.New(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure buckets")
	}

	records, err := repo.ListPTMs(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load ptms")
	}
	registry, err := ptm.NewRegistry(records)
	if err != nil {
		log.Fatal().Err(err).Msg("build ptm tree")
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()
	queueClient := queue.NewClient(asynqClient, logger.With("queue"))

	tracker := jobs.NewTracker(repo)
	wizard := session.NewWizard(repo, store, registry, tracker, queueClient, session.Options{
		AllowedExtensions: cfg.AllowedExtensions,
		BaseURL:           cfg.BaseURL,
	}, logger.With("wizard"))

	srv := api.New(cfg, api.Deps{
		Wizard:  wizard,
		Jobs:    tracker,
		Store:   repo,
		Queue:   queueClient,
		Results: store,
		Signer:  signing.NewSigner([]byte(cfg.SigningSecret)),
	}, log)

	// Step 4: block until the HTTP server exits.
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
