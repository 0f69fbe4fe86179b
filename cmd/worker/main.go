package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/ptmscout/internal/config"
	"github.com/dharsanguruparan/ptmscout/internal/database"
	"github.com/dharsanguruparan/ptmscout/internal/export"
	"github.com/dharsanguruparan/ptmscout/internal/jobs"
	"github.com/dharsanguruparan/ptmscout/internal/logger"
	"github.com/dharsanguruparan/ptmscout/internal/notify"
	"github.com/dharsanguruparan/ptmscout/internal/pfam"
	"github.com/dharsanguruparan/ptmscout/internal/pipeline"
	"github.com/dharsanguruparan/ptmscout/internal/processing"
	"github.com/dharsanguruparan/ptmscout/internal/protein"
	"github.com/dharsanguruparan/ptmscout/internal/ptm"
	"github.com/dharsanguruparan/ptmscout/internal/queue"
	"github.com/dharsanguruparan/ptmscout/internal/repository"
	"github.com/dharsanguruparan/ptmscout/internal/s3storage"
	"github.com/dharsanguruparan/ptmscout/internal/signing"
	"github.com/dharsanguruparan/ptmscout/internal/sweeper"
	"github.com/dharsanguruparan/ptmscout/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		l := logger.Get()
		l.Fatal().Err(err).Msg("load config")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.With("worker")

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

	families, err := pfam.OpenFamilies(cfg.PFamCachePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open pfam families")
	}
	defer families.Close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	queueClient := queue.NewClient(asynqClient, logger.With("queue"))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	mailer, err := notify.NewMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPassword, logger.With("mail"))
	if err != nil {
		log.Fatal().Err(err).Msg("configure mailer")
	}
	notifier := notify.NewNotifier(mailer, cfg.AdminEmail, cfg.IssueTrackerURL, logger.With("notify"))

	cacheLog := logger.With("record-cache")
	sources := pipeline.Sources{
		UniProt: protein.NewCachedFetcher(protein.NewUniProtClient(cfg.UniProtURL), rdb, cfg.RecordCacheTTL, cacheLog),
		NCBI:    protein.NewCachedFetcher(protein.NewNCBIClient(cfg.NCBIURL, cfg.NCBIEmail), rdb, cfg.RecordCacheTTL, cacheLog),
		Domains: pfam.NewService(cfg.PFamURL, families),
	}

	tracker := jobs.NewTracker(repo)
	fetchPool := processing.New(cfg.FetchConcurrency, logger.With("fetch"))
	importer := pipeline.New(repo, store, registry, tracker, queueClient, notifier, sources, fetchPool, logger.With("pipeline"))
	exporter := export.New(repo, store, tracker, signing.NewSigner([]byte(cfg.SigningSecret)), notifier, export.Options{
		DownloadURL: cfg.BaseURL + "/downloads",
		TTL:         cfg.SignedURLTTL,
	}, logger.With("export"))

	sweep := sweeper.New(tracker, notifier, cfg.StaleAfter, logger.With("sweeper"))
	if err := sweep.Start(cfg.SweepSchedule); err != nil {
		log.Fatal().Err(err).Msg("start sweeper")
	}
	defer sweep.Stop()

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.ProcessingPool,
	})
	processor := worker.NewProcessor(importer, exporter, log)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}

