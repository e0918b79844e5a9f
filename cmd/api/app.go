package main

import (
	"context"
	"fmt"

	"github.com/iago/manga-studio-back/internal/assets"
	"github.com/iago/manga-studio-back/internal/config"
	"github.com/iago/manga-studio-back/internal/credits"
	"github.com/iago/manga-studio-back/internal/pipeline"
	"github.com/iago/manga-studio-back/internal/planner"
	"github.com/iago/manga-studio-back/internal/prediction"
	"github.com/iago/manga-studio-back/internal/queue"
	"github.com/iago/manga-studio-back/internal/repository"
	"github.com/iago/manga-studio-back/internal/storage"
	"github.com/iago/manga-studio-back/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// app holds the components shared by every command.
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	pool         *pgxpool.Pool
	projects     repository.ProjectsRepository
	ledger       credits.Ledger
	fileStore    *storage.FileStore
	assetStore   *storage.AssetStore
	reconciler   *worker.Reconciler
	orchestrator *pipeline.Orchestrator

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	a.setupRepository(ctx)

	objects, err := a.setupStorage()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.assetStore = storage.NewAssetStore(objects, storage.AssetStoreConfig{
		FetchTimeout: cfg.AssetFetchTimeout,
		Logger:       logger.With().Str("component", "storage").Logger(),
	})

	client := prediction.NewClient(prediction.Config{
		Token:           cfg.ReplicateAPIToken,
		BaseURL:         cfg.ReplicateBaseURL,
		RequestTimeout:  cfg.ReplicateRequestTimeout,
		PollInterval:    cfg.ReplicatePollInterval,
		MaxPollAttempts: cfg.ReplicateMaxPollAttempts,
		SubmitLimiter:   rate.NewLimiter(rate.Limit(cfg.ReplicateSubmitRPS), cfg.ReplicateSubmitBurst),
		Logger:          logger.With().Str("component", "prediction").Logger(),
	})
	if cfg.ReplicateAPIToken == "" {
		logger.Warn().Msg("REPLICATE_API_TOKEN not configured, generation requests will fail")
	}

	plans := planner.NewGenerator(client, planner.Config{
		Model:    cfg.PlanModel,
		CacheTTL: cfg.PlanCacheTTL,
		Logger:   logger.With().Str("component", "planner").Logger(),
	})
	images := assets.NewGenerator(client, a.ledger, assets.Config{
		Model:  cfg.ImageModel,
		Logger: logger.With().Str("component", "assets").Logger(),
	})

	a.reconciler = worker.NewReconciler(a.projects, worker.ReconcilerConfig{
		Logger: logger.With().Str("component", "reconciler").Logger(),
	})
	a.orchestrator = pipeline.NewOrchestrator(pipeline.Dependencies{
		Projects: a.projects,
		Planner:  plans,
		Assets:   images,
		Store:    a.assetStore,
	}, pipeline.Config{
		MaxPages:   cfg.MaxPages,
		Reconciler: a.reconciler,
		Logger:     logger.With().Str("component", "pipeline").Logger(),
	})
	return a, nil
}

func (a *app) setupRepository(ctx context.Context) {
	if a.cfg.DatabaseURL == "" {
		a.logger.Warn().Msg("DATABASE_URL not configured, using in-memory repository and credits")
		a.useMemory()
		return
	}

	pool, err := repository.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to initialize postgres, fallback to memory")
		a.useMemory()
		return
	}
	a.pool = pool
	a.projects = repository.NewPostgresProjectsRepository(pool)
	a.ledger = credits.NewPostgresLedger(pool)
	a.closers = append(a.closers, pool.Close)
	a.logger.Info().Msg("postgres repository initialized")
}

func (a *app) useMemory() {
	a.projects = repository.NewMemoryProjectsRepository()
	a.ledger = credits.NewMemoryLedger(a.cfg.DefaultCredits)
}

func (a *app) setupStorage() (storage.ObjectStore, error) {
	switch a.cfg.StorageDriver {
	case "supabase":
		store, err := storage.NewSupabaseStore(storage.SupabaseConfig{
			URL:        a.cfg.SupabaseURL,
			ServiceKey: a.cfg.SupabaseServiceKey,
			Bucket:     a.cfg.SupabaseBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("configure supabase storage: %w", err)
		}
		a.logger.Info().Str("bucket", a.cfg.SupabaseBucket).Msg("supabase storage initialized")
		return store, nil
	case "filesystem", "":
		store, err := storage.NewFileStore(a.cfg.StorageDir, a.cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("configure filesystem storage: %w", err)
		}
		a.fileStore = store
		a.logger.Info().Str("dir", store.BasePath()).Msg("filesystem storage initialized")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.StorageDriver)
	}
}

type queueBackend struct {
	producer queue.Producer
	consumer queue.Consumer
	ping     func(context.Context) error
}

// setupQueue prefers Redis Streams and falls back to the in-process queue.
func (a *app) setupQueue(ctx context.Context) queueBackend {
	local := func() queueBackend {
		q := queue.NewLocalQueue(queue.LocalConfig{
			BufferSize:  a.cfg.QueueBuffer,
			MaxAttempts: a.cfg.QueueAttempts,
			Logger:      a.logger.With().Str("component", "queue").Logger(),
		})
		return queueBackend{producer: q, consumer: q}
	}

	if a.cfg.RedisAddr == "" {
		a.logger.Warn().Msg("REDIS_ADDR not configured, using local queue fallback")
		return local()
	}
	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        a.cfg.RedisAddr,
		Password:    a.cfg.RedisPassword,
		DB:          a.cfg.RedisDB,
		Stream:      a.cfg.RedisStream,
		DLQStream:   a.cfg.RedisDLQ,
		Group:       a.cfg.RedisGroup,
		Consumer:    a.cfg.RedisConsumer,
		MaxAttempts: a.cfg.QueueAttempts,
		Logger:      a.logger.With().Str("component", "queue").Logger(),
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to initialize redis streams queue, fallback to local")
		return local()
	}
	a.logger.Info().Str("stream", a.cfg.RedisStream).Msg("redis streams queue initialized")
	a.closers = append(a.closers, func() { _ = streams.Close() })
	return queueBackend{producer: streams, consumer: streams, ping: streams.Ping}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
