package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/iago/manga-studio-back/internal/http"
	"github.com/iago/manga-studio-back/internal/http/handlers"
	"github.com/iago/manga-studio-back/internal/http/middleware"
	"github.com/iago/manga-studio-back/internal/pipeline"
	"github.com/iago/manga-studio-back/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the generation worker",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger := loadConfig()
	if servePort != "" {
		cfg.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	backend := a.setupQueue(ctx)
	hub := pipeline.NewHub(cfg.HubBufferSize, logger.With().Str("component", "hub").Logger())

	checks := map[string]handlers.HealthCheck{}
	if a.pool != nil {
		checks["database"] = a.pool.Ping
	}
	if backend.ping != nil {
		checks["queue"] = backend.ping
	}

	api := handlers.NewAPI(handlers.Dependencies{
		Pipeline:       a.orchestrator,
		Queue:          backend.producer,
		Projects:       a.projects,
		Events:         hub,
		Assets:         a.assetStore,
		Credits:        a.ledger,
		HealthChecks:   checks,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger.With().Str("component", "api").Logger(),
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	assetsDir := ""
	if a.fileStore != nil {
		assetsDir = a.fileStore.BasePath()
	}
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:         api,
		Logger:      logger.With().Str("component", "http").Logger(),
		RateLimiter: limiter,
		Auth: middleware.AuthConfig{
			JWTSecret:   cfg.JWTSecret,
			StaticToken: cfg.AuthToken,
			Logger:      logger,
		},
		CORSOrigins: cfg.CORSOrigins,
		AssetsDir:   assetsDir,
	})
	if cfg.JWTSecret == "" && cfg.AuthToken == "" {
		logger.Warn().Msg("no JWT_SECRET or API_AUTH_TOKEN configured, API is open")
	}

	// event streams stay open for the whole run, so there is no write timeout
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		limiter.Sweep(groupCtx, time.Minute)
		return nil
	})
	group.Go(func() error {
		if err := a.reconciler.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(backend.consumer, a.projects, a.orchestrator, hub, worker.ProcessorConfig{
			Logger: logger.With().Str("component", "worker").Logger(),
		})
		group.Go(func() error {
			processor.Run(groupCtx, backend.producer)
			return nil
		})
		logger.Info().Msg("worker enabled and started")
	} else {
		logger.Info().Msg("worker disabled by configuration")
	}

	group.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return group.Wait()
}
