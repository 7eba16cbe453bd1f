// Package app wires configuration into the store, cache and job pipeline shared
// by the server and worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/reelqueue/internal/artifact"
	"github.com/kiranshivaraju/reelqueue/internal/cache"
	"github.com/kiranshivaraju/reelqueue/internal/config"
	"github.com/kiranshivaraju/reelqueue/internal/inference/providers"
	"github.com/kiranshivaraju/reelqueue/internal/jobs"
	"github.com/kiranshivaraju/reelqueue/internal/notify"
	"github.com/kiranshivaraju/reelqueue/internal/store"
)

// App holds the long-lived components built from a Config.
type App struct {
	Store     store.Store
	Cache     cache.Cache
	Artifacts artifact.Store

	Executor   *jobs.Executor
	Dispatcher *jobs.Dispatcher
	Recoverer  *jobs.Recoverer

	closers []func()
}

// New connects to the configured backends and builds the job pipeline. The
// caller must call Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}
	if err := a.openStore(ctx, cfg.Database, logger); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCache(ctx, cfg.Redis, logger); err != nil {
		a.Close()
		return nil, err
	}

	routes, err := providers.NewRegistry(cfg.Inference)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build inference routes: %w", err)
	}
	registry, err := jobs.NewRegistry(jobs.NewHandlers(jobs.HandlerDeps{
		Routes:       routes,
		Fetcher:      artifact.NewFetcher(cfg.Inference.Timeout, cfg.Handler.MaxArtifactBytes),
		Artifacts:    a.Artifacts,
		PollInterval: cfg.Handler.PollInterval,
		MaxPolls:     cfg.Handler.MaxPollAttempts,
	})...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register job handlers: %w", err)
	}
	if err := registry.Validate(); err != nil {
		a.Close()
		return nil, err
	}

	notifier := notify.NewFanout(notify.NewStoreSink(a.Store), notify.NewPubSubSink(a.Cache))
	a.Executor = jobs.NewExecutor(a.Store, registry, notifier, logger)
	a.Dispatcher = jobs.NewDispatcher(a.Store, a.Executor, cfg.Worker.BatchSize, logger)
	a.Recoverer = jobs.NewRecoverer(a.Store, cfg.Worker.StaleAfter, logger)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) error {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory store; data is lost on exit")
		a.Store = store.NewMemoryStore()
		a.Artifacts = artifact.NewMemoryStore()
		return nil
	}

	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	logger.Info("database connected")

	if err := store.RunMigrations(cfg.URL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	a.Store = store.NewPostgresStore(pool)
	a.Artifacts = artifact.NewPostgresStore(pool)
	return nil
}

func (a *App) openCache(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) error {
	if cfg.URL == "" {
		logger.Warn("REDIS_URL not set; rate limits and notification fan-out are process-local")
		a.Cache = cache.NewMemoryCache()
		return nil
	}

	rc, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	a.closers = append(a.closers, func() { rc.Close() })

	if err := rc.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")
	a.Cache = rc
	return nil
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
