// Package main is the entrypoint for the ReelQueue API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/api"
	"github.com/kiranshivaraju/reelqueue/internal/api/handler"
	mw "github.com/kiranshivaraju/reelqueue/internal/api/middleware"
	"github.com/kiranshivaraju/reelqueue/internal/app"
	"github.com/kiranshivaraju/reelqueue/internal/config"
	"github.com/kiranshivaraju/reelqueue/internal/jobs"
	"github.com/kiranshivaraju/reelqueue/internal/store"
)

const shutdownTimeout = 30 * time.Second

// adminOwnerID owns the bootstrap admin key.
var adminOwnerID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "database_driver", cfg.Database.Driver,
		"embedded_worker", cfg.Server.EmbeddedWorker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect backends and build the job pipeline
	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	// 3. Ensure the bootstrap admin key
	if err := ensureAdminKey(ctx, a.Store, cfg.Server.InitialAdminKey); err != nil {
		return fmt.Errorf("ensure admin key: %w", err)
	}

	// 4. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(a.Store),
		RateLimit: mw.NewRateLimit(a.Cache, cfg.Server.RateLimitPerMin),

		HealthHandler:  handler.NewHealthHandler(a.Store, a.Cache),
		MetricsHandler: handler.NewMetricsHandler(),

		CreateJobHandler:   handler.NewCreateJobHandler(a.Store),
		GetJobHandler:      handler.NewGetJobHandler(a.Store),
		CancelJobHandler:   handler.NewCancelJobHandler(a.Store, a.Executor),
		GetArtifactHandler: handler.NewGetArtifactHandler(a.Artifacts, a.Store),
		ListNotifications:  handler.NewListNotificationsHandler(a.Store),

		ProcessHandler:   handler.NewProcessHandler(a.Dispatcher),
		RecoverHandler:   handler.NewRecoverHandler(a.Recoverer),
		CreateKeyHandler: handler.NewCreateKeyHandler(a.Store),
	}

	router := api.NewRouter(deps)

	// 5. Start the embedded worker loop
	var workers sync.WaitGroup
	if cfg.Server.EmbeddedWorker {
		loop := jobs.NewLoop(a.Dispatcher, a.Recoverer, cfg.Worker.Interval, cfg.Worker.RecoveryInterval, slog.Default())
		workers.Add(1)
		go func() {
			defer workers.Done()
			loop.Run(ctx)
		}()
	}

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		stop()
		workers.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	// Jobs interrupted here stay running until stuck-job recovery requeues them.
	workers.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// ensureAdminKey stores raw as an admin-scoped key unless one with the same name exists.
func ensureAdminKey(ctx context.Context, st handler.KeyCreator, raw string) error {
	if raw == "" {
		return nil
	}
	key, err := handler.APIKeyFromRaw(adminOwnerID, "bootstrap-admin", raw, []string{"jobs", "admin"})
	if err != nil {
		return err
	}
	err = st.CreateAPIKey(ctx, key)
	if errors.Is(err, store.ErrDuplicateKey) {
		return nil
	}
	if err == nil {
		slog.Info("bootstrap admin key created", "key_prefix", key.KeyPrefix)
	}
	return err
}
