package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ledgerlens/internal/backend"
	"ledgerlens/internal/cache"
	"ledgerlens/internal/cli"
	"ledgerlens/internal/engine"
	apphttp "ledgerlens/internal/http"
	"ledgerlens/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp, os.Stdout)
	cfg := cli.LoadAndValidateConfig(logger)

	ec, err := cfg.EngineConfig()
	if err != nil {
		logger.Error("Failed to load rules", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	caches := cache.NewManager()
	b, err := backend.NewFactory(logger, caches).Create(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.LedgerBackend)
		os.Exit(1)
	}
	defer b.Close()

	e, err := engine.New(ec, b.Ledger, b.Budgets, append(b.EngineOptions(nil), engine.WithLogger(logger))...)
	if err != nil {
		logger.Error("Failed to build engine", log.FieldError, err)
		os.Exit(1)
	}

	opts := []apphttp.Option{apphttp.WithLogger(logger)}
	if b.Ready != nil {
		opts = append(opts, apphttp.WithReadiness(b.Ready))
	}
	srv := apphttp.NewServer(":"+cfg.Port, e, b.Insights, opts...)

	caches.Register(srv.Limiter())
	caches.StartCleanup(time.Minute)

	_, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
	})

	logger.Info("Starting ledgerlens API",
		"port", cfg.Port,
		"backend", b.Type.String(),
		"period", string(ec.Period))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-done
	logger.Info("Server stopped gracefully")
}
