package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ledgerlens/internal/amqp"
	"ledgerlens/internal/backend"
	"ledgerlens/internal/cache"
	"ledgerlens/internal/cli"
	"ledgerlens/internal/engine"
	"ledgerlens/internal/log"
	"ledgerlens/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker, os.Stdout)
	logger.Info("Starting ledgerlens-worker")
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
	if b.Outbox == nil {
		logger.Error("The worker needs a backend with an insight outbox", "backend", b.Type.String())
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(amqp.Config{
		URL:           cfg.AMQPURL,
		Exchange:      cfg.AMQPExchange,
		Queue:         cfg.AMQPQueue,
		InsightsQueue: cfg.AMQPInsightsQueue,
	})
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	publisher := worker.NewPublisher(b.Outbox, amqpClient, cfg.OutboxBatchSize)
	e, err := engine.New(ec, b.Ledger, b.Budgets, append(b.EngineOptions(publisher), engine.WithLogger(logger))...)
	if err != nil {
		logger.Error("Failed to build engine", log.FieldError, err)
		os.Exit(1)
	}
	analysis := worker.NewAnalysisWorker(e, b.Users, worker.WithBudgetInvalidator(b))

	caches.StartCleanup(time.Minute)
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		caches.Stop()
	})

	logger.Info("Performing startup pass")
	if err := analysis.StartupPass(ctx); err != nil {
		logger.LogError(ctx, "Startup pass failed", err, log.ErrorTypeInternal)
	}

	go func() {
		err := amqpClient.ConsumeLedgerUpdates(ctx, analysis.HandleLedgerUpdated)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.LogError(ctx, "Message consumption failed", err, log.ErrorTypeNetwork)
		}
	}()

	ticker := time.NewTicker(cfg.OutboxInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-done
			logger.Info("ledgerlens-worker stopped")
			return
		case <-ticker.C:
			n, err := publisher.FlushPending(ctx)
			if err != nil {
				logger.LogError(ctx, "Outbox flush failed", err, log.ErrorTypeNetwork)
				continue
			}
			if n > 0 {
				logger.Info("Outbox flushed", log.FieldCount, n)
			}
		}
	}
}
