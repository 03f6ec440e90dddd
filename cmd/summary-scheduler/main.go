package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ledgerlens/internal/backend"
	"ledgerlens/internal/cli"
	"ledgerlens/internal/core"
	"ledgerlens/internal/engine"
	"ledgerlens/internal/log"
	"ledgerlens/internal/schedule"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentScheduler, os.Stdout)
	logger.Info("Starting summary-scheduler")
	cfg := cli.LoadAndValidateConfig(logger)

	ec, err := cfg.EngineConfig()
	if err != nil {
		logger.Error("Failed to load rules", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	b, err := backend.NewFactory(logger, nil).Create(context.Background(), cfg)
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

	schedule.RegisterDuenessChecker(core.Weekly, schedule.WeeklyChecker{Grace: cfg.SummaryGrace})
	schedule.RegisterDuenessChecker(core.Monthly, schedule.MonthlyChecker{Grace: cfg.SummaryGrace})
	checker, err := schedule.GetDuenessChecker(ec.Period)
	if err != nil {
		logger.Error("No dueness checker for period", log.FieldError, err, "period", string(ec.Period))
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, nil)
	logger.Info("Summary scheduler configured",
		"interval", cfg.SummaryInterval,
		"grace", cfg.SummaryGrace,
		"period", string(ec.Period))

	if err := schedule.New(e, b.Users, checker).Run(ctx, cfg.SummaryInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.LogError(ctx, "Scheduler stopped", err, log.ErrorTypeInternal)
	}
	<-done
	logger.Info("summary-scheduler stopped")
}
