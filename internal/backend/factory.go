package backend

import (
	"context"
	"fmt"

	"ledgerlens/internal/cache"
	"ledgerlens/internal/config"
	"ledgerlens/internal/core"
	"ledgerlens/internal/ledger"
	"ledgerlens/internal/ledger/memory"
	"ledgerlens/internal/ledger/sheets"
	"ledgerlens/internal/log"
	"ledgerlens/internal/storage"
)

const budgetCacheUsers = 1024

type Factory struct {
	logger *log.Logger
	caches *cache.Manager
}

// NewFactory builds backends. Budget caches are registered with caches
// when it is not nil.
func NewFactory(logger *log.Logger, caches *cache.Manager) *Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Factory{logger: logger.WithComponent(log.ComponentStorage), caches: caches}
}

func (f *Factory) Create(ctx context.Context, cfg *config.Config) (*Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: app config is nil", core.ErrConfigurationMissing)
	}
	bt := BackendType(cfg.LedgerBackend)
	if !bt.IsValid() {
		return nil, fmt.Errorf("%w: invalid backend type %q", core.ErrConfigurationMissing, cfg.LedgerBackend)
	}

	var (
		b   *Backend
		err error
	)
	switch bt {
	case SQLiteBackend:
		b, err = f.createSQLite(cfg)
	case SheetsBackend:
		b, err = f.createSheets(ctx, cfg)
	case MemoryBackend:
		b = f.createMemory(cfg)
	}
	if err != nil {
		return nil, err
	}
	b.Type = bt
	f.cacheBudgets(b, cfg)
	return b, nil
}

func (f *Factory) createSQLite(cfg *config.Config) (*Backend, error) {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)
	return sqliteBackend(repo, repo), nil
}

// createSheets reads the ledger from the spreadsheet and keeps budgets,
// archives and the insight outbox in SQLite.
func (f *Factory) createSheets(ctx context.Context, cfg *config.Config) (*Backend, error) {
	credsFile := cfg.GoogleServiceAccountFile
	if credsFile == "" {
		credsFile = cfg.GoogleApplicationCredsEnv
	}
	client, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		LedgerSheet:     cfg.GoogleLedgerSheetName,
		BalanceSheet:    cfg.GoogleBalanceSheetName,
		DefaultUserID:   cfg.DefaultUserID,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: credsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize Google Sheets ledger: %w", err)
	}
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized Google Sheets backend",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"state_db_path", cfg.SQLiteDBPath)
	return sqliteBackend(repo, client), nil
}

type sheetsOrSQLite interface {
	ledger.LedgerView
	UserLister
}

func sqliteBackend(repo *storage.SQLiteRepository, view sheetsOrSQLite) *Backend {
	return &Backend{
		Ledger:    view,
		Users:     view,
		Budgets:   repo,
		Archives:  repo,
		Sink:      repo,
		Insights:  repo,
		Outbox:    repo,
		Emissions: repo,
		Ready:     repo,
		cleanup:   []func() error{repo.Close},
	}
}

func (f *Factory) createMemory(cfg *config.Config) *Backend {
	store := memory.NewFromFiles(cfg.DataDir, cfg.DefaultUserID)
	f.logger.Info("Initialized memory backend", "data_directory", cfg.DataDir)
	return &Backend{
		Ledger:   store,
		Users:    store,
		Budgets:  store,
		Archives: store,
		Sink:     store,
		Insights: store,
	}
}

func (f *Factory) cacheBudgets(b *Backend, cfg *config.Config) {
	if cfg.BudgetCacheTTL <= 0 || b.Type == MemoryBackend {
		return
	}
	bc := cache.NewBudgetCache(b.Budgets, budgetCacheUsers, cfg.BudgetCacheTTL)
	b.Budgets = bc
	if f.caches != nil {
		f.caches.Register(bc.Cleaner())
	}
}
