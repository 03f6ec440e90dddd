// Package backend assembles the ledger, budget and insight stores for the
// configured LEDGER_BACKEND.
package backend

import (
	"context"

	"ledgerlens/internal/core"
	"ledgerlens/internal/engine"
	"ledgerlens/internal/ledger"
	"ledgerlens/internal/worker"
)

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

type (
	UserLister interface {
		ListUsers(ctx context.Context) ([]string, error)
	}

	InsightLister interface {
		ListInsights(ctx context.Context, userID string, limit int) ([]core.Insight, error)
	}

	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// Backend is the set of stores one process runs on. Outbox, Emissions and
// Ready are nil for the memory backend.
type Backend struct {
	Type      BackendType
	Ledger    ledger.LedgerView
	Budgets   ledger.BudgetConfig
	Archives  ledger.ArchiveStore
	Sink      ledger.InsightSink
	Insights  InsightLister
	Users     UserLister
	Outbox    worker.Outbox
	Emissions engine.EmissionStore
	Ready     Pinger

	cleanup []func() error
}

// EngineOptions returns the engine options that bind b's stores. sink
// overrides b.Sink when not nil, e.g. with a publishing worker.Publisher.
func (b *Backend) EngineOptions(sink ledger.InsightSink) []engine.Option {
	if sink == nil {
		sink = b.Sink
	}
	opts := []engine.Option{
		engine.WithArchiveStore(b.Archives),
		engine.WithInsightSink(sink),
	}
	if b.Emissions != nil {
		opts = append(opts, engine.WithEmissionStore(b.Emissions))
	}
	return opts
}

// InvalidateBudgets drops the cached budgets of userID when budgets are
// cached.
func (b *Backend) InvalidateBudgets(userID string) {
	if c, ok := b.Budgets.(interface{ Invalidate(userID string) }); ok {
		c.Invalidate(userID)
	}
}

// Close releases every resource in reverse order of acquisition.
func (b *Backend) Close() error {
	var first error
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		if err := b.cleanup[i](); err != nil && first == nil {
			first = err
		}
	}
	b.cleanup = nil
	return first
}
