// Package ledger declares the collaborators the engine reads from and
// writes to. Implementations live in ledger/memory, ledger/sheets, storage,
// cache and worker.
package ledger

import (
	"context"
	"time"

	"ledgerlens/internal/core"
)

type (
	// LedgerView is the read-only view over a user's transactions.
	LedgerView interface {
		// ListTransactions returns transactions with Timestamp >= since in
		// non-decreasing timestamp order. A zero since means all history.
		ListTransactions(ctx context.Context, userID string, since time.Time) ([]core.Transaction, error)
		// CurrentBalance returns core.ErrNotFound when no balance is known.
		CurrentBalance(ctx context.Context, userID string) (core.Money, error)
	}

	// Journal is implemented by ledgers that number transactions in the
	// order they were recorded. Passes read it by sequence, so an entry
	// back-dated before the last seen timestamp is still read and rejected
	// as out of order.
	Journal interface {
		// ListRecorded returns the transactions recorded after seq, in
		// recording order.
		ListRecorded(ctx context.Context, userID string, afterSeq int64) ([]Recorded, error)
	}

	Recorded struct {
		Seq int64
		Tx  core.Transaction
	}

	BudgetConfig interface {
		GetThresholds(ctx context.Context, userID string) (map[string]core.BudgetThreshold, error)
		// FixedCategories lists non-discretionary categories excluded from
		// savings recommendations.
		FixedCategories(ctx context.Context, userID string) ([]string, error)
	}

	ArchiveStore interface {
		SaveArchive(ctx context.Context, userID string, a core.PeriodArchive) error
	}

	// ArchiveLister reads saved archives back, oldest first. Budgets of a
	// saved period keep the values of its first save.
	ArchiveLister interface {
		ListArchives(ctx context.Context, userID string) ([]core.PeriodArchive, error)
	}

	// InsightSink receives each pass's final ordered insight list.
	InsightSink interface {
		Deliver(ctx context.Context, userID string, insights []core.Insight) error
	}
)
