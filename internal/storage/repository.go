// Package storage is the SQLite backend. It implements every ledger port,
// persists dedup history and keeps an outbox of delivered insights that the
// worker publishes.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ledgerlens/internal/aggregate"
	"ledgerlens/internal/core"
	"ledgerlens/internal/ledger"
	"ledgerlens/internal/log"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InsertTransactions stores txs for userID. Ids already present are ignored,
// so re-importing a feed is safe. It returns how many rows were new.
func (r *SQLiteRepository) InsertTransactions(ctx context.Context, userID string, txs []core.Transaction) (int, error) {
	if userID == "" {
		return 0, core.ErrInvalidUserID
	}
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return 0, fmt.Errorf("validate transaction %s: %w", tx.ID, err)
		}
	}

	inserted := 0
	err := r.inTx(ctx, func(q *Queries) error {
		for _, tx := range txs {
			row := Transaction{
				UserID:       userID,
				ID:           tx.ID,
				OccurredAtNs: tx.Timestamp.UTC().UnixNano(),
				AmountCents:  tx.Amount.Cents,
				Category:     tx.Category,
			}
			if tx.BalanceAfter != nil {
				row.BalanceAfterCents = sql.NullInt64{Int64: tx.BalanceAfter.Cents, Valid: true}
			}
			n, err := q.InsertTransaction(ctx, row)
			if err != nil {
				return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Transactions stored",
		log.FieldUserID, userID,
		log.FieldCount, inserted,
		"ignored", len(txs)-inserted)
	return inserted, nil
}

// ListTransactions implements ledger.LedgerView.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, since time.Time) ([]core.Transaction, error) {
	var sinceNs int64
	if !since.IsZero() {
		sinceNs = since.UTC().UnixNano()
	}
	rows, err := r.queries.ListTransactionsSince(ctx, ListTransactionsSinceParams{UserID: userID, SinceNs: sinceNs})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	out := make([]core.Transaction, len(rows))
	for i, row := range rows {
		out[i] = toTransaction(row)
	}
	return out, nil
}

func toTransaction(row Transaction) core.Transaction {
	tx := core.Transaction{
		ID:        row.ID,
		Timestamp: time.Unix(0, row.OccurredAtNs).UTC(),
		Amount:    core.Money{Cents: row.AmountCents},
		Category:  row.Category,
	}
	if row.BalanceAfterCents.Valid {
		tx.BalanceAfter = &core.Money{Cents: row.BalanceAfterCents.Int64}
	}
	return tx
}

// ListRecorded implements ledger.Journal. The sequence is the table rowid;
// transactions are never deleted, so rowids only grow.
func (r *SQLiteRepository) ListRecorded(ctx context.Context, userID string, afterSeq int64) ([]ledger.Recorded, error) {
	rows, err := r.queries.ListRecordedAfter(ctx, userID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list recorded transactions: %w", err)
	}
	out := make([]ledger.Recorded, len(rows))
	for i, row := range rows {
		out[i] = ledger.Recorded{Seq: row.Seq, Tx: toTransaction(row.Transaction)}
	}
	return out, nil
}

// CurrentBalance implements ledger.LedgerView.
func (r *SQLiteRepository) CurrentBalance(ctx context.Context, userID string) (core.Money, error) {
	cents, err := r.queries.GetBalance(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, fmt.Errorf("%w: no balance for user %s", core.ErrNotFound, userID)
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("get balance: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

func (r *SQLiteRepository) SetBalance(ctx context.Context, userID string, balance core.Money) error {
	if err := r.queries.UpsertBalance(ctx, userID, balance.Cents); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// ListUsers returns every user with at least one stored transaction.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]string, error) {
	users, err := r.queries.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// GetThresholds implements ledger.BudgetConfig.
func (r *SQLiteRepository) GetThresholds(ctx context.Context, userID string) (map[string]core.BudgetThreshold, error) {
	rows, err := r.queries.ListThresholds(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}
	out := make(map[string]core.BudgetThreshold, len(rows))
	for _, row := range rows {
		out[row.Category] = core.BudgetThreshold{
			Category: row.Category,
			Limit:    core.Money{Cents: row.LimitCents},
			Period:   core.PeriodKind(row.Period),
		}
	}
	return out, nil
}

// SetThreshold creates or replaces the budget of one category. A zero limit
// removes it.
func (r *SQLiteRepository) SetThreshold(ctx context.Context, userID string, th core.BudgetThreshold) error {
	if th.Category == "" {
		return core.ErrEmptyCategory
	}
	if th.Limit.Cents == 0 {
		if err := r.queries.DeleteThreshold(ctx, userID, th.Category); err != nil {
			return fmt.Errorf("delete threshold: %w", err)
		}
		return nil
	}
	if th.Limit.Cents < 0 {
		return fmt.Errorf("%w: budget limit %s", core.ErrInvalidAmount, th.Limit)
	}
	if th.Period == "" {
		th.Period = core.Monthly
	}
	if err := th.Period.Validate(); err != nil {
		return err
	}
	err := r.queries.UpsertThreshold(ctx, BudgetThreshold{
		UserID:     userID,
		Category:   th.Category,
		LimitCents: th.Limit.Cents,
		Period:     string(th.Period),
	})
	if err != nil {
		return fmt.Errorf("set threshold: %w", err)
	}
	return nil
}

// FixedCategories implements ledger.BudgetConfig.
func (r *SQLiteRepository) FixedCategories(ctx context.Context, userID string) ([]string, error) {
	cats, err := r.queries.ListFixedCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list fixed categories: %w", err)
	}
	return cats, nil
}

// SetFixed replaces the user's fixed categories.
func (r *SQLiteRepository) SetFixed(ctx context.Context, userID string, categories []string) error {
	return r.inTx(ctx, func(q *Queries) error {
		if err := q.DeleteFixedCategories(ctx, userID); err != nil {
			return fmt.Errorf("clear fixed categories: %w", err)
		}
		for _, c := range categories {
			if c == "" {
				continue
			}
			if err := q.InsertFixedCategory(ctx, userID, c); err != nil {
				return fmt.Errorf("insert fixed category %s: %w", c, err)
			}
		}
		return nil
	})
}

// SaveArchive implements ledger.ArchiveStore. Saving the same period twice
// replaces the earlier rows, except for the budgets, which keep the values
// of the first save.
func (r *SQLiteRepository) SaveArchive(ctx context.Context, userID string, a core.PeriodArchive) error {
	startNs := a.Period.Start.UTC().UnixNano()
	endNs := a.Period.End.UTC().UnixNano()
	err := r.inTx(ctx, func(q *Queries) error {
		err := q.UpsertPeriodTotal(ctx, PeriodTotal{
			UserID:        userID,
			PeriodKind:    string(a.Period.Kind),
			PeriodStartNs: startNs,
			PeriodEndNs:   endNs,
			IncomeCents:   a.Income.Cents,
			SpendCents:    a.Spend.Cents,
		})
		if err != nil {
			return fmt.Errorf("save period totals: %w", err)
		}
		if err := q.DeleteCategoryArchives(ctx, userID, startNs); err != nil {
			return fmt.Errorf("clear category archives: %w", err)
		}
		for _, row := range a.Rows() {
			err := q.InsertCategoryArchive(ctx, CategoryArchive{
				UserID:        userID,
				PeriodStartNs: startNs,
				PeriodEndNs:   endNs,
				Category:      row.Category,
				Count:         row.Count,
				Mean:          row.Mean,
				Variance:      row.Variance,
				TotalCents:    row.Total.Cents,
				IncomeCents:   row.Income.Cents,
			})
			if err != nil {
				return fmt.Errorf("save category %s: %w", row.Category, err)
			}
		}
		for _, name := range core.SortedCategories(a.Budgets) {
			th := a.Budgets[name]
			err := q.InsertArchiveBudget(ctx, ArchiveBudget{
				UserID:        userID,
				PeriodStartNs: startNs,
				Category:      name,
				LimitCents:    th.Limit.Cents,
				Period:        string(th.Period),
			})
			if err != nil {
				return fmt.Errorf("save budget %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Period archived",
		log.FieldUserID, userID,
		log.FieldPeriod, a.Period.Key(),
		log.FieldCount, len(a.Categories))
	return nil
}

// ListArchives returns the stored archives of userID, oldest first.
func (r *SQLiteRepository) ListArchives(ctx context.Context, userID string) ([]core.PeriodArchive, error) {
	totals, err := r.queries.ListPeriodTotals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list period totals: %w", err)
	}
	cats, err := r.queries.ListCategoryArchives(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list category archives: %w", err)
	}
	budgetRows, err := r.queries.ListArchiveBudgets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list archive budgets: %w", err)
	}
	budgets := make(map[int64]map[string]core.BudgetThreshold)
	for _, b := range budgetRows {
		m := budgets[b.PeriodStartNs]
		if m == nil {
			m = make(map[string]core.BudgetThreshold)
			budgets[b.PeriodStartNs] = m
		}
		m[b.Category] = core.BudgetThreshold{
			Category: b.Category,
			Limit:    core.Money{Cents: b.LimitCents},
			Period:   core.PeriodKind(b.Period),
		}
	}

	byStart := make(map[int64]map[string]core.CategoryStats, len(totals))
	for _, c := range cats {
		m := byStart[c.PeriodStartNs]
		if m == nil {
			m = make(map[string]core.CategoryStats)
			byStart[c.PeriodStartNs] = m
		}
		m[c.Category] = core.ArchivedCategory{
			Category:    c.Category,
			PeriodStart: time.Unix(0, c.PeriodStartNs).UTC(),
			PeriodEnd:   time.Unix(0, c.PeriodEndNs).UTC(),
			Count:       c.Count,
			Mean:        c.Mean,
			Variance:    c.Variance,
			Total:       core.Money{Cents: c.TotalCents},
			Income:      core.Money{Cents: c.IncomeCents},
		}.Stats()
	}

	out := make([]core.PeriodArchive, 0, len(totals))
	for _, t := range totals {
		categories := byStart[t.PeriodStartNs]
		if categories == nil {
			categories = make(map[string]core.CategoryStats)
		}
		out = append(out, core.PeriodArchive{
			Period: core.Period{
				Kind:  core.PeriodKind(t.PeriodKind),
				Start: time.Unix(0, t.PeriodStartNs).UTC(),
				End:   time.Unix(0, t.PeriodEndNs).UTC(),
			},
			Categories: categories,
			Income:     core.Money{Cents: t.IncomeCents},
			Spend:      core.Money{Cents: t.SpendCents},
			Budgets:    budgets[t.PeriodStartNs],
		})
	}
	return out, nil
}

// Deliver implements ledger.InsightSink by writing insights to the outbox.
// Re-delivering an insight id is a no-op.
func (r *SQLiteRepository) Deliver(ctx context.Context, userID string, insights []core.Insight) error {
	if len(insights) == 0 {
		return nil
	}
	err := r.inTx(ctx, func(q *Queries) error {
		for _, in := range insights {
			payload, err := json.Marshal(in.Payload)
			if err != nil {
				return fmt.Errorf("encode payload of %s: %w", in.ID, err)
			}
			err = q.InsertInsight(ctx, Insight{
				ID:            in.ID,
				UserID:        userID,
				Kind:          string(in.Kind),
				Severity:      in.Severity.String(),
				Category:      in.Category,
				DedupKey:      in.DedupKey,
				Payload:       string(payload),
				GeneratedAtNs: in.GeneratedAt.UTC().UnixNano(),
			})
			if err != nil {
				return fmt.Errorf("store insight %s: %w", in.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Insights stored",
		log.FieldUserID, userID,
		log.FieldCount, len(insights))
	return nil
}

// ListInsights returns the newest stored insights of userID.
func (r *SQLiteRepository) ListInsights(ctx context.Context, userID string, limit int) ([]core.Insight, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.queries.ListInsights(ctx, userID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return decodeInsights(rows)
}

// PendingInsights returns outbox entries not yet published, oldest first.
func (r *SQLiteRepository) PendingInsights(ctx context.Context, limit int) ([]core.Insight, error) {
	rows, err := r.queries.ListUnpublishedInsights(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending insights: %w", err)
	}
	return decodeInsights(rows)
}

func (r *SQLiteRepository) MarkPublished(ctx context.Context, id string) error {
	if err := r.queries.MarkInsightPublished(ctx, id); err != nil {
		return fmt.Errorf("mark insight published: %w", err)
	}
	return nil
}

func decodeInsights(rows []Insight) ([]core.Insight, error) {
	out := make([]core.Insight, 0, len(rows))
	for _, row := range rows {
		sev, err := core.ParseSeverity(row.Severity)
		if err != nil {
			return nil, fmt.Errorf("insight %s: %w", row.ID, err)
		}
		payload, err := core.DecodePayload(core.Kind(row.Kind), []byte(row.Payload))
		if err != nil {
			return nil, fmt.Errorf("insight %s: %w", row.ID, err)
		}
		out = append(out, core.Insight{
			ID:          row.ID,
			UserID:      row.UserID,
			Kind:        core.Kind(row.Kind),
			Severity:    sev,
			Category:    row.Category,
			Payload:     payload,
			GeneratedAt: time.Unix(0, row.GeneratedAtNs).UTC(),
			DedupKey:    row.DedupKey,
		})
	}
	return out, nil
}

// LoadEmissions implements engine.EmissionStore.
func (r *SQLiteRepository) LoadEmissions(ctx context.Context, userID string) ([]aggregate.Emission, error) {
	rows, err := r.queries.ListEmissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list emissions: %w", err)
	}
	out := make([]aggregate.Emission, 0, len(rows))
	for _, row := range rows {
		sev, err := core.ParseSeverity(row.Severity)
		if err != nil {
			return nil, fmt.Errorf("emission %s: %w", row.DedupKey, err)
		}
		out = append(out, aggregate.Emission{
			DedupKey: row.DedupKey,
			Kind:     core.Kind(row.Kind),
			Severity: sev,
			At:       time.Unix(0, row.EmittedNs).UTC(),
		})
	}
	return out, nil
}

// SaveEmissions implements engine.EmissionStore. Each emission is upserted
// by key; rows of other keys are left alone.
func (r *SQLiteRepository) SaveEmissions(ctx context.Context, userID string, emissions []aggregate.Emission) error {
	return r.inTx(ctx, func(q *Queries) error {
		for _, e := range emissions {
			err := q.UpsertEmission(ctx, Emission{
				UserID:    userID,
				DedupKey:  e.DedupKey,
				Kind:      string(e.Kind),
				Severity:  e.Severity.String(),
				EmittedNs: e.At.UTC().UnixNano(),
			})
			if err != nil {
				return fmt.Errorf("store emission %s: %w", e.DedupKey, err)
			}
		}
		return nil
	})
}

// PruneEmissions implements engine.EmissionStore.
func (r *SQLiteRepository) PruneEmissions(ctx context.Context, userID string, before time.Time) (int, error) {
	n, err := r.queries.DeleteEmissionsBefore(ctx, userID, before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune emissions: %w", err)
	}
	return int(n), nil
}
