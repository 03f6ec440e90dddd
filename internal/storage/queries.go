package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Transaction struct {
	UserID            string
	ID                string
	OccurredAtNs      int64
	AmountCents       int64
	Category          string
	BalanceAfterCents sql.NullInt64
}

type BudgetThreshold struct {
	UserID     string
	Category   string
	LimitCents int64
	Period     string
}

type PeriodTotal struct {
	UserID        string
	PeriodKind    string
	PeriodStartNs int64
	PeriodEndNs   int64
	IncomeCents   int64
	SpendCents    int64
}

type CategoryArchive struct {
	UserID        string
	PeriodStartNs int64
	PeriodEndNs   int64
	Category      string
	Count         int64
	Mean          float64
	Variance      float64
	TotalCents    int64
	IncomeCents   int64
}

type ArchiveBudget struct {
	UserID        string
	PeriodStartNs int64
	Category      string
	LimitCents    int64
	Period        string
}

type RecordedTransaction struct {
	Seq int64
	Transaction
}

type Insight struct {
	ID            string
	UserID        string
	Kind          string
	Severity      string
	Category      string
	DedupKey      string
	Payload       string
	GeneratedAtNs int64
	PublishedAt   sql.NullTime
}

type Emission struct {
	UserID    string
	DedupKey  string
	Kind      string
	Severity  string
	EmittedNs int64
}

const insertTransaction = `-- name: InsertTransaction :execrows
INSERT OR IGNORE INTO transactions (user_id, id, occurred_at_ns, amount_cents, category, balance_after_cents)
VALUES (?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertTransaction(ctx context.Context, arg Transaction) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertTransaction,
		arg.UserID,
		arg.ID,
		arg.OccurredAtNs,
		arg.AmountCents,
		arg.Category,
		arg.BalanceAfterCents,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listTransactionsSince = `-- name: ListTransactionsSince :many
SELECT user_id, id, occurred_at_ns, amount_cents, category, balance_after_cents
FROM transactions
WHERE user_id = ? AND occurred_at_ns >= ?
ORDER BY occurred_at_ns, rowid
`

type ListTransactionsSinceParams struct {
	UserID  string
	SinceNs int64
}

func (q *Queries) ListTransactionsSince(ctx context.Context, arg ListTransactionsSinceParams) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactionsSince, arg.UserID, arg.SinceNs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		var i Transaction
		if err := rows.Scan(
			&i.UserID,
			&i.ID,
			&i.OccurredAtNs,
			&i.AmountCents,
			&i.Category,
			&i.BalanceAfterCents,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listRecordedAfter = `-- name: ListRecordedAfter :many
SELECT rowid, user_id, id, occurred_at_ns, amount_cents, category, balance_after_cents
FROM transactions
WHERE user_id = ? AND rowid > ?
ORDER BY rowid
`

func (q *Queries) ListRecordedAfter(ctx context.Context, userID string, afterSeq int64) ([]RecordedTransaction, error) {
	rows, err := q.db.QueryContext(ctx, listRecordedAfter, userID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RecordedTransaction
	for rows.Next() {
		var i RecordedTransaction
		if err := rows.Scan(
			&i.Seq,
			&i.UserID,
			&i.ID,
			&i.OccurredAtNs,
			&i.AmountCents,
			&i.Category,
			&i.BalanceAfterCents,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listUsers = `-- name: ListUsers :many
SELECT DISTINCT user_id FROM transactions ORDER BY user_id
`

func (q *Queries) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		items = append(items, userID)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getBalance = `-- name: GetBalance :one
SELECT balance_cents FROM balances WHERE user_id = ?
`

func (q *Queries) GetBalance(ctx context.Context, userID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getBalance, userID)
	var balanceCents int64
	err := row.Scan(&balanceCents)
	return balanceCents, err
}

const upsertBalance = `-- name: UpsertBalance :exec
INSERT INTO balances (user_id, balance_cents) VALUES (?, ?)
ON CONFLICT (user_id) DO UPDATE SET balance_cents = excluded.balance_cents, updated_at = CURRENT_TIMESTAMP
`

func (q *Queries) UpsertBalance(ctx context.Context, userID string, balanceCents int64) error {
	_, err := q.db.ExecContext(ctx, upsertBalance, userID, balanceCents)
	return err
}

const listThresholds = `-- name: ListThresholds :many
SELECT user_id, category, limit_cents, period FROM budget_thresholds WHERE user_id = ? ORDER BY category
`

func (q *Queries) ListThresholds(ctx context.Context, userID string) ([]BudgetThreshold, error) {
	rows, err := q.db.QueryContext(ctx, listThresholds, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BudgetThreshold
	for rows.Next() {
		var i BudgetThreshold
		if err := rows.Scan(&i.UserID, &i.Category, &i.LimitCents, &i.Period); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertThreshold = `-- name: UpsertThreshold :exec
INSERT INTO budget_thresholds (user_id, category, limit_cents, period) VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, category) DO UPDATE SET limit_cents = excluded.limit_cents, period = excluded.period
`

func (q *Queries) UpsertThreshold(ctx context.Context, arg BudgetThreshold) error {
	_, err := q.db.ExecContext(ctx, upsertThreshold, arg.UserID, arg.Category, arg.LimitCents, arg.Period)
	return err
}

const deleteThreshold = `-- name: DeleteThreshold :exec
DELETE FROM budget_thresholds WHERE user_id = ? AND category = ?
`

func (q *Queries) DeleteThreshold(ctx context.Context, userID, category string) error {
	_, err := q.db.ExecContext(ctx, deleteThreshold, userID, category)
	return err
}

const listFixedCategories = `-- name: ListFixedCategories :many
SELECT category FROM fixed_categories WHERE user_id = ? ORDER BY category
`

func (q *Queries) ListFixedCategories(ctx context.Context, userID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listFixedCategories, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		items = append(items, category)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteFixedCategories = `-- name: DeleteFixedCategories :exec
DELETE FROM fixed_categories WHERE user_id = ?
`

func (q *Queries) DeleteFixedCategories(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, deleteFixedCategories, userID)
	return err
}

const insertFixedCategory = `-- name: InsertFixedCategory :exec
INSERT OR IGNORE INTO fixed_categories (user_id, category) VALUES (?, ?)
`

func (q *Queries) InsertFixedCategory(ctx context.Context, userID, category string) error {
	_, err := q.db.ExecContext(ctx, insertFixedCategory, userID, category)
	return err
}

const upsertPeriodTotal = `-- name: UpsertPeriodTotal :exec
INSERT INTO period_totals (user_id, period_kind, period_start_ns, period_end_ns, income_cents, spend_cents)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, period_start_ns) DO UPDATE SET
    period_kind = excluded.period_kind,
    period_end_ns = excluded.period_end_ns,
    income_cents = excluded.income_cents,
    spend_cents = excluded.spend_cents
`

func (q *Queries) UpsertPeriodTotal(ctx context.Context, arg PeriodTotal) error {
	_, err := q.db.ExecContext(ctx, upsertPeriodTotal,
		arg.UserID,
		arg.PeriodKind,
		arg.PeriodStartNs,
		arg.PeriodEndNs,
		arg.IncomeCents,
		arg.SpendCents,
	)
	return err
}

const listPeriodTotals = `-- name: ListPeriodTotals :many
SELECT user_id, period_kind, period_start_ns, period_end_ns, income_cents, spend_cents
FROM period_totals WHERE user_id = ? ORDER BY period_start_ns
`

func (q *Queries) ListPeriodTotals(ctx context.Context, userID string) ([]PeriodTotal, error) {
	rows, err := q.db.QueryContext(ctx, listPeriodTotals, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PeriodTotal
	for rows.Next() {
		var i PeriodTotal
		if err := rows.Scan(
			&i.UserID,
			&i.PeriodKind,
			&i.PeriodStartNs,
			&i.PeriodEndNs,
			&i.IncomeCents,
			&i.SpendCents,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteCategoryArchives = `-- name: DeleteCategoryArchives :exec
DELETE FROM category_archives WHERE user_id = ? AND period_start_ns = ?
`

func (q *Queries) DeleteCategoryArchives(ctx context.Context, userID string, periodStartNs int64) error {
	_, err := q.db.ExecContext(ctx, deleteCategoryArchives, userID, periodStartNs)
	return err
}

const insertCategoryArchive = `-- name: InsertCategoryArchive :exec
INSERT INTO category_archives (user_id, period_start_ns, period_end_ns, category, count, mean, variance, total_cents, income_cents)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertCategoryArchive(ctx context.Context, arg CategoryArchive) error {
	_, err := q.db.ExecContext(ctx, insertCategoryArchive,
		arg.UserID,
		arg.PeriodStartNs,
		arg.PeriodEndNs,
		arg.Category,
		arg.Count,
		arg.Mean,
		arg.Variance,
		arg.TotalCents,
		arg.IncomeCents,
	)
	return err
}

const listCategoryArchives = `-- name: ListCategoryArchives :many
SELECT user_id, period_start_ns, period_end_ns, category, count, mean, variance, total_cents, income_cents
FROM category_archives WHERE user_id = ? ORDER BY period_start_ns, category
`

func (q *Queries) ListCategoryArchives(ctx context.Context, userID string) ([]CategoryArchive, error) {
	rows, err := q.db.QueryContext(ctx, listCategoryArchives, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryArchive
	for rows.Next() {
		var i CategoryArchive
		if err := rows.Scan(
			&i.UserID,
			&i.PeriodStartNs,
			&i.PeriodEndNs,
			&i.Category,
			&i.Count,
			&i.Mean,
			&i.Variance,
			&i.TotalCents,
			&i.IncomeCents,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertArchiveBudget = `-- name: InsertArchiveBudget :exec
INSERT OR IGNORE INTO archive_budgets (user_id, period_start_ns, category, limit_cents, period)
VALUES (?, ?, ?, ?, ?)
`

func (q *Queries) InsertArchiveBudget(ctx context.Context, arg ArchiveBudget) error {
	_, err := q.db.ExecContext(ctx, insertArchiveBudget,
		arg.UserID,
		arg.PeriodStartNs,
		arg.Category,
		arg.LimitCents,
		arg.Period,
	)
	return err
}

const listArchiveBudgets = `-- name: ListArchiveBudgets :many
SELECT user_id, period_start_ns, category, limit_cents, period
FROM archive_budgets WHERE user_id = ? ORDER BY period_start_ns, category
`

func (q *Queries) ListArchiveBudgets(ctx context.Context, userID string) ([]ArchiveBudget, error) {
	rows, err := q.db.QueryContext(ctx, listArchiveBudgets, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ArchiveBudget
	for rows.Next() {
		var i ArchiveBudget
		if err := rows.Scan(
			&i.UserID,
			&i.PeriodStartNs,
			&i.Category,
			&i.LimitCents,
			&i.Period,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertInsight = `-- name: InsertInsight :exec
INSERT OR IGNORE INTO insights (id, user_id, kind, severity, category, dedup_key, payload, generated_at_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertInsight(ctx context.Context, arg Insight) error {
	_, err := q.db.ExecContext(ctx, insertInsight,
		arg.ID,
		arg.UserID,
		arg.Kind,
		arg.Severity,
		arg.Category,
		arg.DedupKey,
		arg.Payload,
		arg.GeneratedAtNs,
	)
	return err
}

const listInsights = `-- name: ListInsights :many
SELECT id, user_id, kind, severity, category, dedup_key, payload, generated_at_ns, published_at
FROM insights WHERE user_id = ?
ORDER BY generated_at_ns DESC, id
LIMIT ?
`

func (q *Queries) ListInsights(ctx context.Context, userID string, limit int64) ([]Insight, error) {
	return q.scanInsights(ctx, listInsights, userID, limit)
}

const listUnpublishedInsights = `-- name: ListUnpublishedInsights :many
SELECT id, user_id, kind, severity, category, dedup_key, payload, generated_at_ns, published_at
FROM insights WHERE published_at IS NULL
ORDER BY created_at, rowid
LIMIT ?
`

func (q *Queries) ListUnpublishedInsights(ctx context.Context, limit int64) ([]Insight, error) {
	return q.scanInsights(ctx, listUnpublishedInsights, limit)
}

func (q *Queries) scanInsights(ctx context.Context, query string, args ...interface{}) ([]Insight, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Insight
	for rows.Next() {
		var i Insight
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.Kind,
			&i.Severity,
			&i.Category,
			&i.DedupKey,
			&i.Payload,
			&i.GeneratedAtNs,
			&i.PublishedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markInsightPublished = `-- name: MarkInsightPublished :exec
UPDATE insights SET published_at = CURRENT_TIMESTAMP WHERE id = ?
`

func (q *Queries) MarkInsightPublished(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, markInsightPublished, id)
	return err
}

const upsertEmission = `-- name: UpsertEmission :exec
INSERT INTO emissions (user_id, dedup_key, kind, severity, emitted_ns) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id, dedup_key) DO UPDATE SET
    kind = excluded.kind,
    severity = excluded.severity,
    emitted_ns = excluded.emitted_ns
WHERE excluded.emitted_ns >= emissions.emitted_ns
`

func (q *Queries) UpsertEmission(ctx context.Context, arg Emission) error {
	_, err := q.db.ExecContext(ctx, upsertEmission, arg.UserID, arg.DedupKey, arg.Kind, arg.Severity, arg.EmittedNs)
	return err
}

const deleteEmissionsBefore = `-- name: DeleteEmissionsBefore :execrows
DELETE FROM emissions WHERE user_id = ? AND emitted_ns < ?
`

func (q *Queries) DeleteEmissionsBefore(ctx context.Context, userID string, beforeNs int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteEmissionsBefore, userID, beforeNs)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listEmissions = `-- name: ListEmissions :many
SELECT user_id, dedup_key, kind, severity, emitted_ns FROM emissions WHERE user_id = ? ORDER BY dedup_key
`

func (q *Queries) ListEmissions(ctx context.Context, userID string) ([]Emission, error) {
	rows, err := q.db.QueryContext(ctx, listEmissions, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Emission
	for rows.Next() {
		var i Emission
		if err := rows.Scan(&i.UserID, &i.DedupKey, &i.Kind, &i.Severity, &i.EmittedNs); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
