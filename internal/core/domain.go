package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

type (
	Money struct {
		Cents int64
	}

	// Transaction is an already-categorized ledger entry. Amount is signed:
	// negative is spend, positive is income or a refund.
	Transaction struct {
		ID           string
		Timestamp    time.Time
		Amount       Money
		Category     string
		BalanceAfter *Money // optional, as reported by the bank feed
	}

	BudgetThreshold struct {
		Category string
		Limit    Money
		Period   PeriodKind
	}

	// CategoryStats holds Welford running aggregates of spend amounts for one
	// category in one period. Mean and M2 are in major currency units. Income
	// is the credit received in the category beyond refunds of its spend.
	CategoryStats struct {
		Category    string
		Count       int64
		Mean        float64
		M2          float64
		TotalSpent  Money
		Income      Money
		PeriodStart time.Time
		PeriodEnd   time.Time
	}

	// PeriodArchive is the immutable record of a closed period. Budgets are
	// the thresholds in effect when the period closed.
	PeriodArchive struct {
		Period     Period
		Categories map[string]CategoryStats
		Income     Money
		Spend      Money
		Budgets    map[string]BudgetThreshold
	}

	// ArchivedCategory is the row shape exchanged with the storage collaborator.
	ArchivedCategory struct {
		Category    string
		PeriodStart time.Time
		PeriodEnd   time.Time
		Count       int64
		Mean        float64
		Variance    float64
		Total       Money
		Income      Money
	}
)

var (
	ErrNotFound             = errors.New("not found")
	ErrOutOfOrderData       = errors.New("out of order data")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrDivisionUndefined    = errors.New("division undefined")

	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyCategory   = errors.New("empty category")
	ErrEmptyID         = errors.New("empty transaction id")
	ErrInvalidDate     = errors.New("invalid timestamp")
	ErrInvalidUserID   = errors.New("invalid user id")
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrInvalidSeverity = errors.New("invalid severity")
)

func (m Money) Validate() error {
	if m.Cents == 0 {
		return ErrInvalidAmount
	}
	return nil
}

// IsSpend reports whether the transaction moves money out of the account.
func (t Transaction) IsSpend() bool {
	return t.Amount.Cents < 0
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyID
	}
	if t.Timestamp.IsZero() {
		return ErrInvalidDate
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// Variance returns the sample variance, zero below two observations.
func (s CategoryStats) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	v := s.M2 / float64(s.Count-1)
	if v < 0 {
		return 0
	}
	return v
}

func (s CategoryStats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// Archived converts the stats into the storage row shape.
func (s CategoryStats) Archived() ArchivedCategory {
	return ArchivedCategory{
		Category:    s.Category,
		PeriodStart: s.PeriodStart,
		PeriodEnd:   s.PeriodEnd,
		Count:       s.Count,
		Mean:        s.Mean,
		Variance:    s.Variance(),
		Total:       s.TotalSpent,
		Income:      s.Income,
	}
}

// Stats reverses Archived. M2 is rebuilt from the sample variance.
func (a ArchivedCategory) Stats() CategoryStats {
	var m2 float64
	if a.Count > 1 {
		m2 = a.Variance * float64(a.Count-1)
	}
	return CategoryStats{
		Category:    a.Category,
		Count:       a.Count,
		Mean:        a.Mean,
		M2:          m2,
		TotalSpent:  a.Total,
		Income:      a.Income,
		PeriodStart: a.PeriodStart,
		PeriodEnd:   a.PeriodEnd,
	}
}

// Clone returns a deep copy so the archive can be handed to readers.
func (a PeriodArchive) Clone() PeriodArchive {
	out := a
	out.Categories = make(map[string]CategoryStats, len(a.Categories))
	for k, v := range a.Categories {
		out.Categories[k] = v
	}
	if a.Budgets != nil {
		out.Budgets = make(map[string]BudgetThreshold, len(a.Budgets))
		for k, v := range a.Budgets {
			out.Budgets[k] = v
		}
	}
	return out
}

// Rows flattens the archive for storage, ordered by category name.
func (a PeriodArchive) Rows() []ArchivedCategory {
	names := SortedCategories(a.Categories)
	rows := make([]ArchivedCategory, 0, len(names))
	for _, name := range names {
		rows = append(rows, a.Categories[name].Archived())
	}
	return rows
}
