package core

import (
	"fmt"
	"sort"
	"time"
)

const (
	Weekly  PeriodKind = "weekly"
	Monthly PeriodKind = "monthly"
)

type (
	PeriodKind string

	// Period is a half-open reporting interval [Start, End) in UTC.
	Period struct {
		Kind  PeriodKind
		Start time.Time
		End   time.Time
	}
)

func (k PeriodKind) Validate() error {
	switch k {
	case Weekly, Monthly:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, string(k))
	}
}

// PeriodFor returns the period of the given kind that contains t.
// Weeks start on Monday.
func PeriodFor(kind PeriodKind, t time.Time) Period {
	t = t.UTC()
	switch kind {
	case Weekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return Period{Kind: Weekly, Start: start, End: start.AddDate(0, 0, 7)}
	default:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Period{Kind: Monthly, Start: start, End: start.AddDate(0, 1, 0)}
	}
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) Next() Period {
	return PeriodFor(p.Kind, p.End)
}

func (p Period) Prev() Period {
	return PeriodFor(p.Kind, p.Start.Add(-time.Nanosecond))
}

// Days returns the number of calendar days the period spans.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours() / 24)
}

// Key identifies the period in dedup keys and storage, e.g. "monthly:2024-03-01".
func (p Period) Key() string {
	return fmt.Sprintf("%s:%s", p.Kind, p.Start.Format("2006-01-02"))
}

func (p Period) IsZero() bool {
	return p.Start.IsZero()
}

// SortedCategories returns the keys of m in ascending order.
func SortedCategories[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
