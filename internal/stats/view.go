package stats

import (
	"fmt"
	"time"

	"ledgerlens/internal/core"
)

// View is a read-only copy of a Tracker. Rule evaluators share one View per
// pass and may read it from several goroutines.
type View struct {
	Period   core.Period
	Current  map[string]core.CategoryStats
	Income   core.Money
	Spend    core.Money
	Archives []core.PeriodArchive // oldest first
	LastSeen time.Time
}

// Baseline merges the open period with every archive for category.
func (v View) Baseline(category string) (core.CategoryStats, error) {
	var out core.CategoryStats
	for _, a := range v.Archives {
		if st, ok := a.Categories[category]; ok {
			out = Merge(out, st)
		}
	}
	if st, ok := v.Current[category]; ok {
		out = Merge(out, st)
	}
	if out.Count == 0 {
		return core.CategoryStats{}, fmt.Errorf("%w: no spend recorded for %q", core.ErrNotFound, category)
	}
	return out, nil
}

// Open returns the open period in archive shape.
func (v View) Open() core.PeriodArchive {
	a := core.PeriodArchive{
		Period:     v.Period,
		Categories: make(map[string]core.CategoryStats, len(v.Current)),
		Income:     v.Income,
		Spend:      v.Spend,
	}
	for k, st := range v.Current {
		a.Categories[k] = st
	}
	return a
}

// Lookup returns the open or archived period starting at period.Start.
func (v View) Lookup(period core.Period) (core.PeriodArchive, error) {
	if !v.Period.IsZero() && v.Period.Start.Equal(period.Start) {
		return v.Open(), nil
	}
	for _, a := range v.Archives {
		if a.Period.Start.Equal(period.Start) {
			return a, nil
		}
	}
	return core.PeriodArchive{}, fmt.Errorf("%w: no data for %s", core.ErrNotFound, period.Key())
}

// Trailing returns up to k most recent archives, oldest first.
func (v View) Trailing(k int) []core.PeriodArchive {
	if k <= 0 || len(v.Archives) == 0 {
		return nil
	}
	if k > len(v.Archives) {
		k = len(v.Archives)
	}
	return v.Archives[len(v.Archives)-k:]
}

// IsOpen reports whether period is the tracker's open period.
func (v View) IsOpen(period core.Period) bool {
	return !v.Period.IsZero() && v.Period.Start.Equal(period.Start)
}
