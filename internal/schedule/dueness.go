// Package schedule decides when a period's summary is due and drives the
// engine across period boundaries.
package schedule

import (
	"fmt"
	"time"

	"ledgerlens/internal/core"
)

// DuenessChecker decides whether the summary of the most recently closed
// period still has to be generated.
type DuenessChecker interface {
	// Due returns the latest period closed at now and whether it comes after
	// last, the most recently summarised period (zero if none).
	Due(last core.Period, now time.Time) (core.Period, bool)
}

// WeeklyChecker closes weeks on Monday 00:00 UTC plus Grace.
type WeeklyChecker struct {
	Grace time.Duration
}

func (c WeeklyChecker) Due(last core.Period, now time.Time) (core.Period, bool) {
	return due(core.Weekly, c.Grace, last, now)
}

// MonthlyChecker closes months on the 1st at 00:00 UTC plus Grace.
type MonthlyChecker struct {
	Grace time.Duration
}

func (c MonthlyChecker) Due(last core.Period, now time.Time) (core.Period, bool) {
	return due(core.Monthly, c.Grace, last, now)
}

// A period closes at its End plus grace.
func due(kind core.PeriodKind, grace time.Duration, last core.Period, now time.Time) (core.Period, bool) {
	closed := core.PeriodFor(kind, now.UTC().Add(-grace)).Prev()
	if !last.IsZero() && !last.Start.Before(closed.Start) {
		return closed, false
	}
	return closed, true
}

var duenessCheckers = map[core.PeriodKind]DuenessChecker{
	core.Weekly:  WeeklyChecker{},
	core.Monthly: MonthlyChecker{},
}

// GetDuenessChecker returns the checker for a period kind.
func GetDuenessChecker(kind core.PeriodKind) (DuenessChecker, error) {
	checker, ok := duenessCheckers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no dueness checker for %q", core.ErrInvalidPeriod, kind)
	}
	return checker, nil
}

// RegisterDuenessChecker replaces or adds the checker for kind.
func RegisterDuenessChecker(kind core.PeriodKind, checker DuenessChecker) {
	duenessCheckers[kind] = checker
}
