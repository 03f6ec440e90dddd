package stats

import "ledgerlens/internal/core"

// observe folds one value into the running mean/M2 (Welford).
func observe(s *core.CategoryStats, x float64) {
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (x - s.Mean)
}

// Merge combines two accumulators (Chan et al.). Totals are summed and the
// period bounds widened to cover both inputs.
func Merge(a, b core.CategoryStats) core.CategoryStats {
	out := a
	if out.Category == "" {
		out.Category = b.Category
	}
	out.TotalSpent = a.TotalSpent.Add(b.TotalSpent)
	out.Income = a.Income.Add(b.Income)
	if out.PeriodStart.IsZero() || (!b.PeriodStart.IsZero() && b.PeriodStart.Before(out.PeriodStart)) {
		out.PeriodStart = b.PeriodStart
	}
	if b.PeriodEnd.After(out.PeriodEnd) {
		out.PeriodEnd = b.PeriodEnd
	}

	switch {
	case b.Count == 0:
		return out
	case a.Count == 0:
		out.Count, out.Mean, out.M2 = b.Count, b.Mean, b.M2
		return out
	}

	n := a.Count + b.Count
	delta := b.Mean - a.Mean
	out.Count = n
	out.Mean = a.Mean + delta*float64(b.Count)/float64(n)
	out.M2 = a.M2 + b.M2 + delta*delta*float64(a.Count)*float64(b.Count)/float64(n)
	return out
}

// CoefficientOfVariation returns std/mean of xs using the sample standard
// deviation. It needs at least two values and a positive mean.
func CoefficientOfVariation(xs []float64) (float64, error) {
	if len(xs) < 2 {
		return 0, core.ErrDivisionUndefined
	}
	var s core.CategoryStats
	for _, x := range xs {
		observe(&s, x)
	}
	if s.Mean <= 0 {
		return 0, core.ErrDivisionUndefined
	}
	return s.StdDev() / s.Mean, nil
}

// Mean returns the arithmetic mean of xs.
func Mean(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, core.ErrDivisionUndefined
	}
	var s core.CategoryStats
	for _, x := range xs {
		observe(&s, x)
	}
	return s.Mean, nil
}
