package rules

import (
	"ledgerlens/internal/core"
)

type budgetBand struct {
	period string
	band   core.Severity
}

// budgetState remembers the highest band issued per category in its period,
// so a refund that lowers the ratio never retracts or repeats a warning.
type budgetState struct {
	issued map[string]budgetBand
}

func newBudgetState() *budgetState {
	return &budgetState{issued: make(map[string]budgetBand)}
}

func (s *budgetState) evaluate(cfg Config, in Input) []core.Insight {
	var out []core.Insight
	for _, obs := range in.Observations {
		th, ok := in.Thresholds[obs.Tx.Category]
		if !ok {
			continue // no budget configured
		}
		if th.Period != "" && th.Period != in.View.Period.Kind {
			continue
		}
		ratio, err := obs.After.TotalSpent.Ratio(th.Limit)
		if err != nil {
			continue // limit not positive
		}

		var band core.Severity
		switch {
		case ratio >= cfg.BudgetExceeded:
			band = core.Warning
		case ratio >= cfg.BudgetApproaching:
			band = core.Info
		default:
			continue
		}

		period := core.Period{Kind: in.View.Period.Kind, Start: obs.After.PeriodStart, End: obs.After.PeriodEnd}.Key()
		prev := s.issued[obs.Tx.Category]
		if prev.period == period && prev.band >= band {
			continue
		}
		s.issued[obs.Tx.Category] = budgetBand{period: period, band: band}

		if !obs.Emit {
			continue
		}
		out = append(out, newInsight(in, core.BudgetWarning, band, obs.Tx.Category, core.BudgetPayload{
			Limit:      th.Limit,
			TotalSpent: obs.After.TotalSpent,
			Ratio:      ratio,
			Exceeded:   band == core.Warning,
			Period:     period,
		}, obs.Tx.Timestamp, core.DedupKey(core.BudgetWarning, obs.Tx.Category, period)))
	}
	return out
}
