package rules

import (
	"sort"

	"ledgerlens/internal/core"
	"ledgerlens/internal/stats"
)

const (
	reasonIrregular  = "irregular_spend"
	reasonUnbudgeted = "unbudgeted_spend"
)

// savingsOpportunities ranks the open period's discretionary categories by
// spend and recommends the top ones. A dedicated budget is suggested for an
// unbudgeted category whose spend swings across the trailing archives or
// already exceeds the unbudgeted limit.
func savingsOpportunities(cfg Config, in Input) []core.Insight {
	v := in.View
	if v.Period.IsZero() {
		return nil
	}

	type ranked struct {
		category string
		spent    core.Money
	}
	var candidates []ranked
	for name, st := range v.Current {
		if in.Fixed[name] || st.TotalSpent.Cents <= 0 {
			continue
		}
		candidates = append(candidates, ranked{category: name, spent: st.TotalSpent})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].spent.Cents != candidates[j].spent.Cents {
			return candidates[i].spent.Cents > candidates[j].spent.Cents
		}
		return candidates[i].category < candidates[j].category
	})
	if len(candidates) > cfg.TopCategories {
		candidates = candidates[:cfg.TopCategories]
	}

	trailing := v.Trailing(cfg.TrailingPeriods)
	period := v.Period.Key()

	out := make([]core.Insight, 0, len(candidates))
	for i, c := range candidates {
		p := core.SavingsPayload{
			Rank:            i + 1,
			TotalSpent:      c.spent,
			Period:          period,
			ComparedPeriods: len(trailing),
		}

		series := make([]float64, len(trailing))
		for j, a := range trailing {
			series[j] = a.Categories[c.category].TotalSpent.Float64()
		}
		if cv, err := stats.CoefficientOfVariation(series); err == nil {
			p.Variation = cv
		}

		if _, budgeted := in.Thresholds[c.category]; !budgeted {
			switch {
			case p.Variation > cfg.IrregularityThreshold:
				p.SuggestBudget, p.BudgetReason = true, reasonIrregular
			case cfg.UnbudgetedSpendLimit.Cents > 0 && c.spent.Cents > cfg.UnbudgetedSpendLimit.Cents:
				p.SuggestBudget, p.BudgetReason = true, reasonUnbudgeted
			}
		}

		out = append(out, newInsight(in, core.SavingsOpportunity, core.Info, c.category, p,
			in.Now, core.DedupKey(core.SavingsOpportunity, c.category, period)))
	}
	return out
}
