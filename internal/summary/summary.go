// Package summary builds the periodic digest insight for one user and period.
package summary

import (
	"fmt"
	"math"
	"sort"

	"ledgerlens/internal/core"
	"ledgerlens/internal/stats"
)

const (
	BandExcellent      = "excellent"
	BandGood           = "good"
	BandNeedsAttention = "needs_attention"
)

// Generate summarises period from the tracker view. The budget adherence part
// of the health score uses the budgets archived with a closed period and
// thresholds, which may be nil, for the open one.
//
// The result of a closed period depends only on its archive and the one
// before it: GeneratedAt is the period end and the ID is derived from user and
// period, so regenerating a closed period yields an identical insight.
func Generate(userID string, v stats.View, period core.Period, thresholds map[string]core.BudgetThreshold) (core.Insight, error) {
	cur, err := v.Lookup(period)
	if err != nil {
		return core.Insight{}, fmt.Errorf("summary for %s: %w", period.Key(), err)
	}

	p := core.SummaryPayload{
		Period:          period.Key(),
		TotalSpend:      cur.Spend,
		TotalIncome:     cur.Income,
		Breakdown:       breakdown(cur),
		IncomeBreakdown: incomeBreakdown(cur),
	}
	if cur.Budgets != nil {
		thresholds = cur.Budgets
	}

	if prior, err := v.Lookup(period.Prev()); err == nil {
		spend := prior.Spend
		p.PriorSpend = &spend
		if delta, err := cur.Spend.Sub(prior.Spend).Ratio(prior.Spend); err == nil {
			pct := round2(delta * 100)
			p.SpendDeltaPct = &pct
		}
	}
	p.NoPriorData = p.SpendDeltaPct == nil

	if len(p.Breakdown) > 0 {
		p.TopCategory = p.Breakdown[0].Category
		p.TopCategorySpend = p.Breakdown[0].Spent
	}

	net := cur.Income.Sub(cur.Spend)
	if net.Cents >= 0 {
		p.Saved = net
	} else {
		p.Deficit = net.Abs()
	}
	if rate, err := net.Ratio(cur.Income); err == nil {
		rate = round2(rate * 100)
		p.SavingsRate = &rate
	}

	days := int64(period.Days())
	if days > 0 {
		p.AvgDailySpend = core.Money{Cents: int64(math.Round(float64(cur.Spend.Cents) / float64(days)))}
	}

	p.HealthScore = savingsRateScore(cur.Income, cur.Spend) +
		budgetAdherenceScore(cur, thresholds) +
		incomeExpenseScore(cur.Income, cur.Spend)
	p.HealthBand = band(p.HealthScore)

	sev := core.Info
	if !p.Deficit.IsZero() {
		sev = core.Warning
	}

	key := core.DedupKey(core.Summary, period.Key())
	return core.Insight{
		ID:          core.InsightID(userID, key),
		UserID:      userID,
		Kind:        core.Summary,
		Severity:    sev,
		Payload:     p,
		GeneratedAt: period.End,
		DedupKey:    key,
	}, nil
}

func breakdown(a core.PeriodArchive) []core.CategoryShare {
	var out []core.CategoryShare
	for name, st := range a.Categories {
		if st.TotalSpent.Cents <= 0 {
			continue
		}
		share, _ := st.TotalSpent.Ratio(a.Spend)
		out = append(out, core.CategoryShare{Category: name, Spent: st.TotalSpent, Share: round2(share * 100)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spent.Cents != out[j].Spent.Cents {
			return out[i].Spent.Cents > out[j].Spent.Cents
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// incomeBreakdown lists income by source category, largest first. Shares are
// of the period's total income.
func incomeBreakdown(a core.PeriodArchive) []core.IncomeShare {
	var out []core.IncomeShare
	for name, st := range a.Categories {
		if st.Income.Cents <= 0 {
			continue
		}
		share, _ := st.Income.Ratio(a.Income)
		out = append(out, core.IncomeShare{Category: name, Received: st.Income, Share: round2(share * 100)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Received.Cents != out[j].Received.Cents {
			return out[i].Received.Cents > out[j].Received.Cents
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// savingsRateScore is worth up to 40 points.
func savingsRateScore(income, spend core.Money) int {
	rate, err := income.Sub(spend).Ratio(income)
	if err != nil {
		return 0
	}
	switch {
	case rate >= 0.20:
		return 40
	case rate >= 0.10:
		return 30
	case rate >= 0:
		return 20
	default:
		return 0
	}
}

// budgetAdherenceScore is worth up to 35 points. Utilisation is capped at
// 100% per category before averaging.
func budgetAdherenceScore(a core.PeriodArchive, thresholds map[string]core.BudgetThreshold) int {
	if len(thresholds) == 0 {
		return 0
	}
	var total float64
	n := 0
	for _, name := range core.SortedCategories(thresholds) {
		th := thresholds[name]
		u, err := a.Categories[name].TotalSpent.Ratio(th.Limit)
		if err != nil {
			continue
		}
		total += math.Min(u*100, 100)
		n++
	}
	if n == 0 {
		return 35
	}
	switch avg := total / float64(n); {
	case avg <= 80:
		return 35
	case avg <= 90:
		return 25
	case avg <= 100:
		return 15
	default:
		return 5
	}
}

// incomeExpenseScore is worth up to 25 points.
func incomeExpenseScore(income, spend core.Money) int {
	switch {
	case income.Cents <= 0:
		return 0
	case income.Cents > spend.Cents:
		return 25
	case float64(income.Cents)*0.9 < float64(spend.Cents):
		return 10
	default:
		return 0
	}
}

func band(score int) string {
	switch {
	case score >= 75:
		return BandExcellent
	case score >= 50:
		return BandGood
	default:
		return BandNeedsAttention
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
