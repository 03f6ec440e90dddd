package rules

import (
	"math"

	"ledgerlens/internal/core"
	"ledgerlens/internal/stats"
)

// incomeVariance compares the open period's income with the mean of the last
// TrailingPeriods archives. It needs a full trailing window. An irregular
// archived income series also yields an emergency-fund recommendation.
func incomeVariance(cfg Config, in Input) []core.Insight {
	v := in.View
	trailing := v.Trailing(cfg.TrailingPeriods)
	if v.Period.IsZero() || len(trailing) < cfg.TrailingPeriods {
		return nil
	}

	incomes := make([]float64, len(trailing))
	for i, a := range trailing {
		incomes[i] = a.Income.Float64()
	}
	mean, err := stats.Mean(incomes)
	if err != nil || mean <= 0 {
		return nil
	}

	period := v.Period.Key()
	trailingMean := core.MoneyFromFloat(mean)

	var out []core.Insight
	deviation := (v.Income.Float64() - mean) / mean
	if math.Abs(deviation) > cfg.IncomeBand {
		dir, sev := "high", core.Info
		if deviation < 0 {
			dir, sev = "low", core.Warning
		}
		out = append(out, newInsight(in, core.IncomeVariance, sev, "", core.IncomeVariancePayload{
			Direction:    dir,
			Current:      v.Income,
			TrailingMean: trailingMean,
			Deviation:    deviation,
			Periods:      len(trailing),
			Period:       period,
		}, in.Now, core.DedupKey(core.IncomeVariance, period)))
	}

	if cv, err := stats.CoefficientOfVariation(incomes); err == nil && cv > cfg.IrregularityThreshold {
		out = append(out, newInsight(in, core.EmergencyFund, core.Info, "", core.EmergencyFundPayload{
			IncomeVariation: cv,
			TrailingMean:    trailingMean,
			Periods:         len(trailing),
			Period:          period,
		}, in.Now, core.DedupKey(core.EmergencyFund, period)))
	}
	return out
}
