package rules

import (
	"sort"

	"ledgerlens/internal/core"
)

// unusualSpend scores each spend against the category baseline taken before
// the spend was applied. Within one pass only the largest deviation per
// category and day survives.
func unusualSpend(cfg Config, in Input) []core.Insight {
	best := make(map[string]core.Insight)
	bestZ := make(map[string]float64)

	for _, obs := range in.Observations {
		if !obs.Emit || !obs.Tx.IsSpend() || !obs.HasBaseline {
			continue
		}
		base := obs.Before
		if base.Count < cfg.MinSampleSize {
			continue
		}
		std := base.StdDev()
		if std == 0 {
			continue
		}

		amount := obs.Tx.Amount.Abs()
		z := (amount.Float64() - base.Mean) / std

		var sev core.Severity
		switch {
		case z >= cfg.ZCritical:
			sev = core.Critical
		case z >= cfg.ZWarning:
			sev = core.Warning
		default:
			continue
		}

		day := obs.Tx.Timestamp.UTC().Format("2006-01-02")
		key := core.DedupKey(core.UnusualSpend, obs.Tx.Category, day)
		if prev, ok := bestZ[key]; ok && prev >= z {
			continue
		}
		bestZ[key] = z
		best[key] = newInsight(in, core.UnusualSpend, sev, obs.Tx.Category, core.UnusualSpendPayload{
			TransactionID: obs.Tx.ID,
			Amount:        amount,
			BaselineMean:  base.Mean,
			BaselineStd:   std,
			SampleSize:    base.Count,
			ZScore:        z,
		}, obs.Tx.Timestamp, key)
	}

	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]core.Insight, 0, len(keys))
	for _, k := range keys {
		out = append(out, best[k])
	}
	return out
}
