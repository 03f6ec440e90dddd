package rules

import (
	"strconv"
	"time"

	"ledgerlens/internal/core"
)

type balanceLevel int

const (
	levelOK balanceLevel = iota
	levelApproaching
	levelCritical
)

// balanceState tracks the last balance level. An alert fires only when the
// level rises; falling back to a lower level opens a new episode so the next
// drop fires again.
type balanceState struct {
	level   balanceLevel
	episode int
}

func classifyBalance(balance, threshold core.Money) balanceLevel {
	switch {
	case balance.Cents < threshold.Cents:
		return levelCritical
	case balance.Cents*100 < threshold.Cents*125:
		return levelApproaching
	default:
		return levelOK
	}
}

func (s *balanceState) evaluate(cfg Config, in Input) []core.Insight {
	threshold := cfg.LowBalanceThreshold
	if threshold.Cents <= 0 {
		return nil
	}

	var out []core.Insight
	observe := func(balance core.Money, at time.Time, emit bool) {
		level := classifyBalance(balance, threshold)
		switch {
		case level < s.level:
			s.level = level
			s.episode++
			return
		case level == s.level:
			return
		}
		s.level = level
		if !emit {
			return
		}

		sev := core.Warning
		if level == levelCritical {
			sev = core.Critical
		}
		key := core.DedupKey(core.LowBalance, at.UTC().Format("2006-01-02"), strconv.Itoa(s.episode))
		out = append(out, newInsight(in, core.LowBalance, sev, "", core.LowBalancePayload{
			Balance:   balance,
			Threshold: threshold,
			Episode:   s.episode,
		}, at, key))
	}

	for _, obs := range in.Observations {
		if obs.Tx.BalanceAfter != nil {
			observe(*obs.Tx.BalanceAfter, obs.Tx.Timestamp, obs.Emit)
		}
	}
	// The ledger balance may include entries the engine never sees, so it is
	// the final word for this pass.
	if in.Balance != nil {
		observe(*in.Balance, in.Now, true)
	}
	return out
}
