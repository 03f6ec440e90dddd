package aggregate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerlens/internal/core"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func cand(id string, kind core.Kind, sev core.Severity, key string, at time.Time) core.Insight {
	return core.Insight{ID: id, UserID: "u1", Kind: kind, Severity: sev, DedupKey: key, GeneratedAt: at}
}

func ids(in []core.Insight) []string {
	out := make([]string, len(in))
	for i, c := range in {
		out[i] = c.ID
	}
	return out
}

func TestAggregate_KeepsHighestSeverityPerKey(t *testing.T) {
	a := New(DefaultConfig())
	got := a.Aggregate([]core.Insight{
		cand("w", core.UnusualSpend, core.Warning, "unusual_spend|Dining|2024-03-10", now),
		cand("c", core.UnusualSpend, core.Critical, "unusual_spend|Dining|2024-03-10", now.Add(time.Minute)),
	}, now)
	assert.Equal(t, []string{"c"}, ids(got))
}

func TestAggregate_SameSeverityTieBreak(t *testing.T) {
	a := New(DefaultConfig())
	got := a.Aggregate([]core.Insight{
		cand("late", core.UnusualSpend, core.Warning, "k", now.Add(time.Hour)),
		cand("b", core.UnusualSpend, core.Warning, "k", now),
		cand("a", core.UnusualSpend, core.Warning, "k", now),
	}, now)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestAggregate_PriorityOrder(t *testing.T) {
	a := New(Config{MaxPerPass: 20})
	got := a.Aggregate([]core.Insight{
		cand("summary", core.Summary, core.Info, "summary|p", now),
		cand("savings", core.SavingsOpportunity, core.Info, "savings_opportunity|Dining|p", now),
		cand("unusual-w", core.UnusualSpend, core.Warning, "unusual_spend|Bars|d", now),
		cand("budget-i", core.BudgetWarning, core.Info, "budget_warning|Travel|p", now),
		cand("unusual-c", core.UnusualSpend, core.Critical, "unusual_spend|Dining|d", now),
		cand("low-c", core.LowBalance, core.Critical, "low_balance|d|0", now),
		cand("budget-w", core.BudgetWarning, core.Warning, "budget_warning|Dining|p", now),
		cand("income", core.IncomeVariance, core.Warning, "income_variance|p", now),
		cand("fund", core.EmergencyFund, core.Info, "emergency_fund|p", now),
		cand("low-w", core.LowBalance, core.Warning, "low_balance|d|1", now),
	}, now)

	assert.Equal(t, []string{
		"low-c", "budget-w", "unusual-c", "budget-i", "low-w",
		"unusual-w", "savings", "income", "fund", "summary",
	}, ids(got))
}

func TestAggregate_CapDropsLowestPriority(t *testing.T) {
	a := New(Config{MaxPerPass: 2})
	got := a.Aggregate([]core.Insight{
		cand("savings", core.SavingsOpportunity, core.Info, "s", now),
		cand("low", core.LowBalance, core.Critical, "l", now),
		cand("unusual", core.UnusualSpend, core.Warning, "u", now),
	}, now)
	assert.Equal(t, []string{"low", "unusual"}, ids(got))

	// Capped-out candidates were never emitted and may appear later.
	got = a.Aggregate([]core.Insight{cand("savings", core.SavingsOpportunity, core.Info, "s", now)}, now.Add(time.Minute))
	assert.Equal(t, []string{"savings"}, ids(got))
}

func TestAggregate_DeterministicAcrossInputOrder(t *testing.T) {
	base := []core.Insight{
		cand("1", core.UnusualSpend, core.Warning, "u|A", now),
		cand("2", core.UnusualSpend, core.Warning, "u|B", now),
		cand("3", core.BudgetWarning, core.Info, "b|A", now.Add(time.Minute)),
		cand("4", core.BudgetWarning, core.Info, "b|B", now),
		cand("5", core.SavingsOpportunity, core.Info, "s|A", now),
		cand("6", core.UnusualSpend, core.Critical, "u|A", now.Add(time.Hour)),
		cand("7", core.Summary, core.Info, "sum", now),
	}
	want := New(DefaultConfig()).Aggregate(base, now)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]core.Insight(nil), base...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, New(DefaultConfig()).Aggregate(shuffled, now))
	}
}

func TestAggregate_WindowSuppressesRepeats(t *testing.T) {
	a := New(DefaultConfig())
	key := "unusual_spend|Dining|2024-03-10"

	got := a.Aggregate([]core.Insight{cand("1", core.UnusualSpend, core.Warning, key, now)}, now)
	require.Len(t, got, 1)

	got = a.Aggregate([]core.Insight{cand("2", core.UnusualSpend, core.Warning, key, now)}, now.Add(2*time.Hour))
	assert.Empty(t, got, "same key inside the window")

	got = a.Aggregate([]core.Insight{cand("3", core.UnusualSpend, core.Critical, key, now)}, now.Add(3*time.Hour))
	assert.Empty(t, got, "a larger deviation the same day is not a new alert")

	got = a.Aggregate([]core.Insight{cand("4", core.UnusualSpend, core.Warning, key, now)}, now.Add(28*time.Hour))
	assert.Equal(t, []string{"4"}, ids(got), "window expired")
}

func TestAggregate_BudgetAndBalanceEscalate(t *testing.T) {
	a := New(DefaultConfig())
	budget := "budget_warning|Dining|monthly:2024-03-01"
	balance := "low_balance|2024-03-10|0"

	got := a.Aggregate([]core.Insight{
		cand("1", core.BudgetWarning, core.Info, budget, now),
		cand("2", core.LowBalance, core.Warning, balance, now),
	}, now)
	require.Len(t, got, 2)

	got = a.Aggregate([]core.Insight{
		cand("3", core.BudgetWarning, core.Warning, budget, now),
		cand("4", core.LowBalance, core.Critical, balance, now),
	}, now.Add(2*time.Hour))
	assert.ElementsMatch(t, []string{"3", "4"}, ids(got), "higher band passes the window")

	got = a.Aggregate([]core.Insight{
		cand("5", core.BudgetWarning, core.Info, budget, now),
		cand("6", core.LowBalance, core.Critical, balance, now),
	}, now.Add(3*time.Hour))
	assert.Empty(t, got)
}

func TestMerge_KeepsStrongerEmission(t *testing.T) {
	a := New(DefaultConfig())
	key := "low_balance|2024-03-10|0"
	a.Aggregate([]core.Insight{cand("1", core.LowBalance, core.Warning, key, now)}, now)

	a.Merge([]Emission{
		{DedupKey: key, Kind: core.LowBalance, Severity: core.Critical, At: now.Add(time.Hour)},
		{DedupKey: "unusual_spend|Dining|2024-03-10", Kind: core.UnusualSpend, Severity: core.Warning, At: now},
		{DedupKey: "unusual_spend|Dining|2024-03-08", Kind: core.UnusualSpend, Severity: core.Warning, At: now.Add(-48 * time.Hour)},
	}, now.Add(time.Hour))

	h := a.History()
	require.Len(t, h, 2, "expired emission is dropped")
	assert.Equal(t, core.Critical, h[0].Severity)

	a.Merge([]Emission{{DedupKey: key, Kind: core.LowBalance, Severity: core.Warning, At: now.Add(2 * time.Hour)}}, now.Add(2*time.Hour))
	assert.Equal(t, core.Critical, a.History()[0].Severity)

	assert.Equal(t, 31*24*time.Hour, a.MaxWindow())
}

func TestAggregate_RecommendationWindowIsOnePeriod(t *testing.T) {
	a := New(DefaultConfig())
	key := "savings_opportunity|Dining|monthly:2024-03-01"
	require.Len(t, a.Aggregate([]core.Insight{cand("1", core.SavingsOpportunity, core.Info, key, now)}, now), 1)

	assert.Empty(t, a.Aggregate([]core.Insight{cand("2", core.SavingsOpportunity, core.Info, key, now)}, now.Add(10*24*time.Hour)))
	assert.Len(t, a.Aggregate([]core.Insight{cand("3", core.SavingsOpportunity, core.Info, key, now)}, now.Add(32*24*time.Hour)), 1)

	weekly := New(Config{Period: core.Weekly})
	assert.Equal(t, 7*24*time.Hour, weekly.Window(core.Summary))
	custom := New(Config{Windows: map[core.Kind]time.Duration{core.LowBalance: time.Hour}})
	assert.Equal(t, time.Hour, custom.Window(core.LowBalance))
	assert.Equal(t, 24*time.Hour, custom.Window(core.BudgetWarning))
}

func TestHistoryRestore(t *testing.T) {
	a := New(DefaultConfig())
	a.Aggregate([]core.Insight{
		cand("1", core.LowBalance, core.Critical, "low_balance|2024-03-10|0", now),
		cand("2", core.SavingsOpportunity, core.Info, "savings_opportunity|Dining|p", now),
	}, now)
	h := a.History()
	require.Len(t, h, 2)
	assert.Equal(t, "low_balance|2024-03-10|0", h[0].DedupKey)

	b := New(DefaultConfig())
	b.Restore(h, now.Add(48*time.Hour))
	assert.Len(t, b.History(), 1, "expired alert is pruned on restore")

	got := b.Aggregate([]core.Insight{cand("3", core.SavingsOpportunity, core.Info, "savings_opportunity|Dining|p", now)}, now.Add(48*time.Hour))
	assert.Empty(t, got)
}
