package rules

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerlens/internal/core"
	"ledgerlens/internal/stats"
)

var day0 = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

type fixture struct {
	t       *testing.T
	tracker *stats.Tracker
	eval    *Evaluator
	seq     int
}

func newFixture(t *testing.T, cfg Config) *fixture {
	return &fixture{t: t, tracker: stats.NewTracker(stats.DefaultConfig()), eval: NewEvaluator(cfg)}
}

// apply feeds txs through the tracker the way a pass does and returns the
// observations it would hand to the rules.
func (f *fixture) apply(txs ...core.Transaction) []Observation {
	f.t.Helper()
	obs := make([]Observation, 0, len(txs))
	for _, tx := range txs {
		before, err := f.tracker.Baseline(tx.Category)
		hasBase := err == nil
		after, err := f.tracker.Update(tx)
		require.NoError(f.t, err)
		obs = append(obs, Observation{Tx: tx, Before: before, HasBaseline: hasBase, After: after, Emit: true})
	}
	return obs
}

func (f *fixture) pass(in Input) []core.Insight {
	f.t.Helper()
	in.UserID = "u1"
	in.View = f.tracker.View()
	if in.Now.IsZero() {
		in.Now = f.tracker.LastSeen()
	}
	out, err := f.eval.Evaluate(context.Background(), in)
	require.NoError(f.t, err)
	return out
}

func (f *fixture) tx(at time.Time, category string, amount float64) core.Transaction {
	f.seq++
	return core.Transaction{
		ID:        fmt.Sprintf("tx-%03d", f.seq),
		Timestamp: at,
		Amount:    core.MoneyFromFloat(amount),
		Category:  category,
	}
}

func ofKind(in []core.Insight, k core.Kind) []core.Insight {
	var out []core.Insight
	for _, i := range in {
		if i.Kind == k {
			out = append(out, i)
		}
	}
	return out
}

func TestUnusualSpend_DiningScenario(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	var history []core.Transaction
	for i, amt := range []float64{20, 22, 18, 21, 19} {
		history = append(history, f.tx(day0.Add(time.Duration(i)*time.Hour), "Dining", -amt))
	}
	f.apply(history...)

	obs := f.apply(f.tx(day0.Add(10*time.Hour), "Dining", -80))
	got := ofKind(f.pass(Input{Observations: obs}), core.UnusualSpend)

	require.Len(t, got, 1)
	assert.Equal(t, core.Critical, got[0].Severity)
	assert.Equal(t, "unusual_spend|Dining|2024-03-04", got[0].DedupKey)

	p := got[0].Payload.(core.UnusualSpendPayload)
	assert.InDelta(t, 37.95, p.ZScore, 0.01)
	assert.Equal(t, int64(5), p.SampleSize, "baseline must exclude the transaction under test")
	assert.InDelta(t, 20.0, p.BaselineMean, 1e-9)
}

func TestUnusualSpend_Abstains(t *testing.T) {
	t.Run("sparse history", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.apply(f.tx(day0, "Dining", -20), f.tx(day0.Add(time.Hour), "Dining", -22))
		obs := f.apply(f.tx(day0.Add(2*time.Hour), "Dining", -500))
		assert.Empty(t, ofKind(f.pass(Input{Observations: obs}), core.UnusualSpend))
	})

	t.Run("zero deviation", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		for i := 0; i < 6; i++ {
			f.apply(f.tx(day0.Add(time.Duration(i)*time.Hour), "Rent", -900))
		}
		obs := f.apply(f.tx(day0.Add(8*time.Hour), "Rent", -5000))
		assert.Empty(t, ofKind(f.pass(Input{Observations: obs}), core.UnusualSpend))
	})

	t.Run("no baseline", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		obs := f.apply(f.tx(day0, "Travel", -900))
		assert.Empty(t, ofKind(f.pass(Input{Observations: obs}), core.UnusualSpend))
	})
}

func TestUnusualSpend_LargestDeviationPerDayWins(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	for i, amt := range []float64{20, 22, 18, 21, 19, 20} {
		f.apply(f.tx(day0.Add(time.Duration(i)*time.Hour), "Dining", -amt))
	}
	obs := f.apply(
		f.tx(day0.Add(10*time.Hour), "Dining", -27),
		f.tx(day0.Add(11*time.Hour), "Dining", -90),
		f.tx(day0.Add(12*time.Hour), "Dining", -30),
	)
	got := ofKind(f.pass(Input{Observations: obs}), core.UnusualSpend)
	require.Len(t, got, 1)
	assert.Equal(t, "tx-008", got[0].Payload.(core.UnusualSpendPayload).TransactionID)
}

func TestBudget_Scenario(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	thresholds := map[string]core.BudgetThreshold{
		"Dining": {Category: "Dining", Limit: core.MoneyFromFloat(200), Period: core.Monthly},
	}

	obs := f.apply(f.tx(day0, "Dining", -100), f.tx(day0.Add(time.Hour), "Dining", -70))
	got := ofKind(f.pass(Input{Observations: obs, Thresholds: thresholds}), core.BudgetWarning)
	require.Len(t, got, 1)
	assert.Equal(t, core.Info, got[0].Severity)
	assert.InDelta(t, 0.85, got[0].Payload.(core.BudgetPayload).Ratio, 1e-9)

	obs = f.apply(f.tx(day0.Add(2*time.Hour), "Dining", -40))
	got = ofKind(f.pass(Input{Observations: obs, Thresholds: thresholds}), core.BudgetWarning)
	require.Len(t, got, 1)
	assert.Equal(t, core.Warning, got[0].Severity)
	assert.True(t, got[0].Payload.(core.BudgetPayload).Exceeded)
	assert.Equal(t, "budget_warning|Dining|monthly:2024-03-01", got[0].DedupKey)

	obs = f.apply(f.tx(day0.Add(3*time.Hour), "Dining", -5))
	assert.Empty(t, ofKind(f.pass(Input{Observations: obs, Thresholds: thresholds}), core.BudgetWarning))

	// A refund lowers the ratio but never re-arms the band.
	obs = f.apply(f.tx(day0.Add(4*time.Hour), "Dining", 60), f.tx(day0.Add(5*time.Hour), "Dining", -60))
	assert.Empty(t, ofKind(f.pass(Input{Observations: obs, Thresholds: thresholds}), core.BudgetWarning))

	// Next month starts over.
	obs = f.apply(f.tx(time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), "Dining", -190))
	got = ofKind(f.pass(Input{Observations: obs, Thresholds: thresholds}), core.BudgetWarning)
	require.Len(t, got, 1)
	assert.Equal(t, core.Info, got[0].Severity)
	assert.Equal(t, "budget_warning|Dining|monthly:2024-04-01", got[0].DedupKey)
}

func TestClone_KeepsRuleStateApart(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	thresholds := map[string]core.BudgetThreshold{
		"Dining": {Category: "Dining", Limit: core.MoneyFromFloat(200), Period: core.Monthly},
	}
	low := core.MoneyFromFloat(20)
	obs := f.apply(f.tx(day0, "Dining", -170))

	clone := f.eval.Clone()
	got, err := clone.Evaluate(context.Background(), Input{
		UserID: "u1", Now: day0, View: f.tracker.View(),
		Observations: obs, Thresholds: thresholds, Balance: &low,
	})
	require.NoError(t, err)
	require.Len(t, ofKind(got, core.BudgetWarning), 1)
	require.Len(t, ofKind(got, core.LowBalance), 1)

	// The discarded clone's bands and balance level do not leak back.
	got = f.pass(Input{Now: day0, Observations: obs, Thresholds: thresholds, Balance: &low})
	assert.Len(t, ofKind(got, core.BudgetWarning), 1)
	assert.Len(t, ofKind(got, core.LowBalance), 1)
}

func TestBudget_Abstains(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	thresholds := map[string]core.BudgetThreshold{
		"Dining": {Category: "Dining", Limit: core.Money{}},
		"Travel": {Category: "Travel", Limit: core.MoneyFromFloat(100), Period: core.Weekly},
	}
	obs := f.apply(
		f.tx(day0, "Dining", -500),
		f.tx(day0.Add(time.Hour), "Groceries", -500),
		f.tx(day0.Add(2*time.Hour), "Travel", -500),
	)
	assert.Empty(t, ofKind(f.pass(Input{Observations: obs, Thresholds: thresholds}), core.BudgetWarning))
}

func TestLowBalance_EdgeTriggered(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	balance := func(v float64) *core.Money {
		m := core.MoneyFromFloat(v)
		return &m
	}

	got := ofKind(f.pass(Input{Now: day0, Balance: balance(150)}), core.LowBalance)
	assert.Empty(t, got)

	got = ofKind(f.pass(Input{Now: day0.Add(time.Hour), Balance: balance(40)}), core.LowBalance)
	require.Len(t, got, 1)
	assert.Equal(t, core.Critical, got[0].Severity)
	first := got[0].DedupKey

	got = ofKind(f.pass(Input{Now: day0.Add(2 * time.Hour), Balance: balance(35)}), core.LowBalance)
	assert.Empty(t, got, "level unchanged must not re-fire")

	got = ofKind(f.pass(Input{Now: day0.Add(3 * time.Hour), Balance: balance(60)}), core.LowBalance)
	assert.Empty(t, got, "recovery does not alert")

	got = ofKind(f.pass(Input{Now: day0.Add(4 * time.Hour), Balance: balance(30)}), core.LowBalance)
	require.Len(t, got, 1)
	assert.Equal(t, core.Critical, got[0].Severity)
	assert.NotEqual(t, first, got[0].DedupKey)
}

func TestLowBalance_UsesTransactionBalances(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	tx := f.tx(day0, "Groceries", -30)
	b := core.MoneyFromFloat(55)
	tx.BalanceAfter = &b

	got := ofKind(f.pass(Input{Observations: f.apply(tx)}), core.LowBalance)
	require.Len(t, got, 1)
	assert.Equal(t, core.Warning, got[0].Severity)
	assert.Equal(t, day0, got[0].GeneratedAt)
}

func TestLowBalance_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LowBalanceThreshold = core.Money{}
	f := newFixture(t, cfg)
	b := core.MoneyFromFloat(1)
	assert.Empty(t, ofKind(f.pass(Input{Now: day0, Balance: &b}), core.LowBalance))
}

func TestSavingsOpportunity(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	// Three archived months with a volatile Shopping series.
	for m, shop := range []float64{10, 400, 30} {
		at := time.Date(2024, time.Month(m+1), 10, 0, 0, 0, 0, time.UTC)
		f.apply(f.tx(at, "Shopping", -shop), f.tx(at.Add(time.Hour), "Dining", -100))
	}
	at := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
	f.apply(
		f.tx(at, "Rent", -1200),
		f.tx(at.Add(time.Hour), "Shopping", -150),
		f.tx(at.Add(2*time.Hour), "Dining", -150),
		f.tx(at.Add(3*time.Hour), "Travel", -250),
		f.tx(at.Add(4*time.Hour), "Coffee", -20),
	)

	got := f.pass(Input{
		Fixed:      map[string]bool{"Rent": true},
		Thresholds: map[string]core.BudgetThreshold{"Travel": {Category: "Travel", Limit: core.MoneyFromFloat(300)}},
	})
	got = ofKind(got, core.SavingsOpportunity)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"Travel", "Dining", "Shopping"}, []string{got[0].Category, got[1].Category, got[2].Category})

	travel := got[0].Payload.(core.SavingsPayload)
	assert.Equal(t, 1, travel.Rank)
	assert.False(t, travel.SuggestBudget, "already budgeted")

	dining := got[1].Payload.(core.SavingsPayload)
	assert.False(t, dining.SuggestBudget)
	assert.Equal(t, 3, dining.ComparedPeriods)

	shopping := got[2].Payload.(core.SavingsPayload)
	assert.True(t, shopping.SuggestBudget)
	assert.Equal(t, reasonIrregular, shopping.BudgetReason)
	assert.Greater(t, shopping.Variation, 0.5)
	assert.Equal(t, "savings_opportunity|Shopping|monthly:2024-04-01", got[2].DedupKey)
}

func TestSavingsOpportunity_UnbudgetedLimit(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.apply(f.tx(day0, "Electronics", -650))

	got := ofKind(f.pass(Input{}), core.SavingsOpportunity)
	require.Len(t, got, 1)
	p := got[0].Payload.(core.SavingsPayload)
	assert.True(t, p.SuggestBudget)
	assert.Equal(t, reasonUnbudgeted, p.BudgetReason)
}

func TestIncomeVariance(t *testing.T) {
	tests := []struct {
		name      string
		history   []float64
		current   float64
		wantDir   string
		wantSev   core.Severity
		wantFund  bool
		wantNoVar bool
	}{
		{name: "within band", history: []float64{3000, 3000, 3000}, current: 2800, wantNoVar: true},
		{name: "low income", history: []float64{3000, 3000, 3000}, current: 1500, wantDir: "low", wantSev: core.Warning},
		{name: "high income", history: []float64{3000, 3000, 3000}, current: 4500, wantDir: "high", wantSev: core.Info},
		{name: "irregular source", history: []float64{500, 4000, 900}, current: 1800, wantNoVar: true, wantFund: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			for m, inc := range tt.history {
				f.apply(f.tx(time.Date(2024, time.Month(m+1), 1, 9, 0, 0, 0, time.UTC), "Salary", inc))
			}
			f.apply(f.tx(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC), "Salary", tt.current))

			got := f.pass(Input{})
			variance := ofKind(got, core.IncomeVariance)
			if tt.wantNoVar {
				assert.Empty(t, variance)
			} else {
				require.Len(t, variance, 1)
				assert.Equal(t, tt.wantSev, variance[0].Severity)
				assert.Equal(t, tt.wantDir, variance[0].Payload.(core.IncomeVariancePayload).Direction)
				assert.Equal(t, "income_variance|monthly:2024-04-01", variance[0].DedupKey)
			}
			assert.Equal(t, tt.wantFund, len(ofKind(got, core.EmergencyFund)) == 1)
		})
	}
}

func TestIncomeVariance_NeedsFullWindow(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.apply(f.tx(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), "Salary", 3000))
	f.apply(f.tx(time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC), "Salary", 100))
	assert.Empty(t, ofKind(f.pass(Input{}), core.IncomeVariance))
}

func TestEvaluate_SkipsReplayedObservations(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	thresholds := map[string]core.BudgetThreshold{"Dining": {Category: "Dining", Limit: core.MoneyFromFloat(100)}}
	obs := f.apply(f.tx(day0, "Dining", -90))
	obs[0].Emit = false

	assert.Empty(t, ofKind(f.pass(Input{Observations: obs, Thresholds: thresholds}), core.BudgetWarning))

	// State still advanced: the same band is not issued again.
	obs = f.apply(f.tx(day0.Add(time.Hour), "Dining", -1))
	assert.Empty(t, ofKind(f.pass(Input{Observations: obs, Thresholds: thresholds}), core.BudgetWarning))
}

func TestEvaluate_IsDeterministic(t *testing.T) {
	run := func() []core.Insight {
		f := newFixture(t, DefaultConfig())
		for i, amt := range []float64{20, 22, 18, 21, 19} {
			f.apply(f.tx(day0.Add(time.Duration(i)*time.Hour), "Dining", -amt))
		}
		obs := f.apply(f.tx(day0.Add(9*time.Hour), "Dining", -80), f.tx(day0.Add(10*time.Hour), "Bars", -60))
		return f.pass(Input{Observations: obs})
	}
	assert.Equal(t, run(), run())
}

func TestEvaluate_RuleFailureIsLocal(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	e.budget = nil // budget rule panics on nil state

	tr := stats.NewTracker(stats.DefaultConfig())
	_, err := tr.Update(core.Transaction{ID: "a", Timestamp: day0, Amount: core.MoneyFromFloat(-300), Category: "Gadgets"})
	require.NoError(t, err)

	got, err := e.Evaluate(context.Background(), Input{
		UserID: "u1",
		Now:    day0,
		View:   tr.View(),
		Observations: []Observation{{
			Tx:    core.Transaction{ID: "a", Category: "Gadgets"},
			After: core.CategoryStats{Category: "Gadgets", TotalSpent: core.MoneyFromFloat(300)},
			Emit:  true,
		}},
		Thresholds: map[string]core.BudgetThreshold{"Gadgets": {Category: "Gadgets", Limit: core.MoneyFromFloat(10)}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget_threshold")
	assert.NotEmpty(t, ofKind(got, core.SavingsOpportunity), "other rules still report")
}

func TestEvaluate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEvaluator(DefaultConfig()).Evaluate(ctx, Input{})
	assert.True(t, errors.Is(err, context.Canceled))
}
