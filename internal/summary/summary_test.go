package summary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerlens/internal/core"
	"ledgerlens/internal/stats"
)

func feed(t *testing.T, tr *stats.Tracker, txs ...core.Transaction) {
	t.Helper()
	for _, tx := range txs {
		_, err := tr.Update(tx)
		require.NoError(t, err)
	}
}

func tx(id string, at time.Time, category string, amount float64) core.Transaction {
	return core.Transaction{ID: id, Timestamp: at, Amount: core.MoneyFromFloat(amount), Category: category}
}

var march = core.PeriodFor(core.Monthly, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

func TestGenerate_NoPriorData(t *testing.T) {
	tr := stats.NewTracker(stats.DefaultConfig())
	feed(t, tr,
		tx("1", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "Salary", 2000),
		tx("2", time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), "Dining", -300),
		tx("3", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "Groceries", -320),
	)

	ins, err := Generate("u1", tr.View(), march, nil)
	require.NoError(t, err)

	p := ins.Payload.(core.SummaryPayload)
	assert.True(t, p.NoPriorData)
	assert.Nil(t, p.SpendDeltaPct)
	assert.Nil(t, p.PriorSpend)
	assert.Equal(t, "Groceries", p.TopCategory)
	assert.Equal(t, int64(62000), p.TotalSpend.Cents)
	assert.Equal(t, int64(138000), p.Saved.Cents)
	assert.True(t, p.Deficit.IsZero())
	assert.Equal(t, core.Info, ins.Severity)
	assert.Equal(t, "summary|monthly:2024-03-01", ins.DedupKey)
	assert.Equal(t, march.End, ins.GeneratedAt)
	assert.Equal(t, int64(2000), p.AvgDailySpend.Cents)
	require.Len(t, p.Breakdown, 2)
	assert.InDelta(t, 51.61, p.Breakdown[0].Share, 0.01)
}

func TestGenerate_PriorPeriodDelta(t *testing.T) {
	tr := stats.NewTracker(stats.DefaultConfig())
	feed(t, tr,
		tx("1", time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), "Dining", -400),
		tx("2", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), "Dining", -500),
	)

	ins, err := Generate("u1", tr.View(), march, nil)
	require.NoError(t, err)
	p := ins.Payload.(core.SummaryPayload)
	assert.False(t, p.NoPriorData)
	require.NotNil(t, p.SpendDeltaPct)
	assert.InDelta(t, 25.0, *p.SpendDeltaPct, 1e-9)
	assert.Equal(t, int64(40000), p.PriorSpend.Cents)
}

func TestGenerate_PriorPeriodWithoutSpend(t *testing.T) {
	tr := stats.NewTracker(stats.DefaultConfig())
	feed(t, tr,
		tx("1", time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), "Salary", 1000),
		tx("2", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), "Dining", -500),
	)
	ins, err := Generate("u1", tr.View(), march, nil)
	require.NoError(t, err)
	p := ins.Payload.(core.SummaryPayload)
	assert.True(t, p.NoPriorData, "zero prior spend has no percentage")
	require.NotNil(t, p.PriorSpend)
	assert.True(t, p.PriorSpend.IsZero())
}

func TestGenerate_DeficitIsNotNegativeSavings(t *testing.T) {
	tr := stats.NewTracker(stats.DefaultConfig())
	feed(t, tr,
		tx("1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "Salary", 1000),
		tx("2", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "Travel", -1500),
	)
	ins, err := Generate("u1", tr.View(), march, nil)
	require.NoError(t, err)
	p := ins.Payload.(core.SummaryPayload)
	assert.True(t, p.Saved.IsZero())
	assert.Equal(t, int64(50000), p.Deficit.Cents)
	assert.Equal(t, core.Warning, ins.Severity)
	require.NotNil(t, p.SavingsRate)
	assert.InDelta(t, -50.0, *p.SavingsRate, 1e-9)
}

func TestGenerate_IdempotentForClosedPeriod(t *testing.T) {
	tr := stats.NewTracker(stats.DefaultConfig())
	feed(t, tr,
		tx("1", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "Salary", 3000),
		tx("2", time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), "Dining", -120.5),
	)
	require.NoError(t, tr.RollPeriod(march.End))

	first, err := Generate("u1", tr.View(), march, nil)
	require.NoError(t, err)

	feed(t, tr, tx("3", time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), "Dining", -99))
	second, err := Generate("u1", tr.View(), march, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, core.InsightID("u1", "summary|monthly:2024-03-01"), first.ID)
}

func TestGenerate_IncomeBreakdown(t *testing.T) {
	tr := stats.NewTracker(stats.DefaultConfig())
	feed(t, tr,
		tx("1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "Salary", 3000),
		tx("2", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "Freelance", 1000),
		tx("3", time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), "Dining", -200),
		tx("4", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "Dining", 50), // refund
	)

	ins, err := Generate("u1", tr.View(), march, nil)
	require.NoError(t, err)
	p := ins.Payload.(core.SummaryPayload)
	assert.Equal(t, []core.IncomeShare{
		{Category: "Salary", Received: core.MoneyFromFloat(3000), Share: 75},
		{Category: "Freelance", Received: core.MoneyFromFloat(1000), Share: 25},
	}, p.IncomeBreakdown, "refunds are not income")
	assert.Equal(t, int64(400000), p.TotalIncome.Cents)
}

func TestGenerate_ClosedPeriodUsesArchivedBudgets(t *testing.T) {
	tr := stats.NewTracker(stats.DefaultConfig())
	tight := map[string]core.BudgetThreshold{"Dining": {Category: "Dining", Limit: core.MoneyFromFloat(2700)}}
	loose := map[string]core.BudgetThreshold{"Dining": {Category: "Dining", Limit: core.MoneyFromFloat(20000)}}

	tr.SetBudgets(tight)
	feed(t, tr,
		tx("in", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "Salary", 3000),
		tx("out", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "Dining", -2600),
	)
	open, err := Generate("u1", tr.View(), march, loose)
	require.NoError(t, err)
	assert.Equal(t, 90, open.Payload.(core.SummaryPayload).HealthScore, "open period uses the given budgets")

	require.NoError(t, tr.RollPeriod(march.End))
	closed, err := Generate("u1", tr.View(), march, loose)
	require.NoError(t, err)
	assert.Equal(t, 70, closed.Payload.(core.SummaryPayload).HealthScore, "closed period keeps its own budgets")
}

func TestGenerate_UnknownPeriod(t *testing.T) {
	tr := stats.NewTracker(stats.DefaultConfig())
	_, err := Generate("u1", tr.View(), march, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestHealthScore(t *testing.T) {
	tests := []struct {
		name       string
		income     float64
		spend      float64
		thresholds map[string]core.BudgetThreshold
		wantScore  int
		wantBand   string
	}{
		{
			name:       "saver within budget",
			income:     3000,
			spend:      1000,
			thresholds: map[string]core.BudgetThreshold{"Dining": {Category: "Dining", Limit: core.MoneyFromFloat(2000)}},
			wantScore:  100,
			wantBand:   BandExcellent,
		},
		{
			name:      "no budgets",
			income:    3000,
			spend:     2500,
			wantScore: 55,
			wantBand:  BandGood,
		},
		{
			name:       "tight budget",
			income:     3000,
			spend:      2600,
			thresholds: map[string]core.BudgetThreshold{"Dining": {Category: "Dining", Limit: core.MoneyFromFloat(2700)}},
			wantScore:  70,
			wantBand:   BandGood,
		},
		{
			name:       "overspent",
			income:     1000,
			spend:      1200,
			thresholds: map[string]core.BudgetThreshold{"Dining": {Category: "Dining", Limit: core.MoneyFromFloat(500)}},
			wantScore:  25,
			wantBand:   BandNeedsAttention,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := stats.NewTracker(stats.DefaultConfig())
			feed(t, tr,
				tx("in", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "Salary", tt.income),
				tx("out", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "Dining", -tt.spend),
			)
			ins, err := Generate("u1", tr.View(), march, tt.thresholds)
			require.NoError(t, err)
			p := ins.Payload.(core.SummaryPayload)
			assert.Equal(t, tt.wantScore, p.HealthScore)
			assert.Equal(t, tt.wantBand, p.HealthBand)
		})
	}
}
