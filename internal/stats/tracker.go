// Package stats maintains per-category running statistics for one user.
//
// The Tracker is fed transactions in non-decreasing timestamp order and keeps
// Welford accumulators for the open period plus a bounded list of archived
// periods. It holds no transaction history. A Tracker is not safe for
// concurrent use; callers serialise access per user.
package stats

import (
	"fmt"
	"sort"
	"time"

	"ledgerlens/internal/core"
)

// Config controls period length and how many closed periods are retained.
type Config struct {
	Period    core.PeriodKind
	Retention int
}

func DefaultConfig() Config {
	return Config{Period: core.Monthly, Retention: 12}
}

type Tracker struct {
	cfg Config

	started bool
	period  core.Period
	current map[string]*core.CategoryStats
	income  core.Money
	spend   core.Money

	archives []core.PeriodArchive // oldest first
	pending  []core.PeriodArchive // archived since the last Drain

	lastSeen   time.Time
	seenAtLast map[string]struct{}

	budgets map[string]core.BudgetThreshold
	pinned  map[time.Time]map[string]core.BudgetThreshold // by period start
}

func NewTracker(cfg Config) *Tracker {
	if cfg.Period == "" {
		cfg.Period = core.Monthly
	}
	if cfg.Retention < 1 {
		cfg.Retention = 1
	}
	return &Tracker{
		cfg:        cfg,
		current:    make(map[string]*core.CategoryStats),
		seenAtLast: make(map[string]struct{}),
	}
}

// Update folds one transaction into its category's running statistics and
// returns the updated stats. Transactions older than the last one seen, or
// repeating an id already applied at the last timestamp, are rejected with
// core.ErrOutOfOrderData and leave the tracker untouched.
func (t *Tracker) Update(tx core.Transaction) (core.CategoryStats, error) {
	if err := tx.Validate(); err != nil {
		return core.CategoryStats{}, fmt.Errorf("validate transaction %s: %w", tx.ID, err)
	}
	ts := tx.Timestamp.UTC()

	if t.started {
		if ts.Before(t.lastSeen) {
			return core.CategoryStats{}, fmt.Errorf("%w: transaction %s at %s precedes last seen %s",
				core.ErrOutOfOrderData, tx.ID, ts.Format(time.RFC3339), t.lastSeen.Format(time.RFC3339))
		}
		if ts.Equal(t.lastSeen) {
			if _, dup := t.seenAtLast[tx.ID]; dup {
				return core.CategoryStats{}, fmt.Errorf("%w: duplicate transaction %s", core.ErrOutOfOrderData, tx.ID)
			}
		}
		if ts.Before(t.period.Start) {
			return core.CategoryStats{}, fmt.Errorf("%w: transaction %s falls in closed period before %s",
				core.ErrOutOfOrderData, tx.ID, t.period.Key())
		}
	}

	target := core.PeriodFor(t.cfg.Period, ts)
	switch {
	case !t.started:
		t.started = true
		t.period = target
	case !t.period.Contains(ts):
		t.advanceTo(target)
	}

	st, ok := t.current[tx.Category]
	if !ok {
		st = &core.CategoryStats{
			Category:    tx.Category,
			PeriodStart: t.period.Start,
			PeriodEnd:   t.period.End,
		}
		t.current[tx.Category] = st
	}

	if tx.IsSpend() {
		amount := tx.Amount.Abs()
		observe(st, amount.Float64())
		st.TotalSpent = st.TotalSpent.Add(amount)
		t.spend = t.spend.Add(amount)
	} else {
		// A credit in a category that already has spend this period is a
		// refund; whatever exceeds that spend is income.
		credit := tx.Amount
		refund := credit
		if refund.Cents > st.TotalSpent.Cents {
			refund = st.TotalSpent
		}
		st.TotalSpent = st.TotalSpent.Sub(refund)
		st.Income = st.Income.Add(credit.Sub(refund))
		t.spend = t.spend.Sub(refund)
		t.income = t.income.Add(credit.Sub(refund))
	}

	if ts.After(t.lastSeen) {
		t.lastSeen = ts
		t.seenAtLast = make(map[string]struct{})
	}
	t.seenAtLast[tx.ID] = struct{}{}

	return *st, nil
}

// Snapshot returns the stats of category in the given period, open or
// archived. core.ErrNotFound is returned when nothing was recorded.
func (t *Tracker) Snapshot(category string, period core.Period) (core.CategoryStats, error) {
	if t.started && t.period.Start.Equal(period.Start) {
		if st, ok := t.current[category]; ok {
			return *st, nil
		}
		return core.CategoryStats{}, fmt.Errorf("%w: no stats for %q in %s", core.ErrNotFound, category, period.Key())
	}
	for _, a := range t.archives {
		if a.Period.Start.Equal(period.Start) {
			if st, ok := a.Categories[category]; ok {
				return st, nil
			}
			break
		}
	}
	return core.CategoryStats{}, fmt.Errorf("%w: no stats for %q in %s", core.ErrNotFound, category, period.Key())
}

// Baseline returns the rolling spend baseline of a category: the open period
// merged with every retained archive.
func (t *Tracker) Baseline(category string) (core.CategoryStats, error) {
	var out core.CategoryStats
	for _, a := range t.archives {
		if st, ok := a.Categories[category]; ok {
			out = Merge(out, st)
		}
	}
	if st, ok := t.current[category]; ok {
		out = Merge(out, *st)
	}
	if out.Count == 0 {
		return core.CategoryStats{}, fmt.Errorf("%w: no spend recorded for %q", core.ErrNotFound, category)
	}
	return out, nil
}

// RollPeriod archives the open period and starts the one beginning at
// periodEnd. periodEnd must not fall inside the open period.
func (t *Tracker) RollPeriod(periodEnd time.Time) error {
	periodEnd = periodEnd.UTC()
	if !t.started {
		t.started = true
		t.period = core.PeriodFor(t.cfg.Period, periodEnd)
		return nil
	}
	if periodEnd.Before(t.lastSeen) {
		return fmt.Errorf("%w: roll at %s precedes last seen %s",
			core.ErrOutOfOrderData, periodEnd.Format(time.RFC3339), t.lastSeen.Format(time.RFC3339))
	}
	if periodEnd.Before(t.period.End) {
		return fmt.Errorf("%w: period %s is still open at %s",
			core.ErrInvalidPeriod, t.period.Key(), periodEnd.Format(time.RFC3339))
	}
	t.advanceTo(core.PeriodFor(t.cfg.Period, periodEnd))
	return nil
}

// Rebaseline discards all state and replays txs in timestamp order. It is the
// only way to accept history that arrives out of order. Repeated ids are
// counted once.
func (t *Tracker) Rebaseline(txs []core.Transaction) (int, error) {
	budgets, pinned := t.budgets, t.pinned
	*t = *NewTracker(t.cfg)
	t.budgets, t.pinned = budgets, pinned
	applied := 0
	for _, tx := range Ordered(txs) {
		if _, err := t.Update(tx); err != nil {
			return applied, fmt.Errorf("replay transaction %s: %w", tx.ID, err)
		}
		applied++
	}
	return applied, nil
}

// SetBudgets records the thresholds in effect now. They are copied into the
// archive of every period that closes until the next call.
func (t *Tracker) SetBudgets(budgets map[string]core.BudgetThreshold) {
	t.budgets = copyBudgets(budgets)
}

// PinBudgets fixes the thresholds archived with the period starting at start,
// overriding SetBudgets for that period. It restores what an earlier close
// recorded.
func (t *Tracker) PinBudgets(start time.Time, budgets map[string]core.BudgetThreshold) {
	if t.pinned == nil {
		t.pinned = make(map[time.Time]map[string]core.BudgetThreshold)
	}
	t.pinned[start.UTC()] = copyBudgets(budgets)
}

// Clone returns an independent copy. A pass works on a clone and keeps it
// only once its results are delivered.
func (t *Tracker) Clone() *Tracker {
	out := *t
	out.current = make(map[string]*core.CategoryStats, len(t.current))
	for k, st := range t.current {
		cp := *st
		out.current[k] = &cp
	}
	out.archives = make([]core.PeriodArchive, len(t.archives))
	for i, a := range t.archives {
		out.archives[i] = a.Clone()
	}
	out.pending = append([]core.PeriodArchive(nil), t.pending...)
	out.seenAtLast = make(map[string]struct{}, len(t.seenAtLast))
	for id := range t.seenAtLast {
		out.seenAtLast[id] = struct{}{}
	}
	if t.pinned != nil {
		out.pinned = make(map[time.Time]map[string]core.BudgetThreshold, len(t.pinned))
		for k, v := range t.pinned {
			out.pinned[k] = v
		}
	}
	return &out
}

// Ordered returns a copy of txs sorted by timestamp with repeated ids removed.
// The first occurrence of an id wins.
func Ordered(txs []core.Transaction) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	seen := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		if _, dup := seen[tx.ID]; dup {
			continue
		}
		seen[tx.ID] = struct{}{}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Applied reports whether tx was already applied at the last seen timestamp.
// Ledger reads resume at LastSeen, so those transactions come back once.
func (t *Tracker) Applied(tx core.Transaction) bool {
	if !t.started || !tx.Timestamp.UTC().Equal(t.lastSeen) {
		return false
	}
	_, ok := t.seenAtLast[tx.ID]
	return ok
}

// LastSeen is the timestamp of the newest applied transaction.
func (t *Tracker) LastSeen() time.Time {
	return t.lastSeen
}

// Period returns the open period; zero before the first transaction.
func (t *Tracker) Period() core.Period {
	return t.period
}

// Archives returns copies of the retained archives, oldest first.
func (t *Tracker) Archives() []core.PeriodArchive {
	out := make([]core.PeriodArchive, len(t.archives))
	for i, a := range t.archives {
		out[i] = a.Clone()
	}
	return out
}

// Archive returns the archived period starting at period.Start.
func (t *Tracker) Archive(period core.Period) (core.PeriodArchive, error) {
	for _, a := range t.archives {
		if a.Period.Start.Equal(period.Start) {
			return a.Clone(), nil
		}
	}
	return core.PeriodArchive{}, fmt.Errorf("%w: no archive for %s", core.ErrNotFound, period.Key())
}

// DrainArchived returns the periods archived since the previous call so
// they can be handed to the storage collaborator.
func (t *Tracker) DrainArchived() []core.PeriodArchive {
	out := t.pending
	t.pending = nil
	return out
}

// View returns an immutable copy of the tracker state for rule evaluation.
func (t *Tracker) View() View {
	v := View{
		Period:   t.period,
		Current:  make(map[string]core.CategoryStats, len(t.current)),
		Income:   t.income,
		Spend:    t.spend,
		Archives: t.Archives(),
		LastSeen: t.lastSeen,
	}
	for k, st := range t.current {
		v.Current[k] = *st
	}
	return v
}

func (t *Tracker) advanceTo(target core.Period) {
	t.closePeriod()
	next := t.period.Next()

	// Empty periods further back than the retention window would be evicted
	// immediately, so start filling from the oldest one that survives.
	oldest := target
	for i := 0; i < t.cfg.Retention && oldest.Start.After(next.Start); i++ {
		oldest = oldest.Prev()
	}
	if oldest.Start.After(next.Start) {
		next = oldest
	}

	for next.Start.Before(target.Start) {
		t.period = next
		t.closePeriod()
		next = next.Next()
	}
	t.period = target
}

func (t *Tracker) closePeriod() {
	archive := core.PeriodArchive{
		Period:     t.period,
		Categories: make(map[string]core.CategoryStats, len(t.current)),
		Income:     t.income,
		Spend:      t.spend,
		Budgets:    copyBudgets(t.budgets),
	}
	if pinned, ok := t.pinned[t.period.Start]; ok {
		archive.Budgets = copyBudgets(pinned)
	}
	for k, st := range t.current {
		archive.Categories[k] = *st
	}

	t.archives = append(t.archives, archive)
	if len(t.archives) > t.cfg.Retention {
		t.archives = append([]core.PeriodArchive(nil), t.archives[len(t.archives)-t.cfg.Retention:]...)
	}
	t.pending = append(t.pending, archive.Clone())

	t.current = make(map[string]*core.CategoryStats)
	t.income = core.Money{}
	t.spend = core.Money{}
}

func copyBudgets(in map[string]core.BudgetThreshold) map[string]core.BudgetThreshold {
	if in == nil {
		return nil
	}
	out := make(map[string]core.BudgetThreshold, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
