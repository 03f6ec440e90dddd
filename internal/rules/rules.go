// Package rules evaluates the fixed set of detection and recommendation rules
// over one analytical pass.
//
// Rules are closed variants of Rule rather than registered plugins; adding a
// rule means adding a variant and a case to Evaluator.run. Each stateful rule
// owns its state and is driven by exactly one goroutine per pass.
package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ledgerlens/internal/core"
	"ledgerlens/internal/stats"
)

type Rule int

const (
	RuleUnusualSpend Rule = iota
	RuleBudget
	RuleLowBalance
	RuleSavings
	RuleIncomeVariance
)

// All lists every rule in evaluation order.
var All = []Rule{RuleUnusualSpend, RuleBudget, RuleLowBalance, RuleSavings, RuleIncomeVariance}

func (r Rule) String() string {
	switch r {
	case RuleUnusualSpend:
		return "unusual_spend"
	case RuleBudget:
		return "budget_threshold"
	case RuleLowBalance:
		return "low_balance"
	case RuleSavings:
		return "savings_opportunity"
	case RuleIncomeVariance:
		return "income_variance"
	default:
		return fmt.Sprintf("rule(%d)", int(r))
	}
}

// Config holds the rule tunables. Zero values are replaced by defaults in
// NewEvaluator, except LowBalanceThreshold where zero disables the rule.
type Config struct {
	MinSampleSize int64   `yaml:"min_sample_size"`
	ZWarning      float64 `yaml:"z_warning"`
	ZCritical     float64 `yaml:"z_critical"`

	BudgetApproaching float64 `yaml:"budget_approaching"`
	BudgetExceeded    float64 `yaml:"budget_exceeded"`

	LowBalanceThreshold core.Money `yaml:"low_balance_threshold"`

	TopCategories         int        `yaml:"top_categories"`
	TrailingPeriods       int        `yaml:"trailing_periods"`
	IrregularityThreshold float64    `yaml:"irregularity_threshold"`
	UnbudgetedSpendLimit  core.Money `yaml:"unbudgeted_spend_limit"`

	IncomeBand float64 `yaml:"income_band"`
}

func DefaultConfig() Config {
	return Config{
		MinSampleSize:         5,
		ZWarning:              3,
		ZCritical:             6,
		BudgetApproaching:     0.8,
		BudgetExceeded:        1.0,
		LowBalanceThreshold:   core.Money{Cents: 5000},
		TopCategories:         3,
		TrailingPeriods:       3,
		IrregularityThreshold: 0.5,
		UnbudgetedSpendLimit:  core.Money{Cents: 20000},
		IncomeBand:            0.30,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = d.MinSampleSize
	}
	if c.ZWarning <= 0 {
		c.ZWarning = d.ZWarning
	}
	if c.ZCritical < c.ZWarning {
		c.ZCritical = c.ZWarning * 2
	}
	if c.BudgetApproaching <= 0 {
		c.BudgetApproaching = d.BudgetApproaching
	}
	if c.BudgetExceeded < c.BudgetApproaching {
		c.BudgetExceeded = d.BudgetExceeded
	}
	if c.TopCategories <= 0 {
		c.TopCategories = d.TopCategories
	}
	if c.TrailingPeriods <= 0 {
		c.TrailingPeriods = d.TrailingPeriods
	}
	if c.IrregularityThreshold <= 0 {
		c.IrregularityThreshold = d.IrregularityThreshold
	}
	if c.IncomeBand <= 0 {
		c.IncomeBand = d.IncomeBand
	}
	return c
}

// Observation records one applied transaction. Before is the rolling baseline
// of the category as it stood just before the transaction; After is the
// category's period stats right after it.
type Observation struct {
	Tx          core.Transaction
	Before      core.CategoryStats
	HasBaseline bool
	After       core.CategoryStats
	// Emit is false for transactions replayed only to advance state.
	Emit bool
}

// Input is everything a pass hands to the rules. It is read-only.
type Input struct {
	UserID       string
	Now          time.Time
	View         stats.View
	Observations []Observation
	Balance      *core.Money
	Thresholds   map[string]core.BudgetThreshold
	Fixed        map[string]bool
}

// Evaluator runs every rule over a pass and carries the per-user rule state
// (budget bands issued, low-balance level). It is not safe for concurrent
// Evaluate calls; the engine serialises passes per user.
type Evaluator struct {
	cfg     Config
	budget  *budgetState
	balance *balanceState
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{
		cfg:     cfg.withDefaults(),
		budget:  newBudgetState(),
		balance: &balanceState{},
	}
}

func (e *Evaluator) Config() Config {
	return e.cfg
}

// Reset drops all rule state, used before a rebaseline replay.
func (e *Evaluator) Reset() {
	e.budget = newBudgetState()
	e.balance = &balanceState{}
}

// Clone returns an evaluator with a copy of the rule state. A pass evaluates
// on a clone and keeps it only once its insights are delivered.
func (e *Evaluator) Clone() *Evaluator {
	issued := make(map[string]budgetBand, len(e.budget.issued))
	for k, v := range e.budget.issued {
		issued[k] = v
	}
	balance := *e.balance
	return &Evaluator{
		cfg:     e.cfg,
		budget:  &budgetState{issued: issued},
		balance: &balance,
	}
}

// Evaluate runs the rules concurrently and returns their candidates in rule
// order. A failing rule contributes no candidates; its error is joined into
// the returned error while the other rules' candidates are still returned.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) ([]core.Insight, error) {
	results := make([][]core.Insight, len(All))
	errs := make([]error, len(All))

	g, ctx := errgroup.WithContext(ctx)
	for i, r := range All {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = e.run(r, in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []core.Insight
	for _, res := range results {
		out = append(out, res...)
	}
	return out, errors.Join(errs...)
}

func (e *Evaluator) run(r Rule, in Input) (out []core.Insight, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("rule %s: panic: %v", r, p)
		}
	}()

	switch r {
	case RuleUnusualSpend:
		out = unusualSpend(e.cfg, in)
	case RuleBudget:
		out = e.budget.evaluate(e.cfg, in)
	case RuleLowBalance:
		out = e.balance.evaluate(e.cfg, in)
	case RuleSavings:
		out = savingsOpportunities(e.cfg, in)
	case RuleIncomeVariance:
		out = incomeVariance(e.cfg, in)
	default:
		return nil, fmt.Errorf("unknown rule %d", int(r))
	}
	return out, nil
}

func newInsight(in Input, kind core.Kind, sev core.Severity, category string, payload any, at time.Time, key string) core.Insight {
	return core.Insight{
		ID:          core.InsightID(in.UserID, key, at.UTC().Format(time.RFC3339Nano)),
		UserID:      in.UserID,
		Kind:        kind,
		Severity:    sev,
		Category:    category,
		Payload:     payload,
		GeneratedAt: at.UTC(),
		DedupKey:    key,
	}
}
