package engine

import (
	"fmt"
	"strings"
	"time"

	"ledgerlens/internal/aggregate"
	"ledgerlens/internal/core"
	"ledgerlens/internal/rules"
)

// Config is the full set of engine tunables. It is what the rules file
// decodes into.
type Config struct {
	Period    core.PeriodKind `yaml:"period"`
	Retention int             `yaml:"retention"`

	// AlertLookback bounds how old a transaction may be and still raise a
	// per-transaction alert. Older ones only advance state.
	AlertLookback time.Duration `yaml:"alert_lookback"`

	PassConcurrency int `yaml:"pass_concurrency"`

	Rules     rules.Config     `yaml:"rules"`
	Aggregate aggregate.Config `yaml:"aggregate"`
}

func DefaultConfig() Config {
	return Config{
		Period:          core.Monthly,
		Retention:       12,
		AlertLookback:   72 * time.Hour,
		PassConcurrency: 4,
		Rules:           rules.DefaultConfig(),
		Aggregate:       aggregate.DefaultConfig(),
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []string
	if err := c.Period.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Retention < 1 {
		errs = append(errs, fmt.Sprintf("invalid retention %d: must be at least 1", c.Retention))
	}
	if c.Rules.TrailingPeriods > c.Retention {
		errs = append(errs, fmt.Sprintf("trailing periods %d exceed retention %d", c.Rules.TrailingPeriods, c.Retention))
	}
	if c.AlertLookback < 0 {
		errs = append(errs, fmt.Sprintf("invalid alert lookback %v: must not be negative", c.AlertLookback))
	}
	if c.PassConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("invalid pass concurrency %d: must be at least 1", c.PassConcurrency))
	}
	if c.Rules.ZCritical < c.Rules.ZWarning {
		errs = append(errs, fmt.Sprintf("z_critical %.2f below z_warning %.2f", c.Rules.ZCritical, c.Rules.ZWarning))
	}
	if c.Rules.BudgetExceeded < c.Rules.BudgetApproaching {
		errs = append(errs, fmt.Sprintf("budget_exceeded %.2f below budget_approaching %.2f", c.Rules.BudgetExceeded, c.Rules.BudgetApproaching))
	}
	if c.Rules.LowBalanceThreshold.Cents < 0 {
		errs = append(errs, "low_balance_threshold must not be negative")
	}
	if c.Aggregate.MaxPerPass < 1 {
		errs = append(errs, fmt.Sprintf("invalid max_per_pass %d: must be at least 1", c.Aggregate.MaxPerPass))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: engine configuration invalid:\n- %s", core.ErrConfigurationMissing, strings.Join(errs, "\n- "))
	}
	return nil
}
