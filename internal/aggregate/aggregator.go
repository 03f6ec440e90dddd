// Package aggregate turns a pass's candidate insights into the final ordered
// list: window dedup, per-key severity dedup, priority ordering and a cap.
package aggregate

import (
	"sort"
	"time"

	"ledgerlens/internal/core"
)

// Config sets the per-pass cap and the dedup windows. A window of zero for
// recommendations means one reporting period.
type Config struct {
	MaxPerPass           int                         `yaml:"max_per_pass"`
	AlertWindow          time.Duration               `yaml:"alert_window"`
	RecommendationWindow time.Duration               `yaml:"recommendation_window"`
	Windows              map[core.Kind]time.Duration `yaml:"windows"`
	Period               core.PeriodKind             `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		MaxPerPass:  5,
		AlertWindow: 24 * time.Hour,
		Period:      core.Monthly,
	}
}

// Emission is one remembered emitted dedup key.
type Emission struct {
	DedupKey string
	Kind     core.Kind
	Severity core.Severity
	At       time.Time
}

// Aggregator holds one user's emission history. Not safe for concurrent use.
type Aggregator struct {
	cfg     Config
	history map[string]Emission
}

func New(cfg Config) *Aggregator {
	if cfg.MaxPerPass <= 0 {
		cfg.MaxPerPass = DefaultConfig().MaxPerPass
	}
	if cfg.AlertWindow <= 0 {
		cfg.AlertWindow = DefaultConfig().AlertWindow
	}
	if cfg.Period == "" {
		cfg.Period = core.Monthly
	}
	return &Aggregator{cfg: cfg, history: make(map[string]Emission)}
}

// Window returns how long an emitted key of kind suppresses repeats.
func (a *Aggregator) Window(kind core.Kind) time.Duration {
	if w, ok := a.cfg.Windows[kind]; ok && w > 0 {
		return w
	}
	if kind.IsAlert() {
		return a.cfg.AlertWindow
	}
	if a.cfg.RecommendationWindow > 0 {
		return a.cfg.RecommendationWindow
	}
	if a.cfg.Period == core.Weekly {
		return 7 * 24 * time.Hour
	}
	return 31 * 24 * time.Hour
}

// Aggregate filters, orders and caps candidates. A key emitted within its
// window is dropped, except that budget and balance alerts may re-emit at a
// higher severity (see core.Kind.Escalates). The output
// for a given history and candidate set does not depend on candidate order.
func (a *Aggregator) Aggregate(candidates []core.Insight, now time.Time) []core.Insight {
	a.prune(now)

	best := make(map[string]core.Insight, len(candidates))
	for _, c := range candidates {
		if prev, ok := a.history[c.DedupKey]; ok && !(c.Kind.Escalates() && c.Severity > prev.Severity) {
			continue
		}
		cur, ok := best[c.DedupKey]
		if !ok || outranks(c, cur) {
			best[c.DedupKey] = c
		}
	}

	out := make([]core.Insight, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })

	if len(out) > a.cfg.MaxPerPass {
		out = out[:a.cfg.MaxPerPass]
	}
	for _, c := range out {
		a.history[c.DedupKey] = Emission{DedupKey: c.DedupKey, Kind: c.Kind, Severity: c.Severity, At: now}
	}
	return out
}

// History returns the live emissions ordered by key, for persistence.
func (a *Aggregator) History() []Emission {
	out := make([]Emission, 0, len(a.history))
	for _, e := range a.history {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DedupKey < out[j].DedupKey })
	return out
}

// Restore replaces the history with previously persisted emissions. Entries
// that have already expired at now are ignored.
func (a *Aggregator) Restore(emissions []Emission, now time.Time) {
	a.history = make(map[string]Emission, len(emissions))
	for _, e := range emissions {
		if prev, ok := a.history[e.DedupKey]; ok && prev.Severity >= e.Severity {
			continue
		}
		a.history[e.DedupKey] = e
	}
	a.prune(now)
}

// Merge folds emissions recorded elsewhere into the history. For a key known
// to both, the higher severity wins, then the later emission.
func (a *Aggregator) Merge(emissions []Emission, now time.Time) {
	for _, e := range emissions {
		if prev, ok := a.history[e.DedupKey]; ok {
			if prev.Severity > e.Severity || (prev.Severity == e.Severity && !e.At.After(prev.At)) {
				continue
			}
		}
		a.history[e.DedupKey] = e
	}
	a.prune(now)
}

// MaxWindow is the longest window of any kind. Emissions older than that
// suppress nothing.
func (a *Aggregator) MaxWindow() time.Duration {
	var max time.Duration
	for _, k := range core.Kinds {
		if w := a.Window(k); w > max {
			max = w
		}
	}
	return max
}

func (a *Aggregator) prune(now time.Time) {
	for k, e := range a.history {
		if now.Sub(e.At) >= a.Window(e.Kind) {
			delete(a.history, k)
		}
	}
}

// outranks reports whether a should replace b for the same dedup key.
func outranks(a, b core.Insight) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	if !a.GeneratedAt.Equal(b.GeneratedAt) {
		return a.GeneratedAt.Before(b.GeneratedAt)
	}
	return a.ID < b.ID
}

func less(a, b core.Insight) bool {
	pa, pb := core.Priority(a.Kind, a.Severity), core.Priority(b.Kind, b.Severity)
	if pa != pb {
		return pa < pb
	}
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	if !a.GeneratedAt.Equal(b.GeneratedAt) {
		return a.GeneratedAt.Before(b.GeneratedAt)
	}
	if a.DedupKey != b.DedupKey {
		return a.DedupKey < b.DedupKey
	}
	return a.ID < b.ID
}
