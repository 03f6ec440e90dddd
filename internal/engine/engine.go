// Package engine runs analytical passes: it reads a user's ledger, feeds the
// statistics tracker in order, evaluates the rules and aggregates the result.
//
// Each user has an isolated pipeline guarded by its own mutex; passes for
// different users run in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ledgerlens/internal/aggregate"
	"ledgerlens/internal/core"
	"ledgerlens/internal/ledger"
	"ledgerlens/internal/log"
	"ledgerlens/internal/rules"
	"ledgerlens/internal/stats"
	"ledgerlens/internal/summary"
)

// EmissionStore persists aggregator history so dedup windows survive
// restarts and are shared by every process running passes for a user.
type EmissionStore interface {
	LoadEmissions(ctx context.Context, userID string) ([]aggregate.Emission, error)
	// SaveEmissions upserts emissions by dedup key.
	SaveEmissions(ctx context.Context, userID string, emissions []aggregate.Emission) error
	// PruneEmissions deletes emissions older than before.
	PruneEmissions(ctx context.Context, userID string, before time.Time) (int, error)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l.WithComponent(log.ComponentEngine) }
}

func WithArchiveStore(s ledger.ArchiveStore) Option {
	return func(e *Engine) { e.archives = s }
}

func WithInsightSink(s ledger.InsightSink) Option {
	return func(e *Engine) { e.sink = s }
}

func WithEmissionStore(s EmissionStore) Option {
	return func(e *Engine) { e.emissions = s }
}

type Engine struct {
	cfg       Config
	ledger    ledger.LedgerView
	budgets   ledger.BudgetConfig
	archives  ledger.ArchiveStore
	sink      ledger.InsightSink
	emissions EmissionStore
	now       func() time.Time
	logger    *log.Logger

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

type pipeline struct {
	mu      sync.Mutex
	loaded  bool
	tracker *stats.Tracker
	rules   *rules.Evaluator
	agg     *aggregate.Aggregator
	unsaved []core.PeriodArchive
	cursor  int64 // last journal sequence applied
}

// PassResult describes one completed pass.
type PassResult struct {
	UserID     string
	Applied    int
	Skipped    int
	Rejected   int
	Archived   int
	Candidates int
	Insights   []core.Insight
}

func New(cfg Config, view ledger.LedgerView, budgets ledger.BudgetConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if view == nil || budgets == nil {
		return nil, fmt.Errorf("%w: ledger view and budget config are required", core.ErrConfigurationMissing)
	}
	cfg.Aggregate.Period = cfg.Period

	e := &Engine{
		cfg:       cfg,
		ledger:    view,
		budgets:   budgets,
		now:       time.Now,
		logger:    log.New(log.DefaultConfig()).WithComponent(log.ComponentEngine),
		pipelines: make(map[string]*pipeline),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) pipeline(userID string) *pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pipelines[userID]
	if !ok {
		p = &pipeline{
			tracker: stats.NewTracker(stats.Config{Period: e.cfg.Period, Retention: e.cfg.Retention}),
			rules:   rules.NewEvaluator(e.cfg.Rules),
			agg:     aggregate.New(e.cfg.Aggregate),
		}
		e.pipelines[userID] = p
	}
	return p
}

// load pins the budgets of periods archived by earlier runs, once per
// pipeline. A failed read is retried on the next pass. Caller holds p.mu.
func (e *Engine) load(ctx context.Context, lg *log.Logger, userID string, p *pipeline) {
	if p.loaded {
		return
	}
	if err := e.pinArchivedBudgets(ctx, userID, p.tracker); err != nil {
		lg.WarnContext(ctx, "Archived budgets unavailable, closed periods use current budgets", log.FieldError, err)
		return
	}
	p.loaded = true
}

func (e *Engine) pinArchivedBudgets(ctx context.Context, userID string, t *stats.Tracker) error {
	lister, ok := e.archives.(ledger.ArchiveLister)
	if !ok {
		return nil
	}
	archives, err := lister.ListArchives(ctx, userID)
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}
	for _, a := range archives {
		if a.Budgets != nil {
			t.PinBudgets(a.Period.Start, a.Budgets)
		}
	}
	return nil
}

// syncEmissions merges the stored emission history, which other processes
// may have extended since the last pass. Caller holds p.mu.
func (e *Engine) syncEmissions(ctx context.Context, userID string, p *pipeline, now time.Time) error {
	if e.emissions == nil {
		return nil
	}
	hist, err := e.emissions.LoadEmissions(ctx, userID)
	if err != nil {
		return fmt.Errorf("load emissions: %w", err)
	}
	p.agg.Merge(hist, now)
	return nil
}

// read returns the transactions not yet applied and the journal cursor that
// goes with them. A ledger.Journal is read by recording sequence, so entries
// back-dated behind the last seen timestamp are returned and later rejected.
// Other ledgers are read from the last seen timestamp on. Caller holds p.mu.
func (e *Engine) read(ctx context.Context, userID string, p *pipeline) ([]core.Transaction, int64, error) {
	j, ok := e.ledger.(ledger.Journal)
	if !ok {
		txs, err := e.ledger.ListTransactions(ctx, userID, p.tracker.LastSeen())
		return txs, p.cursor, err
	}
	recs, err := j.ListRecorded(ctx, userID, p.cursor)
	if err != nil {
		return nil, p.cursor, err
	}
	cursor := p.cursor
	txs := make([]core.Transaction, len(recs))
	for i, r := range recs {
		txs[i] = r.Tx
		if r.Seq > cursor {
			cursor = r.Seq
		}
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp.Before(txs[j].Timestamp) })
	return txs, cursor, nil
}

// budgetInputs reads thresholds and fixed categories. Failures only disable
// the rules that need them.
func (e *Engine) budgetInputs(ctx context.Context, userID string) (map[string]core.BudgetThreshold, map[string]bool) {
	lg := e.logger.WithUser(userID)

	thresholds, err := e.budgets.GetThresholds(ctx, userID)
	if err != nil {
		lg.WarnContext(ctx, "Budget thresholds unavailable, budget rule abstains", log.FieldError, err)
		thresholds = nil
	}

	fixed := make(map[string]bool)
	names, err := e.budgets.FixedCategories(ctx, userID)
	if err != nil {
		lg.WarnContext(ctx, "Fixed categories unavailable, treating all spend as discretionary", log.FieldError, err)
	}
	for _, n := range names {
		fixed[n] = true
	}
	return thresholds, fixed
}

// RunPass performs one analytical pass for userID. The pass fails as a whole
// when the ledger cannot be read; individual rule failures are logged and do
// not prevent the other rules' insights.
//
// The pass runs on copies of the user's statistics and rule state and keeps
// them only once its insights are delivered. A failed pass leaves no trace,
// so the next one sees the same transactions again.
func (e *Engine) RunPass(ctx context.Context, userID string) (PassResult, error) {
	if userID == "" {
		return PassResult{}, core.ErrInvalidUserID
	}
	res := PassResult{UserID: userID}
	lg := e.logger.WithUser(userID)
	start := time.Now()

	p := e.pipeline(userID)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := e.now().UTC()
	e.load(ctx, lg, userID, p)
	if err := e.syncEmissions(ctx, userID, p, now); err != nil {
		return res, err
	}

	// All collaborator reads happen before the tracker is touched.
	txs, cursor, err := e.read(ctx, userID, p)
	if err != nil {
		return res, fmt.Errorf("list transactions: %w", err)
	}
	var balance *core.Money
	switch b, err := e.ledger.CurrentBalance(ctx, userID); {
	case err == nil:
		balance = &b
	case errors.Is(err, core.ErrNotFound):
	default:
		return res, fmt.Errorf("current balance: %w", err)
	}
	thresholds, fixed := e.budgetInputs(ctx, userID)

	tracker := p.tracker.Clone()
	evaluator := p.rules.Clone()
	tracker.SetBudgets(thresholds)

	cutoff := now.Add(-e.cfg.AlertLookback)
	obs := e.apply(ctx, lg, tracker, txs, cutoff, &res)

	candidates, err := evaluator.Evaluate(ctx, rules.Input{
		UserID:       userID,
		Now:          now,
		View:         tracker.View(),
		Observations: obs,
		Balance:      balance,
		Thresholds:   thresholds,
		Fixed:        fixed,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("evaluate rules: %w", ctxErr)
	}
	if err != nil {
		lg.LogError(ctx, "Rule evaluation failed", err, log.ErrorTypeRule)
	}
	res.Candidates = len(candidates)

	previous := p.agg.History()
	res.Insights = p.agg.Aggregate(candidates, now)

	if err := e.deliver(ctx, userID, res.Insights); err != nil {
		p.agg.Restore(previous, now)
		return res, err
	}
	p.tracker, p.rules, p.cursor = tracker, evaluator, cursor
	res.Archived = e.flushArchives(ctx, lg, userID, p)
	e.saveEmissions(ctx, lg, userID, p, res.Insights, now)

	lg.InfoContext(ctx, "Pass completed",
		log.FieldOperation, log.OpPass,
		"applied", res.Applied,
		"skipped", res.Skipped,
		"rejected", res.Rejected,
		"archived", res.Archived,
		"candidates", res.Candidates,
		"emitted", len(res.Insights),
		log.FieldDuration, time.Since(start).Milliseconds())
	return res, nil
}

// saveEmissions records this pass's emissions and drops stored ones that can
// no longer suppress anything. Failures only cost dedup across processes, so
// they are logged. Caller holds p.mu.
func (e *Engine) saveEmissions(ctx context.Context, lg *log.Logger, userID string, p *pipeline, emitted []core.Insight, now time.Time) {
	if e.emissions == nil {
		return
	}
	if len(emitted) > 0 {
		batch := make([]aggregate.Emission, len(emitted))
		for i, in := range emitted {
			batch[i] = aggregate.Emission{DedupKey: in.DedupKey, Kind: in.Kind, Severity: in.Severity, At: now}
		}
		if err := e.emissions.SaveEmissions(ctx, userID, batch); err != nil {
			lg.WarnContext(ctx, "Failed to persist emission history", log.FieldError, err)
		}
	}
	if _, err := e.emissions.PruneEmissions(ctx, userID, now.Add(-p.agg.MaxWindow())); err != nil {
		lg.WarnContext(ctx, "Failed to prune emission history", log.FieldError, err)
	}
}

// apply feeds txs to tracker in order and records an observation per
// applied transaction.
func (e *Engine) apply(ctx context.Context, lg *log.Logger, tracker *stats.Tracker, txs []core.Transaction, cutoff time.Time, res *PassResult) []rules.Observation {
	obs := make([]rules.Observation, 0, len(txs))
	for _, tx := range txs {
		if tracker.Applied(tx) {
			res.Skipped++
			continue
		}
		before, berr := tracker.Baseline(tx.Category)
		after, err := tracker.Update(tx)
		if err != nil {
			res.Rejected++
			errType := log.ErrorTypeValidation
			if errors.Is(err, core.ErrOutOfOrderData) {
				errType = log.ErrorTypeOutOfOrder
			}
			lg.WarnContext(ctx, "Transaction rejected",
				log.FieldTxID, tx.ID,
				log.FieldError, err,
				log.FieldErrorType, errType)
			continue
		}
		res.Applied++
		obs = append(obs, rules.Observation{
			Tx:          tx,
			Before:      before,
			HasBaseline: berr == nil,
			After:       after,
			Emit:        !tx.Timestamp.Before(cutoff),
		})
	}
	return obs
}

// flushArchives hands newly closed periods to the archive store. Periods that
// fail to save are retried on the next pass. Caller holds p.mu.
func (e *Engine) flushArchives(ctx context.Context, lg *log.Logger, userID string, p *pipeline) int {
	p.unsaved = append(p.unsaved, p.tracker.DrainArchived()...)
	if e.archives == nil {
		p.unsaved = nil
		return 0
	}
	saved := 0
	var failed []core.PeriodArchive
	for _, a := range p.unsaved {
		if err := e.archives.SaveArchive(ctx, userID, a); err != nil {
			lg.WarnContext(ctx, "Failed to save period archive",
				log.FieldPeriod, a.Period.Key(),
				log.FieldError, err)
			failed = append(failed, a)
			continue
		}
		saved++
	}
	p.unsaved = failed
	return saved
}

func (e *Engine) deliver(ctx context.Context, userID string, insights []core.Insight) error {
	if e.sink == nil || len(insights) == 0 {
		return nil
	}
	if err := e.sink.Deliver(ctx, userID, insights); err != nil {
		return fmt.Errorf("deliver insights: %w", err)
	}
	return nil
}

// RunAll runs passes for userIDs with at most PassConcurrency in flight. One
// user's failure does not stop the others; failures are joined in the error.
func (e *Engine) RunAll(ctx context.Context, userIDs []string) ([]PassResult, error) {
	results := make([]PassResult, len(userIDs))
	errs := make([]error, len(userIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PassConcurrency)
	for i, id := range userIDs {
		g.Go(func() error {
			res, err := e.RunPass(ctx, id)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("user %s: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Summary computes the digest for period without delivering it. A closed
// period is scored against the budgets archived with it, the open period
// against the current ones.
func (e *Engine) Summary(ctx context.Context, userID string, period core.Period) (core.Insight, error) {
	if userID == "" {
		return core.Insight{}, core.ErrInvalidUserID
	}
	thresholds, _ := e.budgetInputs(ctx, userID)

	p := e.pipeline(userID)
	p.mu.Lock()
	defer p.mu.Unlock()
	return summary.Generate(userID, p.tracker.View(), period, thresholds)
}

// GenerateSummary computes the digest for period and delivers it. The
// summary of a closed period is identical however often it is generated.
func (e *Engine) GenerateSummary(ctx context.Context, userID string, period core.Period) (core.Insight, error) {
	ins, err := e.Summary(ctx, userID, period)
	if err != nil {
		return core.Insight{}, err
	}
	if err := e.deliver(ctx, userID, []core.Insight{ins}); err != nil {
		return ins, err
	}
	e.logger.WithUser(userID).InfoContext(ctx, "Summary generated",
		log.FieldOperation, log.OpSummary,
		log.FieldPeriod, period.Key(),
		log.FieldSeverity, ins.Severity.String())
	return ins, nil
}

// RollPeriod closes the user's open period at end and archives it.
func (e *Engine) RollPeriod(ctx context.Context, userID string, end time.Time) error {
	if userID == "" {
		return core.ErrInvalidUserID
	}
	thresholds, _ := e.budgetInputs(ctx, userID)

	p := e.pipeline(userID)
	p.mu.Lock()
	defer p.mu.Unlock()

	e.load(ctx, e.logger.WithUser(userID), userID, p)
	p.tracker.SetBudgets(thresholds)
	if err := p.tracker.RollPeriod(end); err != nil {
		return fmt.Errorf("roll period: %w", err)
	}
	e.flushArchives(ctx, e.logger.WithUser(userID), userID, p)
	return nil
}

// Rebaseline discards the user's statistics and rule state and replays the
// whole ledger, accepting history that arrived out of order. Replayed
// transactions advance state but raise no alerts; emission history is kept.
func (e *Engine) Rebaseline(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, core.ErrInvalidUserID
	}
	txs, cursor, err := e.readAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list transactions: %w", err)
	}
	thresholds, fixed := e.budgetInputs(ctx, userID)

	p := e.pipeline(userID)
	p.mu.Lock()
	defer p.mu.Unlock()

	lg := e.logger.WithUser(userID)
	tracker := stats.NewTracker(stats.Config{Period: e.cfg.Period, Retention: e.cfg.Retention})
	if err := e.pinArchivedBudgets(ctx, userID, tracker); err != nil {
		lg.WarnContext(ctx, "Archived budgets unavailable, closed periods use current budgets", log.FieldError, err)
	}
	tracker.SetBudgets(thresholds)
	evaluator := rules.NewEvaluator(e.cfg.Rules)

	var res PassResult
	obs := e.apply(ctx, lg, tracker, stats.Ordered(txs), time.Time{}, &res)
	for i := range obs {
		obs[i].Emit = false
	}
	// Drive rule state only; candidates are discarded.
	if _, err := evaluator.Evaluate(ctx, rules.Input{
		UserID:       userID,
		Now:          e.now().UTC(),
		View:         tracker.View(),
		Observations: obs,
		Thresholds:   thresholds,
		Fixed:        fixed,
	}); err != nil && ctx.Err() != nil {
		return res.Applied, fmt.Errorf("evaluate rules: %w", err)
	}
	p.tracker, p.rules, p.cursor = tracker, evaluator, cursor
	p.unsaved = nil
	e.flushArchives(ctx, lg, userID, p)

	lg.InfoContext(ctx, "Rebaseline completed",
		log.FieldOperation, log.OpRebaseline,
		"applied", res.Applied,
		"rejected", res.Rejected)
	return res.Applied, nil
}

// readAll returns the user's whole ledger and, for a ledger.Journal, the
// sequence of its newest entry.
func (e *Engine) readAll(ctx context.Context, userID string) ([]core.Transaction, int64, error) {
	j, ok := e.ledger.(ledger.Journal)
	if !ok {
		txs, err := e.ledger.ListTransactions(ctx, userID, time.Time{})
		return txs, 0, err
	}
	recs, err := j.ListRecorded(ctx, userID, 0)
	if err != nil {
		return nil, 0, err
	}
	var cursor int64
	txs := make([]core.Transaction, len(recs))
	for i, r := range recs {
		txs[i] = r.Tx
		if r.Seq > cursor {
			cursor = r.Seq
		}
	}
	return txs, cursor, nil
}

// Snapshot returns the stats of category in period for userID.
func (e *Engine) Snapshot(userID, category string, period core.Period) (core.CategoryStats, error) {
	p := e.pipeline(userID)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker.Snapshot(category, period)
}

// OpenPeriod returns the user's open period, zero before any data.
func (e *Engine) OpenPeriod(userID string) core.Period {
	p := e.pipeline(userID)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker.Period()
}
