package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ledgerlens/internal/core"
	"ledgerlens/internal/engine"
	"ledgerlens/internal/log"
)

// SummaryEngine is the part of *engine.Engine the scheduler drives.
type SummaryEngine interface {
	RunPass(ctx context.Context, userID string) (engine.PassResult, error)
	OpenPeriod(userID string) core.Period
	RollPeriod(ctx context.Context, userID string, end time.Time) error
	GenerateSummary(ctx context.Context, userID string, period core.Period) (core.Insight, error)
}

type UserLister interface {
	ListUsers(ctx context.Context) ([]string, error)
}

// Scheduler generates one summary per user per closed period. Generation is
// idempotent, so the in-memory progress map may be lost on restart.
type Scheduler struct {
	engine  SummaryEngine
	users   UserLister
	checker DuenessChecker

	mu   sync.Mutex
	last map[string]core.Period
}

func New(e SummaryEngine, users UserLister, checker DuenessChecker) *Scheduler {
	return &Scheduler{
		engine:  e,
		users:   users,
		checker: checker,
		last:    make(map[string]core.Period),
	}
}

// ProcessDue closes and summarises the latest finished period for every user
// that has not had it summarised yet. It returns the number of summaries
// generated; per-user failures are joined in the error and retried on the
// next call.
func (s *Scheduler) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	generated := 0
	var errs []error
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		closed, due := s.checker.Due(s.last[userID], now)
		if !due {
			continue
		}
		ok, err := s.summarise(ctx, userID, closed)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to generate summary",
				log.FieldUserID, userID,
				log.FieldPeriod, closed.Key(),
				log.FieldError, err)
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		s.last[userID] = closed
		if ok {
			generated++
		}
	}
	return generated, errors.Join(errs...)
}

// summarise reports false when the user has no data for period.
func (s *Scheduler) summarise(ctx context.Context, userID string, period core.Period) (bool, error) {
	if _, err := s.engine.RunPass(ctx, userID); err != nil {
		return false, fmt.Errorf("catch-up pass: %w", err)
	}

	open := s.engine.OpenPeriod(userID)
	if open.IsZero() {
		return false, nil
	}
	if open.Start.Before(period.End) {
		if err := s.engine.RollPeriod(ctx, userID, period.End); err != nil {
			return false, err
		}
	}

	ins, err := s.engine.GenerateSummary(ctx, userID, period)
	if errors.Is(err, core.ErrNotFound) {
		slog.DebugContext(ctx, "No data for period, skipping summary",
			log.FieldUserID, userID,
			log.FieldPeriod, period.Key())
		return false, nil
	}
	if err != nil {
		return false, err
	}

	slog.InfoContext(ctx, "Period summary generated",
		log.FieldUserID, userID,
		log.FieldPeriod, period.Key(),
		log.FieldSeverity, ins.Severity.String())
	return true, nil
}

// Run calls ProcessDue once immediately and then every interval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	s.tick(ctx, time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	n, err := s.ProcessDue(ctx, now)
	if err != nil {
		slog.ErrorContext(ctx, "Summary processing failed", log.FieldError, err)
	}
	slog.InfoContext(ctx, "Summary processing complete",
		"summaries", n,
		"checked_at", now.UTC().Format(time.RFC3339))
}
