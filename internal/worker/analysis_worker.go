// Package worker wires the AMQP transport to the engine: ledger-updated
// messages trigger passes and delivered insights are published from an
// outbox.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledgerlens/internal/amqp"
	"ledgerlens/internal/engine"
	"ledgerlens/internal/log"
)

// Passer runs analytical passes. *engine.Engine satisfies it.
type Passer interface {
	RunPass(ctx context.Context, userID string) (engine.PassResult, error)
	RunAll(ctx context.Context, userIDs []string) ([]engine.PassResult, error)
	Rebaseline(ctx context.Context, userID string) (int, error)
}

// BudgetInvalidator drops cached budgets of a user.
type BudgetInvalidator interface {
	InvalidateBudgets(userID string)
}

// UserLister enumerates the users with ledger data.
type UserLister interface {
	ListUsers(ctx context.Context) ([]string, error)
}

// AnalysisWorker handles ledger-updated notifications.
type AnalysisWorker struct {
	engine  Passer
	users   UserLister
	budgets BudgetInvalidator
}

type Option func(*AnalysisWorker)

// WithBudgetInvalidator makes budget-change messages drop the user's cached
// budgets before the pass.
func WithBudgetInvalidator(b BudgetInvalidator) Option {
	return func(w *AnalysisWorker) { w.budgets = b }
}

func NewAnalysisWorker(e Passer, users UserLister, opts ...Option) *AnalysisWorker {
	w := &AnalysisWorker{engine: e, users: users}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleLedgerUpdated runs a pass for the message's user, after a full
// replay when the message asks for a rebaseline. A returned error makes the
// consumer requeue the message.
func (w *AnalysisWorker) HandleLedgerUpdated(ctx context.Context, msg *amqp.LedgerUpdatedMessage) error {
	start := time.Now()
	slog.InfoContext(ctx, "Processing ledger updated message",
		log.FieldUserID, msg.UserID,
		"reason", msg.Reason,
		"queued_for", start.Sub(msg.Timestamp).Round(time.Millisecond))

	switch msg.Reason {
	case amqp.ReasonBudget:
		if w.budgets != nil {
			w.budgets.InvalidateBudgets(msg.UserID)
		}
	case amqp.ReasonRebaseline:
		n, err := w.engine.Rebaseline(ctx, msg.UserID)
		if err != nil {
			return fmt.Errorf("rebaseline %s: %w", msg.UserID, err)
		}
		slog.InfoContext(ctx, "Ledger replayed",
			log.FieldUserID, msg.UserID,
			"applied", n)
	}

	res, err := w.engine.RunPass(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("run pass for %s: %w", msg.UserID, err)
	}

	slog.InfoContext(ctx, "Ledger update analysed",
		log.FieldUserID, msg.UserID,
		"applied", res.Applied,
		"rejected", res.Rejected,
		"insights", len(res.Insights),
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// StartupPass runs a pass for every known user so that state is warm and
// notifications missed while the worker was down are caught up.
func (w *AnalysisWorker) StartupPass(ctx context.Context) error {
	users, err := w.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users for startup pass: %w", err)
	}
	if len(users) == 0 {
		slog.InfoContext(ctx, "No users found on startup")
		return nil
	}

	results, err := w.engine.RunAll(ctx, users)
	insights := 0
	for _, r := range results {
		insights += len(r.Insights)
	}
	slog.InfoContext(ctx, "Startup pass completed",
		"users", len(users),
		"insights", insights)
	if err != nil {
		return fmt.Errorf("startup pass: %w", err)
	}
	return nil
}
