package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ledgerlens/internal/amqp"
	"ledgerlens/internal/backend"
	"ledgerlens/internal/config"
	"ledgerlens/internal/core"
	"ledgerlens/internal/engine"
	"ledgerlens/internal/log"
	"ledgerlens/internal/storage"
)

// notifier publishes ledger-updated messages for the worker.
type notifier interface {
	PublishLedgerUpdated(ctx context.Context, userID, reason string) error
	Close() error
}

type app struct {
	logger *log.Logger
	cfg    *config.Config
	dbPath string
	asOf   string

	dial func(cfg *config.Config) (notifier, error)
}

func dialAMQP(cfg *config.Config) (notifier, error) {
	client, err := amqp.NewClient(amqp.Config{
		URL:           cfg.AMQPURL,
		Exchange:      cfg.AMQPExchange,
		Queue:         cfg.AMQPQueue,
		InsightsQueue: cfg.AMQPInsightsQueue,
	})
	if err != nil {
		return nil, fmt.Errorf("connect AMQP: %w", err)
	}
	return client, nil
}

// NewRootCommand builds the ledgerctl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{dial: dialAMQP})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Import ledgers and run the ledgerlens engine from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			LoadEnvFile()
			a.logger = SetupLogger(log.ComponentCLI, cmd.ErrOrStderr())
			a.cfg = config.Load()
			if a.dbPath != "" {
				a.cfg.SQLiteDBPath = a.dbPath
			}
			return a.cfg.Validate()
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides SQLITE_DB_PATH)")
	root.PersistentFlags().StringVar(&a.asOf, "as-of", "", "evaluate as of this RFC3339 instant instead of now")

	root.AddCommand(
		newMigrateCmd(a),
		newImportCmd(a),
		newAnalyzeCmd(a),
		newSummaryCmd(a),
		newRebaselineCmd(a),
		newBudgetCmd(a),
		newBalanceCmd(a),
	)
	return root
}

func (a *app) clock() (func() time.Time, error) {
	if a.asOf == "" {
		return time.Now, nil
	}
	t, err := time.Parse(time.RFC3339, a.asOf)
	if err != nil {
		return nil, fmt.Errorf("--as-of: %w", core.ErrInvalidDate)
	}
	return func() time.Time { return t }, nil
}

func (a *app) repo() (*storage.SQLiteRepository, error) {
	return storage.NewSQLiteRepository(a.cfg.SQLiteDBPath)
}

// engine builds an engine over the configured backend. The caller closes
// the backend.
func (a *app) engine(ctx context.Context) (*engine.Engine, *backend.Backend, error) {
	now, err := a.clock()
	if err != nil {
		return nil, nil, err
	}
	ec, err := a.cfg.EngineConfig()
	if err != nil {
		return nil, nil, err
	}
	b, err := backend.NewFactory(a.logger, nil).Create(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	opts := append(b.EngineOptions(nil), engine.WithLogger(a.logger), engine.WithClock(now))
	e, err := engine.New(ec, b.Ledger, b.Budgets, opts...)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return e, b, nil
}

// notify publishes a ledger-updated message for userID.
func (a *app) notify(ctx context.Context, userID, reason string) error {
	n, err := a.dial(a.cfg)
	if err != nil {
		return err
	}
	defer n.Close()
	return n.PublishLedgerUpdated(ctx, userID, reason)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printInsights(cmd *cobra.Command, userID string, insights []core.Insight) error {
	msg, err := amqp.NewInsightBatchMessage(userID, insights)
	if err != nil {
		return err
	}
	return printJSON(cmd, msg)
}

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
	}
	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.RollbackMigrations(a.cfg.SQLiteDBPath, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d step(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := storage.RunMigrations(a.cfg.SQLiteDBPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				v, dirty, err := storage.MigrationVersion(a.cfg.SQLiteDBPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return nil
			},
		},
	)
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		userID string
		notify bool
	)
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import transactions from a CSV file into the SQLite ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			txs, err := ParseCSV(f)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			repo, err := a.repo()
			if err != nil {
				return err
			}
			defer repo.Close()
			n, err := repo.InsertTransactions(ctx, userID, txs)
			if err != nil {
				return err
			}
			if last := lastBalance(txs); last != nil {
				if err := repo.SetBalance(ctx, userID, *last); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d transactions for %s\n", n, len(txs), userID)

			if notify && n > 0 {
				return a.notify(ctx, userID, amqp.ReasonImport)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user the transactions belong to")
	cmd.Flags().BoolVar(&notify, "notify", false, "publish a ledger-updated message after importing")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// lastBalance returns the balance after the latest transaction that carries one.
func lastBalance(txs []core.Transaction) *core.Money {
	var (
		latest time.Time
		bal    *core.Money
	)
	for _, tx := range txs {
		if tx.BalanceAfter != nil && !tx.Timestamp.Before(latest) {
			latest, bal = tx.Timestamp, tx.BalanceAfter
		}
	}
	return bal
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		users []string
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run an analytical pass and print the emitted insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, b, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if all {
				if users, err = b.Users.ListUsers(ctx); err != nil {
					return err
				}
			}
			if len(users) == 0 {
				return fmt.Errorf("%w: pass --user or --all", core.ErrInvalidUserID)
			}
			results, runErr := e.RunAll(ctx, users)
			for _, res := range results {
				if res.UserID == "" {
					continue
				}
				if err := printInsights(cmd, res.UserID, res.Insights); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringSliceVar(&users, "user", nil, "user to analyze (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "analyze every user in the ledger")
	return cmd
}

func newSummaryCmd(a *app) *cobra.Command {
	var userID, period string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Generate and deliver the summary of a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, b, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			now, _ := a.clock()
			kind := e.Config().Period
			p := core.PeriodFor(kind, now().UTC()).Prev()
			if period != "" {
				day, err := time.Parse("2006-01-02", period)
				if err != nil {
					return fmt.Errorf("--period %q: %w", period, core.ErrInvalidDate)
				}
				p = core.PeriodFor(kind, day)
			}

			if _, err := e.RunPass(ctx, userID); err != nil {
				return err
			}
			ins, err := e.GenerateSummary(ctx, userID, p)
			if err != nil {
				return err
			}
			return printInsights(cmd, userID, []core.Insight{ins})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user to summarise")
	cmd.Flags().StringVar(&period, "period", "", "any date in the period, YYYY-MM-DD (default: last closed period)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRebaselineCmd(a *app) *cobra.Command {
	var (
		userID string
		local  bool
	)
	cmd := &cobra.Command{
		Use:   "rebaseline",
		Short: "Rebuild a user's category baselines from the retained history",
		Long: "Asks the worker to replay the user's retained history before its next pass.\n" +
			"With --local the replay runs in this process, against this process's engine state only.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !local {
				if err := a.notify(ctx, userID, amqp.ReasonRebaseline); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rebaseline requested for %s\n", userID)
				return nil
			}

			e, b, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if _, err := e.RunPass(ctx, userID); err != nil {
				return err
			}
			n, err := e.Rebaseline(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d transactions for %s\n", n, userID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user to rebaseline")
	cmd.Flags().BoolVar(&local, "local", false, "replay in this process instead of asking the worker")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newBudgetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage budget thresholds and fixed categories",
	}

	var (
		userID, category, limit, period string
		notify                          bool
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Set a category budget; a zero limit removes it",
		RunE: func(cmd *cobra.Command, args []string) error {
			var m core.Money
			if err := m.UnmarshalText([]byte(limit)); err != nil {
				return fmt.Errorf("--limit %q: %w", limit, err)
			}
			repo, err := a.repo()
			if err != nil {
				return err
			}
			defer repo.Close()
			th := core.BudgetThreshold{Category: category, Limit: m, Period: core.PeriodKind(period)}
			if err := repo.SetThreshold(cmd.Context(), userID, th); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "budget %s for %s set to %s (%s)\n", category, userID, m, period)
			if notify {
				return a.notify(cmd.Context(), userID, amqp.ReasonBudget)
			}
			return nil
		},
	}
	set.Flags().StringVar(&userID, "user", "", "budget owner")
	set.Flags().StringVar(&category, "category", "", "category the limit applies to")
	set.Flags().StringVar(&limit, "limit", "", "spending limit, e.g. 400.00")
	set.Flags().StringVar(&period, "period", string(core.Monthly), "weekly or monthly")
	set.Flags().BoolVar(&notify, "notify", false, "tell the worker the budgets changed")
	for _, f := range []string{"user", "category", "limit"} {
		_ = set.MarkFlagRequired(f)
	}

	var fixedUser string
	fixed := &cobra.Command{
		Use:   "fixed <category>...",
		Short: "Replace the categories excluded from savings recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repo()
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.SetFixed(cmd.Context(), fixedUser, args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d fixed categories set for %s\n", len(args), fixedUser)
			if notify {
				return a.notify(cmd.Context(), fixedUser, amqp.ReasonBudget)
			}
			return nil
		},
	}
	fixed.Flags().StringVar(&fixedUser, "user", "", "budget owner")
	fixed.Flags().BoolVar(&notify, "notify", false, "tell the worker the fixed categories changed")
	_ = fixed.MarkFlagRequired("user")

	cmd.AddCommand(set, fixed)
	return cmd
}

func newBalanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Manage the recorded account balance",
	}
	var userID, amount string
	set := &cobra.Command{
		Use:   "set",
		Short: "Record the current balance of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			var m core.Money
			if err := m.UnmarshalText([]byte(amount)); err != nil {
				return fmt.Errorf("--amount %q: %w", amount, err)
			}
			repo, err := a.repo()
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.SetBalance(cmd.Context(), userID, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "balance of %s set to %s\n", userID, m)
			return nil
		},
	}
	set.Flags().StringVar(&userID, "user", "", "account owner")
	set.Flags().StringVar(&amount, "amount", "", "balance, e.g. 1250.00")
	_ = set.MarkFlagRequired("user")
	_ = set.MarkFlagRequired("amount")
	cmd.AddCommand(set)
	return cmd
}
