package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ledgerlens/internal/core"
	"ledgerlens/internal/ledger"
)

var (
	_ ledger.LedgerView    = (*Store)(nil)
	_ ledger.BudgetConfig  = (*Store)(nil)
	_ ledger.ArchiveStore  = (*Store)(nil)
	_ ledger.InsightSink   = (*Store)(nil)
	_ ledger.Journal       = (*Store)(nil)
	_ ledger.ArchiveLister = (*Store)(nil)
)

func TestListTransactionsOrderedSince(t *testing.T) {
	s := New()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	err := s.AddTransactions("u1",
		core.Transaction{ID: "c", Timestamp: t0.Add(2 * time.Hour), Amount: core.Money{Cents: -300}, Category: "A"},
		core.Transaction{ID: "a", Timestamp: t0, Amount: core.Money{Cents: -100}, Category: "A"},
		core.Transaction{ID: "b", Timestamp: t0.Add(time.Hour), Amount: core.Money{Cents: -200}, Category: "A"},
	)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.ListTransactions(context.Background(), "u1", t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected list: %+v", got)
	}

	all, _ := s.ListTransactions(context.Background(), "u1", time.Time{})
	if len(all) != 3 || all[0].ID != "a" {
		t.Fatalf("unexpected full list: %+v", all)
	}
}

func TestAddTransactionsValidates(t *testing.T) {
	s := New()
	err := s.AddTransactions("u1", core.Transaction{ID: "x", Timestamp: time.Now(), Amount: core.Money{Cents: 10}})
	if err == nil {
		t.Fatal("expected validation error for empty category")
	}
}

func TestCurrentBalanceNotFound(t *testing.T) {
	s := New()
	if _, err := s.CurrentBalance(context.Background(), "u1"); err == nil {
		t.Fatal("expected not found")
	}
	s.SetBalance("u1", core.Money{Cents: 4200})
	b, err := s.CurrentBalance(context.Background(), "u1")
	if err != nil || b.Cents != 4200 {
		t.Fatalf("balance = %v, %v", b, err)
	}
}

func TestSaveArchiveReplacesSamePeriod(t *testing.T) {
	s := New()
	p := core.PeriodFor(core.Monthly, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	_ = s.SaveArchive(context.Background(), "u1", core.PeriodArchive{Period: p, Spend: core.Money{Cents: 1}})
	_ = s.SaveArchive(context.Background(), "u1", core.PeriodArchive{Period: p, Spend: core.Money{Cents: 2}})
	got := s.Archives("u1")
	if len(got) != 1 || got[0].Spend.Cents != 2 {
		t.Fatalf("unexpected archives: %+v", got)
	}
}

func TestSaveArchiveKeepsFirstBudgets(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := core.PeriodFor(core.Monthly, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	first := map[string]core.BudgetThreshold{"Dining": {Category: "Dining", Limit: core.Money{Cents: 100}}}
	later := map[string]core.BudgetThreshold{"Dining": {Category: "Dining", Limit: core.Money{Cents: 900}}}
	_ = s.SaveArchive(ctx, "u1", core.PeriodArchive{Period: p.Next(), Budgets: later})
	_ = s.SaveArchive(ctx, "u1", core.PeriodArchive{Period: p, Budgets: first})
	_ = s.SaveArchive(ctx, "u1", core.PeriodArchive{Period: p, Budgets: later, Spend: core.Money{Cents: 5}})

	got, err := s.ListArchives(ctx, "u1")
	if err != nil || len(got) != 2 {
		t.Fatalf("list archives = %+v, %v", got, err)
	}
	if !got[0].Period.Start.Equal(p.Start) || got[0].Spend.Cents != 5 {
		t.Fatalf("unexpected first archive: %+v", got[0])
	}
	if got[0].Budgets["Dining"].Limit.Cents != 100 {
		t.Fatalf("budgets were overwritten: %+v", got[0].Budgets)
	}
}

func TestListRecordedFollowsRecordingOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	late := core.Transaction{ID: "late", Timestamp: t0.Add(5 * time.Hour), Amount: core.Money{Cents: -100}, Category: "A"}
	early := core.Transaction{ID: "early", Timestamp: t0, Amount: core.Money{Cents: -100}, Category: "A"}
	if err := s.AddTransactions("u1", late); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTransactions("u2", late); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTransactions("u1", early); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListRecorded(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Tx.ID != "late" || all[1].Tx.ID != "early" || all[1].Seq <= all[0].Seq {
		t.Fatalf("unexpected journal: %+v", all)
	}

	rest, err := s.ListRecorded(ctx, "u1", all[0].Seq)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].Tx.ID != "early" {
		t.Fatalf("unexpected journal after %d: %+v", all[0].Seq, rest)
	}
}

func TestNewFromFilesSeedsFixedCategories(t *testing.T) {
	dir := t.TempDir()
	s := NewFromFiles(dir, "u1")
	fixed, _ := s.FixedCategories(context.Background(), "u1")
	if len(fixed) == 0 {
		t.Fatal("expected defaults when file missing")
	}

	content := "# fixed\nRent\nRent\n\nLoan\n"
	if err := os.WriteFile(filepath.Join(dir, "fixed_categories.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s = NewFromFiles(dir, "u1")
	fixed, _ = s.FixedCategories(context.Background(), "u1")
	if len(fixed) != 2 || fixed[0] != "Rent" || fixed[1] != "Loan" {
		t.Fatalf("unexpected fixed: %v", fixed)
	}
}
