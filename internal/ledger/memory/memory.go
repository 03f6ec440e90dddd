// Package memory is an in-process implementation of every ledger port, used
// by tests, demos and the "memory" ledger backend.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ledgerlens/internal/core"
	"ledgerlens/internal/ledger"
)

type Store struct {
	mu         sync.Mutex
	txs        map[string][]core.Transaction
	journal    map[string][]ledger.Recorded
	seq        int64
	balances   map[string]core.Money
	thresholds map[string]map[string]core.BudgetThreshold
	fixed      map[string][]string
	archives   map[string][]core.PeriodArchive
	delivered  map[string][]core.Insight
}

func New() *Store {
	return &Store{
		txs:        make(map[string][]core.Transaction),
		journal:    make(map[string][]ledger.Recorded),
		balances:   make(map[string]core.Money),
		thresholds: make(map[string]map[string]core.BudgetThreshold),
		fixed:      make(map[string][]string),
		archives:   make(map[string][]core.PeriodArchive),
		delivered:  make(map[string][]core.Insight),
	}
}

// NewFromFiles seeds the fixed categories of defaultUser from
// base/fixed_categories.txt, one per line, '#' for comments.
func NewFromFiles(base, defaultUser string) *Store {
	s := New()
	fixed := readLines(filepath.Join(base, "fixed_categories.txt"))
	if len(fixed) == 0 {
		fixed = []string{"Rent", "Utilities", "Insurance"}
	}
	s.fixed[defaultUser] = fixed
	return s
}

// AddTransactions validates and stores txs, keeping each user's list ordered
// by timestamp. Insertion order is kept for equal timestamps. Each call
// also appends txs to the user's journal in the given order.
func (s *Store) AddTransactions(userID string, txs ...core.Transaction) error {
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("add transaction %s: %w", tx.ID, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.txs[userID], txs...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	s.txs[userID] = list
	for _, tx := range txs {
		s.seq++
		s.journal[userID] = append(s.journal[userID], ledger.Recorded{Seq: s.seq, Tx: tx})
	}
	return nil
}

func (s *Store) ListRecorded(_ context.Context, userID string, afterSeq int64) ([]ledger.Recorded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.journal[userID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Seq > afterSeq })
	return append([]ledger.Recorded(nil), list[i:]...), nil
}

func (s *Store) SetBalance(userID string, balance core.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func (s *Store) SetThreshold(userID string, th core.BudgetThreshold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thresholds[userID] == nil {
		s.thresholds[userID] = make(map[string]core.BudgetThreshold)
	}
	s.thresholds[userID][th.Category] = th
}

func (s *Store) SetFixed(userID string, categories ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixed[userID] = dedupe(categories)
}

func (s *Store) ListTransactions(_ context.Context, userID string, since time.Time) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.txs[userID]
	i := sort.Search(len(list), func(i int) bool { return !list[i].Timestamp.Before(since) })
	return append([]core.Transaction(nil), list[i:]...), nil
}

func (s *Store) CurrentBalance(_ context.Context, userID string) (core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return core.Money{}, fmt.Errorf("balance for %s: %w", userID, core.ErrNotFound)
	}
	return b, nil
}

func (s *Store) GetThresholds(_ context.Context, userID string) (map[string]core.BudgetThreshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.BudgetThreshold, len(s.thresholds[userID]))
	for k, v := range s.thresholds[userID] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) FixedCategories(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fixed[userID]...), nil
}

// SaveArchive replaces an earlier save of the same period except for its
// budgets, which keep the values first saved.
func (s *Store) SaveArchive(_ context.Context, userID string, a core.PeriodArchive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.archives[userID]
	for i := range list {
		if list[i].Period.Start.Equal(a.Period.Start) {
			budgets := list[i].Budgets
			list[i] = a.Clone()
			if budgets != nil {
				list[i].Budgets = budgets
			}
			return nil
		}
	}
	s.archives[userID] = append(list, a.Clone())
	return nil
}

// ListArchives returns the saved archives ordered by period start.
func (s *Store) ListArchives(_ context.Context, userID string) ([]core.PeriodArchive, error) {
	out := s.Archives(userID)
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Start.Before(out[j].Period.Start) })
	return out, nil
}

// Archives returns the saved archives of userID in save order.
func (s *Store) Archives(userID string) []core.PeriodArchive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.PeriodArchive(nil), s.archives[userID]...)
}

func (s *Store) Deliver(_ context.Context, userID string, insights []core.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[userID] = append(s.delivered[userID], insights...)
	return nil
}

// Delivered returns every insight delivered to userID so far.
func (s *Store) Delivered(userID string) []core.Insight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Insight(nil), s.delivered[userID]...)
}

// ListInsights returns up to limit delivered insights, newest first.
func (s *Store) ListInsights(_ context.Context, userID string, limit int) ([]core.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.delivered[userID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]core.Insight, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// ListUsers lists users with at least one transaction, sorted.
func (s *Store) ListUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.SortedCategories(s.txs), nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
