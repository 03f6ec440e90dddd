package sheets

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"ledgerlens/internal/core"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// parseLedger converts a ledger values matrix into per-user transactions
// ordered by timestamp. The header row must name ID, Date, Amount and
// Category; User and Balance are optional. Rows without a user column
// belong to defaultUser. Blank rows are skipped.
func parseLedger(values [][]interface{}, defaultUser string) (map[string][]core.Transaction, error) {
	out := map[string][]core.Transaction{}
	if len(values) == 0 {
		return out, nil
	}
	headers := toStrings(values[0])
	col := map[string]int{}
	var missing []string
	for _, h := range []string{"ID", "Date", "Amount", "Category"} {
		if col[h] = indexOf(headers, h); col[h] == -1 {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unexpected ledger header: missing %s; got headers=%v", strings.Join(missing, ","), headers)
	}
	colUser := indexOf(headers, "User")
	colBalance := indexOf(headers, "Balance")

	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		if isBlank(row) {
			continue
		}
		user := safeGet(row, colUser)
		if user == "" {
			user = defaultUser
		}
		tx, err := parseRow(row, col, colBalance)
		if err != nil {
			return nil, fmt.Errorf("ledger row %d: %w", i+1, err)
		}
		out[user] = append(out[user], tx)
	}
	for _, txs := range out {
		sort.SliceStable(txs, func(a, b int) bool { return txs[a].Timestamp.Before(txs[b].Timestamp) })
	}
	return out, nil
}

func parseRow(row []string, col map[string]int, colBalance int) (core.Transaction, error) {
	ts, err := parseDate(safeGet(row, col["Date"]))
	if err != nil {
		return core.Transaction{}, err
	}
	amount, err := parseMoney(safeGet(row, col["Amount"]))
	if err != nil {
		return core.Transaction{}, err
	}
	tx := core.Transaction{
		ID:        safeGet(row, col["ID"]),
		Timestamp: ts,
		Amount:    amount,
		Category:  safeGet(row, col["Category"]),
	}
	if raw := safeGet(row, colBalance); raw != "" {
		var bal core.Money
		if err := bal.UnmarshalText([]byte(stripCurrency(raw))); err != nil {
			return core.Transaction{}, fmt.Errorf("balance %q: %w", raw, err)
		}
		tx.BalanceAfter = &bal
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// parseBalances reads a User/Balance matrix.
func parseBalances(values [][]interface{}) (map[string]core.Money, error) {
	out := map[string]core.Money{}
	if len(values) == 0 {
		return out, nil
	}
	headers := toStrings(values[0])
	colUser, colBalance := indexOf(headers, "User"), indexOf(headers, "Balance")
	if colUser == -1 || colBalance == -1 {
		return nil, fmt.Errorf("unexpected balances header: want User,Balance; got headers=%v", headers)
	}
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		user, raw := safeGet(row, colUser), safeGet(row, colBalance)
		if user == "" || raw == "" {
			continue
		}
		var m core.Money
		if err := m.UnmarshalText([]byte(stripCurrency(raw))); err != nil {
			return nil, fmt.Errorf("balances row %d: %w", i+1, err)
		}
		out[user] = m
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q: %w", s, core.ErrInvalidDate)
}

func parseMoney(s string) (core.Money, error) {
	m, err := core.ParseAmount(stripCurrency(s))
	if err != nil {
		return core.Money{}, fmt.Errorf("amount %q: %w", s, err)
	}
	return m, nil
}

func stripCurrency(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "€")
	s = strings.TrimSuffix(s, "€")
	return strings.TrimSpace(s)
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

func isBlank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
