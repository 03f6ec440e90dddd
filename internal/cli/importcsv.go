package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ledgerlens/internal/core"
)

var csvDateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// ParseCSV reads transactions from a CSV with a header row naming id, date,
// amount and category, and optionally balance_after. Column order is free.
func ParseCSV(r io.Reader) ([]core.Transaction, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"id", "date", "amount", "category"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("csv header: missing column %q", required)
		}
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var txs []core.Transaction
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return txs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := parseCSVDate(get(rec, "date"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		amount, err := core.ParseAmount(get(rec, "amount"))
		if err != nil {
			return nil, fmt.Errorf("line %d: amount %q: %w", line, get(rec, "amount"), err)
		}
		tx := core.Transaction{
			ID:        get(rec, "id"),
			Timestamp: ts,
			Amount:    amount,
			Category:  get(rec, "category"),
		}
		if raw := get(rec, "balance_after"); raw != "" {
			var bal core.Money
			if err := bal.UnmarshalText([]byte(raw)); err != nil {
				return nil, fmt.Errorf("line %d: balance_after %q: %w", line, raw, err)
			}
			tx.BalanceAfter = &bal
		}
		if err := tx.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		txs = append(txs, tx)
	}
}

func parseCSVDate(s string) (time.Time, error) {
	for _, layout := range csvDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q: %w", s, core.ErrInvalidDate)
}
