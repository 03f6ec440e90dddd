package sheets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerlens/internal/core"
)

func TestParseLedger(t *testing.T) {
	values := [][]interface{}{
		{"Date", "ID", "Amount", "Category", "Balance", "User"},
		{"2024-03-02", "t2", "-12,50", "Dining", "", "alice"},
		{"2024-03-01 09:30", "t1", "2500.00", "Salary", "€ 2600.00", "alice"},
		{"", "", "", "", "", ""},
		{"03/03/2024", "t3", "-40", "Groceries", "", ""},
		{"2024-03-02T08:00:00Z", "t4", "-7.20", "Coffee"},
	}

	got, err := parseLedger(values, "default")
	require.NoError(t, err)
	require.Len(t, got["alice"], 2)
	require.Len(t, got["default"], 2)

	first := got["alice"][0]
	assert.Equal(t, "t1", first.ID)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, int64(250000), first.Amount.Cents)
	require.NotNil(t, first.BalanceAfter)
	assert.Equal(t, int64(260000), first.BalanceAfter.Cents)

	second := got["alice"][1]
	assert.Equal(t, int64(-1250), second.Amount.Cents)
	assert.Nil(t, second.BalanceAfter)

	def := got["default"]
	assert.Equal(t, "t4", def[0].ID, "sorted by timestamp")
	assert.Equal(t, "t3", def[1].ID)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), def[1].Timestamp)
}

func TestParseLedger_HeaderAndRowErrors(t *testing.T) {
	tests := []struct {
		name    string
		values  [][]interface{}
		wantErr error
		wantMsg string
	}{
		{
			name:    "missing columns",
			values:  [][]interface{}{{"Date", "Amount"}},
			wantMsg: "missing ID,Category",
		},
		{
			name:    "bad date",
			values:  [][]interface{}{{"ID", "Date", "Amount", "Category"}, {"x", "yesterday", "-1", "Misc"}},
			wantErr: core.ErrInvalidDate,
			wantMsg: "ledger row 2",
		},
		{
			name:    "zero amount",
			values:  [][]interface{}{{"ID", "Date", "Amount", "Category"}, {"x", "2024-01-01", "0", "Misc"}},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "empty category",
			values:  [][]interface{}{{"ID", "Date", "Amount", "Category"}, {"x", "2024-01-01", "-3", ""}},
			wantErr: core.ErrEmptyCategory,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseLedger(tt.values, "default")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParseLedger_Empty(t *testing.T) {
	got, err := parseLedger(nil, "default")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseBalances(t *testing.T) {
	got, err := parseBalances([][]interface{}{
		{"User", "Balance"},
		{"alice", "1234,5"},
		{"bob", "0"},
		{"", "10"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]core.Money{"alice": {Cents: 123450}, "bob": {Cents: 0}}, got)

	_, err = parseBalances([][]interface{}{{"Name", "Amount"}})
	assert.Error(t, err)
}
