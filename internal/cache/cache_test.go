package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerlens/internal/core"
	"ledgerlens/internal/ledger/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestLRU[T any](size int, ttl time.Duration) (*LRUCache[T], *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[T](size, ttl)
	c.now = clk.Now
	return c, clk
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestLRU[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Size())
}

func TestLRUCache_TTL(t *testing.T) {
	c, clk := newTestLRU[string](10, time.Minute)
	c.Set("a", "x")
	c.Set("b", "y")

	clk.t = clk.t.Add(30 * time.Second)
	c.Set("b", "z")
	clk.t = clk.t.Add(30 * time.Second)

	_, ok := c.Get("a")
	assert.False(t, ok, "expires exactly at ttl")
	v, ok := c.Get("b")
	assert.True(t, ok, "refreshed by Set")
	assert.Equal(t, "z", v)

	clk.t = clk.t.Add(time.Minute)
	assert.Equal(t, 1, c.CleanExpired())
	assert.Zero(t, c.Size())
}

func TestManager_Sweep(t *testing.T) {
	a, clk := newTestLRU[int](10, time.Minute)
	a.Set("1", 1)
	a.Set("2", 2)
	clk.t = clk.t.Add(2 * time.Minute)

	m := NewManager()
	m.Register(a)
	assert.Equal(t, 2, m.Sweep())

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}

type countingBudgets struct {
	*memory.Store
	calls int
	fail  bool
}

func (c *countingBudgets) GetThresholds(ctx context.Context, userID string) (map[string]core.BudgetThreshold, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("db down")
	}
	return c.Store.GetThresholds(ctx, userID)
}

func TestBudgetCache(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SetThreshold("u1", core.BudgetThreshold{Category: "Groceries", Limit: core.Money{Cents: 20000}, Period: core.Monthly})
	store.SetFixed("u1", "Rent")
	next := &countingBudgets{Store: store}
	c := NewBudgetCache(next, 10, time.Minute)

	got, err := c.GetThresholds(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), got["Groceries"].Limit.Cents)
	fixed, err := c.FixedCategories(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Rent"}, fixed)
	assert.Equal(t, 1, next.calls)

	// Callers get copies.
	delete(got, "Groceries")
	again, _ := c.GetThresholds(ctx, "u1")
	assert.Contains(t, again, "Groceries")
	assert.Equal(t, 1, next.calls)

	store.SetThreshold("u1", core.BudgetThreshold{Category: "Groceries", Limit: core.Money{Cents: 30000}, Period: core.Monthly})
	c.Invalidate("u1")
	got, err = c.GetThresholds(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), got["Groceries"].Limit.Cents)
	assert.Equal(t, 2, next.calls)
}

func TestBudgetCache_DoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	next := &countingBudgets{Store: memory.New(), fail: true}
	c := NewBudgetCache(next, 10, time.Minute)

	_, err := c.GetThresholds(ctx, "u1")
	require.Error(t, err)

	next.fail = false
	_, err = c.GetThresholds(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}
