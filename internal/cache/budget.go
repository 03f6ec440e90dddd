package cache

import (
	"context"
	"time"

	"ledgerlens/internal/core"
	"ledgerlens/internal/ledger"
)

type budgetEntry struct {
	thresholds map[string]core.BudgetThreshold
	fixed      []string
}

// BudgetCache decorates a ledger.BudgetConfig, reading both the thresholds
// and the fixed categories of a user once per TTL. Errors are not cached.
type BudgetCache struct {
	next    ledger.BudgetConfig
	entries *LRUCache[budgetEntry]
}

var _ ledger.BudgetConfig = (*BudgetCache)(nil)

func NewBudgetCache(next ledger.BudgetConfig, maxUsers int, ttl time.Duration) *BudgetCache {
	return &BudgetCache{next: next, entries: NewLRUCache[budgetEntry](maxUsers, ttl)}
}

func (c *BudgetCache) load(ctx context.Context, userID string) (budgetEntry, error) {
	if e, ok := c.entries.Get(userID); ok {
		return e, nil
	}
	thresholds, err := c.next.GetThresholds(ctx, userID)
	if err != nil {
		return budgetEntry{}, err
	}
	fixed, err := c.next.FixedCategories(ctx, userID)
	if err != nil {
		return budgetEntry{}, err
	}
	e := budgetEntry{thresholds: thresholds, fixed: fixed}
	c.entries.Set(userID, e)
	return e, nil
}

// GetThresholds returns a copy; callers may modify it.
func (c *BudgetCache) GetThresholds(ctx context.Context, userID string) (map[string]core.BudgetThreshold, error) {
	e, err := c.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.BudgetThreshold, len(e.thresholds))
	for k, v := range e.thresholds {
		out[k] = v
	}
	return out, nil
}

func (c *BudgetCache) FixedCategories(ctx context.Context, userID string) ([]string, error) {
	e, err := c.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), e.fixed...), nil
}

// Invalidate drops the cached budget of userID, e.g. after it was edited.
func (c *BudgetCache) Invalidate(userID string) {
	c.entries.Delete(userID)
}

// Cleaner exposes the underlying cache for registration with a Manager.
func (c *BudgetCache) Cleaner() Cleaner {
	return c.entries
}
