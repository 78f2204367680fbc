// Package cache holds the most recent successful quote per symbol.
package cache

import (
	"maps"
	"slices"
	"sync"
	"time"

	"portfoliotracker/internal/quote"
)

// Cache maps symbol -> last known good quote.
//
// Entries never expire: a failed refresh leaves the previous entry in place
// and only a newer successful fetch replaces it. The map is copy-on-write,
// so a Snapshot taken during a batch merge sees either the whole previous
// batch or the whole new one.
type Cache struct {
	mu          sync.RWMutex
	items       map[string]entry // key: symbol, never mutated in place
	lastRefresh time.Time
}

// entry stores a quote with the refresh batch that published it.
type entry struct {
	quote    quote.Quote
	mergedAt time.Time
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{items: map[string]entry{}}
}

// Get returns the cached quote for symbol. ok is false when the symbol was
// never fetched successfully.
func (c *Cache) Get(symbol string) (quote.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[quote.NormalizeSymbol(symbol)]
	return e.quote, ok
}

// Merge unconditionally overwrites the entry for symbol.
func (c *Cache) Merge(symbol string, q quote.Quote) {
	c.MergeBatch(map[string]quote.Quote{symbol: q}, time.Time{})
}

// MergeBatch publishes a whole batch of successful quotes in one step and,
// when at is non-zero, records it as the last refresh time. Quotes without
// a usable price are ignored.
func (c *Cache) MergeBatch(batch map[string]quote.Quote, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mergedAt := at
	if mergedAt.IsZero() {
		mergedAt = c.lastRefresh
	}
	next := make(map[string]entry, len(c.items)+len(batch))
	maps.Copy(next, c.items)
	for sym, q := range batch {
		if !q.Price.IsPositive() {
			continue
		}
		sym = quote.NormalizeSymbol(sym)
		q.Symbol = sym
		next[sym] = entry{quote: q, mergedAt: mergedAt}
	}
	c.items = next
	if !at.IsZero() {
		c.lastRefresh = at
	}
}

// Symbols lists cached symbols in sorted order.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.items))
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// LastRefresh is the completion time of the latest batch, zero before the
// first one.
func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// Stale reports whether symbol has an entry that predates the last refresh,
// i.e. the latest refresh attempt for it failed. A missing entry is not stale.
func (c *Cache) Stale(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[quote.NormalizeSymbol(symbol)]
	return ok && e.mergedAt.Before(c.lastRefresh)
}

// Snapshot returns an immutable view of the current batch.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{items: c.items, lastRefresh: c.lastRefresh}
}

// Snapshot is a read-only, consistent view of the cache.
type Snapshot struct {
	items       map[string]entry
	lastRefresh time.Time
}

// Get returns the quote for symbol in this snapshot.
func (s Snapshot) Get(symbol string) (quote.Quote, bool) {
	e, ok := s.items[quote.NormalizeSymbol(symbol)]
	return e.quote, ok
}

// Stale reports whether symbol's quote predates the snapshot's refresh.
func (s Snapshot) Stale(symbol string) bool {
	e, ok := s.items[quote.NormalizeSymbol(symbol)]
	return ok && e.mergedAt.Before(s.lastRefresh)
}

// LastRefresh is the refresh time the snapshot was taken at.
func (s Snapshot) LastRefresh() time.Time { return s.lastRefresh }

// Len returns the number of quotes in the snapshot.
func (s Snapshot) Len() int { return len(s.items) }
