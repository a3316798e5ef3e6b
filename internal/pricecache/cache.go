// Package pricecache keeps the last known market price per item and
// persists it between runs.
package pricecache

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// TTL is the age after which a cached price is considered stale. Stale
// prices still count towards totals but are flagged.
const TTL = time.Hour

// ErrInvalidPrice is returned for NaN, infinite, zero or negative prices.
var ErrInvalidPrice = errors.New("price must be finite and positive")

// Entry is a cached price.
type Entry struct {
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stale reports whether the entry is older than TTL at now.
func (e Entry) Stale(now time.Time) bool {
	return now.Sub(e.UpdatedAt) > TTL
}

// Sample is an externally sourced price observation.
type Sample struct {
	ItemID    int64     `json:"item_id"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"updated_at"`
}

// Cache maps item ids to prices. It is safe for concurrent use.
type Cache struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[int64]Entry
}

// New creates an empty Cache. A nil clock defaults to time.Now.
func New(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{now: now, entries: make(map[int64]Entry)}
}

// Valid reports whether p can be stored as a price.
func Valid(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

// Update inserts or overwrites the price for itemID, stamped with the
// current time.
func (c *Cache) Update(itemID int64, price float64) (Entry, error) {
	if !Valid(price) {
		return Entry{}, fmt.Errorf("item %d: %w", itemID, ErrInvalidPrice)
	}
	e := Entry{Price: price, UpdatedAt: c.now()}
	c.mu.Lock()
	c.entries[itemID] = e
	c.mu.Unlock()
	return e, nil
}

// Get returns the cached entry for itemID, stale or not.
func (c *Cache) Get(itemID int64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[itemID]
	return e, ok
}

// MergeRemote applies externally sourced samples. A sample replaces an
// existing entry only when its timestamp is strictly newer; invalid prices
// are skipped. It returns the number of entries written.
func (c *Cache) MergeRemote(samples []Sample) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	updated := 0
	for _, s := range samples {
		if !Valid(s.Price) {
			continue
		}
		if cur, ok := c.entries[s.ItemID]; ok && !s.Timestamp.After(cur.UpdatedAt) {
			continue
		}
		c.entries[s.ItemID] = Entry{Price: s.Price, UpdatedAt: s.Timestamp}
		updated++
	}
	return updated
}

// MergePersisted loads previously saved entries without overwriting any
// entry already present in memory. It returns the number of entries added.
func (c *Cache) MergePersisted(entries map[int64]Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for id, e := range entries {
		if !Valid(e.Price) {
			continue
		}
		if _, ok := c.entries[id]; ok {
			continue
		}
		c.entries[id] = e
		added++
	}
	return added
}

// Snapshot returns a copy of all entries.
func (c *Cache) Snapshot() map[int64]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]Entry, len(c.entries))
	for id, e := range c.entries {
		out[id] = e
	}
	return out
}

// View calls fn with the entries under the read lock. fn must not retain
// the map or call back into the cache.
func (c *Cache) View(fn func(entries map[int64]Entry, now time.Time)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.entries, c.now())
}

// Len returns the number of cached items.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SelectMarketPrice picks a representative price from an auction listing:
// the 20th percentile of the valid prices, which resists a single
// manipulated low listing better than the minimum.
func SelectMarketPrice(prices []float64) (float64, bool) {
	v := make([]float64, 0, len(prices))
	for _, p := range prices {
		if Valid(p) {
			v = append(v, p)
		}
	}
	if len(v) == 0 {
		return 0, false
	}
	sort.Float64s(v)
	idx := int(math.Round(float64(len(v)-1) * 0.2))
	return v[idx], true
}
