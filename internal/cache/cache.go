// Package cache holds the volatile read path for current prices and
// block heights. Entries are overwritten on every successful poll and
// never persisted.
package cache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"coinfolio/internal/domain"
)

// RateEntry is the latest observed value for a currency pair.
type RateEntry struct {
	Pair       domain.Pair
	Value      decimal.Decimal
	ObservedAt time.Time
}

// RateCache maps currency pairs to their most recent rate.
// Safe for concurrent use; reads never observe a torn value.
type RateCache struct {
	mu      sync.RWMutex
	entries map[domain.Pair]RateEntry
}

// NewRateCache constructs an empty RateCache.
func NewRateCache() *RateCache {
	return &RateCache{entries: make(map[domain.Pair]RateEntry)}
}

// Get returns the cached entry for a pair, if any.
func (c *RateCache) Get(pair domain.Pair) (RateEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[pair]
	return entry, ok
}

// Set records the latest value for a pair. Last write wins.
func (c *RateCache) Set(pair domain.Pair, value decimal.Decimal, observedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[pair] = RateEntry{Pair: pair, Value: value, ObservedAt: observedAt}
}

// All returns a snapshot of every cached entry.
func (c *RateCache) All() []RateEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RateEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry)
	}
	return out
}

// HeightEntry is the latest observed block count for a chain.
type HeightEntry struct {
	Chain      domain.Chain
	Height     uint64
	ObservedAt time.Time
}

// HeightCache maps chains to their most recent block count.
type HeightCache struct {
	mu      sync.RWMutex
	entries map[domain.Chain]HeightEntry
}

// NewHeightCache constructs an empty HeightCache.
func NewHeightCache() *HeightCache {
	return &HeightCache{entries: make(map[domain.Chain]HeightEntry)}
}

// Get returns the cached height for a chain, if any.
func (c *HeightCache) Get(chain domain.Chain) (HeightEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[chain]
	return entry, ok
}

// Set records the latest block count for a chain.
func (c *HeightCache) Set(chain domain.Chain, height uint64, observedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[chain] = HeightEntry{Chain: chain, Height: height, ObservedAt: observedAt}
}
