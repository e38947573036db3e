// Package mcache is the gateway's time-boxed response cache. Entries are
// keyed by data class plus normalized query parameters and expire on a
// class-specific TTL, trading staleness against provider call volume.
package mcache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Class partitions cached payloads by data kind; each class carries its own
// TTL.
type Class string

const (
	ClassQuote      Class = "quote"
	ClassHistorical Class = "historical"
	ClassSearch     Class = "search"
)

// Options tunes a Cache. Zero TTLs fall back to the defaults: quote 60s,
// historical 5m, search 10m.
type Options struct {
	QuoteTTL      time.Duration
	HistoricalTTL time.Duration
	SearchTTL     time.Duration
	// SweepInterval is the period of the background purge. Default 60s.
	SweepInterval time.Duration
	// Now overrides the clock for tests.
	Now    func() time.Time
	Logger *slog.Logger
}

type entry struct {
	class    Class
	payload  any
	storedAt time.Time
}

// Cache memoizes provider responses. Get purges expired entries it touches;
// Sweep bounds memory for keys that are never read again.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttls    map[Class]time.Duration
	sweep   time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// New builds an empty cache.
func New(opts Options) *Cache {
	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = time.Minute
	}
	if opts.HistoricalTTL <= 0 {
		opts.HistoricalTTL = 5 * time.Minute
	}
	if opts.SearchTTL <= 0 {
		opts.SearchTTL = 10 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Cache{
		entries: make(map[string]entry),
		ttls: map[Class]time.Duration{
			ClassQuote:      opts.QuoteTTL,
			ClassHistorical: opts.HistoricalTTL,
			ClassSearch:     opts.SearchTTL,
		},
		sweep:  opts.SweepInterval,
		now:    opts.Now,
		logger: opts.Logger,
	}
}

// Get returns the cached payload for key if present and unexpired. An
// expired entry found here is deleted and reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttls[e.class] {
		delete(c.entries, key)
		return nil, false
	}
	return e.payload, true
}

// Set unconditionally overwrites the payload for key.
func (c *Cache) Set(class Class, key string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{class: class, payload: payload, storedAt: c.now()}
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// StartSweeper runs the periodic purge until ctx is canceled. Run it in its
// own goroutine from the composition root.
func (c *Cache) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache sweeper stopped")
			return
		case <-ticker.C:
			if removed := c.purgeExpired(); removed > 0 {
				c.logger.Debug("cache sweep", "removed", removed, "remaining", c.Len())
			}
		}
	}
}

// purgeExpired removes every entry past its class TTL and returns the count.
func (c *Cache) purgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttls[e.class] {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// QuoteKey builds the cache key for a live quote. The symbol is upper-cased
// so logically identical requests collide on purpose.
func QuoteKey(symbol string) string {
	return "quote:" + strings.ToUpper(strings.TrimSpace(symbol))
}

// HistoricalKey builds the cache key for a historical series.
func HistoricalKey(symbol, period, interval string) string {
	return "historical:" + strings.ToUpper(strings.TrimSpace(symbol)) + ":" + period + ":" + interval
}

// SearchKey builds the cache key for a symbol search. Keys carry the
// provider tag: search results are per-source inputs to a merge, so two
// providers answering the same query must not collide. Queries are
// lower-cased.
func SearchKey(provider, query string) string {
	return "search:" + provider + ":" + strings.ToLower(strings.TrimSpace(query))
}
