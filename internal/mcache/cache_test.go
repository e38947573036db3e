package mcache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/marketgate/internal/mcache"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGet_HitWithinTTL(t *testing.T) {
	clock := newFakeClock()
	cache := mcache.New(mcache.Options{Now: clock.Now})

	cache.Set(mcache.ClassQuote, mcache.QuoteKey("aapl"), "payload")

	clock.Advance(59 * time.Second)
	got, ok := cache.Get(mcache.QuoteKey("AAPL"))
	require.True(t, ok)
	assert.Equal(t, "payload", got)
}

func TestGet_ExpiredEntryIsPurgedAndMisses(t *testing.T) {
	clock := newFakeClock()
	cache := mcache.New(mcache.Options{Now: clock.Now})

	cache.Set(mcache.ClassQuote, mcache.QuoteKey("AAPL"), "payload")
	require.Equal(t, 1, cache.Len())

	clock.Advance(61 * time.Second)
	_, ok := cache.Get(mcache.QuoteKey("AAPL"))
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestTTL_PerClass(t *testing.T) {
	clock := newFakeClock()
	cache := mcache.New(mcache.Options{Now: clock.Now})

	cache.Set(mcache.ClassQuote, mcache.QuoteKey("AAPL"), "quote")
	cache.Set(mcache.ClassHistorical, mcache.HistoricalKey("AAPL", "1y", "1d"), "bars")
	cache.Set(mcache.ClassSearch, mcache.SearchKey("alphavantage", "apple"), "hits")

	clock.Advance(2 * time.Minute)

	_, ok := cache.Get(mcache.QuoteKey("AAPL"))
	assert.False(t, ok, "quote TTL is 60s")
	_, ok = cache.Get(mcache.HistoricalKey("AAPL", "1y", "1d"))
	assert.True(t, ok, "historical TTL is 5m")
	_, ok = cache.Get(mcache.SearchKey("alphavantage", "apple"))
	assert.True(t, ok, "search TTL is 10m")
}

func TestSet_Overwrites(t *testing.T) {
	cache := mcache.New(mcache.Options{})

	cache.Set(mcache.ClassQuote, mcache.QuoteKey("AAPL"), "old")
	cache.Set(mcache.ClassQuote, mcache.QuoteKey("AAPL"), "new")

	got, ok := cache.Get(mcache.QuoteKey("AAPL"))
	require.True(t, ok)
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, cache.Len())
}

func TestKeys_Normalization(t *testing.T) {
	assert.Equal(t, "quote:AAPL", mcache.QuoteKey(" aapl "))
	assert.Equal(t, "historical:MSFT:1y:1d", mcache.HistoricalKey("msft", "1y", "1d"))
	assert.Equal(t, "search:alphavantage:apple inc", mcache.SearchKey("alphavantage", "Apple Inc"))
	assert.Equal(t, "search:yahoo:apple inc", mcache.SearchKey("yahoo", "Apple Inc"))
}

func TestClear(t *testing.T) {
	cache := mcache.New(mcache.Options{})
	cache.Set(mcache.ClassQuote, mcache.QuoteKey("AAPL"), "x")
	cache.Set(mcache.ClassSearch, mcache.SearchKey("yahoo", "a"), "y")

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}
