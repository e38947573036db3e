package yahoo_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/marketgate/internal/adapter/driven/yahoo"
	"github.com/ericfisherdev/marketgate/internal/mcache"
)

const quoteBody = `{
	"quoteResponse": {
		"result": [{
			"symbol": "AAPL",
			"regularMarketPrice": 194.30,
			"regularMarketChange": 2.50,
			"regularMarketChangePercent": 1.3034,
			"regularMarketVolume": 51234567,
			"marketCap": 2950000000000,
			"regularMarketDayHigh": 195.0,
			"regularMarketDayLow": 191.5,
			"regularMarketOpen": 192.1,
			"regularMarketPreviousClose": 191.8,
			"regularMarketTime": 1748856600
		}],
		"error": null
	}
}`

func newTestClient(t *testing.T, handler http.Handler) *yahoo.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return yahoo.NewClient(mcache.New(mcache.Options{}), yahoo.Options{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
}

func TestQuote_ParsesV7Payload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v7/finance/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbols"))
		assert.NotContains(t, r.Header.Get("User-Agent"), "Go-http-client")
		fmt.Fprint(w, quoteBody)
	}))

	quote, err := client.Quote(context.Background(), "aapl", "")
	require.NoError(t, err)
	require.NotNil(t, quote)

	assert.Equal(t, "AAPL", quote.Symbol)
	assert.InDelta(t, 194.30, quote.Price, 1e-9)
	assert.Equal(t, int64(2950000000000), quote.MarketCap)
	assert.Equal(t, int64(51234567), quote.Volume)
	assert.Equal(t, 2025, quote.Timestamp.Year())
}

func TestQuote_EmptyResultMeansNoData(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"quoteResponse": {"result": [], "error": null}}`)
	}))

	quote, err := client.Quote(context.Background(), "ZZZZ", "")
	require.NoError(t, err)
	assert.Nil(t, quote)
}

func TestQuote_CacheHitSkipsProvider(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, quoteBody)
	}))

	_, err := client.Quote(context.Background(), "AAPL", "")
	require.NoError(t, err)
	_, err = client.Quote(context.Background(), "AAPL", "")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
}

func TestQuote_ErrorStatusIsError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.Quote(context.Background(), "AAPL", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestHistorical_ParsesChartWithNullSlots(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1mo", r.URL.Query().Get("range"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprint(w, `{
			"chart": {
				"result": [{
					"timestamp": [1748599800, 1748856600, 1748943000],
					"indicators": {
						"quote": [{
							"open":   [190.0, null, 194.5],
							"high":   [192.2, null, 196.0],
							"low":    [189.9, null, 194.0],
							"close":  [191.8, null, 195.2],
							"volume": [48000000, null, 50100000]
						}],
						"adjclose": [{"adjclose": [191.5, null, 195.2]}]
					}
				}]
			}
		}`)
	}))

	bars, err := client.Historical(context.Background(), "AAPL", "1mo", "1d", "")
	require.NoError(t, err)
	require.Len(t, bars, 2, "null close slot is skipped")

	assert.True(t, bars[0].Date.Before(bars[1].Date))
	assert.InDelta(t, 191.8, bars[0].Close, 1e-9)
	assert.InDelta(t, 191.5, bars[0].AdjustedClose, 1e-9)
	assert.Equal(t, int64(50100000), bars[1].Volume)
}

func TestHistorical_NoResultMeansNoData(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart": {"result": []}}`)
	}))

	bars, err := client.Historical(context.Background(), "ZZZZ", "1mo", "1d", "")
	require.NoError(t, err)
	assert.Nil(t, bars)
}

func TestSearch_ParsesQuotes(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/finance/search", r.URL.Path)
		assert.Equal(t, "apple", r.URL.Query().Get("q"))
		fmt.Fprint(w, `{"quotes": [
			{"symbol": "AAPL", "shortname": "Apple Inc.", "exchange": "NMS", "quoteType": "EQUITY", "sector": "Technology", "industry": "Consumer Electronics"},
			{"symbol": "", "shortname": "Some News Item"}
		]}`)
	}))

	hits, err := client.Search(context.Background(), "apple")
	require.NoError(t, err)
	require.Len(t, hits, 1)

	assert.Equal(t, "AAPL", hits[0].Symbol)
	assert.Equal(t, "Apple Inc.", hits[0].Name)
	assert.Equal(t, "Technology", hits[0].Sector)
	assert.Equal(t, "yahoo", string(hits[0].Source))
}
