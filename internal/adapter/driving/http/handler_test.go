package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	httphandler "github.com/ericfisherdev/marketgate/internal/adapter/driving/http"
	"github.com/ericfisherdev/marketgate/internal/application"
	"github.com/ericfisherdev/marketgate/internal/domain/model"
	"github.com/ericfisherdev/marketgate/internal/keypool"
	"github.com/ericfisherdev/marketgate/internal/mcache"
)

// --- Mock implementations ---

type mockProvider struct {
	name string

	quote    *model.Quote
	quoteErr error

	bars []model.Bar
	hits []model.SearchHit
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Quote(_ context.Context, _, _ string) (*model.Quote, error) {
	return m.quote, m.quoteErr
}

func (m *mockProvider) Historical(_ context.Context, _, _, _, _ string) ([]model.Bar, error) {
	return m.bars, nil
}

func (m *mockProvider) Search(_ context.Context, _ string) ([]model.SearchHit, error) {
	return m.hits, nil
}

type mockSymbolStore struct {
	hits []model.SearchHit
}

func (m *mockSymbolStore) Upsert(_ context.Context, _ model.SearchHit) error { return nil }

func (m *mockSymbolStore) UpsertAll(_ context.Context, _ []model.SearchHit) error { return nil }

func (m *mockSymbolStore) Search(_ context.Context, _ string, _ int) ([]model.SearchHit, error) {
	return m.hits, nil
}

func (m *mockSymbolStore) Count(_ context.Context) (int, error) { return len(m.hits), nil }

type mockQuoteStore struct {
	quote *model.Quote
}

func (m *mockQuoteStore) Upsert(_ context.Context, _ model.Quote) error { return nil }

func (m *mockQuoteStore) Get(_ context.Context, _ string) (*model.Quote, error) {
	return m.quote, nil
}

type mockLister struct {
	calls int
}

func (m *mockLister) ListSymbols(_ context.Context) ([]model.SearchHit, error) {
	m.calls++
	return []model.SearchHit{{Symbol: "AAPL"}}, nil
}

// --- Test helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestServer(t *testing.T, primary, secondary *mockProvider) http.Handler {
	t.Helper()
	return newTestServerWithStores(t, primary, secondary, &mockSymbolStore{}, &mockQuoteStore{})
}

func newTestServerWithStores(t *testing.T, primary, secondary *mockProvider, symbols *mockSymbolStore, quotes *mockQuoteStore) http.Handler {
	t.Helper()
	pool, err := keypool.New("alphavantage", []string{"test-secret-0001"}, keypool.Options{})
	require.NoError(t, err)

	svc := application.NewMarketService(
		primary, secondary, symbols, quotes, nil, pool, mcache.New(mcache.Options{}),
		application.MarketServiceOptions{BatchDelay: time.Microsecond, ProbeDelay: time.Microsecond, Logger: testLogger()},
	)

	handler := httphandler.NewHandler(svc, nil, testLogger())
	return httphandler.NewServeMux(handler, nil, testLogger())
}

// --- Tests ---

func TestGetQuote(t *testing.T) {
	primary := &mockProvider{name: "alphavantage", quote: &model.Quote{
		Symbol:    "AAPL",
		Price:     201.5,
		Timestamp: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}}
	server := newTestServer(t, primary, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quotes/AAPL", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
		Stale  bool    `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AAPL", resp.Symbol)
	assert.Equal(t, 201.5, resp.Price)
	assert.False(t, resp.Stale)
}

func TestGetQuoteNotFound(t *testing.T) {
	server := newTestServer(t, &mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quotes/ZZZZZZ", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "symbol not found")
}

func TestGetQuoteStaleFlagged(t *testing.T) {
	primary := &mockProvider{name: "alphavantage", quoteErr: errors.New("down")}
	secondary := &mockProvider{name: "yahoo", quoteErr: errors.New("down")}
	quotes := &mockQuoteStore{quote: &model.Quote{Symbol: "AAPL", Price: 187.25}}
	server := newTestServerWithStores(t, primary, secondary, &mockSymbolStore{}, quotes)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quotes/AAPL", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stale":true`)
}

func TestGetQuotesRequiresSymbols(t *testing.T) {
	server := newTestServer(t, &mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quotes?symbols=", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetQuotesBatch(t *testing.T) {
	secondary := &mockProvider{name: "yahoo", quote: &model.Quote{Symbol: "AAPL", Price: 199.0}}
	server := newTestServer(t, &mockProvider{name: "alphavantage"}, secondary)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quotes?symbols=AAPL", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "AAPL", resp[0]["symbol"])
}

func TestGetHistory(t *testing.T) {
	primary := &mockProvider{name: "alphavantage", bars: []model.Bar{
		{Date: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), Close: 201.5, AdjustedClose: 201.5},
	}}
	server := newTestServer(t, primary, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/AAPL?period=1mo&interval=1d", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, 201.5, resp[0]["close"])
}

func TestGetHistoryNotFound(t *testing.T) {
	server := newTestServer(t, &mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/ZZZZZZ", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	server := newTestServer(t, &mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRejectsBadLimit(t *testing.T) {
	server := newTestServer(t, &mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=apple&limit=0", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchMergesSources(t *testing.T) {
	symbols := &mockSymbolStore{hits: []model.SearchHit{
		{Symbol: "AAPL", Name: "Apple Inc.", Source: model.SourceLocal},
	}}
	primary := &mockProvider{name: "alphavantage", hits: []model.SearchHit{
		{Symbol: "AAPLW", Name: "Apple Warrants", Source: model.SourcePrimary},
	}}
	server := newTestServerWithStores(t, primary, &mockProvider{name: "yahoo"}, symbols, &mockQuoteStore{})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=apple", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "local", resp[0]["source"])
	assert.Equal(t, "alphavantage", resp[1]["source"])
}

func TestAdminStatus(t *testing.T) {
	server := newTestServer(t, &mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["total_keys"])
}

func TestAdminClearCache(t *testing.T) {
	server := newTestServer(t, &mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/cache/clear", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminSyncSymbolsUnavailableWithoutWorker(t *testing.T) {
	server := newTestServer(t, &mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/symbols/sync", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminSyncSymbolsAccepted(t *testing.T) {
	pool, err := keypool.New("alphavantage", []string{"test-secret-0001"}, keypool.Options{})
	require.NoError(t, err)

	svc := application.NewMarketService(
		&mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"},
		&mockSymbolStore{}, &mockQuoteStore{}, nil, pool, mcache.New(mcache.Options{}),
		application.MarketServiceOptions{Logger: testLogger()},
	)
	worker := application.NewSymbolSync(&mockLister{}, &mockSymbolStore{}, time.Hour, testLogger())
	handler := httphandler.NewHandler(svc, worker, testLogger())
	server := httphandler.NewServeMux(handler, nil, testLogger())

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/symbols/sync", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, &mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRateLimitMiddleware(t *testing.T) {
	pool, err := keypool.New("alphavantage", []string{"test-secret-0001"}, keypool.Options{})
	require.NoError(t, err)

	svc := application.NewMarketService(
		&mockProvider{name: "alphavantage"}, &mockProvider{name: "yahoo"},
		&mockSymbolStore{}, &mockQuoteStore{}, nil, pool, mcache.New(mcache.Options{}),
		application.MarketServiceOptions{Logger: testLogger()},
	)
	handler := httphandler.NewHandler(svc, nil, testLogger())
	server := httphandler.NewServeMux(handler, rate.NewLimiter(rate.Limit(1), 1), testLogger())

	first := httptest.NewRecorder()
	server.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	second := httptest.NewRecorder()
	server.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
