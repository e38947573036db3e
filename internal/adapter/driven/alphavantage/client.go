// Package alphavantage implements the MarketProvider port against the Alpha
// Vantage REST API. Every pooled call goes through the credential pool
// scheduler; caller-supplied user keys bypass pool accounting entirely.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
	"github.com/ericfisherdev/marketgate/internal/domain/port/driven"
	"github.com/ericfisherdev/marketgate/internal/keypool"
	"github.com/ericfisherdev/marketgate/internal/mcache"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.MarketProvider = (*Client)(nil)
	_ driven.BatchQuoter    = (*Client)(nil)
	_ driven.SymbolLister   = (*Client)(nil)
	_ driven.KeyProber      = (*Client)(nil)
	_ driven.KeyRegistrar   = (*Client)(nil)
)

const (
	defaultBaseURL = "https://www.alphavantage.co"
	requestTimeout = 15 * time.Second
)

// Options configures a Client beyond its pool and cache.
type Options struct {
	// BaseURL overrides the production endpoint, mainly for httptest servers.
	BaseURL string
	// Premium enables the licensed endpoint mode: an entitlement parameter on
	// every request. The scheduling algorithm is unaffected.
	Premium bool
	// HTTPClient overrides the default 15s-timeout client.
	HTTPClient *http.Client
	// Now overrides the clock for tests.
	Now    func() time.Time
	Logger *slog.Logger
}

// Client is the Alpha Vantage driven adapter.
type Client struct {
	http    *http.Client
	listing *http.Client // Memory-cached transport for the bulk symbol listing.
	baseURL string
	pool    *keypool.Pool
	cache   *mcache.Cache
	premium bool
	now     func() time.Time
	logger  *slog.Logger
}

// NewClient creates an Alpha Vantage client backed by the given credential
// pool and response cache. The bulk-listing client carries an httpcache
// memory transport because listing responses are large, keyless-safe to
// replay, and refreshed at most daily.
func NewClient(pool *keypool.Pool, cache *mcache.Cache, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		http: opts.HTTPClient,
		listing: &http.Client{
			Timeout:   60 * time.Second,
			Transport: httpcache.NewMemoryCacheTransport(),
		},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		pool:    pool,
		cache:   cache,
		premium: opts.Premium,
		now:     opts.Now,
		logger:  opts.Logger,
	}
}

// Name implements driven.MarketProvider.
func (c *Client) Name() string { return "alphavantage" }

// Quote fetches a live quote via GLOBAL_QUOTE. Cache-first; an empty
// "Global Quote" object means the symbol does not exist and yields (nil, nil).
func (c *Client) Quote(ctx context.Context, symbol, userKey string) (*model.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	cacheKey := mcache.QuoteKey(symbol)
	if v, ok := c.cache.Get(cacheKey); ok {
		q := v.(model.Quote)
		return &q, nil
	}

	var payload struct {
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	err := c.call(ctx, userKey, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
	}, &payload)
	if err != nil {
		return nil, err
	}
	if len(payload.GlobalQuote) == 0 || payload.GlobalQuote["05. price"] == "" {
		return nil, nil
	}

	g := payload.GlobalQuote
	quote := model.Quote{
		Symbol:        strings.ToUpper(g["01. symbol"]),
		Price:         atof(g["05. price"]),
		Change:        atof(g["09. change"]),
		ChangePercent: atof(strings.TrimSuffix(g["10. change percent"], "%")),
		Volume:        atoi(g["06. volume"]),
		High:          atof(g["03. high"]),
		Low:           atof(g["04. low"]),
		Open:          atof(g["02. open"]),
		PreviousClose: atof(g["08. previous close"]),
		Timestamp:     tradingDay(g["07. latest trading day"]),
	}
	if quote.Symbol == "" {
		quote.Symbol = symbol
	}

	c.cache.Set(mcache.ClassQuote, cacheKey, quote)
	return &quote, nil
}

// Historical fetches bars oldest-first. Intraday intervals ("1min".."60min")
// map to TIME_SERIES_INTRADAY; "1wk" and "1mo" to the weekly and monthly
// series; everything else to TIME_SERIES_DAILY. The period bounds how far
// back the series is trimmed.
func (c *Client) Historical(ctx context.Context, symbol, period, interval, userKey string) ([]model.Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	cacheKey := mcache.HistoricalKey(symbol, period, interval)
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]model.Bar), nil
	}

	params := url.Values{"symbol": {symbol}}
	switch {
	case strings.HasSuffix(interval, "min"):
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", interval)
	case interval == "1wk":
		params.Set("function", "TIME_SERIES_WEEKLY")
	case interval == "1mo":
		params.Set("function", "TIME_SERIES_MONTHLY")
	default:
		params.Set("function", "TIME_SERIES_DAILY")
	}
	params.Set("outputsize", outputSize(period))

	var payload map[string]json.RawMessage
	if err := c.call(ctx, userKey, params, &payload); err != nil {
		return nil, err
	}

	series := findSeries(payload)
	if len(series) == 0 {
		return nil, nil
	}

	cutoff := periodStart(period, c.now())
	bars := make([]model.Bar, 0, len(series))
	for dateStr, fields := range series {
		date, err := parseSeriesDate(dateStr)
		if err != nil {
			continue
		}
		if !cutoff.IsZero() && date.Before(cutoff) {
			continue
		}
		bar := model.Bar{
			Date:          date,
			Open:          atof(fields["1. open"]),
			High:          atof(fields["2. high"]),
			Low:           atof(fields["3. low"]),
			Close:         atof(fields["4. close"]),
			AdjustedClose: atof(fields["5. adjusted close"]),
			Volume:        atoi(fields["5. volume"]),
		}
		if bar.AdjustedClose != 0 {
			bar.Volume = atoi(fields["6. volume"])
		} else {
			bar.AdjustedClose = bar.Close
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	c.cache.Set(mcache.ClassHistorical, cacheKey, bars)
	return bars, nil
}

// Search implements SYMBOL_SEARCH. Always issued with a pooled key; search
// traffic is never user-scoped.
func (c *Client) Search(ctx context.Context, query string) ([]model.SearchHit, error) {
	query = strings.TrimSpace(query)
	cacheKey := mcache.SearchKey(c.Name(), query)
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]model.SearchHit), nil
	}

	var payload struct {
		BestMatches []map[string]string `json:"bestMatches"`
	}
	err := c.call(ctx, "", url.Values{
		"function": {"SYMBOL_SEARCH"},
		"keywords": {query},
	}, &payload)
	if err != nil {
		return nil, err
	}

	hits := make([]model.SearchHit, 0, len(payload.BestMatches))
	for _, m := range payload.BestMatches {
		if m["1. symbol"] == "" {
			continue
		}
		hits = append(hits, model.SearchHit{
			Symbol:   strings.ToUpper(m["1. symbol"]),
			Name:     m["2. name"],
			Exchange: m["4. region"],
			Type:     m["3. type"],
			Source:   model.SourcePrimary,
		})
	}

	c.cache.Set(mcache.ClassSearch, cacheKey, hits)
	return hits, nil
}

// BatchQuotes resolves several symbols in one REALTIME_BULK_QUOTES call.
// Symbols the provider leaves out of the response are simply absent from the
// returned slice; the orchestrator fills them in from the secondary source.
func (c *Client) BatchQuotes(ctx context.Context, symbols []string) ([]model.Quote, error) {
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(strings.TrimSpace(s)))
	}

	var payload struct {
		Data []map[string]string `json:"data"`
	}
	err := c.call(ctx, "", url.Values{
		"function": {"REALTIME_BULK_QUOTES"},
		"symbol":   {strings.Join(upper, ",")},
	}, &payload)
	if err != nil {
		return nil, err
	}

	quotes := make([]model.Quote, 0, len(payload.Data))
	for _, d := range payload.Data {
		if d["symbol"] == "" {
			continue
		}
		quote := model.Quote{
			Symbol:        strings.ToUpper(d["symbol"]),
			Price:         atof(d["close"]),
			Change:        atof(d["change"]),
			ChangePercent: atof(strings.TrimSuffix(d["change_percent"], "%")),
			Volume:        atoi(d["volume"]),
			High:          atof(d["high"]),
			Low:           atof(d["low"]),
			Open:          atof(d["open"]),
			PreviousClose: atof(d["previous_close"]),
			Timestamp:     tradingDay(d["timestamp"]),
		}
		if quote.Price == 0 {
			continue
		}
		c.cache.Set(mcache.ClassQuote, mcache.QuoteKey(quote.Symbol), quote)
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// ListSymbols downloads the LISTING_STATUS CSV of active symbols for the
// local directory sync. The response is served through the cached transport,
// so repeat syncs within the cache window do not re-download the full list.
func (c *Client) ListSymbols(ctx context.Context) ([]model.SearchHit, error) {
	key, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	addr := c.baseURL + "/query?" + url.Values{
		"function": {"LISTING_STATUS"},
		"state":    {"active"},
		"apikey":   {key.Secret},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("building listing request: %w", err)
	}

	resp, err := c.listing.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching symbol listing: %w", err)
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp.StatusCode, key.ID, true); err != nil {
		return nil, err
	}

	return parseListingCSV(resp.Body)
}

// ProbeKey validates one credential with a benchmark GLOBAL_QUOTE request,
// bypassing the cache and pool accounting. The probe fails if the call
// errors or the payload carries no price.
func (c *Client) ProbeKey(ctx context.Context, secret string) error {
	var payload struct {
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	err := c.call(ctx, secret, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {"AAPL"},
	}, &payload)
	if err != nil {
		return err
	}
	if payload.GlobalQuote["05. price"] == "" {
		return fmt.Errorf("probe returned no quote data")
	}
	return nil
}

// RegisterKey obtains a fresh API key via the public signup form. The flow
// scrapes an endpoint that is not a stable API and breaks whenever the
// provider changes its signup page, so every failure is soft: callers fall
// through to their next credential source.
func (c *Client) RegisterKey(ctx context.Context) (string, error) {
	form := url.Values{
		"first_text":        {"deprecated"},
		"last_text":         {"deprecated"},
		"occupation_text":   {"Investor"},
		"organization_text": {"personal"},
		"email_text":        {fmt.Sprintf("user%d@example.com", time.Now().UnixNano())},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/create_post/", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building signup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("signup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signup returned status %d", resp.StatusCode)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding signup response: %w", err)
	}

	key := extractKey(payload.Text)
	if key == "" {
		return "", fmt.Errorf("no API key found in signup response")
	}

	c.logger.Info("registered new provider key", "provider", c.Name(), "key", keypool.MaskSecret(key))
	return key, nil
}

// call issues one JSON API request. userKey bypasses the pool; otherwise a
// pooled key is acquired and its usage accounted. HTTP 429 and in-band
// throttle notes block the pooled key for a minute, HTTP 403 for 24h.
func (c *Client) call(ctx context.Context, userKey string, params url.Values, out any) error {
	pooled := userKey == ""
	key := keypool.Key{Secret: userKey}
	if pooled {
		var err error
		key, err = c.pool.Acquire(ctx)
		if err != nil {
			return err
		}
	}

	params.Set("apikey", key.Secret)
	if c.premium {
		params.Set("entitlement", "realtime")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("alphavantage %s: %w", params.Get("function"), err)
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp.StatusCode, key.ID, pooled); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	// Throttling on the free tier arrives as 200 with an in-band note.
	var note struct {
		Note        string `json:"Note"`
		Information string `json:"Information"`
	}
	if err := json.Unmarshal(body, &note); err == nil {
		if note.Note != "" || strings.Contains(note.Information, "rate limit") {
			if pooled {
				c.pool.MarkRateLimited(key.ID)
			}
			return fmt.Errorf("alphavantage rate limit note for %s", params.Get("function"))
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", params.Get("function"), err)
	}
	return nil
}

// classifyStatus applies the pool block policy for an HTTP status. 5xx is an
// error but never blocks the key.
func (c *Client) classifyStatus(status int, keyID string, pooled bool) error {
	switch {
	case status == http.StatusTooManyRequests:
		if pooled {
			c.pool.MarkRateLimited(keyID)
		}
		return fmt.Errorf("alphavantage rate limited (429)")
	case status == http.StatusForbidden:
		if pooled {
			c.pool.MarkForbidden(keyID)
		}
		return fmt.Errorf("alphavantage forbidden (403)")
	case status >= 500:
		return fmt.Errorf("alphavantage server error (%d)", status)
	case status != http.StatusOK:
		return fmt.Errorf("alphavantage unexpected status %d", status)
	}
	return nil
}
