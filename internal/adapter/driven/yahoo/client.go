// Package yahoo implements the MarketProvider port against the public Yahoo
// Finance endpoints. Yahoo is keyless, so there is no credential pool; the
// userKey argument is accepted for interface symmetry and ignored.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
	"github.com/ericfisherdev/marketgate/internal/domain/port/driven"
	"github.com/ericfisherdev/marketgate/internal/mcache"
)

// Compile-time interface satisfaction check.
var _ driven.MarketProvider = (*Client)(nil)

const (
	defaultBaseURL = "https://query1.finance.yahoo.com"
	requestTimeout = 15 * time.Second

	// Yahoo rejects Go's default user agent with a 429 regardless of
	// traffic volume.
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the Yahoo Finance driven adapter.
type Client struct {
	http    *http.Client
	baseURL string
	cache   *mcache.Cache
	logger  *slog.Logger
}

// NewClient creates a Yahoo Finance client sharing the gateway's response
// cache.
func NewClient(cache *mcache.Cache, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		http:    opts.HTTPClient,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		cache:   cache,
		logger:  opts.Logger,
	}
}

// Name implements driven.MarketProvider.
func (c *Client) Name() string { return "yahoo" }

// quoteResult mirrors the subset of the v7 quote payload the gateway uses.
// Missing numeric fields decode to zero.
type quoteResult struct {
	Symbol                     string  `json:"symbol"`
	RegularMarketPrice         float64 `json:"regularMarketPrice"`
	RegularMarketChange        float64 `json:"regularMarketChange"`
	RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
	RegularMarketVolume        int64   `json:"regularMarketVolume"`
	MarketCap                  int64   `json:"marketCap"`
	RegularMarketDayHigh       float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow        float64 `json:"regularMarketDayLow"`
	RegularMarketOpen          float64 `json:"regularMarketOpen"`
	RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
	RegularMarketTime          int64   `json:"regularMarketTime"`
}

// Quote fetches a live quote from the v7 quote endpoint. An empty result set
// means the symbol does not exist and yields (nil, nil).
func (c *Client) Quote(ctx context.Context, symbol, _ string) (*model.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	cacheKey := mcache.QuoteKey(symbol)
	if v, ok := c.cache.Get(cacheKey); ok {
		q := v.(model.Quote)
		return &q, nil
	}

	var payload struct {
		QuoteResponse struct {
			Result []quoteResult `json:"result"`
		} `json:"quoteResponse"`
	}
	err := c.get(ctx, "/v7/finance/quote", url.Values{"symbols": {symbol}}, &payload)
	if err != nil {
		return nil, err
	}
	if len(payload.QuoteResponse.Result) == 0 {
		return nil, nil
	}

	quote := mapQuote(payload.QuoteResponse.Result[0])
	if quote.IsZero() {
		return nil, nil
	}

	c.cache.Set(mcache.ClassQuote, cacheKey, quote)
	return &quote, nil
}

// Historical fetches bars from the v8 chart endpoint, oldest first. Bars
// with a null close (halted or pre-listing slots) are skipped.
func (c *Client) Historical(ctx context.Context, symbol, period, interval, _ string) ([]model.Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	cacheKey := mcache.HistoricalKey(symbol, period, interval)
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]model.Bar), nil
	}

	var payload struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Open   []*float64 `json:"open"`
						High   []*float64 `json:"high"`
						Low    []*float64 `json:"low"`
						Close  []*float64 `json:"close"`
						Volume []*int64   `json:"volume"`
					} `json:"quote"`
					AdjClose []struct {
						AdjClose []*float64 `json:"adjclose"`
					} `json:"adjclose"`
				} `json:"indicators"`
			} `json:"result"`
		} `json:"chart"`
	}

	err := c.get(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), url.Values{
		"range":    {chartRange(period)},
		"interval": {chartInterval(interval)},
	}, &payload)
	if err != nil {
		return nil, err
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Timestamp) == 0 {
		return nil, nil
	}

	result := payload.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := result.Indicators.Quote[0]

	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]model.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closePx := deref(q.Close, i)
		if closePx == 0 {
			continue
		}
		bar := model.Bar{
			Date:          time.Unix(ts, 0).UTC(),
			Open:          deref(q.Open, i),
			High:          deref(q.High, i),
			Low:           deref(q.Low, i),
			Close:         closePx,
			Volume:        derefInt(q.Volume, i),
			AdjustedClose: deref(adj, i),
		}
		if bar.AdjustedClose == 0 {
			bar.AdjustedClose = bar.Close
		}
		bars = append(bars, bar)
	}

	c.cache.Set(mcache.ClassHistorical, cacheKey, bars)
	return bars, nil
}

// Search queries the v1 search endpoint. Non-tradable hits (no symbol) are
// dropped.
func (c *Client) Search(ctx context.Context, query string) ([]model.SearchHit, error) {
	query = strings.TrimSpace(query)
	cacheKey := mcache.SearchKey(c.Name(), query)
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]model.SearchHit), nil
	}

	var payload struct {
		Quotes []struct {
			Symbol    string `json:"symbol"`
			ShortName string `json:"shortname"`
			LongName  string `json:"longname"`
			Exchange  string `json:"exchange"`
			QuoteType string `json:"quoteType"`
			Sector    string `json:"sector"`
			Industry  string `json:"industry"`
		} `json:"quotes"`
	}
	err := c.get(ctx, "/v1/finance/search", url.Values{
		"q":          {query},
		"newsCount":  {"0"},
		"listsCount": {"0"},
	}, &payload)
	if err != nil {
		return nil, err
	}

	hits := make([]model.SearchHit, 0, len(payload.Quotes))
	for _, q := range payload.Quotes {
		if q.Symbol == "" {
			continue
		}
		name := q.ShortName
		if name == "" {
			name = q.LongName
		}
		hits = append(hits, model.SearchHit{
			Symbol:   strings.ToUpper(q.Symbol),
			Name:     name,
			Exchange: q.Exchange,
			Sector:   q.Sector,
			Industry: q.Industry,
			Type:     q.QuoteType,
			Source:   model.SourceSecondary,
		})
	}

	c.cache.Set(mcache.ClassSearch, cacheKey, hits)
	return hits, nil
}

// get issues one GET and decodes the JSON body. Any non-200 status is an
// error; with no credential involved there is nothing to block.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("yahoo %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("yahoo %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding yahoo %s response: %w", path, err)
	}
	return nil
}

// mapQuote converts a v7 result to the normalized quote.
func mapQuote(r quoteResult) model.Quote {
	ts := time.Now().UTC()
	if r.RegularMarketTime > 0 {
		ts = time.Unix(r.RegularMarketTime, 0).UTC()
	}
	return model.Quote{
		Symbol:        strings.ToUpper(r.Symbol),
		Price:         r.RegularMarketPrice,
		Change:        r.RegularMarketChange,
		ChangePercent: r.RegularMarketChangePercent,
		Volume:        r.RegularMarketVolume,
		MarketCap:     r.MarketCap,
		High:          r.RegularMarketDayHigh,
		Low:           r.RegularMarketDayLow,
		Open:          r.RegularMarketOpen,
		PreviousClose: r.RegularMarketPreviousClose,
		Timestamp:     ts,
	}
}

// chartRange maps a gateway period to a Yahoo range token.
func chartRange(period string) string {
	switch period {
	case "1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "max":
		return period
	default:
		return "1mo"
	}
}

// chartInterval maps a gateway interval to a Yahoo interval token.
func chartInterval(interval string) string {
	switch interval {
	case "1min":
		return "1m"
	case "5min":
		return "5m"
	case "15min":
		return "15m"
	case "30min":
		return "30m"
	case "60min":
		return "60m"
	case "1d", "1wk", "1mo":
		return interval
	default:
		return "1d"
	}
}

func deref(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}

func derefInt(vals []*int64, i int) int64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}
