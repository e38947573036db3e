package alphavantage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
)

// keyPattern matches the 16-character access key embedded in the signup
// response text.
var keyPattern = regexp.MustCompile(`\b[A-Z0-9]{16}\b`)

// extractKey pulls the API key out of the signup welcome text, or returns ""
// if none is present.
func extractKey(text string) string {
	return keyPattern.FindString(text)
}

// atof parses a provider numeric field, tolerating empty and malformed
// values by returning 0. Providers routinely omit volume or market cap.
func atof(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// atoi is atof's integer counterpart.
func atoi(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// tradingDay parses the provider's trading-day stamp, falling back to now so
// a quote never carries a zero timestamp.
func tradingDay(s string) time.Time {
	if t, err := parseSeriesDate(s); err == nil {
		return t
	}
	return time.Now().UTC()
}

// parseSeriesDate accepts both daily ("2025-06-02") and intraday
// ("2025-06-02 15:55:00") series keys.
func parseSeriesDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized series date %q", s)
}

// findSeries locates the time-series object in a payload whose key name
// varies by function ("Time Series (Daily)", "Weekly Time Series", ...).
func findSeries(payload map[string]json.RawMessage) map[string]map[string]string {
	for name, raw := range payload {
		if !strings.Contains(name, "Time Series") {
			continue
		}
		var series map[string]map[string]string
		if err := json.Unmarshal(raw, &series); err != nil {
			return nil
		}
		return series
	}
	return nil
}

// outputSize picks compact (latest 100 bars) unless the period needs the
// full archive.
func outputSize(period string) string {
	switch period {
	case "1y", "2y", "5y", "10y", "max":
		return "full"
	default:
		return "compact"
	}
}

// periodStart returns the inclusive cutoff for a period string, or the zero
// time for "max" and unknown periods (no trimming).
func periodStart(period string, now time.Time) time.Time {
	switch period {
	case "1d":
		return now.AddDate(0, 0, -1)
	case "5d":
		return now.AddDate(0, 0, -5)
	case "1mo":
		return now.AddDate(0, -1, 0)
	case "3mo":
		return now.AddDate(0, -3, 0)
	case "6mo":
		return now.AddDate(0, -6, 0)
	case "1y":
		return now.AddDate(-1, 0, 0)
	case "2y":
		return now.AddDate(-2, 0, 0)
	case "5y":
		return now.AddDate(-5, 0, 0)
	case "10y":
		return now.AddDate(-10, 0, 0)
	default:
		return time.Time{}
	}
}

// parseListingCSV parses the LISTING_STATUS CSV body into directory entries.
// Expected columns: symbol,name,exchange,assetType,ipoDate,delistingDate,status.
func parseListingCSV(r io.Reader) ([]model.SearchHit, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing listing csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	hits := make([]model.SearchHit, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 4 || rec[0] == "" {
			continue
		}
		hits = append(hits, model.SearchHit{
			Symbol:   strings.ToUpper(rec[0]),
			Name:     rec[1],
			Exchange: rec[2],
			Type:     rec[3],
			Source:   model.SourcePrimary,
		})
	}
	return hits, nil
}
