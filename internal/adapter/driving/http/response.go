package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// QuoteResponse is the JSON representation of a quote.
type QuoteResponse struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	MarketCap     int64   `json:"market_cap,omitempty"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PreviousClose float64 `json:"previous_close"`
	Timestamp     string  `json:"timestamp"`
	Stale         bool    `json:"stale"`
}

// BarResponse is the JSON representation of one historical candle.
type BarResponse struct {
	Date          string  `json:"date"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	AdjustedClose float64 `json:"adjusted_close"`
	Volume        int64   `json:"volume"`
}

// SearchHitResponse is the JSON representation of one search result.
type SearchHitResponse struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange,omitempty"`
	Sector   string `json:"sector,omitempty"`
	Industry string `json:"industry,omitempty"`
	Type     string `json:"type,omitempty"`
	Source   string `json:"source"`
}

// KeyUsageResponse is the per-credential slice of the status report.
type KeyUsageResponse struct {
	ID            string `json:"id"`
	MaskedSecret  string `json:"masked_secret"`
	RequestsUsed  int64  `json:"requests_used"`
	DailyRequests int64  `json:"daily_requests"`
	Blocked       bool   `json:"blocked"`
	BlockedUntil  string `json:"blocked_until,omitempty"`
	LastRequest   string `json:"last_request,omitempty"`
}

// StatusResponse is the JSON representation of the admin status endpoint.
type StatusResponse struct {
	TotalKeys          int                `json:"total_keys"`
	ActiveKeys         int                `json:"active_keys"`
	BlockedKeys        int                `json:"blocked_keys"`
	TotalRequests      int64              `json:"total_requests"`
	TotalDailyRequests int64              `json:"total_daily_requests"`
	CacheSize          int                `json:"cache_size"`
	Keys               []KeyUsageResponse `json:"keys"`
}

// ValidationResponse is the JSON representation of a key validation run.
type ValidationResponse struct {
	Valid   []string `json:"valid"`
	Invalid []string `json:"invalid"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toQuoteResponse converts a domain Quote to its JSON representation.
func toQuoteResponse(q model.Quote) QuoteResponse {
	return QuoteResponse{
		Symbol:        q.Symbol,
		Price:         q.Price,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		Volume:        q.Volume,
		MarketCap:     q.MarketCap,
		High:          q.High,
		Low:           q.Low,
		Open:          q.Open,
		PreviousClose: q.PreviousClose,
		Timestamp:     q.Timestamp.UTC().Format(time.RFC3339),
		Stale:         q.Stale,
	}
}

// toBarResponse converts a domain Bar to its JSON representation.
func toBarResponse(b model.Bar) BarResponse {
	return BarResponse{
		Date:          b.Date.UTC().Format(time.RFC3339),
		Open:          b.Open,
		High:          b.High,
		Low:           b.Low,
		Close:         b.Close,
		AdjustedClose: b.AdjustedClose,
		Volume:        b.Volume,
	}
}

// toSearchHitResponse converts a domain SearchHit to its JSON representation.
func toSearchHitResponse(h model.SearchHit) SearchHitResponse {
	return SearchHitResponse{
		Symbol:   h.Symbol,
		Name:     h.Name,
		Exchange: h.Exchange,
		Sector:   h.Sector,
		Industry: h.Industry,
		Type:     h.Type,
		Source:   h.Source,
	}
}

// toStatusResponse converts a domain ServiceStatus to its JSON representation.
func toStatusResponse(s model.ServiceStatus) StatusResponse {
	keys := make([]KeyUsageResponse, 0, len(s.Keys))
	for _, k := range s.Keys {
		usage := KeyUsageResponse{
			ID:            k.ID,
			MaskedSecret:  k.MaskedSecret,
			RequestsUsed:  k.RequestsUsed,
			DailyRequests: k.DailyRequests,
			Blocked:       k.Blocked,
		}
		if !k.BlockedUntil.IsZero() {
			usage.BlockedUntil = k.BlockedUntil.UTC().Format(time.RFC3339)
		}
		if !k.LastRequest.IsZero() {
			usage.LastRequest = k.LastRequest.UTC().Format(time.RFC3339)
		}
		keys = append(keys, usage)
	}

	return StatusResponse{
		TotalKeys:          s.TotalKeys,
		ActiveKeys:         s.ActiveKeys,
		BlockedKeys:        s.BlockedKeys,
		TotalRequests:      s.TotalRequests,
		TotalDailyRequests: s.TotalDailyRequests,
		CacheSize:          s.CacheSize,
		Keys:               keys,
	}
}

// toValidationResponse converts a domain KeyValidation to its JSON
// representation, normalizing nil slices to empty arrays.
func toValidationResponse(v model.KeyValidation) ValidationResponse {
	valid := v.Valid
	if valid == nil {
		valid = []string{}
	}
	invalid := v.Invalid
	if invalid == nil {
		invalid = []string{}
	}
	return ValidationResponse{Valid: valid, Invalid: invalid}
}
