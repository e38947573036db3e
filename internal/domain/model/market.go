// Package model holds the domain types shared by the application services
// and the adapters on both sides of the gateway.
package model

import "time"

// Search sources in merge priority order. A hit's Source records which tier
// produced it so duplicates can be attributed after merging.
const (
	SourceLocal     = "local"
	SourcePrimary   = "alphavantage"
	SourceSecondary = "yahoo"
)

// Quote is a normalized point-in-time quote for one symbol, independent of
// which provider produced it.
type Quote struct {
	Symbol        string
	Price         float64
	Change        float64
	ChangePercent float64
	Volume        int64
	MarketCap     int64
	High          float64
	Low           float64
	Open          float64
	PreviousClose float64
	Timestamp     time.Time
	// Stale marks a quote served from the last-known-good store after every
	// live source failed. Never persisted.
	Stale bool
}

// IsZero reports whether the quote carries no price information at all, as
// happens when a provider answers 200 with an empty payload for an unknown
// symbol.
func (q Quote) IsZero() bool {
	return q.Price == 0 && q.PreviousClose == 0 && q.Volume == 0
}

// Bar is one normalized OHLCV candle of a historical series.
type Bar struct {
	Date          time.Time
	Open          float64
	High          float64
	Low           float64
	Close         float64
	AdjustedClose float64
	Volume        int64
}

// SearchHit is one symbol-directory entry or provider search result.
type SearchHit struct {
	Symbol   string
	Name     string
	Exchange string
	Sector   string
	Industry string
	Type     string
	Source   string
}
