package driven

import (
	"context"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
)

// MarketProvider defines the driven port for one external financial-data
// provider. All three operations are cache-first and consult the provider's
// credential pool unless userKey is non-empty, in which case the call is
// issued with the caller's own key and bypasses pool accounting.
//
// "No data for this symbol" is not an error: implementations return a nil
// value and a nil error so the fallback orchestrator can move to the next
// source. Errors are reserved for transport failures, throttling, and
// malformed payloads; the orchestrator logs them and continues.
type MarketProvider interface {
	// Name returns the provider tag used in logs and search-hit sources.
	Name() string
	// Quote fetches a live quote for symbol. Returns (nil, nil) when the
	// provider reports the symbol does not exist.
	Quote(ctx context.Context, symbol, userKey string) (*model.Quote, error)
	// Historical fetches bars for symbol over period at interval, oldest
	// first. Returns (nil, nil) when the provider has no data.
	Historical(ctx context.Context, symbol, period, interval, userKey string) ([]model.Bar, error)
	// Search returns symbol matches for a free-text query.
	Search(ctx context.Context, query string) ([]model.SearchHit, error)
}

// BatchQuoter is implemented by providers that can resolve several symbols
// in a single outbound call.
type BatchQuoter interface {
	BatchQuotes(ctx context.Context, symbols []string) ([]model.Quote, error)
}

// SymbolLister is implemented by providers that expose a bulk listing of
// tradable symbols, used to refresh the local symbol directory.
type SymbolLister interface {
	ListSymbols(ctx context.Context) ([]model.SearchHit, error)
}

// KeyProber is implemented by providers whose credentials can be validated
// with a direct probe. The probe bypasses the response cache and pool
// accounting so every configured key really hits the wire.
type KeyProber interface {
	ProbeKey(ctx context.Context, secret string) error
}

// KeyRegistrar is implemented by providers with a self-service signup flow
// that yields a fresh API key. The flow scrapes a public endpoint and is
// best-effort: callers must treat any error as "step unavailable" and fall
// through to the next credential source.
type KeyRegistrar interface {
	RegisterKey(ctx context.Context) (string, error)
}
