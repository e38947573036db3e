package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
	"github.com/ericfisherdev/marketgate/internal/domain/port/driven"
	"github.com/ericfisherdev/marketgate/internal/keypool"
	"github.com/ericfisherdev/marketgate/internal/mcache"
)

// MarketService is the fallback orchestrator: it produces the best available
// answer for a logical request by trying sources in priority order and
// merging where multiple sources contribute distinct value.
type MarketService struct {
	primary   driven.MarketProvider
	secondary driven.MarketProvider
	batcher   driven.BatchQuoter // Non-nil when the primary supports bulk quotes.
	prober    driven.KeyProber   // Non-nil when the primary supports key probes.
	symbols   driven.SymbolStore
	quotes    driven.QuoteStore
	resolver  *KeyResolver
	pool      *keypool.Pool
	cache     *mcache.Cache

	batchDelay time.Duration
	probeDelay time.Duration
	logger     *slog.Logger
}

// MarketServiceOptions tunes the orchestrator's pacing delays.
type MarketServiceOptions struct {
	// BatchDelay spaces the per-symbol secondary calls that fill in symbols
	// a bulk quote left unresolved. Default 250ms.
	BatchDelay time.Duration
	// ProbeDelay spaces serialized key-validation probes. Default 1s.
	ProbeDelay time.Duration
	Logger     *slog.Logger
}

// NewMarketService wires the orchestrator. resolver may be nil when user
// scoping is disabled. Batch and probe support are discovered from the
// primary provider.
func NewMarketService(
	primary driven.MarketProvider,
	secondary driven.MarketProvider,
	symbols driven.SymbolStore,
	quotes driven.QuoteStore,
	resolver *KeyResolver,
	pool *keypool.Pool,
	cache *mcache.Cache,
	opts MarketServiceOptions,
) *MarketService {
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = 250 * time.Millisecond
	}
	if opts.ProbeDelay <= 0 {
		opts.ProbeDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	batcher, _ := primary.(driven.BatchQuoter)
	prober, _ := primary.(driven.KeyProber)

	return &MarketService{
		primary:    primary,
		secondary:  secondary,
		batcher:    batcher,
		prober:     prober,
		symbols:    symbols,
		quotes:     quotes,
		resolver:   resolver,
		pool:       pool,
		cache:      cache,
		batchDelay: opts.BatchDelay,
		probeDelay: opts.ProbeDelay,
		logger:     opts.Logger,
	}
}

// GetQuote returns the freshest quote the cascade can produce: primary, then
// secondary, then the stored last-known-good value marked stale. Returns
// (nil, nil) when no source knows the symbol at all.
func (s *MarketService) GetQuote(ctx context.Context, symbol, userID string) (*model.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	userKey := s.userKey(ctx, userID)

	quote, err := s.primary.Quote(ctx, symbol, userKey)
	if err != nil {
		s.logger.Warn("primary quote failed", "symbol", symbol, "provider", s.primary.Name(), "error", err)
	}
	if quote == nil {
		quote, err = s.secondary.Quote(ctx, symbol, "")
		if err != nil {
			s.logger.Warn("secondary quote failed", "symbol", symbol, "provider", s.secondary.Name(), "error", err)
		}
	}

	if quote != nil {
		s.storeQuote(ctx, *quote)
		return quote, nil
	}

	stored, err := s.quotes.Get(ctx, symbol)
	if err != nil {
		s.logger.Warn("last-known quote lookup failed", "symbol", symbol, "error", err)
		return nil, nil
	}
	if stored != nil {
		stored.Stale = true
		s.logger.Info("serving stale quote", "symbol", symbol, "quoted_at", stored.Timestamp)
		return stored, nil
	}
	return nil, nil
}

// GetHistorical returns bars oldest-first from the first source that has
// any, or (nil, nil).
func (s *MarketService) GetHistorical(ctx context.Context, symbol, period, interval, userID string) ([]model.Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	userKey := s.userKey(ctx, userID)

	bars, err := s.primary.Historical(ctx, symbol, period, interval, userKey)
	if err != nil {
		s.logger.Warn("primary historical failed", "symbol", symbol, "provider", s.primary.Name(), "error", err)
	}
	if len(bars) > 0 {
		return bars, nil
	}

	bars, err = s.secondary.Historical(ctx, symbol, period, interval, "")
	if err != nil {
		s.logger.Warn("secondary historical failed", "symbol", symbol, "provider", s.secondary.Name(), "error", err)
		return nil, nil
	}
	return bars, nil
}

// SearchSymbols merges hits from the local directory, the primary provider,
// and the secondary provider. Duplicate symbols keep the first-seen
// (higher-priority) entry; the limit is applied to the deduplicated merge.
func (s *MarketService) SearchSymbols(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}

	var merged []model.SearchHit
	seen := make(map[string]struct{})

	appendHits := func(hits []model.SearchHit, source string, err error) {
		if err != nil {
			s.logger.Warn("search source failed", "source", source, "query", query, "error", err)
			return
		}
		for _, hit := range hits {
			key := strings.ToUpper(hit.Symbol)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, hit)
		}
	}

	local, err := s.symbols.Search(ctx, query, limit)
	appendHits(local, "local", err)

	primary, err := s.primary.Search(ctx, query)
	appendHits(primary, s.primary.Name(), err)

	secondary, err := s.secondary.Search(ctx, query)
	appendHits(secondary, s.secondary.Name(), err)

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// GetMultipleQuotes resolves a set of symbols with one primary bulk call
// where supported, then fills in the leftovers from the secondary provider
// one symbol at a time with a pacing delay. Symbols no source can resolve
// are omitted.
func (s *MarketService) GetMultipleQuotes(ctx context.Context, symbols []string) ([]model.Quote, error) {
	wanted := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			wanted = append(wanted, sym)
		}
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	resolved := make(map[string]model.Quote, len(wanted))
	if s.batcher != nil {
		quotes, err := s.batcher.BatchQuotes(ctx, wanted)
		if err != nil {
			s.logger.Warn("bulk quote failed", "provider", s.primary.Name(), "symbols", len(wanted), "error", err)
		}
		for _, q := range quotes {
			resolved[q.Symbol] = q
		}
	}

	first := true
	for _, sym := range wanted {
		if _, ok := resolved[sym]; ok {
			continue
		}
		if !first {
			select {
			case <-time.After(s.batchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		first = false

		quote, err := s.secondary.Quote(ctx, sym, "")
		if err != nil {
			s.logger.Warn("secondary batch fill-in failed", "symbol", sym, "error", err)
			continue
		}
		if quote != nil {
			resolved[sym] = *quote
		}
	}

	out := make([]model.Quote, 0, len(resolved))
	for _, sym := range wanted {
		if q, ok := resolved[sym]; ok {
			s.storeQuote(ctx, q)
			out = append(out, q)
		}
	}
	return out, nil
}

// ServiceStatus reports pool health and cache population.
func (s *MarketService) ServiceStatus() model.ServiceStatus {
	status := s.pool.Status()
	status.CacheSize = s.cache.Len()
	return status
}

// ValidateKeys probes every shared credential against the benchmark symbol,
// serialized with ProbeDelay between probes so validation itself cannot trip
// the provider's limiter. Secrets in the report are masked.
func (s *MarketService) ValidateKeys(ctx context.Context) (model.KeyValidation, error) {
	var result model.KeyValidation
	if s.prober == nil {
		return result, nil
	}

	for i, key := range s.pool.Keys() {
		if i > 0 {
			select {
			case <-time.After(s.probeDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		masked := keypool.MaskSecret(key.Secret)
		if err := s.prober.ProbeKey(ctx, key.Secret); err != nil {
			s.logger.Warn("key failed validation", "key", key.ID, "error", err)
			result.Invalid = append(result.Invalid, masked)
			continue
		}
		result.Valid = append(result.Valid, masked)
	}
	return result, nil
}

// ClearCaches drops every cached response.
func (s *MarketService) ClearCaches() {
	s.cache.Clear()
	s.logger.Info("response cache cleared")
}

// userKey resolves the caller's own credential, or "" for pooled access.
func (s *MarketService) userKey(ctx context.Context, userID string) string {
	if userID == "" || s.resolver == nil {
		return ""
	}
	return s.resolver.Resolve(ctx, userID)
}

// storeQuote records a successful fetch as the last-known-good value. Store
// errors are logged, never propagated: persistence is an optimization here.
func (s *MarketService) storeQuote(ctx context.Context, quote model.Quote) {
	if quote.Stale {
		return
	}
	if err := s.quotes.Upsert(ctx, quote); err != nil {
		s.logger.Warn("storing last-known quote failed", "symbol", quote.Symbol, "error", err)
	}
}
