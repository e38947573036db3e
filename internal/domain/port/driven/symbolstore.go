package driven

import (
	"context"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
)

// SymbolStore defines the driven port for the local symbol directory. It is
// the highest-priority source in multi-source search merges.
type SymbolStore interface {
	Upsert(ctx context.Context, hit model.SearchHit) error
	// UpsertAll replaces-or-inserts a batch inside one transaction.
	UpsertAll(ctx context.Context, hits []model.SearchHit) error
	// Search returns directory entries matching query by symbol prefix or
	// name substring, capped at limit, with Source set to SourceLocal.
	Search(ctx context.Context, query string, limit int) ([]model.SearchHit, error)
	Count(ctx context.Context) (int, error)
}

// QuoteStore defines the driven port for last-known-good quote persistence.
// Every successful provider fetch is upserted so a stored value can be served
// when all providers fail.
type QuoteStore interface {
	Upsert(ctx context.Context, quote model.Quote) error
	// Get returns the stored quote for symbol, or nil if none exists.
	Get(ctx context.Context, symbol string) (*model.Quote, error)
}
