package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
	"github.com/ericfisherdev/marketgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.QuoteStore = (*QuoteRepo)(nil)

// QuoteRepo persists the last successfully fetched quote per symbol, so the
// gateway can serve a stale value when every provider fails.
type QuoteRepo struct {
	db *DB
}

// NewQuoteRepo creates a QuoteRepo.
func NewQuoteRepo(db *DB) *QuoteRepo {
	return &QuoteRepo{db: db}
}

// Upsert stores or replaces the quote for its symbol.
func (r *QuoteRepo) Upsert(ctx context.Context, quote model.Quote) error {
	const query = `
		INSERT INTO quotes (symbol, price, change, change_percent, volume, market_cap,
		                    high, low, open, previous_close, quoted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (symbol) DO UPDATE SET
			price = excluded.price,
			change = excluded.change,
			change_percent = excluded.change_percent,
			volume = excluded.volume,
			market_cap = excluded.market_cap,
			high = excluded.high,
			low = excluded.low,
			open = excluded.open,
			previous_close = excluded.previous_close,
			quoted_at = excluded.quoted_at,
			updated_at = CURRENT_TIMESTAMP`

	_, err := r.db.Writer.ExecContext(ctx, query,
		strings.ToUpper(quote.Symbol), quote.Price, quote.Change, quote.ChangePercent,
		quote.Volume, quote.MarketCap, quote.High, quote.Low, quote.Open,
		quote.PreviousClose, quote.Timestamp.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert quote %q: %w", quote.Symbol, err)
	}
	return nil
}

// Get returns the stored quote for symbol, or nil if none exists.
func (r *QuoteRepo) Get(ctx context.Context, symbol string) (*model.Quote, error) {
	const query = `
		SELECT symbol, price, change, change_percent, volume, market_cap,
		       high, low, open, previous_close, quoted_at
		FROM quotes WHERE symbol = ?`

	var quote model.Quote
	var quotedAt string
	err := r.db.Reader.QueryRowContext(ctx, query, strings.ToUpper(symbol)).Scan(
		&quote.Symbol, &quote.Price, &quote.Change, &quote.ChangePercent,
		&quote.Volume, &quote.MarketCap, &quote.High, &quote.Low, &quote.Open,
		&quote.PreviousClose, &quotedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quote %q: %w", symbol, err)
	}

	quote.Timestamp, err = parseTime(quotedAt)
	if err != nil {
		return nil, fmt.Errorf("parse quoted_at for %q: %w", symbol, err)
	}
	return &quote, nil
}
