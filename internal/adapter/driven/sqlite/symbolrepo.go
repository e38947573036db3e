package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
	"github.com/ericfisherdev/marketgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SymbolStore = (*SymbolRepo)(nil)

// SymbolRepo is the SQLite implementation of the SymbolStore port. It backs
// the "local" source of multi-source search.
type SymbolRepo struct {
	db *DB
}

// NewSymbolRepo creates a SymbolRepo.
func NewSymbolRepo(db *DB) *SymbolRepo {
	return &SymbolRepo{db: db}
}

// Upsert inserts or replaces one directory entry.
func (r *SymbolRepo) Upsert(ctx context.Context, hit model.SearchHit) error {
	const query = `
		INSERT INTO symbols (symbol, name, exchange, sector, industry, type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (symbol) DO UPDATE SET
			name = excluded.name,
			exchange = excluded.exchange,
			sector = CASE WHEN excluded.sector != '' THEN excluded.sector ELSE symbols.sector END,
			industry = CASE WHEN excluded.industry != '' THEN excluded.industry ELSE symbols.industry END,
			type = excluded.type,
			updated_at = CURRENT_TIMESTAMP`

	_, err := r.db.Writer.ExecContext(ctx, query,
		strings.ToUpper(hit.Symbol), hit.Name, hit.Exchange, hit.Sector, hit.Industry, hit.Type)
	if err != nil {
		return fmt.Errorf("upsert symbol %q: %w", hit.Symbol, err)
	}
	return nil
}

// UpsertAll applies a batch of directory entries in one transaction, so a
// failed sync never leaves a half-written directory.
func (r *SymbolRepo) UpsertAll(ctx context.Context, hits []model.SearchHit) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin symbol batch: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO symbols (symbol, name, exchange, sector, industry, type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (symbol) DO UPDATE SET
			name = excluded.name,
			exchange = excluded.exchange,
			type = excluded.type,
			updated_at = CURRENT_TIMESTAMP`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare symbol batch: %w", err)
	}
	defer stmt.Close()

	for _, hit := range hits {
		if hit.Symbol == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			strings.ToUpper(hit.Symbol), hit.Name, hit.Exchange, hit.Sector, hit.Industry, hit.Type); err != nil {
			return fmt.Errorf("batch upsert symbol %q: %w", hit.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit symbol batch: %w", err)
	}
	return nil
}

// Search matches by symbol prefix or name substring, symbol matches first.
func (r *SymbolRepo) Search(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.TrimSpace(query)

	const stmt = `
		SELECT symbol, name, exchange, sector, industry, type
		FROM symbols
		WHERE symbol LIKE ? OR name LIKE ?
		ORDER BY CASE WHEN symbol LIKE ? THEN 0 ELSE 1 END, symbol
		LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, stmt,
		strings.ToUpper(q)+"%", "%"+q+"%", strings.ToUpper(q)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search symbols %q: %w", query, err)
	}
	defer rows.Close()

	var hits []model.SearchHit
	for rows.Next() {
		hit := model.SearchHit{Source: model.SourceLocal}
		if err := rows.Scan(&hit.Symbol, &hit.Name, &hit.Exchange, &hit.Sector, &hit.Industry, &hit.Type); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate symbols: %w", err)
	}
	return hits, nil
}

// Count returns the directory size.
func (r *SymbolRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count symbols: %w", err)
	}
	return n, nil
}

// parseTime accepts the timestamp formats sqlite emits for TEXT time columns.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
