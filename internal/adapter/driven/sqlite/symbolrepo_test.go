package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
)

func TestSymbolRepo_UpsertAndSearch(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSymbolRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, model.SearchHit{
		Symbol: "aapl", Name: "Apple Inc", Exchange: "NASDAQ", Sector: "Technology", Type: "Stock",
	}))
	require.NoError(t, repo.Upsert(ctx, model.SearchHit{
		Symbol: "MSFT", Name: "Microsoft Corp", Exchange: "NASDAQ", Type: "Stock",
	}))

	hits, err := repo.Search(ctx, "aap", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "AAPL", hits[0].Symbol)
	assert.Equal(t, "Technology", hits[0].Sector)
	assert.Equal(t, model.SourceLocal, hits[0].Source)
}

func TestSymbolRepo_SearchMatchesNameSubstring(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSymbolRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, model.SearchHit{Symbol: "AAPL", Name: "Apple Inc"}))

	hits, err := repo.Search(ctx, "pple", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "AAPL", hits[0].Symbol)
}

func TestSymbolRepo_SymbolPrefixRanksFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSymbolRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, model.SearchHit{Symbol: "TAAP", Name: "AA Industries"}))
	require.NoError(t, repo.Upsert(ctx, model.SearchHit{Symbol: "AA", Name: "Alcoa"}))

	hits, err := repo.Search(ctx, "AA", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "AA", hits[0].Symbol)
}

func TestSymbolRepo_UpsertPreservesEnrichment(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSymbolRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, model.SearchHit{
		Symbol: "AAPL", Name: "Apple Inc", Sector: "Technology", Industry: "Consumer Electronics",
	}))
	// A listing-sync upsert carries no sector/industry; existing enrichment
	// must survive.
	require.NoError(t, repo.Upsert(ctx, model.SearchHit{Symbol: "AAPL", Name: "Apple Inc", Exchange: "NASDAQ"}))

	hits, err := repo.Search(ctx, "AAPL", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Technology", hits[0].Sector)
	assert.Equal(t, "NASDAQ", hits[0].Exchange)
}

func TestSymbolRepo_UpsertAllAndCount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSymbolRepo(db)
	ctx := context.Background()

	err := repo.UpsertAll(ctx, []model.SearchHit{
		{Symbol: "AAPL", Name: "Apple Inc"},
		{Symbol: "MSFT", Name: "Microsoft Corp"},
		{Symbol: "", Name: "skipped"},
		{Symbol: "GOOG", Name: "Alphabet Inc"},
	})
	require.NoError(t, err)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSymbolRepo_SearchLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSymbolRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertAll(ctx, []model.SearchHit{
		{Symbol: "AA"}, {Symbol: "AAB"}, {Symbol: "AAC"},
	}))

	hits, err := repo.Search(ctx, "AA", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}
