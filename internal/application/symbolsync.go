package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/marketgate/internal/domain/port/driven"
)

// SymbolSync keeps the local symbol directory current by periodically pulling
// the full listing from a provider and upserting it. The directory is what
// makes search work offline and lets local hits outrank provider hits.
type SymbolSync struct {
	lister   driven.SymbolLister
	store    driven.SymbolStore
	interval time.Duration
	refresh  chan struct{}
	logger   *slog.Logger
}

// NewSymbolSync builds the sync worker. interval defaults to 24h when
// non-positive.
func NewSymbolSync(lister driven.SymbolLister, store driven.SymbolStore, interval time.Duration, logger *slog.Logger) *SymbolSync {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SymbolSync{
		lister:   lister,
		store:    store,
		interval: interval,
		refresh:  make(chan struct{}, 1),
		logger:   logger,
	}
}

// Start runs the sync loop until ctx is canceled. A populated directory is
// refreshed on the ticker only; an empty one is filled immediately so search
// has local data from first boot.
func (s *SymbolSync) Start(ctx context.Context) {
	count, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Warn("symbol directory count failed", "error", err)
	}
	if count == 0 {
		if err := s.syncOnce(ctx); err != nil {
			s.logger.Error("initial symbol sync failed", "error", err)
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("symbol sync stopped")
			return
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Error("scheduled symbol sync failed", "error", err)
			}
		case <-s.refresh:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Error("requested symbol sync failed", "error", err)
			}
		}
	}
}

// SyncNow requests an out-of-band sync from the running loop. The request is
// dropped when one is already queued.
func (s *SymbolSync) SyncNow() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

func (s *SymbolSync) syncOnce(ctx context.Context) error {
	started := time.Now()

	hits, err := s.lister.ListSymbols(ctx)
	if err != nil {
		return fmt.Errorf("listing symbols: %w", err)
	}
	if len(hits) == 0 {
		s.logger.Warn("symbol listing returned no entries, keeping existing directory")
		return nil
	}

	if err := s.store.UpsertAll(ctx, hits); err != nil {
		return fmt.Errorf("storing symbols: %w", err)
	}

	s.logger.Info("symbol directory synced",
		"symbols", len(hits),
		"duration", time.Since(started).Round(time.Millisecond))
	return nil
}
