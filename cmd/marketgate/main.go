package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/marketgate/internal/adapter/driven/alphavantage"
	sqliteadapter "github.com/ericfisherdev/marketgate/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/marketgate/internal/adapter/driven/yahoo"
	httphandler "github.com/ericfisherdev/marketgate/internal/adapter/driving/http"
	"github.com/ericfisherdev/marketgate/internal/application"
	"github.com/ericfisherdev/marketgate/internal/config"
	"github.com/ericfisherdev/marketgate/internal/keypool"
	"github.com/ericfisherdev/marketgate/internal/mcache"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration, letting a local .env seed the environment first.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"environment", cfg.Environment,
		"alphavantage_keys", len(cfg.Providers.AlphaVantage.Keys),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire stores.
	symbolStore := sqliteadapter.NewSymbolRepo(db)
	quoteStore := sqliteadapter.NewQuoteRepo(db)
	credentialStore := sqliteadapter.NewUserCredentialRepo(db, cfg.SecretKey)

	// 6. Build the shared credential pool. Development runs are allowed to
	// start keyless; every pooled call will then fail over to the secondary.
	avKeys := cfg.Providers.AlphaVantage.Keys
	if len(avKeys) == 0 {
		avKeys = []string{"demo"}
		slog.Warn("no alphavantage keys configured, using the demo key")
	}
	pool, err := keypool.New("alphavantage", avKeys, keypool.Options{
		RequestsPerMinute: cfg.Providers.AlphaVantage.RequestsPerMinute,
		RequestsPerDay:    cfg.Providers.AlphaVantage.RequestsPerDay,
	})
	if err != nil {
		return err
	}

	var backup *keypool.Pool
	if len(cfg.Providers.AlphaVantage.BackupKeys) > 0 {
		backup, err = keypool.New("alphavantage-backup", cfg.Providers.AlphaVantage.BackupKeys, keypool.Options{
			RequestsPerMinute: cfg.Providers.AlphaVantage.RequestsPerMinute,
			RequestsPerDay:    cfg.Providers.AlphaVantage.RequestsPerDay,
		})
		if err != nil {
			return err
		}
	}

	// 7. Response cache with background sweeper.
	cache := mcache.New(mcache.Options{
		QuoteTTL:      cfg.QuoteTTL,
		HistoricalTTL: cfg.HistoricalTTL,
		SearchTTL:     cfg.SearchTTL,
		SweepInterval: cfg.CacheSweepInterval,
	})
	go cache.StartSweeper(ctx)

	// 8. Provider clients.
	avClient := alphavantage.NewClient(pool, cache, alphavantage.Options{
		BaseURL: cfg.Providers.AlphaVantage.BaseURL,
		Premium: cfg.Providers.AlphaVantage.Premium,
	})
	yahooClient := yahoo.NewClient(cache, yahoo.Options{
		BaseURL: cfg.Providers.Yahoo.BaseURL,
	})

	// 9. User key resolution and the orchestrator.
	resolver := application.NewKeyResolver("alphavantage", application.KeyResolverOptions{
		Store:       credentialStore,
		Registrar:   avClient,
		FallbackKey: cfg.Providers.AlphaVantage.FallbackKey,
		Backup:      backup,
		Production:  cfg.IsProduction(),
	})
	market := application.NewMarketService(
		avClient, yahooClient, symbolStore, quoteStore, resolver, pool, cache,
		application.MarketServiceOptions{},
	)

	// 10. Symbol directory sync loop.
	symbolSync := application.NewSymbolSync(avClient, symbolStore, cfg.SymbolSyncInterval, slog.Default())
	go symbolSync.Start(ctx)

	// 11. HTTP surface.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)
	handler := httphandler.NewHandler(market, symbolSync, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(handler, limiter, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("marketgate started",
		"listen_addr", cfg.ListenAddr,
		"environment", cfg.Environment,
	)

	// 12. Wait for shutdown signal, then drain.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
