// Package httphandler is the HTTP driving adapter serving the gateway's
// REST API.
package httphandler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/marketgate/internal/application"
)

// userIDHeader scopes a request to one user's own provider credential.
const userIDHeader = "X-User-ID"

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	market *application.MarketService
	sync   *application.SymbolSync
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. sync may be
// nil when the symbol directory is disabled.
func NewHandler(market *application.MarketService, sync *application.SymbolSync, logger *slog.Logger) *Handler {
	return &Handler{
		market: market,
		sync:   sync,
		logger: logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request-ID, logging, rate-limit, and recovery middleware.
func NewServeMux(h *Handler, limiter *rate.Limiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/quotes", h.GetQuotes)
	mux.HandleFunc("GET /api/v1/quotes/{symbol}", h.GetQuote)
	mux.HandleFunc("GET /api/v1/history/{symbol}", h.GetHistory)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/admin/status", h.AdminStatus)
	mux.HandleFunc("POST /api/v1/admin/keys/validate", h.AdminValidateKeys)
	mux.HandleFunc("POST /api/v1/admin/cache/clear", h.AdminClearCache)
	mux.HandleFunc("POST /api/v1/admin/symbols/sync", h.AdminSyncSymbols)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	if limiter != nil {
		wrapped = rateLimitMiddleware(limiter, wrapped)
	}
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// GetQuote returns the current quote for one symbol.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	quote, err := h.market.GetQuote(r.Context(), symbol, r.Header.Get(userIDHeader))
	if err != nil {
		h.logger.Error("failed to get quote", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if quote == nil {
		writeError(w, http.StatusNotFound, "symbol not found")
		return
	}

	writeJSON(w, http.StatusOK, toQuoteResponse(*quote))
}

// GetQuotes returns quotes for a comma-separated list of symbols. Symbols no
// source can resolve are omitted from the response.
func (h *Handler) GetQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	symbols := splitSymbols(raw)
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}

	quotes, err := h.market.GetMultipleQuotes(r.Context(), symbols)
	if err != nil {
		h.logger.Error("failed to get quotes", "symbols", len(symbols), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]QuoteResponse, 0, len(quotes))
	for _, q := range quotes {
		resp = append(resp, toQuoteResponse(q))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetHistory returns historical bars for a symbol. Defaults: period 1mo,
// interval 1d.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1mo"
	}
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1d"
	}

	bars, err := h.market.GetHistorical(r.Context(), symbol, period, interval, r.Header.Get(userIDHeader))
	if err != nil {
		h.logger.Error("failed to get history", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(bars) == 0 {
		writeError(w, http.StatusNotFound, "no historical data for symbol")
		return
	}

	resp := make([]BarResponse, 0, len(bars))
	for _, b := range bars {
		resp = append(resp, toBarResponse(b))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Search returns merged symbol search results across the local directory and
// the providers.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		limit = parsed
	}

	hits, err := h.market.SearchSymbols(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("search failed", "query", query, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]SearchHitResponse, 0, len(hits))
	for _, hit := range hits {
		resp = append(resp, toSearchHitResponse(hit))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AdminStatus returns pool health, aggregate usage, and cache population.
func (h *Handler) AdminStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStatusResponse(h.market.ServiceStatus()))
}

// AdminValidateKeys probes every shared credential and reports which still
// work. Probes are paced, so the call can take several seconds.
func (h *Handler) AdminValidateKeys(w http.ResponseWriter, r *http.Request) {
	result, err := h.market.ValidateKeys(r.Context())
	if err != nil {
		h.logger.Error("key validation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toValidationResponse(result))
}

// AdminClearCache drops every cached response.
func (h *Handler) AdminClearCache(w http.ResponseWriter, r *http.Request) {
	h.market.ClearCaches()
	w.WriteHeader(http.StatusNoContent)
}

// AdminSyncSymbols requests an out-of-band symbol directory refresh.
func (h *Handler) AdminSyncSymbols(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "symbol sync is not enabled")
		return
	}

	h.sync.SyncNow()
	w.WriteHeader(http.StatusAccepted)
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// splitSymbols parses a comma-separated symbol list, dropping empties.
func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
