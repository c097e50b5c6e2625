package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// TradesHandler exposes read-only position state for operators.
type TradesHandler struct {
	trades domain.TradeStore
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler over the given store.
func NewTradesHandler(trades domain.TradeStore, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{trades: trades, logger: logger}
}

// ListOpen returns every open position.
// GET /api/trades/open
func (h *TradesHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	open, err := h.trades.ListOpen(r.Context())
	if err != nil {
		h.logger.Error("list open trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list open trades")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": open,
		"count":  len(open),
	})
}

// ListRecent returns the most recent trades, terminal ones included.
// GET /api/trades/recent?limit=N
func (h *TradesHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}

	recent, err := h.trades.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list recent trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list recent trades")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": recent,
		"count":  len(recent),
	})
}
