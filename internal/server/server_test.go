package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/jobs"
	"github.com/alanyoungcy/kalshibot/internal/server/handler"
)

type stubTradeStore struct {
	open []domain.Trade
}

func (s *stubTradeStore) Create(context.Context, domain.Trade) error { return nil }
func (s *stubTradeStore) GetByID(context.Context, string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (s *stubTradeStore) ListOpen(context.Context) ([]domain.Trade, error) { return s.open, nil }
func (s *stubTradeStore) ListRecent(context.Context, int) ([]domain.Trade, error) {
	return s.open, nil
}
func (s *stubTradeStore) ListByDateRange(context.Context, time.Time, time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (s *stubTradeStore) Settle(context.Context, string, domain.TradeStatus, float64, *float64, time.Time) error {
	return nil
}
func (s *stubTradeStore) ListTerminalBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (s *stubTradeStore) DeleteTerminalBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func testHandler(t *testing.T, apiKey string) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	runner := jobs.New(jobs.Deps{}, nil, logger)
	srv := NewServer(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health: handler.NewHealthHandler(logger),
		Jobs:   handler.NewJobsHandler(runner, logger),
		Trades: handler.NewTradesHandler(&stubTradeStore{}, logger),
	}, logger)
	return srv.httpServer.Handler
}

func TestHealthNeedsNoAuth(t *testing.T) {
	h := testHandler(t, "secret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestJobRoutesRequireAuth(t *testing.T) {
	h := testHandler(t, "secret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/resolve", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/unheard-of", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code, "authed request reaches the runner")
}

func TestTradesRouteListsOpenPositions(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := &stubTradeStore{open: []domain.Trade{{ID: "t1", Ticker: "T", Status: domain.TradeStatusOpen}}}
	srv := NewServer(Config{Port: 0}, Handlers{
		Health: handler.NewHealthHandler(logger),
		Jobs:   handler.NewJobsHandler(jobs.New(jobs.Deps{}, nil, logger), logger),
		Trades: handler.NewTradesHandler(store, logger),
	}, logger)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/open", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}
