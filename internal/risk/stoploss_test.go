package risk

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// --- mocks ---

type mockGateway struct {
	markets   map[string]domain.Market
	books     map[string]domain.Orderbook
	submitted []submittedOrder
}

type submittedOrder struct {
	ticker string
	side   domain.TradeSide
	action string
	count  int64
}

func (g *mockGateway) LiveMarket(_ context.Context, ticker string) (domain.Market, error) {
	if m, ok := g.markets[ticker]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (g *mockGateway) Book(_ context.Context, ticker string) (domain.Orderbook, error) {
	if b, ok := g.books[ticker]; ok {
		return b, nil
	}
	return domain.Orderbook{}, domain.ErrNotFound
}

func (g *mockGateway) SubmitMarketOrder(_ context.Context, ticker string, side domain.TradeSide, action string, count int64, _ float64) (domain.ExchangeOrder, error) {
	g.submitted = append(g.submitted, submittedOrder{ticker, side, action, count})
	return domain.ExchangeOrder{
		ID:     "liq-" + ticker,
		State:  domain.OrderExecuted,
		Filled: count,
	}, nil
}

type mockTradeStore struct {
	open    []domain.Trade
	settled map[string]settleCall
}

type settleCall struct {
	status   domain.TradeStatus
	pnl      float64
	exitOdds *float64
}

func (s *mockTradeStore) Create(context.Context, domain.Trade) error { return nil }
func (s *mockTradeStore) GetByID(context.Context, string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (s *mockTradeStore) ListOpen(context.Context) ([]domain.Trade, error) { return s.open, nil }
func (s *mockTradeStore) ListRecent(context.Context, int) ([]domain.Trade, error) {
	return nil, nil
}
func (s *mockTradeStore) ListByDateRange(context.Context, time.Time, time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (s *mockTradeStore) Settle(_ context.Context, id string, status domain.TradeStatus, pnl float64, exitOdds *float64, _ time.Time) error {
	if s.settled == nil {
		s.settled = map[string]settleCall{}
	}
	s.settled[id] = settleCall{status, pnl, exitOdds}
	return nil
}

func (s *mockTradeStore) ListTerminalBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (s *mockTradeStore) DeleteTerminalBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type mockStopLossStore struct {
	cfg        domain.StopLossConfig
	cfgErr     error
	events     []domain.StopLossEvent
	priorIn24h int64
	disabled   bool
}

func (s *mockStopLossStore) AppendEvent(_ context.Context, ev domain.StopLossEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *mockStopLossStore) CountEventsSince(context.Context, time.Time) (int64, error) {
	return s.priorIn24h + int64(len(s.events)), nil
}

func (s *mockStopLossStore) ListEventsBefore(context.Context, time.Time) ([]domain.StopLossEvent, error) {
	return nil, nil
}
func (s *mockStopLossStore) DeleteEventsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *mockStopLossStore) GetConfig(context.Context) (domain.StopLossConfig, error) {
	if s.cfgErr != nil {
		return domain.StopLossConfig{}, s.cfgErr
	}
	return s.cfg, nil
}

func (s *mockStopLossStore) Disable(context.Context) error {
	s.disabled = true
	s.cfg.Enabled = false
	return nil
}

func (s *mockStopLossStore) UpdateConfig(_ context.Context, cfg domain.StopLossConfig) error {
	s.cfg = cfg
	return nil
}

// --- fixtures ---

func enabledConfig() domain.StopLossConfig {
	return domain.StopLossConfig{
		Enabled:          true,
		TriggerThreshold: 0.45,
		MinHoldTimeHours: 1,
		MaxSlippagePct:   10,
	}
}

func openTrade(id, ticker string, side domain.TradeSide, held time.Duration) domain.Trade {
	return domain.Trade{
		ID:                 id,
		Ticker:             ticker,
		Side:               side,
		EntryOdds:          0.90,
		PositionSize:       90,
		ContractsPurchased: 100,
		Status:             domain.TradeStatusOpen,
		CreatedAt:          time.Now().UTC().Add(-held),
	}
}

func pricedMarket(ticker string, yes float64) domain.Market {
	return domain.Market{Ticker: ticker, YesOdds: yes, NoOdds: 1 - yes - 0.02}
}

func bidBook(ticker string, yesBid float64, contracts int64) domain.Orderbook {
	return domain.Orderbook{
		Ticker: ticker,
		Yes:    []domain.BookLevel{{Price: yesBid, Contracts: contracts}},
	}
}

func newEngine(gw *mockGateway, trades *mockTradeStore, events *mockStopLossStore) *Engine {
	return New(gw, trades, events, nil, slog.New(slog.DiscardHandler))
}

// --- tests ---

func TestSweepDisabledConfigIsNoOp(t *testing.T) {
	trades := &mockTradeStore{open: []domain.Trade{openTrade("t1", "T", domain.SideYes, 2 * time.Hour)}}
	events := &mockStopLossStore{cfg: domain.StopLossConfig{Enabled: false}}
	gw := &mockGateway{}

	stats, err := newEngine(gw, trades, events).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Evaluated)
	assert.Empty(t, gw.submitted)
}

func TestSweepTriggersAndRecordsLoss(t *testing.T) {
	trades := &mockTradeStore{open: []domain.Trade{openTrade("t1", "T", domain.SideYes, 2 * time.Hour)}}
	events := &mockStopLossStore{cfg: enabledConfig()}
	gw := &mockGateway{
		markets: map[string]domain.Market{"T": pricedMarket("T", 0.30)},
		books:   map[string]domain.Orderbook{"T": bidBook("T", 0.29, 1_000)},
	}

	stats, err := newEngine(gw, trades, events).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Triggered)

	require.Len(t, gw.submitted, 1)
	assert.Equal(t, "sell", gw.submitted[0].action)
	assert.Equal(t, int64(100), gw.submitted[0].count, "full held quantity")

	call, ok := trades.settled["t1"]
	require.True(t, ok)
	assert.Equal(t, domain.TradeStatusStopped, call.status)
	// proceeds 100×0.29 − position 90 = −61
	assert.InDelta(t, -61.0, call.pnl, 0.001)
	require.NotNil(t, call.exitOdds)
	assert.InDelta(t, 0.29, *call.exitOdds, 0.001)

	require.Len(t, events.events, 1)
	assert.Equal(t, "t1", events.events[0].TradeID)
	assert.InDelta(t, 0.30, events.events[0].TriggerOdds, 0.001)
	assert.InDelta(t, -61.0, events.events[0].RealizedLoss, 0.001)
}

func TestSweepMinimumHoldTimeGate(t *testing.T) {
	// With a 1h minimum hold, a position opened 30 minutes ago must not
	// trigger; the same position at 61 minutes must.
	young := openTrade("young", "T", domain.SideYes, 30*time.Minute)
	events := &mockStopLossStore{cfg: enabledConfig()}
	gw := &mockGateway{
		markets: map[string]domain.Market{"T": pricedMarket("T", 0.30)},
		books:   map[string]domain.Orderbook{"T": bidBook("T", 0.29, 1_000)},
	}

	trades := &mockTradeStore{open: []domain.Trade{young}}
	stats, err := newEngine(gw, trades, events).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Triggered)
	assert.Empty(t, gw.submitted)

	aged := openTrade("aged", "T", domain.SideYes, 61*time.Minute)
	trades = &mockTradeStore{open: []domain.Trade{aged}}
	stats, err = newEngine(gw, trades, events).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Triggered)
}

func TestSweepSkipsResolvedAndZeroPriced(t *testing.T) {
	resolved := pricedMarket("RES", 0.30)
	resolved.Resolved = true

	trades := &mockTradeStore{open: []domain.Trade{
		openTrade("t1", "RES", domain.SideYes, 2 * time.Hour),
		openTrade("t2", "ZERO", domain.SideYes, 2 * time.Hour),
	}}
	events := &mockStopLossStore{cfg: enabledConfig()}
	gw := &mockGateway{markets: map[string]domain.Market{
		"RES":  resolved,
		"ZERO": pricedMarket("ZERO", 0),
	}}

	stats, err := newEngine(gw, trades, events).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Evaluated)
	assert.Zero(t, stats.Triggered)
	assert.Empty(t, gw.submitted)
}

func TestSweepSlippageCapAbortsLiquidation(t *testing.T) {
	trades := &mockTradeStore{open: []domain.Trade{openTrade("t1", "T", domain.SideYes, 2 * time.Hour)}}
	events := &mockStopLossStore{cfg: enabledConfig()}
	gw := &mockGateway{
		markets: map[string]domain.Market{"T": pricedMarket("T", 0.30)},
		// Best bid 0.20 against current odds 0.30 is 33% slippage, over the
		// 10% cap.
		books: map[string]domain.Orderbook{"T": bidBook("T", 0.20, 1_000)},
	}

	stats, err := newEngine(gw, trades, events).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Triggered)
	assert.Equal(t, 1, stats.Aborted)
	assert.Empty(t, gw.submitted)
	assert.Empty(t, trades.settled, "aborted trades stay open for the next sweep")
}

func TestCircuitBreakerTripsAtThreeIn24h(t *testing.T) {
	trades := &mockTradeStore{open: []domain.Trade{openTrade("t1", "T", domain.SideYes, 2 * time.Hour)}}
	events := &mockStopLossStore{cfg: enabledConfig(), priorIn24h: 2}
	gw := &mockGateway{
		markets: map[string]domain.Market{"T": pricedMarket("T", 0.30)},
		books:   map[string]domain.Orderbook{"T": bidBook("T", 0.29, 1_000)},
	}

	stats, err := newEngine(gw, trades, events).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Triggered)
	assert.True(t, stats.BreakerHit)
	assert.True(t, events.disabled, "latch written to config")
}

func TestCircuitBreakerNotTrippedAtTwo(t *testing.T) {
	trades := &mockTradeStore{open: []domain.Trade{openTrade("t1", "T", domain.SideYes, 2 * time.Hour)}}
	events := &mockStopLossStore{cfg: enabledConfig(), priorIn24h: 1}
	gw := &mockGateway{
		markets: map[string]domain.Market{"T": pricedMarket("T", 0.30)},
		books:   map[string]domain.Orderbook{"T": bidBook("T", 0.29, 1_000)},
	}

	stats, err := newEngine(gw, trades, events).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Triggered)
	assert.False(t, stats.BreakerHit)
	assert.False(t, events.disabled)
}

func TestSweepPerTradeFailureIsolation(t *testing.T) {
	trades := &mockTradeStore{open: []domain.Trade{
		openTrade("missing", "GONE", domain.SideYes, 2 * time.Hour),
		openTrade("t2", "T", domain.SideYes, 2 * time.Hour),
	}}
	events := &mockStopLossStore{cfg: enabledConfig()}
	gw := &mockGateway{
		markets: map[string]domain.Market{"T": pricedMarket("T", 0.30)},
		books:   map[string]domain.Orderbook{"T": bidBook("T", 0.29, 1_000)},
	}

	stats, err := newEngine(gw, trades, events).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Evaluated)
	assert.Equal(t, 1, stats.Triggered, "one market's fetch failure never aborts the sweep")
}
