package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/executor"
	"github.com/alanyoungcy/kalshibot/internal/scanner"
	"github.com/alanyoungcy/kalshibot/internal/screener"
)

// fakeExchange backs every gateway interface the pipeline components need.
type fakeExchange struct {
	pages   [][]domain.Market
	markets map[string]domain.Market
	books   map[string]domain.Orderbook
	balance float64
}

func (f *fakeExchange) ListOpenMarkets(_ context.Context, _ int, cursor string) ([]domain.Market, string, error) {
	idx := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "p%d", &idx)
	}
	if idx >= len(f.pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(f.pages) {
		next = fmt.Sprintf("p%d", idx+1)
	}
	return f.pages[idx], next, nil
}

func (f *fakeExchange) LiveMarket(_ context.Context, ticker string) (domain.Market, error) {
	if m, ok := f.markets[ticker]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeExchange) Book(_ context.Context, ticker string) (domain.Orderbook, error) {
	if b, ok := f.books[ticker]; ok {
		return b, nil
	}
	return domain.Orderbook{}, domain.ErrNotFound
}

func (f *fakeExchange) AccountBalance(context.Context) (float64, error) { return f.balance, nil }

func (f *fakeExchange) SubmitMarketOrder(_ context.Context, ticker string, side domain.TradeSide, _ string, count int64, _ float64) (domain.ExchangeOrder, error) {
	return domain.ExchangeOrder{
		ID:        "ord-" + ticker,
		Ticker:    ticker,
		Side:      side,
		State:     domain.OrderExecuted,
		Requested: count,
		Filled:    count,
	}, nil
}

func (f *fakeExchange) OrderStatus(_ context.Context, orderID string) (domain.ExchangeOrder, error) {
	return domain.ExchangeOrder{ID: orderID, State: domain.OrderExecuted}, nil
}

func (f *fakeExchange) CancelOrder(context.Context, string) error { return nil }

// memMarketStore is an in-memory market cache.
type memMarketStore struct {
	mu      sync.Mutex
	rows    map[string]domain.Market
	order   []string
	batches int
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{rows: map[string]domain.Market{}}
}

func (s *memMarketStore) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[m.Ticker]; !ok {
		s.order = append(s.order, m.Ticker)
	}
	s.rows[m.Ticker] = m
	return nil
}

func (s *memMarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	s.batches++
	for _, m := range markets {
		if err := s.Upsert(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *memMarketStore) GetByTicker(_ context.Context, ticker string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.rows[ticker]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *memMarketStore) ListUnresolved(context.Context, domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, ticker := range s.order {
		if m := s.rows[ticker]; !m.Resolved {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) Count(context.Context) (int64, error) {
	return int64(len(s.rows)), nil
}

// memTradeStore keeps created trades in memory.
type memTradeStore struct {
	created []domain.Trade
}

func (s *memTradeStore) Create(_ context.Context, t domain.Trade) error {
	s.created = append(s.created, t)
	return nil
}

func (s *memTradeStore) GetByID(context.Context, string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (s *memTradeStore) ListOpen(context.Context) ([]domain.Trade, error) { return nil, nil }
func (s *memTradeStore) ListRecent(context.Context, int) ([]domain.Trade, error) {
	return nil, nil
}
func (s *memTradeStore) ListByDateRange(context.Context, time.Time, time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (s *memTradeStore) Settle(context.Context, string, domain.TradeStatus, float64, *float64, time.Time) error {
	return nil
}
func (s *memTradeStore) ListTerminalBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (s *memTradeStore) DeleteTerminalBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type memContractStore struct {
	upserts []domain.Contract
}

func (s *memContractStore) Upsert(_ context.Context, c domain.Contract) error {
	s.upserts = append(s.upserts, c)
	return nil
}

func (s *memContractStore) GetByTicker(context.Context, string) (domain.Contract, error) {
	return domain.Contract{}, domain.ErrNotFound
}

// stubOracle returns a fixed decision.
type stubOracle struct {
	decision domain.OracleDecision
	sawInput domain.OracleInput
}

func (o *stubOracle) Decide(_ context.Context, input domain.OracleInput) (domain.OracleDecision, error) {
	o.sawInput = input
	return o.decision, nil
}

// busyLocks always reports the lease as held.
type busyLocks struct{}

func (busyLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

// freeLocks records acquisitions and always grants.
type freeLocks struct {
	acquired []string
	released int
}

func (l *freeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.acquired = append(l.acquired, key)
	return func() { l.released++ }, nil
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func highConviction(ticker string) domain.Market {
	return domain.Market{
		Ticker:       ticker,
		Question:     "Will it clear?",
		CloseTime:    time.Now().UTC().Add(24 * time.Hour),
		YesOdds:      0.92,
		NoOdds:       0.06,
		Volume24H:    10_000,
		OpenInterest: 20_000,
	}
}

func deepBook(ticker string) domain.Orderbook {
	return domain.Orderbook{
		Ticker: ticker,
		Yes:    []domain.BookLevel{{Price: 0.92, Contracts: 5_000}},
		No:     []domain.BookLevel{{Price: 0.06, Contracts: 5_000}},
	}
}

func TestRunUnknownJob(t *testing.T) {
	r := New(Deps{}, nil, discard())
	_, err := r.Run(context.Background(), "defragment")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

func TestBusyLeaseSkipsWithoutError(t *testing.T) {
	exchange := &fakeExchange{}
	r := New(Deps{Gateway: exchange, Markets: newMemMarketStore()}, busyLocks{}, discard())

	res, err := r.RefreshCache(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, JobRefreshCache, res.Job)
}

func TestRefreshCachePaginatesIntoStore(t *testing.T) {
	exchange := &fakeExchange{pages: [][]domain.Market{
		{highConviction("A"), highConviction("B")},
		{highConviction("C")},
	}}
	markets := newMemMarketStore()
	locks := &freeLocks{}

	r := New(Deps{Gateway: exchange, Markets: markets}, locks, discard())
	res, err := r.RefreshCache(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(3), res.Counts["markets_cached"])
	assert.Equal(t, 2, markets.batches)
	assert.Equal(t, []string{JobRefreshCache}, locks.acquired)
	assert.Equal(t, 1, locks.released, "lease released after the job")
}

func TestTradeJobFullCycle(t *testing.T) {
	exchange := &fakeExchange{
		markets: map[string]domain.Market{"T": highConviction("T")},
		books:   map[string]domain.Orderbook{"T": deepBook("T")},
		balance: 1_000,
	}
	markets := newMemMarketStore()
	require.NoError(t, markets.Upsert(context.Background(), highConviction("T")))
	trades := &memTradeStore{}
	contracts := &memContractStore{}

	oracleStub := &stubOracle{decision: domain.OracleDecision{
		Selections: []domain.Selection{{
			Ticker:     "T",
			Allocation: 500, // over the max, must be clamped to 100
			Confidence: 0.9,
			Reasoning:  "cheap relative to resolution odds",
		}},
	}}

	deps := Deps{
		Gateway:  exchange,
		Markets:  markets,
		Trades:   trades,
		Scanner:  scanner.New(markets, exchange, discard()),
		Oracle:   oracleStub,
		Executor: executor.New(exchange, contracts, trades, executor.Options{FillTimeout: 50 * time.Millisecond, FillInterval: time.Millisecond}, discard()),
		Policy: TradePolicy{
			DailyBudget:   250,
			MinAllocation: 20,
			MaxAllocation: 100,
		},
	}

	r := New(deps, &freeLocks{}, discard())
	res, err := r.Trade(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Counts["contracts_found"])
	assert.Equal(t, int64(1), res.Counts["trades_executed"])
	assert.Zero(t, res.Counts["trades_failed"])

	require.Len(t, trades.created, 1)
	trade := trades.created[0]
	assert.Equal(t, "T", trade.Ticker)
	assert.Equal(t, domain.SideYes, trade.Side)
	// Allocation clamped to the 100 max before sizing: 100/0.92 contracts.
	assert.Equal(t, int64(108), trade.ContractsPurchased)

	assert.Equal(t, 1_000.0, oracleStub.sawInput.Bankroll)
	assert.Equal(t, 250.0, oracleStub.sawInput.DailyBudget)
}

func TestTradeJobEmptyCacheDoesNothing(t *testing.T) {
	exchange := &fakeExchange{balance: 1_000}
	markets := newMemMarketStore()
	oracleStub := &stubOracle{}

	deps := Deps{
		Gateway: exchange,
		Markets: markets,
		Scanner: scanner.New(markets, exchange, discard()),
		Oracle:  oracleStub,
	}

	r := New(deps, &freeLocks{}, discard())
	res, err := r.Trade(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Counts["contracts_found"])
	assert.Empty(t, oracleStub.sawInput.Candidates, "oracle is not consulted on an empty scan")
}

func TestScreenJobCachesCandidates(t *testing.T) {
	exchange := &fakeExchange{
		pages: [][]domain.Market{{highConviction("T")}},
		books: map[string]domain.Orderbook{"T": deepBook("T")},
	}
	markets := newMemMarketStore()

	deps := Deps{
		Gateway:        exchange,
		Markets:        markets,
		Screener:       screener.New(exchange, discard()),
		ScreenCriteria: screener.DefaultCriteria(),
	}

	r := New(deps, &freeLocks{}, discard())
	res, err := r.Screen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Counts["candidates_found"])

	cached, err := markets.GetByTicker(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, "T", cached.Ticker)
}
