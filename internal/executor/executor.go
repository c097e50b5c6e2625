// Package executor turns oracle selections into filled positions. Every
// selection is revalidated against live pricing immediately before the order
// goes out, and each selection succeeds or fails on its own.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Gateway is the slice of the exchange client the executor needs.
type Gateway interface {
	LiveMarket(ctx context.Context, ticker string) (domain.Market, error)
	SubmitMarketOrder(ctx context.Context, ticker string, side domain.TradeSide, action string, count int64, capOdds float64) (domain.ExchangeOrder, error)
	OrderStatus(ctx context.Context, orderID string) (domain.ExchangeOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// TiePolicy decides the side when both legs price at exactly 0.50.
type TiePolicy string

const (
	// TieYes takes the yes side on a dead tie.
	TieYes TiePolicy = "yes"
	// TieSkip passes on the market entirely on a dead tie.
	TieSkip TiePolicy = "skip"
)

// Options tune one executor. Zero values fall back to the defaults in New.
type Options struct {
	DryRun       bool
	Forced       bool // stop after the first successful trade
	FillTimeout  time.Duration
	FillInterval time.Duration
	TiePolicy    TiePolicy
	MaxEntryOdds float64 // order price cap above the live odds, headroom for drift
}

const (
	defaultFillTimeout  = 30 * time.Second
	defaultFillInterval = 2 * time.Second
	defaultOddsHeadroom = 0.02
)

// Executor places orders for oracle selections and persists the positions.
type Executor struct {
	gw        Gateway
	contracts domain.ContractStore
	trades    domain.TradeStore
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Executor. FillTimeout and FillInterval default when zero;
// the default tie policy is to skip.
func New(gw Gateway, contracts domain.ContractStore, trades domain.TradeStore, opts Options, logger *slog.Logger) *Executor {
	if opts.FillTimeout <= 0 {
		opts.FillTimeout = defaultFillTimeout
	}
	if opts.FillInterval <= 0 {
		opts.FillInterval = defaultFillInterval
	}
	if opts.TiePolicy == "" {
		opts.TiePolicy = TieSkip
	}
	return &Executor{
		gw:        gw,
		contracts: contracts,
		trades:    trades,
		opts:      opts,
		logger:    logger.With(slog.String("component", "executor")),
		now:       time.Now,
	}
}

// ExecuteTrades runs every selection in oracle order and returns one result
// per selection. A selection's failure is recorded in its result and never
// stops the others. In forced mode, selections after the first success are
// marked skipped.
func (e *Executor) ExecuteTrades(ctx context.Context, selections []domain.Selection) []domain.TradeResult {
	results := make([]domain.TradeResult, 0, len(selections))
	succeeded := false

	for _, sel := range selections {
		if e.opts.Forced && succeeded {
			results = append(results, domain.TradeResult{Ticker: sel.Ticker, Skipped: true})
			continue
		}

		trade, err := e.executeOne(ctx, sel)
		if err != nil {
			e.logger.Error("trade failed",
				slog.String("ticker", sel.Ticker),
				slog.String("error", err.Error()),
			)
			results = append(results, domain.TradeResult{Ticker: sel.Ticker, Err: err.Error()})
			continue
		}
		if trade == nil {
			// Tie policy passed on the market.
			results = append(results, domain.TradeResult{Ticker: sel.Ticker, Skipped: true})
			continue
		}

		succeeded = true
		results = append(results, domain.TradeResult{
			Ticker: sel.Ticker,
			Side:   trade.Side,
			Trade:  trade,
		})
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, sel domain.Selection) (*domain.Trade, error) {
	// Selection-time odds are stale by definition; only the live quote counts.
	market, err := e.gw.LiveMarket(ctx, sel.Ticker)
	if err != nil {
		return nil, fmt.Errorf("fetch live market: %w", err)
	}

	side, liveOdds := market.ConvictionSide()
	if liveOdds <= 0 || liveOdds > 1 {
		return nil, fmt.Errorf("live odds %.4f for %s: %w", liveOdds, sel.Ticker, domain.ErrInvalidOdds)
	}
	if market.YesOdds == market.NoOdds {
		if e.opts.TiePolicy == TieSkip {
			e.logger.Info("both legs at even odds, passing",
				slog.String("ticker", sel.Ticker),
			)
			return nil, nil
		}
		side = domain.SideYes
	}

	contract := domain.Contract{Market: market, DiscoveredAt: e.now().UTC()}
	if err := e.contracts.Upsert(ctx, contract); err != nil {
		return nil, fmt.Errorf("upsert contract: %w", err)
	}

	count := int64(sel.Allocation / liveOdds)
	if count <= 0 {
		return nil, fmt.Errorf("allocation %.2f buys zero contracts at odds %.4f", sel.Allocation, liveOdds)
	}

	trade := domain.Trade{
		ID:                 uuid.NewString(),
		Ticker:             sel.Ticker,
		Side:               side,
		EntryOdds:          liveOdds,
		PositionSize:       float64(count) * liveOdds,
		ContractsPurchased: count,
		Status:             domain.TradeStatusOpen,
		Confidence:         sel.Confidence,
		Reasoning:          sel.Reasoning,
		CreatedAt:          e.now().UTC(),
	}

	if e.opts.DryRun {
		e.logger.Info("dry run, skipping order placement",
			slog.String("ticker", sel.Ticker),
			slog.String("side", string(side)),
			slog.Int64("contracts", count),
		)
		if err := e.trades.Create(ctx, trade); err != nil {
			return nil, fmt.Errorf("persist trade: %w", err)
		}
		return &trade, nil
	}

	capOdds := liveOdds + defaultOddsHeadroom
	if e.opts.MaxEntryOdds > 0 && capOdds > e.opts.MaxEntryOdds {
		capOdds = e.opts.MaxEntryOdds
	}
	if capOdds > 1 {
		capOdds = 1
	}

	order, err := e.gw.SubmitMarketOrder(ctx, sel.Ticker, side, "buy", count, capOdds)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	trade.OrderID = order.ID

	filled, err := e.awaitFill(ctx, order)
	switch {
	case err != nil:
		// Timed out with the order still resting. Keep the estimate and let
		// the reconciliation sweep settle the truth later.
		trade.NeedsReconcile = true
		e.logger.Warn("fill poll timed out, marking for reconciliation",
			slog.String("ticker", sel.Ticker),
			slog.String("order_id", order.ID),
		)
	case filled.Filled > 0:
		trade.ContractsPurchased = filled.Filled
		if filled.FillOdds > 0 {
			trade.EntryOdds = filled.FillOdds
			trade.PositionSize = float64(filled.Filled) * filled.FillOdds
		}
	}

	if err := e.trades.Create(ctx, trade); err != nil {
		return nil, fmt.Errorf("persist trade: %w", err)
	}

	e.logger.Info("trade placed",
		slog.String("ticker", trade.Ticker),
		slog.String("side", string(trade.Side)),
		slog.Int64("contracts", trade.ContractsPurchased),
		slog.Float64("entry_odds", trade.EntryOdds),
		slog.Bool("needs_reconcile", trade.NeedsReconcile),
	)
	return &trade, nil
}

// awaitFill polls the order until it reports done or the timeout lapses. A
// lapse is not a failure; the caller records the position as needing
// reconciliation.
func (e *Executor) awaitFill(ctx context.Context, order domain.ExchangeOrder) (domain.ExchangeOrder, error) {
	deadline := e.now().Add(e.opts.FillTimeout)
	current := order

	for {
		if current.Done() {
			return current, nil
		}
		if e.now().After(deadline) {
			return current, fmt.Errorf("order %s still %s after %s", order.ID, current.State, e.opts.FillTimeout)
		}

		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-time.After(e.opts.FillInterval):
		}

		status, err := e.gw.OrderStatus(ctx, order.ID)
		if err != nil {
			e.logger.Warn("order status poll failed",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		current = status
	}
}
