// Package risk is the stop-loss and circuit-breaker engine. Each sweep
// re-prices every open position against the live market and force-liquidates
// the ones that have moved against us past the configured threshold, subject
// to a minimum hold time and a slippage cap. Repeated triggers inside a
// trailing window trip a global kill-switch.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/notify"
)

// Gateway is the slice of the exchange client the risk engine needs.
type Gateway interface {
	LiveMarket(ctx context.Context, ticker string) (domain.Market, error)
	Book(ctx context.Context, ticker string) (domain.Orderbook, error)
	SubmitMarketOrder(ctx context.Context, ticker string, side domain.TradeSide, action string, count int64, capOdds float64) (domain.ExchangeOrder, error)
}

const (
	// breakerWindow and breakerThreshold define the circuit breaker: this
	// many stop-loss events inside the window disables the engine.
	breakerWindow    = 24 * time.Hour
	breakerThreshold = 3

	// liquidationFloor is the worst price accepted on a forced sell; the
	// slippage cap has already been checked against the live book, this only
	// bounds the exchange-side cap field.
	liquidationFloor = 0.01
)

// SweepStats summarizes one stop-loss sweep.
type SweepStats struct {
	Evaluated  int  `json:"evaluated"`
	Triggered  int  `json:"triggered"`
	Aborted    int  `json:"aborted"` // triggers abandoned on the slippage cap
	BreakerHit bool `json:"breaker_hit"`
}

// Engine evaluates open positions against the stop-loss state machine.
type Engine struct {
	gw       Gateway
	trades   domain.TradeStore
	events   domain.StopLossStore
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a stop-loss Engine.
func New(gw Gateway, trades domain.TradeStore, events domain.StopLossStore, notifier *notify.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		gw:       gw,
		trades:   trades,
		events:   events,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "risk")),
		now:      time.Now,
	}
}

// Sweep re-prices every open trade and liquidates the ones the configured
// thresholds condemn. The config is read fresh each sweep; a disabled config
// makes the whole sweep a no-op. Per-trade failures are logged and skipped.
func (e *Engine) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	cfg, err := e.events.GetConfig(ctx)
	if err != nil {
		return stats, fmt.Errorf("risk: read config: %w", err)
	}
	if !cfg.Enabled {
		e.logger.Info("stop-loss disabled, skipping sweep")
		return stats, nil
	}

	open, err := e.trades.ListOpen(ctx)
	if err != nil {
		return stats, fmt.Errorf("risk: list open trades: %w", err)
	}

	for _, trade := range open {
		if ctx.Err() != nil {
			break
		}
		stats.Evaluated++

		triggered, aborted, err := e.evaluate(ctx, trade, cfg)
		if err != nil {
			e.logger.Warn("stop-loss evaluation failed, skipping",
				slog.String("trade_id", trade.ID),
				slog.String("ticker", trade.Ticker),
				slog.String("error", err.Error()),
			)
			continue
		}
		if aborted {
			stats.Aborted++
		}
		if triggered {
			stats.Triggered++
		}
	}

	if stats.Triggered > 0 {
		tripped, err := e.checkCircuitBreaker(ctx)
		if err != nil {
			e.logger.Error("circuit breaker check failed",
				slog.String("error", err.Error()),
			)
		}
		stats.BreakerHit = tripped
	}

	e.logger.Info("stop-loss sweep complete",
		slog.Int("evaluated", stats.Evaluated),
		slog.Int("triggered", stats.Triggered),
		slog.Int("aborted", stats.Aborted),
		slog.Bool("breaker_hit", stats.BreakerHit),
	)
	return stats, nil
}

// evaluate runs one trade through the skip/candidate/triggered state machine.
// It returns triggered=true when the position was liquidated and aborted=true
// when a trigger was abandoned on the slippage cap.
func (e *Engine) evaluate(ctx context.Context, trade domain.Trade, cfg domain.StopLossConfig) (triggered, aborted bool, err error) {
	market, err := e.gw.LiveMarket(ctx, trade.Ticker)
	if err != nil {
		return false, false, fmt.Errorf("fetch market: %w", err)
	}

	// Resolved markets belong to the resolver; a zero price is ambiguous
	// (closed or halted), not a loss signal.
	if market.Resolved {
		return false, false, nil
	}
	currentOdds := market.SideOdds(trade.Side)
	if currentOdds == 0 {
		return false, false, nil
	}

	if currentOdds >= cfg.TriggerThreshold {
		return false, false, nil
	}
	holdHours := trade.HoldTime(e.now().UTC()).Hours()
	if holdHours < cfg.MinHoldTimeHours {
		e.logger.Debug("under minimum hold time, not triggering",
			slog.String("trade_id", trade.ID),
			slog.Float64("hold_hours", holdHours),
			slog.Float64("min_hours", cfg.MinHoldTimeHours),
		)
		return false, false, nil
	}

	book, err := e.gw.Book(ctx, trade.Ticker)
	if err != nil {
		return false, false, fmt.Errorf("fetch book: %w", err)
	}
	best, ok := book.BestBid(trade.Side)
	if !ok {
		return false, false, fmt.Errorf("no bids on %s side", trade.Side)
	}

	slippagePct := (currentOdds - best.Price) / currentOdds * 100
	if slippagePct > cfg.MaxSlippagePct {
		// A bad fill is worse than waiting one more sweep.
		e.logger.Warn("liquidation slippage over cap, leaving open",
			slog.String("trade_id", trade.ID),
			slog.Float64("slippage_pct", slippagePct),
			slog.Float64("cap_pct", cfg.MaxSlippagePct),
		)
		return false, true, nil
	}

	order, err := e.gw.SubmitMarketOrder(ctx, trade.Ticker, trade.Side, "sell", trade.ContractsPurchased, liquidationFloor)
	if err != nil {
		return false, false, fmt.Errorf("submit liquidation: %w", err)
	}

	exitOdds := best.Price
	if order.FillOdds > 0 {
		exitOdds = order.FillOdds
	}
	proceeds := float64(trade.ContractsPurchased) * exitOdds
	realized := proceeds - trade.PositionSize
	now := e.now().UTC()

	if err := e.trades.Settle(ctx, trade.ID, domain.TradeStatusStopped, realized, &exitOdds, now); err != nil {
		return false, false, fmt.Errorf("settle trade: %w", err)
	}

	event := domain.StopLossEvent{
		ID:           uuid.NewString(),
		TradeID:      trade.ID,
		Ticker:       trade.Ticker,
		TriggerOdds:  currentOdds,
		ExitOdds:     exitOdds,
		RealizedLoss: realized,
		Reason: fmt.Sprintf("odds %.2f below threshold %.2f after %.1fh held",
			currentOdds, cfg.TriggerThreshold, holdHours),
		CreatedAt: now,
	}
	if err := e.events.AppendEvent(ctx, event); err != nil {
		// The position is already closed; losing the event row must not
		// resurrect the trade.
		e.logger.Error("stop-loss event append failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Warn("stop-loss triggered",
		slog.String("trade_id", trade.ID),
		slog.String("ticker", trade.Ticker),
		slog.Float64("trigger_odds", currentOdds),
		slog.Float64("exit_odds", exitOdds),
		slog.Float64("realized_loss", realized),
	)
	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, notify.EventStopLossTriggered,
			"Stop-loss triggered",
			fmt.Sprintf("%s %s liquidated at %.2f, realized %.2f", trade.Ticker, trade.Side, exitOdds, realized))
	}
	return true, false, nil
}

// checkCircuitBreaker counts stop-loss events in the trailing window and
// flips the engine off at the threshold. The latch is one-way; only an
// operator re-enables.
func (e *Engine) checkCircuitBreaker(ctx context.Context) (bool, error) {
	since := e.now().UTC().Add(-breakerWindow)
	count, err := e.events.CountEventsSince(ctx, since)
	if err != nil {
		return false, fmt.Errorf("count trailing events: %w", err)
	}
	if count < breakerThreshold {
		return false, nil
	}

	if err := e.events.Disable(ctx); err != nil {
		return false, fmt.Errorf("disable stop-loss config: %w", err)
	}

	e.logger.Error("circuit breaker tripped, stop-loss disabled",
		slog.Int64("events_24h", count),
	)
	if e.notifier != nil {
		_ = e.notifier.NotifyAll(ctx,
			"CIRCUIT BREAKER TRIPPED",
			fmt.Sprintf("%d stop-loss events in 24h; trading halted until manually re-enabled", count))
	}
	return true, nil
}
