// Package resolver reconciles exchange-side settlement with persisted
// positions. It is the only component that moves a trade to won or lost.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/notify"
)

// Gateway is the slice of the exchange client the resolver needs.
type Gateway interface {
	LiveMarket(ctx context.Context, ticker string) (domain.Market, error)
	AccountBalance(ctx context.Context) (float64, error)
}

// Result summarizes one resolution sweep. AvailableCash is a signal for the
// caller to decide whether freed capital warrants a new trading cycle; the
// resolver itself never starts one.
type Result struct {
	Resolved      int     `json:"resolved"`
	Won           int     `json:"won"`
	Lost          int     `json:"lost"`
	AvailableCash float64 `json:"available_cash"`
}

// Resolver settles open trades against resolved markets.
type Resolver struct {
	gw       Gateway
	trades   domain.TradeStore
	markets  domain.MarketStore
	bankroll domain.BankrollCache
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Resolver. The market store and bankroll cache receive the
// settlement facts as side effects; either may be nil in tests.
func New(gw Gateway, trades domain.TradeStore, markets domain.MarketStore, bankroll domain.BankrollCache, notifier *notify.Notifier, logger *slog.Logger) *Resolver {
	return &Resolver{
		gw:       gw,
		trades:   trades,
		markets:  markets,
		bankroll: bankroll,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "resolver")),
		now:      time.Now,
	}
}

// CheckAndResolve sweeps every open trade, settles the ones whose market has
// resolved with an outcome, and reports the post-sweep account balance.
// Per-trade fetch failures are logged and skipped, never fatal. Settlement is
// idempotent: the store only touches rows still open, so a trade settled by
// an overlapping sweep surfaces as ErrNotFound and is counted as already
// done.
func (r *Resolver) CheckAndResolve(ctx context.Context) (Result, error) {
	var res Result

	open, err := r.trades.ListOpen(ctx)
	if err != nil {
		return res, fmt.Errorf("resolver: list open trades: %w", err)
	}

	for _, trade := range open {
		if ctx.Err() != nil {
			break
		}

		market, err := r.gw.LiveMarket(ctx, trade.Ticker)
		if err != nil {
			r.logger.Warn("market fetch failed, skipping",
				slog.String("trade_id", trade.ID),
				slog.String("ticker", trade.Ticker),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !market.Resolved {
			continue
		}
		if market.Outcome == "" {
			r.logger.Warn("resolved without outcome, skipping",
				slog.String("ticker", trade.Ticker),
			)
			continue
		}

		won := string(trade.Side) == string(market.Outcome)
		var pnl float64
		status := domain.TradeStatusLost
		if won {
			// Binary settlement: each winning contract pays out $1.
			pnl = float64(trade.ContractsPurchased) - trade.PositionSize
			status = domain.TradeStatusWon
		} else {
			pnl = -trade.PositionSize
		}

		exitOdds := 0.0
		if won {
			exitOdds = 1.0
		}
		now := r.now().UTC()

		if err := r.trades.Settle(ctx, trade.ID, status, pnl, &exitOdds, now); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				r.logger.Info("trade already settled",
					slog.String("trade_id", trade.ID),
				)
				continue
			}
			r.logger.Error("settle failed, skipping",
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if r.markets != nil {
			if err := r.markets.Upsert(ctx, market); err != nil {
				r.logger.Warn("market cache refresh failed",
					slog.String("ticker", market.Ticker),
					slog.String("error", err.Error()),
				)
			}
		}

		res.Resolved++
		if won {
			res.Won++
		} else {
			res.Lost++
		}

		r.logger.Info("trade resolved",
			slog.String("trade_id", trade.ID),
			slog.String("ticker", trade.Ticker),
			slog.String("status", string(status)),
			slog.Float64("pnl", pnl),
		)
		if r.notifier != nil {
			_ = r.notifier.Notify(ctx, notify.EventTradeResolved,
				"Trade resolved",
				fmt.Sprintf("%s %s: %s, pnl %.2f", trade.Ticker, trade.Side, status, pnl))
		}
	}

	balance, err := r.gw.AccountBalance(ctx)
	if err != nil {
		r.logger.Warn("balance re-read failed",
			slog.String("error", err.Error()),
		)
		return res, nil
	}
	res.AvailableCash = balance

	if r.bankroll != nil {
		if err := r.bankroll.Set(ctx, balance); err != nil {
			r.logger.Warn("bankroll snapshot failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return res, nil
}
