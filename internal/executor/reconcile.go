package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// defaultStaleAfter is how long an unreconciled order may rest before the
// sweep gives up on it.
const defaultStaleAfter = 30 * time.Minute

// ReconcileOrders revisits open trades whose fill poll timed out. Orders that
// filled in the meantime confirm the estimated position; resting orders
// younger than staleAfter are left for the next sweep; stale resting orders
// are cancelled on the exchange and their trades marked cancelled with zero
// pnl. Returns the number of trades it touched.
func (e *Executor) ReconcileOrders(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	open, err := e.trades.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("executor: list open trades: %w", err)
	}

	now := e.now().UTC()
	touched := 0

	for _, trade := range open {
		if !trade.NeedsReconcile || trade.OrderID == "" {
			continue
		}

		order, err := e.gw.OrderStatus(ctx, trade.OrderID)
		if err != nil {
			e.logger.Warn("reconcile status fetch failed, skipping",
				slog.String("trade_id", trade.ID),
				slog.String("order_id", trade.OrderID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch {
		case order.Filled > 0:
			// The order did fill; the position stands as estimated.
			e.logger.Info("resting order filled, position confirmed",
				slog.String("trade_id", trade.ID),
				slog.Int64("filled", order.Filled),
			)
			touched++

		case now.Sub(trade.CreatedAt) < staleAfter:
			// Still resting but not yet stale; check again next sweep.

		default:
			if err := e.gw.CancelOrder(ctx, trade.OrderID); err != nil {
				e.logger.Warn("stale order cancel failed, skipping",
					slog.String("trade_id", trade.ID),
					slog.String("order_id", trade.OrderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := e.trades.Settle(ctx, trade.ID, domain.TradeStatusCancelled, 0, nil, now); err != nil {
				e.logger.Error("cancel settle failed",
					slog.String("trade_id", trade.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			e.logger.Info("stale resting order cancelled",
				slog.String("trade_id", trade.ID),
				slog.String("ticker", trade.Ticker),
			)
			touched++
		}
	}
	return touched, nil
}
