package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, ticker, side, entry_odds, position_size,
	contracts_purchased, status, order_id, needs_reconcile,
	confidence, reasoning, exit_odds, pnl, resolved_at, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, status string
		if err := rows.Scan(
			&t.ID, &t.Ticker, &side, &t.EntryOdds, &t.PositionSize,
			&t.ContractsPurchased, &status, &t.OrderID, &t.NeedsReconcile,
			&t.Confidence, &t.Reasoning, &t.ExitOdds, &t.PnL, &t.ResolvedAt, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.TradeSide(side)
		t.Status = domain.TradeStatus(status)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts a new open trade.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (
			id, ticker, side, entry_odds, position_size,
			contracts_purchased, status, order_id, needs_reconcile,
			confidence, reasoning, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Ticker, string(t.Side), t.EntryOdds, t.PositionSize,
		t.ContractsPurchased, string(t.Status), t.OrderID, t.NeedsReconcile,
		t.Confidence, t.Reasoning, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns one trade, or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: scan trade %s: %w", id, err)
	}
	if len(trades) == 0 {
		return domain.Trade{}, domain.ErrNotFound
	}
	return trades[0], nil
}

// ListOpen returns all open trades, oldest first. This is the working set of
// the stop-loss and resolution sweeps.
func (s *TradeStore) ListOpen(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE status = 'open' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trades: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListRecent returns the most recent trades, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListByDateRange returns trades created within [since, until].
func (s *TradeStore) ListByDateRange(ctx context.Context, since, until time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC`, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by date range: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// Settle moves an open trade to a terminal status in one guarded update. The
// `status = 'open'` predicate makes the transition idempotent: a trade that
// already settled is reported as ErrNotFound and never rewritten.
func (s *TradeStore) Settle(ctx context.Context, id string, status domain.TradeStatus, pnl float64, exitOdds *float64, resolvedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("postgres: settle trade %s: %q is not a terminal status", id, status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE trades
		SET status = $2, pnl = $3, exit_odds = $4, resolved_at = $5, needs_reconcile = FALSE
		WHERE id = $1 AND status = 'open'`,
		id, string(status), pnl, exitOdds, resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: settle trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListTerminalBefore returns settled trades older than the cutoff, oldest
// first, for the cold-storage archiver.
func (s *TradeStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		WHERE status <> 'open' AND created_at < $1
		ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteTerminalBefore removes settled trades older than the cutoff and
// returns the number deleted. Referencing stop-loss events must be archived
// and deleted first.
func (s *TradeStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE status <> 'open' AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete terminal trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
