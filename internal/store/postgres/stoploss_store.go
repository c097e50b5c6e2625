package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// StopLossStore implements domain.StopLossStore using PostgreSQL. Events are
// append-only; the config is a single guarded row.
type StopLossStore struct {
	pool *pgxpool.Pool
}

// NewStopLossStore creates a new StopLossStore backed by the given pool.
func NewStopLossStore(pool *pgxpool.Pool) *StopLossStore {
	return &StopLossStore{pool: pool}
}

// AppendEvent records a forced liquidation.
func (s *StopLossStore) AppendEvent(ctx context.Context, ev domain.StopLossEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stop_loss_events (
			id, trade_id, ticker, trigger_odds, exit_odds, realized_loss, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.TradeID, ev.Ticker, ev.TriggerOdds, ev.ExitOdds,
		ev.RealizedLoss, ev.Reason, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append stop-loss event %s: %w", ev.ID, err)
	}
	return nil
}

// CountEventsSince returns how many stop-loss events fired at or after the
// given time. The circuit breaker evaluates this over a trailing 24h window.
func (s *StopLossStore) CountEventsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stop_loss_events WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count stop-loss events: %w", err)
	}
	return n, nil
}

// ListEventsBefore returns events older than the cutoff, oldest first, for
// the archiver.
func (s *StopLossStore) ListEventsBefore(ctx context.Context, before time.Time) ([]domain.StopLossEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, trade_id, ticker, trigger_odds, exit_odds, realized_loss, reason, created_at
		FROM stop_loss_events WHERE created_at < $1 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stop-loss events before: %w", err)
	}
	defer rows.Close()

	var events []domain.StopLossEvent
	for rows.Next() {
		var ev domain.StopLossEvent
		if err := rows.Scan(
			&ev.ID, &ev.TradeID, &ev.Ticker, &ev.TriggerOdds,
			&ev.ExitOdds, &ev.RealizedLoss, &ev.Reason, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan stop-loss event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteEventsBefore removes events older than the cutoff.
func (s *StopLossStore) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM stop_loss_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete stop-loss events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetConfig reads the singleton stop-loss configuration. The risk engine
// calls this at the start of every sweep; the value is never cached in
// process memory.
func (s *StopLossStore) GetConfig(ctx context.Context) (domain.StopLossConfig, error) {
	var cfg domain.StopLossConfig
	err := s.pool.QueryRow(ctx, `
		SELECT enabled, trigger_threshold, min_hold_time_hours, max_slippage_pct, updated_at
		FROM stop_loss_config WHERE id = 1`).Scan(
		&cfg.Enabled, &cfg.TriggerThreshold, &cfg.MinHoldTimeHours,
		&cfg.MaxSlippagePct, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StopLossConfig{}, domain.ErrNotFound
		}
		return domain.StopLossConfig{}, fmt.Errorf("postgres: get stop-loss config: %w", err)
	}
	return cfg, nil
}

// Disable flips the enabled flag off. This is the circuit breaker's one-way
// latch; only an operator UpdateConfig can turn it back on.
func (s *StopLossStore) Disable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE stop_loss_config SET enabled = FALSE, updated_at = NOW() WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("postgres: disable stop-loss: %w", err)
	}
	return nil
}

// UpdateConfig replaces the operator-controlled fields of the singleton row.
func (s *StopLossStore) UpdateConfig(ctx context.Context, cfg domain.StopLossConfig) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stop_loss_config
		SET enabled = $1, trigger_threshold = $2, min_hold_time_hours = $3,
			max_slippage_pct = $4, updated_at = NOW()
		WHERE id = 1`,
		cfg.Enabled, cfg.TriggerThreshold, cfg.MinHoldTimeHours, cfg.MaxSlippagePct,
	)
	if err != nil {
		return fmt.Errorf("postgres: update stop-loss config: %w", err)
	}
	return nil
}

var _ domain.StopLossStore = (*StopLossStore)(nil)
