package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore is the durable market cache. It is refreshed by the cache
// refresher job on its own cadence so that screening and scanning never block
// on a live full-market fetch.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByTicker(ctx context.Context, ticker string) (Market, error)
	ListUnresolved(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// ContractStore persists trade-candidate contracts.
type ContractStore interface {
	// Upsert inserts or refreshes the contract keyed by ticker.
	Upsert(ctx context.Context, c Contract) error
	GetByTicker(ctx context.Context, ticker string) (Contract, error)
}

// TradeStore persists positions. Terminal updates must be guarded so a row
// that has already left the open state is never rewritten.
type TradeStore interface {
	Create(ctx context.Context, t Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListOpen(ctx context.Context) ([]Trade, error)
	ListRecent(ctx context.Context, limit int) ([]Trade, error)
	ListByDateRange(ctx context.Context, since, until time.Time) ([]Trade, error)
	// Settle moves an open trade to a terminal status, recording pnl, exit
	// odds, and the resolution timestamp. It returns ErrNotFound when the
	// trade does not exist or is no longer open.
	Settle(ctx context.Context, id string, status TradeStatus, pnl float64, exitOdds *float64, resolvedAt time.Time) error
	// ListTerminalBefore returns settled trades older than the cutoff, for
	// archiving.
	ListTerminalBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// StopLossStore persists stop-loss events and the singleton config record.
type StopLossStore interface {
	AppendEvent(ctx context.Context, ev StopLossEvent) error
	CountEventsSince(ctx context.Context, since time.Time) (int64, error)
	ListEventsBefore(ctx context.Context, before time.Time) ([]StopLossEvent, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
	GetConfig(ctx context.Context) (StopLossConfig, error)
	// Disable flips Enabled to false. It is the circuit breaker's one-way
	// latch; a fresh UpdatedAt is recorded so operators can see when it
	// tripped.
	Disable(ctx context.Context) error
	UpdateConfig(ctx context.Context, cfg StopLossConfig) error
}

// LockManager provides distributed job leases. Each pipeline job acquires the
// lease for its own name before running so two overlapping invocations can
// never double-trade or double-liquidate the same position.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when the
	// lease is already taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BankrollCache stores the most recent account balance snapshot.
type BankrollCache interface {
	Set(ctx context.Context, balance float64) error
	// Get returns ErrNotFound when no snapshot has been written yet.
	Get(ctx context.Context) (float64, time.Time, error)
}
