package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

const bankrollKey = "bankroll:latest"

// BankrollCache implements domain.BankrollCache using a single Redis hash
// with fields "balance" and "ts" (Unix nanosecond timestamp). The resolver
// writes it after each sweep; the trade job reads it to size allocations
// without an extra exchange call.
type BankrollCache struct {
	rdb *redis.Client
}

// NewBankrollCache creates a BankrollCache backed by the given Client.
func NewBankrollCache(c *Client) *BankrollCache {
	return &BankrollCache{rdb: c.Underlying()}
}

// Set stores the latest balance snapshot.
func (bc *BankrollCache) Set(ctx context.Context, balance float64) error {
	fields := map[string]interface{}{
		"balance": strconv.FormatFloat(balance, 'f', -1, 64),
		"ts":      strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	if err := bc.rdb.HSet(ctx, bankrollKey, fields).Err(); err != nil {
		return fmt.Errorf("redis: set bankroll: %w", err)
	}
	return nil
}

// Get retrieves the latest balance snapshot and when it was taken.
// It returns domain.ErrNotFound when no snapshot has been written.
func (bc *BankrollCache) Get(ctx context.Context) (float64, time.Time, error) {
	vals, err := bc.rdb.HGetAll(ctx, bankrollKey).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get bankroll: %w", err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	balance, err := strconv.ParseFloat(vals["balance"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse bankroll balance: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse bankroll ts: %w", err)
	}

	return balance, time.Unix(0, tsNano), nil
}

var _ domain.BankrollCache = (*BankrollCache)(nil)
