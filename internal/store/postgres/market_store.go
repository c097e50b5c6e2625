package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. It is the
// durable market cache that the refresher job rewrites on its own cadence.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `ticker, question, category, close_time,
	yes_odds, no_odds, yes_ask, no_ask,
	liquidity, volume_24h, open_interest,
	resolved, outcome, settled_price, settled_at, updated_at`

const marketUpsert = `
	INSERT INTO markets (
		ticker, question, category, close_time,
		yes_odds, no_odds, yes_ask, no_ask,
		liquidity, volume_24h, open_interest,
		resolved, outcome, settled_price, settled_at, updated_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8,
		$9, $10, $11,
		$12, $13, $14, $15, $16
	)
	ON CONFLICT (ticker) DO UPDATE SET
		question = EXCLUDED.question,
		category = EXCLUDED.category,
		close_time = EXCLUDED.close_time,
		yes_odds = EXCLUDED.yes_odds,
		no_odds = EXCLUDED.no_odds,
		yes_ask = EXCLUDED.yes_ask,
		no_ask = EXCLUDED.no_ask,
		liquidity = EXCLUDED.liquidity,
		volume_24h = EXCLUDED.volume_24h,
		open_interest = EXCLUDED.open_interest,
		resolved = EXCLUDED.resolved,
		outcome = EXCLUDED.outcome,
		settled_price = EXCLUDED.settled_price,
		settled_at = EXCLUDED.settled_at,
		updated_at = EXCLUDED.updated_at
	WHERE NOT markets.resolved`

func marketArgs(m domain.Market) []any {
	return []any{
		m.Ticker, m.Question, m.Category, m.CloseTime,
		m.YesOdds, m.NoOdds, m.YesAsk, m.NoAsk,
		m.Liquidity, m.Volume24H, m.OpenInterest,
		m.Resolved, string(m.Outcome), m.SettledPrice, m.SettledAt, m.UpdatedAt,
	}
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var outcome string
	err := row.Scan(
		&m.Ticker, &m.Question, &m.Category, &m.CloseTime,
		&m.YesOdds, &m.NoOdds, &m.YesAsk, &m.NoAsk,
		&m.Liquidity, &m.Volume24H, &m.OpenInterest,
		&m.Resolved, &outcome, &m.SettledPrice, &m.SettledAt, &m.UpdatedAt,
	)
	m.Outcome = domain.MarketOutcome(outcome)
	return m, err
}

// Upsert inserts or refreshes a single market snapshot. A market that has
// already resolved is immutable and left untouched.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	if _, err := s.pool.Exec(ctx, marketUpsert, marketArgs(m)...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.Ticker, err)
	}
	return nil
}

// UpsertBatch refreshes a page of markets in one round trip using pgx Batch.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(marketUpsert, marketArgs(m)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetByTicker returns one market, or domain.ErrNotFound.
func (s *MarketStore) GetByTicker(ctx context.Context, ticker string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE ticker = $1`, ticker)

	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", ticker, err)
	}
	return m, nil
}

// ListUnresolved returns cached markets that have not settled, soonest close
// first. This is the scanner's working set.
func (s *MarketStore) ListUnresolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE NOT resolved ORDER BY close_time ASC`
	args := []any{}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Count returns the number of cached markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

// ContractStore implements domain.ContractStore using PostgreSQL.
type ContractStore struct {
	pool *pgxpool.Pool
}

// NewContractStore creates a new ContractStore backed by the given pool.
func NewContractStore(pool *pgxpool.Pool) *ContractStore {
	return &ContractStore{pool: pool}
}

// Upsert inserts or refreshes a contract keyed by ticker. The parent market
// row is refreshed first so the foreign key always holds.
func (s *ContractStore) Upsert(ctx context.Context, c domain.Contract) error {
	if _, err := s.pool.Exec(ctx, marketUpsert, marketArgs(c.Market)...); err != nil {
		return fmt.Errorf("postgres: upsert contract market %s: %w", c.Ticker, err)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO contracts (ticker, live_liquidity, slippage_est, rank, discovered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticker) DO UPDATE SET
			live_liquidity = EXCLUDED.live_liquidity,
			slippage_est = EXCLUDED.slippage_est,
			rank = EXCLUDED.rank`,
		c.Ticker, c.LiveLiquidity, c.SlippageEst, c.Rank, c.DiscoveredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert contract %s: %w", c.Ticker, err)
	}
	return nil
}

// GetByTicker returns a contract joined with its market snapshot, or
// domain.ErrNotFound.
func (s *ContractStore) GetByTicker(ctx context.Context, ticker string) (domain.Contract, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT m.ticker, m.question, m.category, m.close_time,
			m.yes_odds, m.no_odds, m.yes_ask, m.no_ask,
			m.liquidity, m.volume_24h, m.open_interest,
			m.resolved, m.outcome, m.settled_price, m.settled_at, m.updated_at,
			c.live_liquidity, c.slippage_est, c.rank, c.discovered_at
		FROM contracts c JOIN markets m ON m.ticker = c.ticker
		WHERE c.ticker = $1`, ticker)

	var c domain.Contract
	var outcome string
	err := row.Scan(
		&c.Ticker, &c.Question, &c.Category, &c.CloseTime,
		&c.YesOdds, &c.NoOdds, &c.YesAsk, &c.NoAsk,
		&c.Liquidity, &c.Volume24H, &c.OpenInterest,
		&c.Resolved, &outcome, &c.SettledPrice, &c.SettledAt, &c.UpdatedAt,
		&c.LiveLiquidity, &c.SlippageEst, &c.Rank, &c.DiscoveredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Contract{}, domain.ErrNotFound
		}
		return domain.Contract{}, fmt.Errorf("postgres: get contract %s: %w", ticker, err)
	}
	c.Outcome = domain.MarketOutcome(outcome)
	return c, nil
}

var (
	_ domain.MarketStore   = (*MarketStore)(nil)
	_ domain.ContractStore = (*ContractStore)(nil)
)
