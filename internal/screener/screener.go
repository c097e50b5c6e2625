// Package screener turns thousands of raw exchange listings into a small,
// execution-validated candidate set. It runs four phases with hard API-cost
// boundaries: bulk load (paginated), basic filter (in memory), rank (in
// memory), and a per-candidate order-book depth check capped at the top N.
package screener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Gateway is the slice of the exchange client the screener needs.
type Gateway interface {
	ListOpenMarkets(ctx context.Context, limit int, cursor string) ([]domain.Market, string, error)
	Book(ctx context.Context, ticker string) (domain.Orderbook, error)
}

// Criteria are the screening thresholds. Zero values fall back to the
// defaults applied in normalize.
type Criteria struct {
	MinOdds             float64 // high-conviction band edge on either side
	MaxDegenerateOdds   float64 // reject when either side bids at or above this
	MaxDaysToResolution float64
	MinVolume24H        int64
	MinOpenInterest     int64
	MaxSpread           float64 // 0 disables the spread penalty in ranking
	MinLiveLiquidity    int64   // contracts at best bid, depth-check phase
	MaxSlippagePct      float64
	AssumedOrderSize    int64 // contracts assumed for the slippage estimate
	PageSize            int
	MaxPages            int
	DepthCheckLimit     int
}

// DefaultCriteria returns the production screening thresholds.
func DefaultCriteria() Criteria {
	return Criteria{
		MinOdds:             0.84,
		MaxDegenerateOdds:   0.99,
		MaxDaysToResolution: 7,
		MinVolume24H:        1_000,
		MinOpenInterest:     2_000,
		MinLiveLiquidity:    100,
		MaxSlippagePct:      5,
		AssumedOrderSize:    100,
		PageSize:            200,
		MaxPages:            25,
		DepthCheckLimit:     40,
	}
}

func (c Criteria) normalize() Criteria {
	d := DefaultCriteria()
	if c.MinOdds <= 0 {
		c.MinOdds = d.MinOdds
	}
	if c.MaxDegenerateOdds <= 0 {
		c.MaxDegenerateOdds = d.MaxDegenerateOdds
	}
	if c.MaxDaysToResolution <= 0 {
		c.MaxDaysToResolution = d.MaxDaysToResolution
	}
	if c.MinLiveLiquidity <= 0 {
		c.MinLiveLiquidity = d.MinLiveLiquidity
	}
	if c.MaxSlippagePct <= 0 {
		c.MaxSlippagePct = d.MaxSlippagePct
	}
	if c.AssumedOrderSize <= 0 {
		c.AssumedOrderSize = d.AssumedOrderSize
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = d.MaxPages
	}
	if c.DepthCheckLimit <= 0 {
		c.DepthCheckLimit = d.DepthCheckLimit
	}
	return c
}

// Stats reports how many markets survived each phase of one screening run.
type Stats struct {
	Loaded       int `json:"loaded"`
	Filtered     int `json:"filtered"`
	DepthChecked int `json:"depth_checked"`
	Candidates   int `json:"candidates"`
}

// Screener implements the four-phase screening pipeline.
type Screener struct {
	gw     Gateway
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Screener against the given gateway.
func New(gw Gateway, logger *slog.Logger) *Screener {
	return &Screener{
		gw:     gw,
		logger: logger.With(slog.String("component", "screener")),
		now:    time.Now,
	}
}

// Screen runs all four phases and returns the depth-validated candidates in
// rank order. Per-candidate depth failures are logged and skipped; only the
// bulk load can fail the whole run.
func (s *Screener) Screen(ctx context.Context, criteria Criteria) ([]domain.Contract, Stats, error) {
	criteria = criteria.normalize()
	var stats Stats

	markets, err := s.bulkLoad(ctx, criteria)
	if err != nil {
		return nil, stats, fmt.Errorf("screener: bulk load: %w", err)
	}
	stats.Loaded = len(markets)

	now := s.now().UTC()
	filtered := markets[:0]
	for _, m := range markets {
		if ok, reason := passesBasicFilter(m, criteria, now); !ok {
			s.logger.Debug("filtered out",
				slog.String("ticker", m.Ticker),
				slog.String("reason", reason),
			)
			continue
		}
		filtered = append(filtered, m)
	}
	stats.Filtered = len(filtered)

	ranked := rank(filtered, criteria)

	candidates := s.depthCheck(ctx, ranked, criteria, &stats)
	stats.Candidates = len(candidates)

	s.logger.Info("screen complete",
		slog.Int("loaded", stats.Loaded),
		slog.Int("filtered", stats.Filtered),
		slog.Int("depth_checked", stats.DepthChecked),
		slog.Int("candidates", stats.Candidates),
	)
	return candidates, stats, nil
}

// bulkLoad paginates the open-market listing until the cursor is exhausted or
// the page ceiling is hit. Rate-limit pacing and 429 same-page retries are
// handled inside the gateway, so a returned error here is already past the
// retry budget.
func (s *Screener) bulkLoad(ctx context.Context, criteria Criteria) ([]domain.Market, error) {
	var all []domain.Market
	cursor := ""

	for page := 0; page < criteria.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		markets, next, err := s.gw.ListOpenMarkets(ctx, criteria.PageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, markets...)

		s.logger.Debug("loaded page",
			slog.Int("page", page),
			slog.Int("markets", len(markets)),
		)

		if next == "" || len(markets) == 0 {
			return all, nil
		}
		cursor = next
	}

	s.logger.Warn("page ceiling hit before listing exhausted",
		slog.Int("max_pages", criteria.MaxPages),
		slog.Int("loaded", len(all)),
	)
	return all, nil
}

// depthCheck fetches the live order book for the top ranked candidates only
// and keeps those whose measured depth and slippage estimate pass the
// thresholds. This is the only phase with per-candidate network cost.
func (s *Screener) depthCheck(ctx context.Context, ranked []scored, criteria Criteria, stats *Stats) []domain.Contract {
	limit := criteria.DepthCheckLimit
	if limit > len(ranked) {
		limit = len(ranked)
	}

	now := s.now().UTC()
	candidates := make([]domain.Contract, 0, limit)

	for _, cand := range ranked[:limit] {
		if ctx.Err() != nil {
			break
		}
		stats.DepthChecked++

		book, err := s.gw.Book(ctx, cand.market.Ticker)
		if err != nil {
			// One candidate's failure, including an exhausted rate-limit
			// retry, never aborts the batch.
			s.logger.Warn("depth check failed, skipping",
				slog.String("ticker", cand.market.Ticker),
				slog.String("error", err.Error()),
			)
			continue
		}

		side, _ := cand.market.ConvictionSide()
		best, ok := book.BestBid(side)
		if !ok {
			s.logger.Debug("empty book side, skipping",
				slog.String("ticker", cand.market.Ticker),
				slog.String("side", string(side)),
			)
			continue
		}
		if best.Contracts < criteria.MinLiveLiquidity {
			s.logger.Debug("insufficient live liquidity, skipping",
				slog.String("ticker", cand.market.Ticker),
				slog.Int64("contracts", best.Contracts),
				slog.Int64("min", criteria.MinLiveLiquidity),
			)
			continue
		}

		slip := book.SlippageFor(side, criteria.AssumedOrderSize)
		if slip*100 > criteria.MaxSlippagePct {
			s.logger.Debug("slippage estimate too high, skipping",
				slog.String("ticker", cand.market.Ticker),
				slog.Float64("slippage_pct", slip*100),
			)
			continue
		}

		candidates = append(candidates, domain.Contract{
			Market:        cand.market,
			LiveLiquidity: best.Contracts,
			SlippageEst:   slip,
			Rank:          cand.rank,
			DiscoveredAt:  now,
		})
	}

	return candidates
}
