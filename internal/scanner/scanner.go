// Package scanner re-checks the persisted market cache at trade time. Unlike
// the screener it never hits the exchange listing endpoint; its only network
// cost is one order-book fetch per surviving candidate.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Gateway is the slice of the exchange client the scanner needs.
type Gateway interface {
	Book(ctx context.Context, ticker string) (domain.Orderbook, error)
}

// Criteria are the trade-time rescan thresholds. Zero values fall back to the
// defaults applied in normalize.
type Criteria struct {
	MinOdds             float64
	MaxDegenerateOdds   float64
	MaxDaysToResolution float64
	MinLiveLiquidity    int64
	ExcludedCategories  []string // matched case-insensitively against Market.Category
	ExcludedKeywords    []string // matched case-insensitively as substrings of the question
	MaxCandidates       int      // cap on order-book fetches per run
}

// DefaultCriteria returns the production rescan thresholds, aligned with the
// screener's band and liquidity minimum.
func DefaultCriteria() Criteria {
	return Criteria{
		MinOdds:             0.84,
		MaxDegenerateOdds:   0.99,
		MaxDaysToResolution: 7,
		MinLiveLiquidity:    100,
		MaxCandidates:       25,
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
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	return c
}

// Scanner filters the cached unresolved markets down to tradeable contracts.
type Scanner struct {
	markets domain.MarketStore
	gw      Gateway
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Scanner over the given market cache and gateway.
func New(markets domain.MarketStore, gw Gateway, logger *slog.Logger) *Scanner {
	return &Scanner{
		markets: markets,
		gw:      gw,
		logger:  logger.With(slog.String("component", "scanner")),
		now:     time.Now,
	}
}

// Scan re-applies the odds, horizon, and exclusion filters to the cached
// markets, depth-checks the survivors, and returns contracts sorted by live
// liquidity descending (stable, so equal depths keep cache order). An empty
// cache is a normal outcome and returns an empty slice with a nil error.
func (s *Scanner) Scan(ctx context.Context, criteria Criteria) ([]domain.Contract, error) {
	criteria = criteria.normalize()

	cached, err := s.markets.ListUnresolved(ctx, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("scanner: list cached markets: %w", err)
	}
	if len(cached) == 0 {
		s.logger.Info("market cache is empty, nothing to scan")
		return []domain.Contract{}, nil
	}

	now := s.now().UTC()
	eligible := cached[:0]
	for _, m := range cached {
		if ok, reason := s.passes(m, criteria, now); !ok {
			s.logger.Debug("scan rejected",
				slog.String("ticker", m.Ticker),
				slog.String("reason", reason),
			)
			continue
		}
		eligible = append(eligible, m)
	}

	if len(eligible) > criteria.MaxCandidates {
		eligible = eligible[:criteria.MaxCandidates]
	}

	contracts := make([]domain.Contract, 0, len(eligible))
	for _, m := range eligible {
		if ctx.Err() != nil {
			break
		}

		book, err := s.gw.Book(ctx, m.Ticker)
		if err != nil {
			s.logger.Warn("order book fetch failed, skipping",
				slog.String("ticker", m.Ticker),
				slog.String("error", err.Error()),
			)
			continue
		}

		side, _ := m.ConvictionSide()
		best, ok := book.BestBid(side)
		if !ok || best.Contracts < criteria.MinLiveLiquidity {
			s.logger.Debug("live liquidity below minimum, skipping",
				slog.String("ticker", m.Ticker),
			)
			continue
		}

		contracts = append(contracts, domain.Contract{
			Market:        m,
			LiveLiquidity: best.Contracts,
			DiscoveredAt:  now,
		})
	}

	sort.SliceStable(contracts, func(i, j int) bool {
		return contracts[i].LiveLiquidity > contracts[j].LiveLiquidity
	})

	s.logger.Info("scan complete",
		slog.Int("cached", len(cached)),
		slog.Int("eligible", len(eligible)),
		slog.Int("contracts", len(contracts)),
	)
	return contracts, nil
}

func (s *Scanner) passes(m domain.Market, c Criteria, now time.Time) (bool, string) {
	if m.Resolved {
		return false, "resolved"
	}
	if m.YesOdds < c.MinOdds && m.NoOdds < c.MinOdds {
		return false, "outside high-conviction band"
	}
	if m.YesOdds >= c.MaxDegenerateOdds || m.NoOdds >= c.MaxDegenerateOdds {
		return false, "degenerate pricing"
	}
	days := m.DaysToClose(now)
	if days <= 0 {
		return false, "already past close"
	}
	if days > c.MaxDaysToResolution {
		return false, "resolves too far out"
	}
	for _, cat := range c.ExcludedCategories {
		if strings.EqualFold(m.Category, cat) {
			return false, "excluded category"
		}
	}
	question := strings.ToLower(m.Question)
	for _, kw := range c.ExcludedKeywords {
		if kw != "" && strings.Contains(question, strings.ToLower(kw)) {
			return false, "excluded keyword"
		}
	}
	return true, ""
}
