package domain

import "time"

// MarketOutcome is the settled result of a binary market.
type MarketOutcome string

const (
	OutcomeYes MarketOutcome = "yes"
	OutcomeNo  MarketOutcome = "no"
)

// Market is the canonical snapshot of a Kalshi prediction market. All
// probability fields are normalized to [0,1] at the gateway boundary; the
// yes and no odds need not sum to 1 because of the bid/ask spread. Once
// Resolved is true the record is immutable.
type Market struct {
	Ticker       string
	Question     string
	Category     string
	CloseTime    time.Time
	YesOdds      float64 // best yes bid as probability
	NoOdds       float64 // best no bid as probability
	YesAsk       float64
	NoAsk        float64
	Liquidity    int64 // contracts available at the best price
	Volume24H    int64
	OpenInterest int64
	Resolved     bool
	Outcome      MarketOutcome // empty until resolved
	SettledPrice *float64      // dollars per contract at settlement
	SettledAt    *time.Time
	UpdatedAt    time.Time
}

// DaysToClose returns the whole-plus-fractional days until the market's
// resolution deadline, measured from now. Negative when already past.
func (m Market) DaysToClose(now time.Time) float64 {
	return m.CloseTime.Sub(now).Hours() / 24
}

// Spread returns the yes-side bid/ask spread in probability terms. Zero when
// the ask is missing.
func (m Market) Spread() float64 {
	if m.YesAsk <= 0 {
		return 0
	}
	return m.YesAsk - m.YesOdds
}

// ConvictionSide returns the side with the higher bid and its odds. At
// exactly equal odds the yes side is returned; callers that need a different
// tie rule apply their own policy on top.
func (m Market) ConvictionSide() (TradeSide, float64) {
	if m.NoOdds > m.YesOdds {
		return SideNo, m.NoOdds
	}
	return SideYes, m.YesOdds
}

// SideOdds returns the current odds of the given side.
func (m Market) SideOdds(side TradeSide) float64 {
	if side == SideNo {
		return m.NoOdds
	}
	return m.YesOdds
}

// Contract is a Market promoted to trade candidacy. It is only constructed
// after the market has passed the cheap filters and a live order-book depth
// check, so Liquidity here is depth-measured, not cache-time volume.
type Contract struct {
	Market
	LiveLiquidity int64   // contracts available at best bid, from the order book
	SlippageEst   float64 // estimated slippage fraction for the assumed order size
	Rank          int     // dense rank assigned by the screener, 1 = best
	DiscoveredAt  time.Time
}
