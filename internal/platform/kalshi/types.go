package kalshi

import (
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

func newClientOrderID() string {
	return uuid.New().String()
}

// --------------------------------------------------------------------------
// Kalshi API DTOs
//
// All monetary and probability fields arrive as integer cents. They are
// normalized to [0,1] probabilities / dollars exactly once, in ToMarket and
// the other boundary helpers below; nothing downstream ever sees cents.
// --------------------------------------------------------------------------

// Market represents a market as returned by the Kalshi REST API.
type Market struct {
	Ticker          string `json:"ticker"`
	EventTicker     string `json:"event_ticker"`
	Title           string `json:"title"`
	Subtitle        string `json:"subtitle"`
	Status          string `json:"status"` // "open", "closed", "settled"
	YesBid          int64  `json:"yes_bid"`
	YesAsk          int64  `json:"yes_ask"`
	NoBid           int64  `json:"no_bid"`
	NoAsk           int64  `json:"no_ask"`
	LastPrice       int64  `json:"last_price"`
	Volume          int64  `json:"volume"`
	Volume24H       int64  `json:"volume_24h"`
	OpenInterest    int64  `json:"open_interest"`
	Liquidity       int64  `json:"liquidity"`
	ExpirationTime  string `json:"expiration_time"`
	CloseTime       string `json:"close_time"` // older payloads use this field
	Category        string `json:"category"`
	Result          string `json:"result"` // "yes", "no", "" (unsettled)
	SettlementValue int64  `json:"settlement_value"`
	SettlementTime  string `json:"settlement_time"`
	CanCloseEarly   bool   `json:"can_close_early"`
}

// ToMarket maps the heterogeneous upstream shape to the canonical
// domain.Market. This is the single normalization boundary: cents become
// probabilities here, and the close-time field fallback is resolved here.
func (m Market) ToMarket() domain.Market {
	out := domain.Market{
		Ticker:       m.Ticker,
		Question:     m.Title,
		Category:     m.Category,
		YesOdds:      centsToProb(m.YesBid),
		NoOdds:       centsToProb(m.NoBid),
		YesAsk:       centsToProb(m.YesAsk),
		NoAsk:        centsToProb(m.NoAsk),
		Liquidity:    m.Liquidity,
		Volume24H:    m.Volume24H,
		OpenInterest: m.OpenInterest,
		Resolved:     m.Status == "settled",
		UpdatedAt:    time.Now().UTC(),
	}

	// Historical payloads carried close_time; current ones expiration_time.
	out.CloseTime = parseKalshiTime(m.ExpirationTime)
	if out.CloseTime.IsZero() {
		out.CloseTime = parseKalshiTime(m.CloseTime)
	}

	switch m.Result {
	case "yes":
		out.Outcome = domain.OutcomeYes
	case "no":
		out.Outcome = domain.OutcomeNo
	}

	if out.Resolved {
		price := centsToDollars(m.SettlementValue)
		out.SettledPrice = &price
		if t := parseKalshiTime(m.SettlementTime); !t.IsZero() {
			out.SettledAt = &t
		}
	}

	return out
}

// Orderbook is the two-sided book for a market. Each level is
// [price_cents, contracts].
type Orderbook struct {
	Ticker string
	Yes    [][2]int64 `json:"yes"`
	No     [][2]int64 `json:"no"`
}

// ToOrderbook normalizes the cents levels into a domain.Orderbook.
func (ob Orderbook) ToOrderbook() domain.Orderbook {
	out := domain.Orderbook{
		Ticker: ob.Ticker,
		Yes:    make([]domain.BookLevel, 0, len(ob.Yes)),
		No:     make([]domain.BookLevel, 0, len(ob.No)),
	}
	for _, lvl := range ob.Yes {
		out.Yes = append(out.Yes, domain.BookLevel{Price: centsToProb(lvl[0]), Contracts: lvl[1]})
	}
	for _, lvl := range ob.No {
		out.No = append(out.No, domain.BookLevel{Price: centsToProb(lvl[0]), Contracts: lvl[1]})
	}
	return out
}

// OrderRequest is the payload for creating an order.
type OrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`   // "yes" or "no"
	Action        string `json:"action"` // "buy" or "sell"
	Type          string `json:"type"`   // "market" or "limit"
	Count         int64  `json:"count"`
	YesPriceCents int64  `json:"yes_price,omitempty"`
	NoPriceCents  int64  `json:"no_price,omitempty"`
}

// MarketOrder builds a market order request for the given side and action,
// capped at the given odds. Kalshi requires a worst-acceptable price on
// market orders; the cap is expressed on the side being traded.
func MarketOrder(ticker string, side domain.TradeSide, action string, count int64, capOdds float64) OrderRequest {
	req := OrderRequest{
		Ticker:        ticker,
		ClientOrderID: newClientOrderID(),
		Side:          string(side),
		Action:        action,
		Type:          "market",
		Count:         count,
	}
	if side == domain.SideNo {
		req.NoPriceCents = probToCents(capOdds)
	} else {
		req.YesPriceCents = probToCents(capOdds)
	}
	return req
}

// Order is the exchange's view of a submitted order.
type Order struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Ticker        string `json:"ticker"`
	Status        string `json:"status"` // "resting", "executed", "canceled"
	Side          string `json:"side"`
	Action        string `json:"action"`
	Count         int64  `json:"count"`
	RemainingCnt  int64  `json:"remaining_count"`
	YesPriceCents int64  `json:"yes_price"`
	NoPriceCents  int64  `json:"no_price"`
	CreatedTime   string `json:"created_time"`
}

// Filled returns how many contracts have been matched so far.
func (o Order) Filled() int64 {
	return o.Count - o.RemainingCnt
}

// FillPrice returns the normalized price for the given side.
func (o Order) FillPrice(side domain.TradeSide) float64 {
	if side == domain.SideNo {
		return centsToProb(o.NoPriceCents)
	}
	return centsToProb(o.YesPriceCents)
}

// ToExchangeOrder normalizes the order into the domain view.
func (o Order) ToExchangeOrder() domain.ExchangeOrder {
	side := domain.SideYes
	if o.Side == "no" {
		side = domain.SideNo
	}
	return domain.ExchangeOrder{
		ID:        o.OrderID,
		Ticker:    o.Ticker,
		Side:      side,
		State:     domain.OrderState(o.Status),
		Requested: o.Count,
		Filled:    o.Filled(),
		FillOdds:  o.FillPrice(side),
	}
}

// Balance is the account cash balance.
type Balance struct {
	BalanceCents int64 `json:"balance"`
}

// Dollars returns the balance in dollars.
func (b Balance) Dollars() float64 {
	return centsToDollars(b.BalanceCents)
}

// Settlement is one settled-market record from the portfolio settlements
// endpoint.
type Settlement struct {
	Ticker       string `json:"ticker"`
	MarketResult string `json:"market_result"` // "yes" or "no"
	YesCount     int64  `json:"yes_count"`
	NoCount      int64  `json:"no_count"`
	RevenueCents int64  `json:"revenue"`
	SettledTime  string `json:"settled_time"`
}

// errorResponse is Kalshi's error envelope.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func centsToProb(cents int64) float64 {
	return float64(cents) / 100
}

func centsToDollars(cents int64) float64 {
	return float64(cents) / 100
}

// probToCents converts a [0,1] probability back to integer cents for order
// payloads, rounding to the nearest cent.
func probToCents(p float64) int64 {
	return int64(p*100 + 0.5)
}

// parseKalshiTime parses the RFC 3339 timestamps used across the API,
// returning the zero time for empty or malformed values.
func parseKalshiTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
